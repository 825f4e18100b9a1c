package collector

import (
	"sync"
	"time"
)

const (
	BasePenalty   = 30 * time.Second
	MaxPenalty    = time.Hour
	FailureExpiry = 24 * time.Hour
)

// PenaltyFor returns the backoff added to the poll interval after n
// consecutive failures: 30s doubled per failure, capped at one hour.
func PenaltyFor(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	// 30s << 7 already exceeds the cap
	if n > 7 {
		return MaxPenalty
	}
	return min(BasePenalty<<(n-1), MaxPenalty)
}

// State tracks poll timing and failure backoff for one collector.
type State struct {
	mu          sync.Mutex
	now         func() time.Time
	interval    time.Duration
	lastPoll    time.Time
	lastFailure time.Time
	failures    int
}

type Option func(*State)

// WithNow replaces the clock.
func WithNow(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

func NewState(interval time.Duration, opts ...Option) *State {
	s := &State{interval: interval, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *State) Interval() time.Duration {
	return s.interval
}

// Penalty returns the current backoff. Failures older than FailureExpiry are
// forgotten.
func (s *State) Penalty() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.penaltyLocked()
}

func (s *State) penaltyLocked() time.Duration {
	s.expireLocked()
	return PenaltyFor(s.failures)
}

func (s *State) expireLocked() {
	if s.failures > 0 && s.now().Sub(s.lastFailure) >= FailureExpiry {
		s.failures = 0
		s.lastFailure = time.Time{}
	}
}

// ShouldPoll reports whether interval plus penalty has elapsed since the
// last poll. A collector that never polled is always due.
func (s *State) ShouldPoll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPoll.IsZero() {
		return true
	}
	return s.now().Sub(s.lastPoll) >= s.interval+s.penaltyLocked()
}

func (s *State) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPoll = s.now()
	s.failures = 0
	s.lastFailure = time.Time{}
}

func (s *State) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.lastPoll = now
	s.lastFailure = now
	s.failures++
}

func (s *State) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return s.failures
}

func (s *State) LastPoll() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPoll
}
