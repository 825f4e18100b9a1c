// Package collector schedules data sources and runs their poll cycles.
package collector

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of one Collect call.
type Result struct {
	Source   string        `json:"source"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Payload  any           `json:"payload,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Collector is a schedulable data source.
type Collector interface {
	Source() string
	ShouldPoll() bool
	Penalty() time.Duration
	ConsecutiveFailures() int
	LastPoll() time.Time
	RecordSuccess()
	RecordFailure()
	// TryLock claims the collector for one poll. It never blocks.
	TryLock() bool
	Unlock()
	Collect(ctx context.Context) Result
	Close() error
}

// Base provides the scheduling half of Collector. Embed it and implement
// Collect and Close.
type Base struct {
	*State
	source string
	poll   sync.Mutex
}

func NewBase(source string, interval time.Duration, opts ...Option) *Base {
	return &Base{State: NewState(interval, opts...), source: source}
}

func (b *Base) Source() string {
	return b.source
}

func (b *Base) TryLock() bool {
	return b.poll.TryLock()
}

func (b *Base) Unlock() {
	b.poll.Unlock()
}
