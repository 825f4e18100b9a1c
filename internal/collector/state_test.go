package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestPenaltyFor(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{7, 1920 * time.Second},
		{8, time.Hour},
		{50, time.Hour},
		{1000, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PenaltyFor(tt.failures), "failures=%d", tt.failures)
	}
}

func TestShouldPoll(t *testing.T) {
	c := newClock()
	s := NewState(5*time.Minute, WithNow(c.now))

	assert.True(t, s.ShouldPoll(), "never polled")

	s.RecordSuccess()
	assert.False(t, s.ShouldPoll())
	c.advance(5*time.Minute - time.Second)
	assert.False(t, s.ShouldPoll())
	c.advance(time.Second)
	assert.True(t, s.ShouldPoll())
}

func TestFailureBackoff(t *testing.T) {
	c := newClock()
	s := NewState(time.Minute, WithNow(c.now))

	s.RecordFailure()
	s.RecordFailure()
	assert.Equal(t, 2, s.ConsecutiveFailures())
	assert.Equal(t, time.Minute, s.Penalty())

	c.advance(time.Minute + 59*time.Second)
	assert.False(t, s.ShouldPoll())
	c.advance(time.Second)
	assert.True(t, s.ShouldPoll())

	s.RecordSuccess()
	assert.Equal(t, 0, s.ConsecutiveFailures())
	assert.Equal(t, time.Duration(0), s.Penalty())
}

func TestFailuresExpireAfterADay(t *testing.T) {
	c := newClock()
	s := NewState(time.Minute, WithNow(c.now))

	for i := 0; i < 10; i++ {
		s.RecordFailure()
	}
	assert.Equal(t, MaxPenalty, s.Penalty())

	c.advance(FailureExpiry - time.Second)
	assert.Equal(t, MaxPenalty, s.Penalty())

	c.advance(time.Second)
	assert.Equal(t, time.Duration(0), s.Penalty())
	assert.Equal(t, 0, s.ConsecutiveFailures())

	s.RecordFailure()
	assert.Equal(t, BasePenalty, s.Penalty())
}
