package proctor

import (
	"math"
	"time"
)

// Clock is the countdown of one attempt. Like Tracker it relies on Session
// for synchronization.
type Clock struct {
	limit     time.Duration
	now       func() time.Time
	startedAt time.Time
	frozenAt  time.Time
	started   bool
	frozen    bool
}

// NewClock returns a stopped countdown of the given limit.
func NewClock(limit time.Duration, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{limit: limit, now: now}
}

// Start begins the countdown. Starting twice keeps the first start time.
func (c *Clock) Start() {
	if c.started {
		return
	}
	c.started = true
	c.startedAt = c.now()
}

// Freeze stops the countdown at the current instant.
func (c *Clock) Freeze() {
	if c.frozen || !c.started {
		return
	}
	c.frozen = true
	c.frozenAt = c.now()
}

// Remaining returns the time left, never negative. A clock that has not
// started reports the full limit.
func (c *Clock) Remaining() time.Duration {
	if !c.started {
		return c.limit
	}
	at := c.now()
	if c.frozen {
		at = c.frozenAt
	}
	left := c.limit - at.Sub(c.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether a started countdown has reached zero.
func (c *Clock) Expired() bool {
	return c.started && c.Remaining() <= 0
}

// RemainingSeconds is the whole-second countdown value, rounded up the way
// a per-second display shows it.
func (c *Clock) RemainingSeconds() int {
	return int(math.Ceil(c.Remaining().Seconds()))
}

// ElapsedSeconds is limit seconds minus remaining seconds, clamped to zero.
func (c *Clock) ElapsedSeconds() int {
	elapsed := int(c.limit/time.Second) - c.RemainingSeconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
