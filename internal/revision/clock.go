// Package revision provides the server-authoritative revision clock used
// to assign document updated_at values.
package revision

import (
	"sync"
	"time"
)

// Clock issues strictly monotonic revisions. A revision is the current
// wall clock in unix milliseconds, forced past the previously issued
// revision, so that two mutations of the same document can never share an
// updated_at even within one millisecond.
type Clock struct {
	last int64
	now  func() time.Time
	mu   sync.Mutex
}

// NewClock creates a clock seeded at last, typically the maximum
// updated_at already present in storage so revisions survive restarts.
func NewClock(last int64) *Clock {
	return &Clock{
		last: last,
		now:  time.Now,
	}
}

// NewClockAt creates a clock with a custom time source. Used for testing.
func NewClockAt(last int64, now func() time.Time) *Clock {
	return &Clock{
		last: last,
		now:  now,
	}
}

// Next returns a fresh revision: max(now_ms, last+1).
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	rev := c.now().UnixMilli()
	if rev <= c.last {
		rev = c.last + 1
	}
	c.last = rev
	return rev
}

// Last returns the most recently issued revision without advancing.
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

// Observe advances the clock past an externally seen revision, e.g. when
// new rows appear through a migration or import path that bypassed Next.
func (c *Clock) Observe(rev int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rev > c.last {
		c.last = rev
	}
}
