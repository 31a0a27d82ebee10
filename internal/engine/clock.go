package engine

import (
	"math"
	"sync/atomic"
)

// Clock is a monotonic logical counter.
//
// A session uses one clock to stamp state transitions, which fixes the
// staging order the debug view and the planner's tie-breaking follow, and a
// second one to mint temporary key values.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose first Next returns start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// firstTemporaryKey is the base of the temporary key range. The first
// placeholder a session hands out is -2147482647; values are far below any
// key a store would assign and never reused within a session.
const firstTemporaryKey = math.MinInt32 + 1000
