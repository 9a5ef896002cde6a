package flashsim

import "sync/atomic"

// Clock is a millisecond tick source for tests. Every read advances it by
// Step, so busy-wait loops observe time passing without sleeping.
type Clock struct {
	now  atomic.Uint32
	step atomic.Uint32
}

// NewClock returns a clock starting at start that advances step ms per read.
func NewClock(start, step uint32) *Clock {
	c := &Clock{}
	c.now.Store(start)
	c.step.Store(step)
	return c
}

// Milliseconds returns the current tick and advances the clock.
func (c *Clock) Milliseconds() uint32 {
	return c.now.Add(c.step.Load()) - c.step.Load()
}

// Advance moves the clock forward by ms.
func (c *Clock) Advance(ms uint32) { c.now.Add(ms) }
