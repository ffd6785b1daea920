// Package kclock is the tick clock of spec.md §4.1: a monotone 64-bit tick
// counter, advanced once per hardware tick. The tick handler that does the
// usage-counter bumps, the sleep-queue wake scan, and the preemption
// request is internal/kernel's Kernel.Tick, which advances this clock; the
// handler never calls into the selector directly (spec.md §4.1: "the
// handler only sets a yield-on-return flag").
package kclock

import "go.uber.org/atomic"

// Clock is the monotone tick counter. Its value is read from both the
// goroutine simulating the timer interrupt and from ordinary scheduler
// code (Kernel.Now, Kernel.Sleep) without always holding the
// interrupt gate, so it is backed by go.uber.org/atomic the way
// sawdustofmind-adv-sync's ticket counter is: read-hot, write-rare, needs
// atomics over a raw word.
type Clock struct {
	now atomic.Uint64
}

// New returns a clock starting at tick 0.
func New() *Clock {
	return &Clock{}
}

// Now returns the current tick count.
func (c *Clock) Now() uint64 {
	return c.now.Load()
}

// Advance increments the clock by one tick and returns the new value. It
// is the hardware tick source's only write to the clock.
func (c *Clock) Advance() uint64 {
	return c.now.Add(1)
}
