// Package intrlock models the interrupt-mask gate described in spec.md
// §4.2: a scoped enable/disable pair that is the sole source of mutual
// exclusion over scheduler-owned data structures (the ready queue, the
// sleep queue, the watermark, the thread registry).
//
// A real single-CPU kernel needs no lock here at all: "disabled" is a bit
// in a CPU register, and the register is saved and restored as part of
// each thread's own context, so there is never any real contention between
// threads — only between whichever thread currently holds the CPU and the
// hardware timer interrupt. This module has no hardware, but it does have
// one genuinely concurrent actor playing the timer's role: a goroutine
// that calls kernel.Tick() independently of whichever thread goroutine
// currently owns the scheduler's single logical "run token" (see
// internal/kernel's context-switch primitive). Gate exists to serialize
// that one real race, nothing more — it must never be held across a
// context switch, only across the synchronous, non-blocking mutation that
// precedes or follows one.
package intrlock

import "sync"

// Gate is the scoped interrupt-mask primitive.
type Gate struct {
	mu        sync.Mutex
	enabled   bool
	inHandler bool
}

// New returns a Gate with interrupts initially enabled.
func New() *Gate {
	return &Gate{enabled: true}
}

// Disable masks interrupts and returns the previous level, for later
// restoration via SetLevel. Not reentrant: disabling an already-disabled
// gate from a different goroutine blocks until the holder restores it,
// exactly as acquiring any other scoped lock would, and a second Disable
// from the holding goroutine deadlocks.
func (g *Gate) Disable() bool {
	g.mu.Lock()
	prev := g.enabled
	g.enabled = false
	return prev
}

// SetLevel restores a level saved by a matching Disable and releases the
// gate. Safe to defer: every exit path, including a panic unwinding
// through it, restores the prior level.
func (g *Gate) SetLevel(prev bool) {
	g.enabled = prev
	g.mu.Unlock()
}

// With runs fn with interrupts masked, restoring the prior level
// (including on panic) when fn returns.
func (g *Gate) With(fn func()) {
	prev := g.Disable()
	defer g.SetLevel(prev)
	fn()
}

// InContext reports whether the calling goroutine is executing inside the
// tick handler. Sleep (§4.4) asserts this is false before parking. Because
// RunHandler holds the gate for the whole handler body, a caller from
// outside the handler can only observe this after the handler has already
// finished (and released it) — exactly the "never true outside the
// interrupt path" property the assertion relies on.
func (g *Gate) InContext() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inHandler
}

// RunHandler masks interrupts for fn's duration, the same as With, and
// additionally marks the gate as "in handler" so InContext reports true
// for anyone who later inspects it. Used by the tick clock to bracket the
// timer interrupt: the mask is what gives the handler's ready-queue and
// sleep-queue mutations exclusion against a thread mid-Disable, not merely
// a label.
func (g *Gate) RunHandler(fn func()) {
	prev := g.Disable()
	g.inHandler = true
	fn()
	g.inHandler = false
	g.SetLevel(prev)
}
