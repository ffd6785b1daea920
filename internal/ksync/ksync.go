// Package ksync is the user-level coordination layer spec.md §4.2 mentions
// in passing: "a lock abstraction exists for user-level coordination above
// the scheduler; locks ultimately rest on semaphores that block threads
// via the scheduler." It mirrors the teacher's own layering — sync.Mutex
// (src/sync/mutex.go) as a thin wrapper over a lower-level wait primitive —
// except the lower-level primitive here is a counting semaphore built
// directly on the scheduler's Block/Unblock pair rather than a futex.
package ksync

import (
	"github.com/smallkernel/sched/internal/intrlock"
	"github.com/smallkernel/sched/internal/tcb"
)

// Scheduler is the subset of internal/kernel's API that ksync needs. It is
// expressed as an interface, rather than a direct import, so that kernel
// (which owns the interrupt gate and the scheduler loop) can depend on
// ksync for Lock/Semaphore without a package import cycle.
type Scheduler interface {
	Current() *tcb.Thread
	Unblock(t *tcb.Thread)
	// BlockLocked marks the current thread BLOCKED and schedules away,
	// assuming the gate is already held at level from an earlier Disable.
	// It restores the gate to level before the thread parks, so it returns
	// with the gate released. It exists so a waiter can be pushed onto a wait list and transition
	// to BLOCKED atomically, with no window in which a concurrent Up()
	// could be lost.
	BlockLocked(level bool)
}

// Semaphore is a counting semaphore whose waiters block via the scheduler.
type Semaphore struct {
	gate    *intrlock.Gate
	sched   Scheduler
	value   int
	waiters []*tcb.Thread
}

// NewSemaphore returns a semaphore initialized to value.
func NewSemaphore(gate *intrlock.Gate, sched Scheduler, value int) *Semaphore {
	return &Semaphore{gate: gate, sched: sched, value: value}
}

// Down waits until the semaphore's value is positive, then decrements it.
func (s *Semaphore) Down() {
	level := s.gate.Disable()
	cur := s.sched.Current()
	for s.value == 0 {
		s.waiters = append(s.waiters, cur)
		s.sched.BlockLocked(level)
		level = s.gate.Disable()
	}
	s.value--
	s.gate.SetLevel(level)
}

// Up increments the semaphore's value, waking one waiter if any are
// queued (order among them is unspecified, same as spec.md's wake_due).
func (s *Semaphore) Up() {
	level := s.gate.Disable()
	var woken *tcb.Thread
	if len(s.waiters) > 0 {
		woken = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	s.value++
	s.gate.SetLevel(level)
	if woken != nil {
		s.sched.Unblock(woken)
	}
}

// Lock is a non-reentrant mutual-exclusion lock built on a binary
// semaphore.
type Lock struct {
	sem    *Semaphore
	sched  Scheduler
	holder *tcb.Thread
}

// NewLock returns an unheld lock.
func NewLock(gate *intrlock.Gate, sched Scheduler) *Lock {
	return &Lock{sem: NewSemaphore(gate, sched, 1), sched: sched}
}

// Acquire blocks until the lock is free, then takes it.
func (l *Lock) Acquire() {
	l.sem.Down()
	l.holder = l.sched.Current()
}

// Release gives up the lock, which must be held by the calling thread.
func (l *Lock) Release() {
	if l.holder != l.sched.Current() {
		panic("ksync: release of lock not held by current thread")
	}
	l.holder = nil
	l.sem.Up()
}

// HeldByCurrent reports whether the calling thread holds the lock.
func (l *Lock) HeldByCurrent() bool {
	return l.holder == l.sched.Current()
}
