// Package tcb owns per-thread metadata (the thread control block) and the
// registry that looks threads up by identifier, per spec.md §3 and the
// "TCB registry" row of §2.
package tcb

import (
	"sync"

	"github.com/smallkernel/sched/internal/page"
)

// Status is one of the four states a Thread can be in (spec.md §3).
type Status int

const (
	Blocked Status = iota
	Ready
	Running
	Dying
)

func (s Status) String() string {
	switch s {
	case Blocked:
		return "BLOCKED"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Dying:
		return "DYING"
	default:
		return "UNKNOWN"
	}
}

// Configuration constants from spec.md §6.
const (
	PriMin     = 0
	PriMax     = 63
	PriDefault = 31
	NameMaxLen = 16
	// TickInfinite is the wakeup-tick sentinel meaning "no deadline".
	TickInfinite uint64 = ^uint64(0)
	// threadMagic guards against TCB stack overflow, checked on every
	// access to the current thread (spec.md §7, OverflowDetected).
	threadMagic uint32 = 0x7463625f // "tcb_"
	// TIDError is returned by creation on allocation failure (spec.md §7).
	TIDError ID = 0
)

// ID is a monotone-increasing thread identifier, assigned at birth.
type ID uint64

// Thread is the per-thread control block. Its page is owned by the
// scheduler (internal/kernel), freed on reap by the successor's
// post-switch hook (spec.md §4.7) — never by the thread itself.
type Thread struct {
	ID         ID
	Name       string
	Priority   int
	Tickets    int
	PerfID     int
	magic      uint32
	mu         sync.Mutex
	status     Status
	WakeupTick uint64

	Page *page.Page

	// Fn/Aux are the thread's entry point and its argument, captured at
	// creation and invoked once by the scheduler's bootstrap wrapper.
	Fn  func(aux any)
	Aux any

	// Resume is the context-switch baton: exactly one token is ever in
	// flight for a given Thread, handed to it by whichever thread is
	// switching away, received by this Thread's own goroutine body. It is
	// the Go-idiomatic stand-in for the teacher's register-level
	// context_switch primitive (spec.md §6 / Design Notes).
	Resume chan struct{}
}

// New builds a Thread backed by p, with status Blocked (the lifecycle
// always unblocks a freshly created thread — spec.md §4.8) and no
// deadline.
func New(id ID, name string, priority, tickets int, p *page.Page, fn func(any), aux any) *Thread {
	if len(name) > NameMaxLen {
		name = name[:NameMaxLen]
	}
	return &Thread{
		ID:         id,
		Name:       name,
		Priority:   priority,
		Tickets:    tickets,
		PerfID:     int(id),
		magic:      threadMagic,
		status:     Blocked,
		WakeupTick: TickInfinite,
		Page:       p,
		Fn:         fn,
		Aux:        aux,
		Resume:     make(chan struct{}),
	}
}

// Status returns the thread's current state. Every access also checks the
// magic sentinel, the way the teacher's readgstatus/current() path would
// check for a corrupted g — a mismatch is an OverflowDetected fault
// (spec.md §7), surfaced by panicking with a recognizable value rather than
// silently returning garbage.
func (t *Thread) Status() Status {
	if t.magic != threadMagic {
		panic("tcb: stack overflow detected: TCB magic sentinel corrupted")
	}
	return t.status
}

// SetStatus transitions the thread's state. Callers hold the scheduler's
// interrupt gate around every transition (spec.md §4.2).
func (t *Thread) SetStatus(s Status) {
	t.status = s
}

// Registry owns the monotone identifier counter and the set of all live
// threads, supplying lookup by identifier (spec.md §6: lookup, foreach).
type Registry struct {
	mu     sync.RWMutex
	nextID ID
	all    map[ID]*Thread
}

// NewRegistry returns an empty registry. Identifier 0 is reserved as
// TIDError, so allocation starts at 1.
func NewRegistry() *Registry {
	return &Registry{all: make(map[ID]*Thread), nextID: 1}
}

// Allocate reserves the next identifier. Callers must already hold the
// interrupt gate (spec.md §4.8: "identifier from a monotone counter
// guarded by the interrupt gate").
func (r *Registry) Allocate() ID {
	id := r.nextID
	r.nextID++
	return id
}

// Add registers t, making it visible to Lookup and ForEach.
func (r *Registry) Add(t *Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[t.ID] = t
}

// Remove drops t from the registry, called at the start of exit (spec.md
// §4.7: "Remove from the all-threads registry").
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.all, id)
}

// Lookup returns the thread with the given identifier, if it is still
// registered.
func (r *Registry) Lookup(id ID) (*Thread, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.all[id]
	return t, ok
}

// ForEach invokes fn for every registered thread. Callers are expected to
// hold the interrupt gate for the duration, per spec.md §6.
func (r *Registry) ForEach(fn func(*Thread)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.all {
		fn(t)
	}
}
