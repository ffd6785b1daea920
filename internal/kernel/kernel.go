// Package kernel is the scheduler loop and thread lifecycle of spec.md §4:
// it wires the tick clock, interrupt gate, TCB registry, ready queue, sleep
// queue and selector together the way thread.c's globals and thread_tick/
// thread_schedule/thread_block/thread_exit are one cooperating unit rather
// than separate modules.
//
// Every real CPU this design models has exactly one thing "running" at a
// time. A Thread's body runs on its own goroutine, but internal/tcb.Thread's
// Resume channel is an unbuffered baton: a goroutine only proceeds past a
// receive on its own Resume once some other goroutine — the one currently
// holding the CPU — explicitly hands it over. That single invariant (one
// baton, handed off synchronously, never duplicated) is what makes "the
// current thread" a meaningful, race-free concept despite every thread body
// being a live goroutine the whole time it merely exists.
package kernel

import (
	"errors"
	"runtime"
	"sync"

	"github.com/smallkernel/sched/internal/intrlock"
	"github.com/smallkernel/sched/internal/kclock"
	"github.com/smallkernel/sched/internal/klog"
	"github.com/smallkernel/sched/internal/ksync"
	"github.com/smallkernel/sched/internal/page"
	"github.com/smallkernel/sched/internal/readyq"
	"github.com/smallkernel/sched/internal/selector"
	"github.com/smallkernel/sched/internal/sleepq"
	"github.com/smallkernel/sched/internal/tcb"
)

// timeSlice is the number of ticks a thread may hold the CPU before the
// handler requests a yield (spec.md §6: "four ticks", Pintos' TIME_SLICE).
const timeSlice = 4

// defaultTickets is the lottery weight given to threads created through
// the plain, non-lottery Create (and to the initial main thread): enough
// to keep them drawable if the kernel is ever running in Lottery mode,
// without mattering to round-robin's priority-then-tickets tiebreak when
// every thread shares the same default.
const defaultTickets = 1

// ErrThreadTableFull is returned by Create/CreateLottery when maxThreads is
// configured and already reached — the one recoverable fault spec.md §7
// names (TIDError), as opposed to the fatal Fault panics below.
var ErrThreadTableFull = errors.New("kernel: thread table exhausted")

// Kernel owns every piece of scheduler state and is the sole mutator of all
// of it; every exported method takes the interrupt gate around its
// mutations, the same discipline thread.c applies via intr_disable/
// intr_set_level.
type Kernel struct {
	gate     *intrlock.Gate
	clock    *kclock.Clock
	registry *tcb.Registry
	readyQ   *readyq.Queue
	sleepQ   *sleepq.Queue
	pages    *page.Allocator
	sel      selector.Interface
	log      *klog.Logger

	current *tcb.Thread
	idle    *tcb.Thread

	// pendingReap is the page to free once the thread now taking the CPU
	// has finished taking it — spec.md §4.7's "freed by the successor's
	// post-switch hook", never by the dying thread's own, about-to-vanish
	// goroutine.
	pendingReap *tcb.Thread

	yieldOnReturn  bool
	ticksThisSlice int

	liveCount  int
	maxThreads int

	runCounts map[int]int
	rcMu      sync.Mutex
}

// New returns a Kernel with a single thread, "main" (the calling
// goroutine), already Running. Call Start before relying on idle-thread
// fallback or any ready-queue-empty behavior. maxThreads <= 0 means
// unlimited.
func New(mode selector.Mode, seed int64, maxThreads int) *Kernel {
	k := &Kernel{
		gate:       intrlock.New(),
		clock:      kclock.New(),
		registry:   tcb.NewRegistry(),
		readyQ:     readyq.New(),
		sleepQ:     sleepq.New(),
		pages:      page.New(),
		log:        klog.New("kernel"),
		runCounts:  make(map[int]int),
		maxThreads: maxThreads,
	}
	if mode == selector.Lottery {
		k.sel = selector.NewTreeLottery(seed)
	} else {
		k.sel = selector.NewRoundRobin()
	}

	level := k.gate.Disable()
	id := k.registry.Allocate()
	p := k.pages.Alloc()
	main := tcb.New(id, "main", tcb.PriDefault, defaultTickets, p, nil, nil)
	main.SetStatus(tcb.Running)
	k.registry.Add(main)
	k.liveCount = 1
	k.current = main
	k.gate.SetLevel(level)
	return k
}

// Start creates the idle thread, the selector's fallback when the ready
// queue is empty (spec.md §4.5's Pick(idle) parameter). It must run before
// any call that might exhaust the ready queue.
func (k *Kernel) Start() {
	level := k.gate.Disable()
	id := k.registry.Allocate()
	p := k.pages.Alloc()
	idle := tcb.New(id, "idle", tcb.PriMin, 0, p, k.idleLoop, nil)
	k.registry.Add(idle)
	k.liveCount++
	k.idle = idle
	go k.bootstrap(idle)
	k.gate.SetLevel(level)
	k.log.Event("scheduler started", klog.F("idle_tid", uint64(idle.ID)))
}

// Create starts a new thread with Priority priority and defaultTickets
// lottery tickets.
func (k *Kernel) Create(name string, priority int, fn func(aux any), aux any) (tcb.ID, error) {
	return k.create(name, priority, defaultTickets, fn, aux)
}

// CreateLottery starts a new thread holding tickets lottery tickets, the
// hybrid selector's unit of scheduling weight within its priority band
// (spec.md §4.6).
func (k *Kernel) CreateLottery(name string, priority, tickets int, fn func(aux any), aux any) (tcb.ID, error) {
	assertFault(InvariantViolation, tickets > 0, "thread %q created with non-positive ticket count %d", name, tickets)
	return k.create(name, priority, tickets, fn, aux)
}

func (k *Kernel) create(name string, priority, tickets int, fn func(aux any), aux any) (tcb.ID, error) {
	assertFault(InvariantViolation, priority >= tcb.PriMin && priority <= tcb.PriMax, "thread %q created with out-of-range priority %d", name, priority)

	level := k.gate.Disable()
	if k.maxThreads > 0 && k.liveCount >= k.maxThreads {
		k.gate.SetLevel(level)
		return tcb.TIDError, ErrThreadTableFull
	}
	id := k.registry.Allocate()
	p := k.pages.Alloc()
	t := tcb.New(id, name, priority, tickets, p, fn, aux)
	k.registry.Add(t)
	k.liveCount++
	go k.bootstrap(t)
	t.SetStatus(tcb.Ready)
	k.readyInsertLocked(t)
	k.gate.SetLevel(level)

	k.log.Event("thread created", klog.F("tid", uint64(id)), klog.F("name", name), klog.F("priority", priority))
	k.maybeYieldToReady()
	return id, nil
}

// Current returns the calling goroutine's own thread, the scheduler's
// notion of "whoever holds the CPU right now".
func (k *Kernel) Current() *tcb.Thread { return k.current }

// TID returns the current thread's identifier.
func (k *Kernel) TID() tcb.ID { return k.current.ID }

// Name returns the current thread's name.
func (k *Kernel) Name() string { return k.current.Name }

// Lookup finds a live thread by identifier. A thread that has called Exit
// is no longer found, even before its page is reaped.
func (k *Kernel) Lookup(id tcb.ID) (*tcb.Thread, bool) { return k.registry.Lookup(id) }

// ForEach visits every live thread (spec.md §6).
func (k *Kernel) ForEach(fn func(*tcb.Thread)) { k.registry.ForEach(fn) }

// GetPriority returns the current thread's priority.
func (k *Kernel) GetPriority() int { return k.current.Priority }

// SetPriority changes the current thread's priority, yielding immediately
// if some ready thread now outranks it (spec.md §4.2's "yields if it no
// longer holds the highest priority").
func (k *Kernel) SetPriority(newPriority int) {
	assertFault(InvariantViolation, newPriority >= tcb.PriMin && newPriority <= tcb.PriMax, "set_priority out of range: %d", newPriority)
	level := k.gate.Disable()
	k.current.Priority = newPriority
	k.gate.SetLevel(level)
	k.maybeYieldToReady()
}

// SetScheduler switches the active selection discipline. Switching to
// Lottery rebuilds the tree-backed selector's auxiliary trees from the
// threads already sitting in the ready queue, since those trees — unlike
// the ready queue itself — are private selector state.
func (k *Kernel) SetScheduler(mode selector.Mode, seed int64) {
	level := k.gate.Disable()
	defer k.gate.SetLevel(level)
	var next selector.Interface
	if mode == selector.Lottery {
		tree := selector.NewTreeLottery(seed)
		k.readyQ.ForEach(tree.OnInsert)
		next = tree
	} else {
		next = selector.NewRoundRobin()
	}
	k.sel = next
	k.log.Event("scheduler mode changed")
}

// Yield gives up the CPU voluntarily, re-entering the ready queue at the
// current thread's (possibly just-changed) priority and ticket count.
func (k *Kernel) Yield() {
	level := k.gate.Disable()
	cur := k.current
	if cur != k.idle {
		cur.SetStatus(tcb.Ready)
		k.readyInsertLocked(cur)
	}
	k.ticksThisSlice = 0
	k.yieldOnReturn = false
	k.doSchedule(level)
}

// CheckPreempt yields if the tick handler has requested one. Thread bodies
// call this at safe points (loop back-edges) — the cooperative stand-in
// for the asynchronous preemption spec.md §4.1 assigns to the timer
// interrupt, since nothing here can interrupt a goroutine mid-instruction
// the way a real timer interrupt preempts a thread.
func (k *Kernel) CheckPreempt() {
	level := k.gate.Disable()
	should := k.yieldOnReturn
	k.gate.SetLevel(level)
	if should {
		k.Yield()
	}
}

// Block marks the current thread BLOCKED and schedules away. Callers are
// responsible for having already arranged how the thread will be woken
// (enqueued on a semaphore's waiters, parked in the sleep queue, ...).
func (k *Kernel) Block() {
	level := k.gate.Disable()
	k.BlockLocked(level)
}

// BlockLocked is Block for a caller that has already disabled the gate at
// level — internal/ksync's semaphore uses this so "enqueue the waiter" and
// "transition to BLOCKED" happen under one uninterrupted mask, with no
// window for a concurrent Up() to find nobody to wake.
func (k *Kernel) BlockLocked(level bool) {
	k.current.SetStatus(tcb.Blocked)
	k.doSchedule(level)
}

// Unblock moves a BLOCKED thread to READY. It does not itself yield — the
// unblocking thread keeps the CPU until it next blocks, yields, or is
// preempted, matching thread_unblock's contract.
func (k *Kernel) Unblock(t *tcb.Thread) {
	level := k.gate.Disable()
	assertFault(InvariantViolation, t.Status() == tcb.Blocked, "unblock of thread %q which is %s, not BLOCKED", t.Name, t.Status())
	t.SetStatus(tcb.Ready)
	k.readyInsertLocked(t)
	k.gate.SetLevel(level)
}

// Sleep parks the current thread until at least durationTicks ticks from
// now (spec.md §4.4). A zero duration degrades to a plain Yield.
func (k *Kernel) Sleep(durationTicks uint64) {
	assertFault(InvariantViolation, !k.gate.InContext(), "sleep called from the tick handler")
	if durationTicks == 0 {
		k.Yield()
		return
	}
	level := k.gate.Disable()
	cur := k.current
	deadline := k.clock.Now() + durationTicks
	cur.WakeupTick = deadline
	k.sleepQ.Park(cur, deadline)
	k.BlockLocked(level)
}

// NextAwakeTick returns the earliest tick at which any parked thread is due
// to wake, or tcb.TickInfinite if none are parked — the watermark spec.md
// §4.4 calls out for O(1) "is anyone due" reads.
func (k *Kernel) NextAwakeTick() uint64 { return k.sleepQ.NextWakeup() }

// Now returns the current tick count.
func (k *Kernel) Now() uint64 { return k.clock.Now() }

// NewSemaphore returns a counting semaphore whose waiters block and wake
// through this kernel's scheduler — the user-level coordination primitive
// spec.md §4.2 mentions locks are ultimately built on.
func (k *Kernel) NewSemaphore(value int) *ksync.Semaphore {
	return ksync.NewSemaphore(k.gate, k, value)
}

// NewLock returns an unheld mutual-exclusion lock built on NewSemaphore.
func (k *Kernel) NewLock() *ksync.Lock {
	return ksync.NewLock(k.gate, k)
}

// RunCounts returns, for every thread that has ever held the CPU during a
// tick, the number of ticks it was charged, keyed by the thread's perf
// identifier rather than its TCB identifier — a per-thread usage counter in
// the spirit of thread.c's own idle_ticks/kernel_ticks/user_ticks
// breakdown, generalized to every thread rather than just those three
// buckets. Keying by PerfID rather than ID lets instrumentation survive a
// thread's exit and reuse of its TCB slot by a later, unrelated thread.
func (k *Kernel) RunCounts() map[int]int {
	k.rcMu.Lock()
	defer k.rcMu.Unlock()
	out := make(map[int]int, len(k.runCounts))
	for id, n := range k.runCounts {
		out[id] = n
	}
	return out
}

// Tick is the hardware timer interrupt entry point (spec.md §4.1): advance
// the clock, wake anyone due, charge the running thread a tick, and — if
// its slice has expired — set the flag CheckPreempt consumes. It must
// never call into the selector or block.
func (k *Kernel) Tick() {
	k.gate.RunHandler(func() {
		now := k.clock.Advance()
		if now >= k.sleepQ.NextWakeup() {
			for _, t := range k.sleepQ.WakeDue(now) {
				t.WakeupTick = tcb.TickInfinite
				t.SetStatus(tcb.Ready)
				k.readyInsertLocked(t)
			}
		}
		k.bumpRunCount(k.current)
		if k.current != k.idle {
			k.ticksThisSlice++
			if k.ticksThisSlice >= timeSlice {
				k.yieldOnReturn = true
			}
		}
	})
}

func (k *Kernel) bumpRunCount(t *tcb.Thread) {
	k.rcMu.Lock()
	k.runCounts[t.PerfID]++
	k.rcMu.Unlock()
}

// Exit never returns: it removes the current thread from the registry,
// marks it DYING, and schedules away for the last time. The trailing panic
// is unreachable and exists only as a safety net, the way the teacher
// marks truly-unreachable branches rather than leaving them silent.
func (k *Kernel) Exit() {
	level := k.gate.Disable()
	cur := k.current
	k.registry.Remove(cur.ID)
	k.liveCount--
	cur.SetStatus(tcb.Dying)
	k.doSchedule(level)
	panic("kernel: exited thread resumed")
}

func (k *Kernel) readyInsertLocked(t *tcb.Thread) {
	k.readyQ.Insert(t)
	k.sel.OnInsert(t)
}

// maybeYieldToReady yields if the ready queue's head now outranks the
// current thread, the same check thread_create and thread_set_priority
// both perform after changing who is eligible to run.
func (k *Kernel) maybeYieldToReady() {
	level := k.gate.Disable()
	front := k.readyQ.Front()
	should := front != nil && (k.current == k.idle || front.Priority > k.current.Priority)
	k.gate.SetLevel(level)
	if should {
		k.Yield()
	}
}

// doSchedule picks the next thread to run and hands it the CPU, assuming
// the gate is held at level. It always releases the gate before any
// channel operation — the baton handoff below is the one moment two
// goroutines (outgoing and incoming thread) briefly both exist in this
// function, and holding a mutex across it would serialize them for no
// reason, or deadlock if the incoming thread's own path needs the gate
// before reaching its resume point.
func (k *Kernel) doSchedule(level bool) {
	next := k.sel.Pick(k.readyQ, k.idle)
	prev := k.current
	dying := prev.Status() == tcb.Dying
	if dying {
		k.pendingReap = prev
	}
	k.current = next
	next.SetStatus(tcb.Running)
	k.gate.SetLevel(level)

	switch {
	case dying:
		if next != prev {
			next.Resume <- struct{}{}
		} else {
			k.finishSwitch()
		}
		runtime.Goexit()
	case next == prev:
		// Selector handed the CPU straight back — idle re-picking idle
		// with the ready queue still empty, or the sole ready thread
		// yielding to itself. No baton changes hands.
	default:
		next.Resume <- struct{}{}
		<-prev.Resume
		k.finishSwitch()
	}
}

// finishSwitch runs as the first thing the newly-dispatched thread does,
// freeing a just-exited predecessor's page. Spec.md §4.7 assigns this to
// "the successor's post-switch hook" rather than the dying thread's own
// code, since that thread's goroutine is moments from Goexit and must not
// touch its own freed page afterward.
func (k *Kernel) finishSwitch() {
	if k.pendingReap != nil {
		k.pages.Free(k.pendingReap.Page)
		k.pendingReap = nil
	}
}

// bootstrap is the body every created thread's goroutine actually runs: it
// waits for its first dispatch, then calls the thread's real entry point,
// then exits. This one function plays the role of the teacher's
// kickoff/mstart trampoline — the thing a freshly created g runs before
// ever reaching user code.
func (k *Kernel) bootstrap(t *tcb.Thread) {
	<-t.Resume
	k.finishSwitch()
	t.Fn(t.Aux)
	k.Exit()
}

// idleLoop is the idle thread's body: park immediately, and whenever
// dispatched again, park again. Pintos halts the CPU (hlt) between these
// parks; there is no CPU to halt here, so idleLoop instead yields the OS
// thread via runtime.Gosched, giving the tick-source goroutine a chance to
// run before looping back — a documented stand-in, not a hardware wait.
func (k *Kernel) idleLoop(any) {
	for {
		level := k.gate.Disable()
		k.current.SetStatus(tcb.Blocked)
		k.doSchedule(level)
		runtime.Gosched()
	}
}
