// Package sleepq is the sleep queue and next-wakeup watermark of spec.md
// §4.4. It is a binary min-heap keyed by wakeup tick, adapted from the
// shape of the teacher's container/heap (src/container/heap/heap.go)
// sift-up/sift-down pair, re-expressed as a concrete type carrying the
// thread pointer directly rather than through heap.Interface — so the
// wakeup-tick comparison and the TCB back-pointer live together, matching
// how the rest of this kernel avoids reaching for interface-heavy generics
// inside its own hot paths. This gives wake_due O(log n) per woken thread
// instead of the reference's O(n) full-queue scan, while the watermark
// keeps the common no-one-is-due tick at O(1), exactly as spec.md
// prescribes.
package sleepq

import (
	"go.uber.org/atomic"

	"github.com/smallkernel/sched/internal/tcb"
)

type entry struct {
	thread   *tcb.Thread
	deadline uint64
	idx      int
}

// Queue holds the set of BLOCKED threads with a finite wakeup-tick.
type Queue struct {
	heap      []*entry
	byID      map[tcb.ID]*entry
	watermark atomic.Uint64
}

// New returns an empty sleep queue, watermark at +infinity.
func New() *Queue {
	q := &Queue{byID: make(map[tcb.ID]*entry)}
	q.watermark.Store(tcb.TickInfinite)
	return q
}

// Park adds t to the sleep queue with the given absolute deadline. Callers
// are responsible for setting t's status and wakeup field (internal/kernel
// owns that, per spec.md §4.2's ownership rule); Park only owns queue
// membership and the watermark.
func (q *Queue) Park(t *tcb.Thread, deadline uint64) {
	e := &entry{thread: t, deadline: deadline}
	q.byID[t.ID] = e
	q.push(e)
	q.refreshWatermark()
}

// WakeDue removes and returns every thread whose deadline has elapsed by
// now, in unspecified order among ties (spec.md §4.4), and recomputes the
// watermark.
func (q *Queue) WakeDue(now uint64) []*tcb.Thread {
	var due []*tcb.Thread
	for len(q.heap) > 0 && q.heap[0].deadline <= now {
		e := q.pop()
		delete(q.byID, e.thread.ID)
		due = append(due, e.thread)
	}
	q.refreshWatermark()
	return due
}

// NextWakeup returns the cached minimum wakeup-tick across the queue, or
// the infinity sentinel when empty.
func (q *Queue) NextWakeup() uint64 {
	return q.watermark.Load()
}

// Len reports the number of parked threads.
func (q *Queue) Len() int { return len(q.heap) }

func (q *Queue) refreshWatermark() {
	if len(q.heap) == 0 {
		q.watermark.Store(tcb.TickInfinite)
		return
	}
	q.watermark.Store(q.heap[0].deadline)
}

func (q *Queue) push(e *entry) {
	e.idx = len(q.heap)
	q.heap = append(q.heap, e)
	q.siftUp(e.idx)
}

func (q *Queue) pop() *entry {
	n := len(q.heap) - 1
	q.swap(0, n)
	e := q.heap[n]
	q.heap[n] = nil
	q.heap = q.heap[:n]
	if n > 0 {
		q.siftDown(0)
	}
	return e
}

func (q *Queue) swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
	q.heap[i].idx = i
	q.heap[j].idx = j
}

func (q *Queue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if q.heap[parent].deadline <= q.heap[i].deadline {
			break
		}
		q.swap(parent, i)
		i = parent
	}
}

func (q *Queue) siftDown(i int) {
	n := len(q.heap)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		smallest := left
		if right := left + 1; right < n && q.heap[right].deadline < q.heap[left].deadline {
			smallest = right
		}
		if q.heap[i].deadline <= q.heap[smallest].deadline {
			break
		}
		q.swap(i, smallest)
		i = smallest
	}
}
