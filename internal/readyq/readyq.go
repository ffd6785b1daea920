// Package readyq is the priority+ticket-ordered ready queue of spec.md
// §4.3. It is adapted from the teacher's container/list (src/container/
// list/list.go): a doubly linked ring with a sentinel root element, the
// same shape, but specialized to hold *tcb.Thread directly and to keep an
// identifier index alongside it, so remove(t) — "used by lottery selection
// to extract the winner" — is O(1) instead of the reference's O(n) scan.
package readyq

import "github.com/smallkernel/sched/internal/tcb"

type node struct {
	prev, next *node
	thread     *tcb.Thread
}

// Queue is an ordered sequence of READY threads, keyed by (priority desc,
// ticket count desc), front is next to run.
type Queue struct {
	root  node
	count int
	index map[tcb.ID]*node
}

// New returns an empty ready queue.
func New() *Queue {
	q := &Queue{index: make(map[tcb.ID]*node)}
	q.root.next = &q.root
	q.root.prev = &q.root
	return q
}

// less reports whether a sorts strictly before b: higher priority first,
// then higher ticket count.
func less(a, b *tcb.Thread) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Tickets > b.Tickets
}

// Insert places t in order. Equal-key arrivals land after all existing
// equal-key entries, giving FIFO order within a (priority, tickets) tier —
// this is what makes round-robin degenerate to strict priority FIFO when
// tickets are uniform (spec.md §4.3's rationale).
func (q *Queue) Insert(t *tcb.Thread) {
	cur := q.root.next
	for cur != &q.root && !less(t, cur.thread) {
		cur = cur.next
	}
	n := &node{thread: t, prev: cur.prev, next: cur}
	cur.prev.next = n
	cur.prev = n
	q.count++
	q.index[t.ID] = n
}

func (q *Queue) unlink(n *node) *tcb.Thread {
	n.prev.next = n.next
	n.next.prev = n.prev
	delete(q.index, n.thread.ID)
	q.count--
	t := n.thread
	n.prev, n.next, n.thread = nil, nil, nil
	return t
}

// PopFront removes and returns the front of the queue. Precondition:
// !Empty().
func (q *Queue) PopFront() *tcb.Thread {
	if q.count == 0 {
		panic("readyq: pop_front on empty queue")
	}
	return q.unlink(q.root.next)
}

// Remove deletes t by identity, reporting whether it was present.
func (q *Queue) Remove(t *tcb.Thread) bool {
	n, ok := q.index[t.ID]
	if !ok {
		return false
	}
	q.unlink(n)
	return true
}

// Front peeks at the head without removing it, or nil if empty.
func (q *Queue) Front() *tcb.Thread {
	if q.count == 0 {
		return nil
	}
	return q.root.next.thread
}

// Empty reports whether the queue holds no threads.
func (q *Queue) Empty() bool { return q.count == 0 }

// Len reports the number of threads currently queued.
func (q *Queue) Len() int { return q.count }

// Band returns the prefix of ready threads sharing the current maximum
// priority, in discovery (queue) order, capped at max entries, along with
// the sum of their ticket counts. This is the reference list-scan
// selector's "collect the subset S" step (spec.md §4.5); because the queue
// is already priority-ordered, the band is simply its head run.
func (q *Queue) Band(max int) ([]*tcb.Thread, int) {
	if q.count == 0 {
		return nil, 0
	}
	top := q.root.next.thread.Priority
	var out []*tcb.Thread
	total := 0
	for cur := q.root.next; cur != &q.root && cur.thread.Priority == top; cur = cur.next {
		if len(out) >= max {
			break
		}
		out = append(out, cur.thread)
		total += cur.thread.Tickets
	}
	return out, total
}

// ForEach visits every queued thread in order, front to back.
func (q *Queue) ForEach(fn func(*tcb.Thread)) {
	for cur := q.root.next; cur != &q.root; cur = cur.next {
		fn(cur.thread)
	}
}
