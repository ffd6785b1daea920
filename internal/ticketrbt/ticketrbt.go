// Package ticketrbt is the order-statistic red-black tree of spec.md §4.6:
// an augmented BST over tickets, supporting O(log n) lottery selection by
// prefix sum. It is a direct, idiomatic-Go port of the reference
// lottery_rbt.c algorithm (insert, delete-with-transplant, prefix-sum
// pick), keyed by thread identifier.
package ticketrbt

import "github.com/smallkernel/sched/internal/tcb"

type color bool

const (
	red   color = true
	black color = false
)

type node struct {
	thread       *tcb.Thread
	tickets      int
	subtreeTotal int
	color        color
	left, right  *node
	parent       *node
}

// Tree is an order-statistic red-black tree keyed by thread identifier.
type Tree struct {
	root *node
	byID map[tcb.ID]*node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{byID: make(map[tcb.ID]*node)}
}

// Total returns the sum of tickets over the whole tree, 0 if empty.
func (t *Tree) Total() int {
	return subtreeTotal(t.root)
}

// Len reports the number of threads registered in the tree.
func (t *Tree) Len() int { return len(t.byID) }

func subtreeTotal(n *node) int {
	if n == nil {
		return 0
	}
	return n.subtreeTotal
}

func updateSubtreeTotal(n *node) {
	if n != nil {
		n.subtreeTotal = n.tickets + subtreeTotal(n.left) + subtreeTotal(n.right)
	}
}

func nodeColor(n *node) color {
	if n == nil {
		return black
	}
	return n.color
}

// Insert adds thread as a RED node keyed by its identifier, adding its
// tickets to every visited ancestor's subtree total on the way down, then
// runs the standard red-black insert fixup.
func (t *Tree) Insert(thread *tcb.Thread) {
	z := &node{thread: thread, tickets: thread.Tickets, subtreeTotal: thread.Tickets, color: red}

	var y *node
	x := t.root
	for x != nil {
		y = x
		x.subtreeTotal += z.tickets
		if thread.ID < x.thread.ID {
			x = x.left
		} else {
			x = x.right
		}
	}
	z.parent = y
	switch {
	case y == nil:
		t.root = z
	case thread.ID < y.thread.ID:
		y.left = z
	default:
		y.right = z
	}
	t.byID[thread.ID] = z
	t.insertFixup(z)
}

func (t *Tree) leftRotate(x *node) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == nil:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
	updateSubtreeTotal(x)
	updateSubtreeTotal(y)
}

func (t *Tree) rightRotate(y *node) {
	x := y.left
	y.left = x.right
	if x.right != nil {
		x.right.parent = y
	}
	x.parent = y.parent
	switch {
	case y.parent == nil:
		t.root = x
	case y == y.parent.left:
		y.parent.left = x
	default:
		y.parent.right = x
	}
	x.right = y
	y.parent = x
	updateSubtreeTotal(y)
	updateSubtreeTotal(x)
}

func (t *Tree) insertFixup(z *node) {
	for z.parent != nil && nodeColor(z.parent) == red {
		gp := z.parent.parent
		if z.parent == gp.left {
			y := gp.right
			if nodeColor(y) == red {
				z.parent.color = black
				y.color = black
				gp.color = red
				z = gp
			} else {
				if z == z.parent.right {
					z = z.parent
					t.leftRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rightRotate(z.parent.parent)
			}
		} else {
			y := gp.left
			if nodeColor(y) == red {
				z.parent.color = black
				y.color = black
				gp.color = red
				z = gp
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rightRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.leftRotate(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *Tree) transplant(u, v *node) {
	switch {
	case u.parent == nil:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func minimum(n *node) *node {
	for n.left != nil {
		n = n.left
	}
	return n
}

// Remove deletes the node for thread, if present, reporting whether it was
// found.
func (t *Tree) Remove(thread *tcb.Thread) bool {
	z, ok := t.byID[thread.ID]
	if !ok {
		return false
	}
	delete(t.byID, thread.ID)

	// First pass: z itself is leaving the tree entirely, so every ancestor
	// of z (from z's own parent up to the root) loses exactly z's tickets.
	for p := z.parent; p != nil; p = p.parent {
		p.subtreeTotal -= z.tickets
	}

	y := z
	yOriginalColor := nodeColor(y)
	var x, xParent *node

	switch {
	case z.left == nil:
		x = z.right
		xParent = z.parent
		t.transplant(z, z.right)
	case z.right == nil:
		x = z.left
		xParent = z.parent
		t.transplant(z, z.left)
	default:
		y = minimum(z.right)
		yOriginalColor = nodeColor(y)
		x = y.right
		if y.parent == z {
			if x != nil {
				x.parent = y
			}
			xParent = y
		} else {
			// Second pass: y is moving out from under z.right, so every
			// node strictly between y and z.right, plus z.right itself,
			// loses y's tickets — these nodes are not on z's own ancestor
			// chain, so the first pass above never touched them. Skipping
			// this leaves z.right's (and hence y's future) subtree total
			// stale after the splice.
			for p := y.parent; p != nil; p = p.parent {
				p.subtreeTotal -= y.tickets
				if p == z.right {
					break
				}
			}
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
		updateSubtreeTotal(y)
	}

	if yOriginalColor == black {
		t.removeFixup(x, xParent)
	}
	return true
}

func (t *Tree) removeFixup(x, xParent *node) {
	for x != t.root && nodeColor(x) == black {
		if x == xParent.left {
			w := xParent.right
			if nodeColor(w) == red {
				w.color = black
				xParent.color = red
				t.leftRotate(xParent)
				w = xParent.right
			}
			if nodeColor(w.left) == black && nodeColor(w.right) == black {
				w.color = red
				x = xParent
				xParent = x.parent
			} else {
				if nodeColor(w.right) == black {
					if w.left != nil {
						w.left.color = black
					}
					w.color = red
					t.rightRotate(w)
					w = xParent.right
				}
				w.color = xParent.color
				xParent.color = black
				if w.right != nil {
					w.right.color = black
				}
				t.leftRotate(xParent)
				x = t.root
				break
			}
		} else {
			w := xParent.left
			if nodeColor(w) == red {
				w.color = black
				xParent.color = red
				t.rightRotate(xParent)
				w = xParent.left
			}
			if nodeColor(w.right) == black && nodeColor(w.left) == black {
				w.color = red
				x = xParent
				xParent = x.parent
			} else {
				if nodeColor(w.left) == black {
					if w.right != nil {
						w.right.color = black
					}
					w.color = red
					t.leftRotate(w)
					w = xParent.left
				}
				w.color = xParent.color
				xParent.color = black
				if w.left != nil {
					w.left.color = black
				}
				t.rightRotate(xParent)
				x = t.root
				break
			}
		}
	}
	if x != nil {
		x.color = black
	}
}

// Pick descends the tree to find the thread owning ticket r, where
// 1 <= r <= Total(). It returns nil if r is out of range, including on an
// empty tree.
func (t *Tree) Pick(r int) *tcb.Thread {
	n := t.root
	for n != nil {
		leftTotal := subtreeTotal(n.left)
		switch {
		case r <= leftTotal:
			n = n.left
		case r <= leftTotal+n.tickets:
			return n.thread
		default:
			r -= leftTotal + n.tickets
			n = n.right
		}
	}
	return nil
}
