// Package selector picks the next runner per the active discipline
// (spec.md §4.5), behind one Interface so round-robin and the two lottery
// variants — reference list-scan and order-statistic-tree — can be
// swapped at boot or at runtime and property-tested against each other
// (spec.md §4.6's equivalence note and §8's rbt-equivalence property).
package selector

import (
	"math/rand"

	"github.com/smallkernel/sched/internal/readyq"
	"github.com/smallkernel/sched/internal/tcb"
	"github.com/smallkernel/sched/internal/ticketrbt"
)

// Mode names a scheduling discipline (spec.md §6).
type Mode int

const (
	RoundRobin Mode = iota
	Lottery
)

// maxCandidates is the lottery candidate cap (spec.md §4.5 step 3).
const maxCandidates = 64

// Interface is the contract every selector implementation satisfies. Pick
// removes and returns the chosen thread, or idle if the ready queue holds
// nothing selectable. OnInsert is a hook called whenever a thread is added
// to the ready queue, letting a selector maintain auxiliary state (the
// tree-backed lottery's per-priority trees); selectors with no auxiliary
// state make it a no-op.
type Interface interface {
	Mode() Mode
	OnInsert(t *tcb.Thread)
	Pick(rq *readyq.Queue, idle *tcb.Thread) *tcb.Thread
}

// roundRobin returns the ready queue's front, already ordered by priority
// then tickets (spec.md §4.5's round-robin case).
type roundRobin struct{}

// NewRoundRobin returns the priority-ordered FIFO selector.
func NewRoundRobin() Interface { return roundRobin{} }

func (roundRobin) Mode() Mode             { return RoundRobin }
func (roundRobin) OnInsert(*tcb.Thread)   {}
func (roundRobin) Pick(rq *readyq.Queue, idle *tcb.Thread) *tcb.Thread {
	if rq.Empty() {
		return idle
	}
	return rq.PopFront()
}

// listLottery is the reference list-scan hybrid priority-lottery selector
// (spec.md §4.5): collect the max-priority band, draw a ticket uniformly,
// walk the band's prefix sum.
type listLottery struct {
	rng *rand.Rand
}

// NewListLottery returns the O(band size) reference lottery selector,
// seeded by seed (spec.md §6: "seeded with the tick count at boot").
func NewListLottery(seed int64) Interface {
	return &listLottery{rng: rand.New(rand.NewSource(seed))}
}

func (*listLottery) Mode() Mode           { return Lottery }
func (*listLottery) OnInsert(*tcb.Thread) {}

func (s *listLottery) Pick(rq *readyq.Queue, idle *tcb.Thread) *tcb.Thread {
	if rq.Empty() {
		return idle
	}
	band, total := rq.Band(maxCandidates)
	if total == 0 || len(band) == 0 {
		return rq.PopFront()
	}
	draw := s.rng.Intn(total) + 1
	for _, cand := range band {
		if draw <= cand.Tickets {
			rq.Remove(cand)
			return cand
		}
		draw -= cand.Tickets
	}
	// unreachable given draw in [1, total], kept as the reference
	// implementation's own safety net.
	return rq.PopFront()
}

// treeLottery is the order-statistic-tree-backed hybrid lottery (spec.md
// §4.6): one ticketrbt.Tree per priority level, picked by prefix sum in
// O(log band size) instead of the reference's O(band size) scan.
type treeLottery struct {
	rng    *rand.Rand
	trees  [tcb.PriMax + 1]*ticketrbt.Tree
	counts [tcb.PriMax + 1]int
}

// NewTreeLottery returns the O(log n) lottery selector.
func NewTreeLottery(seed int64) Interface {
	return &treeLottery{rng: rand.New(rand.NewSource(seed))}
}

func (*treeLottery) Mode() Mode { return Lottery }

func (s *treeLottery) OnInsert(t *tcb.Thread) {
	if s.trees[t.Priority] == nil {
		s.trees[t.Priority] = ticketrbt.New()
	}
	s.trees[t.Priority].Insert(t)
	s.counts[t.Priority]++
}

func (s *treeLottery) onRemove(t *tcb.Thread) {
	if tree := s.trees[t.Priority]; tree != nil {
		tree.Remove(t)
	}
	s.counts[t.Priority]--
}

func (s *treeLottery) maxBand() int {
	for p := tcb.PriMax; p >= tcb.PriMin; p-- {
		if s.counts[p] > 0 {
			return p
		}
	}
	return -1
}

func (s *treeLottery) Pick(rq *readyq.Queue, idle *tcb.Thread) *tcb.Thread {
	if rq.Empty() {
		return idle
	}
	band := s.maxBand()
	if band < 0 {
		return rq.PopFront()
	}
	tree := s.trees[band]
	total := tree.Total()
	if total == 0 {
		winner := rq.PopFront()
		s.onRemove(winner)
		return winner
	}
	draw := s.rng.Intn(total) + 1
	winner := tree.Pick(draw)
	if winner == nil {
		winner = rq.PopFront()
	} else {
		rq.Remove(winner)
	}
	s.onRemove(winner)
	return winner
}
