package selector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallkernel/sched/internal/readyq"
	"github.com/smallkernel/sched/internal/tcb"
)

func thread(id tcb.ID, priority, tickets int) *tcb.Thread {
	return tcb.New(id, "t", priority, tickets, nil, nil, nil)
}

func TestRoundRobinIsPlainFIFO(t *testing.T) {
	rq := readyq.New()
	sel := NewRoundRobin()
	idle := thread(99, tcb.PriMin, 0)

	a := thread(1, tcb.PriDefault, 0)
	b := thread(2, tcb.PriDefault, 0)
	rq.Insert(a)
	sel.OnInsert(a)
	rq.Insert(b)
	sel.OnInsert(b)

	require.Equal(t, a.ID, sel.Pick(rq, idle).ID)
	require.Equal(t, b.ID, sel.Pick(rq, idle).ID)
	require.Equal(t, idle.ID, sel.Pick(rq, idle).ID)
}

func TestTreeLotteryEquivalenceAgainstListLottery(t *testing.T) {
	// rbt-equivalence (spec.md §8): for the same sequence of insertions and
	// the same draw sequence, the tree-backed and list-scan selectors must
	// agree on every pick.
	idle := thread(999, tcb.PriMin, 0)
	threads := []*tcb.Thread{
		thread(1, tcb.PriDefault, 100),
		thread(2, tcb.PriDefault, 10),
		thread(3, tcb.PriDefault, 1),
		thread(4, tcb.PriDefault-1, 500), // lower priority, must never be picked first
	}

	for seed := int64(0); seed < 25; seed++ {
		rqTree := readyq.New()
		rqList := readyq.New()
		selTree := NewTreeLottery(seed)
		selList := NewListLottery(seed)

		for _, th := range threads {
			rqTree.Insert(th)
			selTree.OnInsert(th)
			rqList.Insert(th)
			selList.OnInsert(th)
		}

		for !rqTree.Empty() {
			wantID := selList.Pick(rqList, idle).ID
			gotID := selTree.Pick(rqTree, idle).ID
			require.Equal(t, wantID, gotID, "seed %d diverged", seed)
		}
	}
}

func TestLotteryNeverPicksBelowTopBand(t *testing.T) {
	rq := readyq.New()
	sel := NewTreeLottery(1)
	idle := thread(99, tcb.PriMin, 0)

	high := thread(1, tcb.PriDefault, 1)
	low := thread(2, tcb.PriDefault-1, 1000)

	rq.Insert(high)
	sel.OnInsert(high)
	rq.Insert(low)
	sel.OnInsert(low)

	winner := sel.Pick(rq, idle)
	require.Equal(t, high.ID, winner.ID)

	winner = sel.Pick(rq, idle)
	require.Equal(t, low.ID, winner.ID)

	require.Equal(t, idle.ID, sel.Pick(rq, idle).ID)
}
