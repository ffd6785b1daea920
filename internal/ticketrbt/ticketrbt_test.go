package ticketrbt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallkernel/sched/internal/tcb"
)

func newThread(id tcb.ID, tickets int) *tcb.Thread {
	return tcb.New(id, "t", tcb.PriDefault, tickets, nil, nil, nil)
}

func TestInsertTotalsMatchSum(t *testing.T) {
	tr := New()
	rng := rand.New(rand.NewSource(1))
	sum := 0
	threads := make([]*tcb.Thread, 0, 200)
	for i := 0; i < 200; i++ {
		tickets := rng.Intn(50) + 1
		th := newThread(tcb.ID(i+1), tickets)
		threads = append(threads, th)
		tr.Insert(th)
		sum += tickets
		require.Equal(t, sum, tr.Total())
	}
	require.Equal(t, 200, tr.Len())
}

// linearPick mirrors the reference list-scan algorithm: the simplest
// possible "which thread owns ticket r" answer, used here only to check
// the tree's prefix-sum descent against it.
func linearPick(threads []*tcb.Thread, r int) *tcb.Thread {
	for _, th := range threads {
		if r <= th.Tickets {
			return th
		}
		r -= th.Tickets
	}
	return nil
}

func TestPickMatchesLinearScan(t *testing.T) {
	tr := New()
	var threads []*tcb.Thread
	rng := rand.New(rand.NewSource(2))
	total := 0
	for i := 0; i < 64; i++ {
		tickets := rng.Intn(20) + 1
		th := newThread(tcb.ID(i+1), tickets)
		threads = append(threads, th)
		tr.Insert(th)
		total += tickets
	}
	for r := 1; r <= total; r++ {
		want := linearPick(threads, r)
		got := tr.Pick(r)
		require.Equal(t, want.ID, got.ID, "ticket %d", r)
	}
}

func TestRemoveKeepsSubtreeTotalsConsistent(t *testing.T) {
	tr := New()
	rng := rand.New(rand.NewSource(3))
	var threads []*tcb.Thread
	for i := 0; i < 30; i++ {
		th := newThread(tcb.ID(i+1), rng.Intn(30)+1)
		threads = append(threads, th)
		tr.Insert(th)
	}

	rng.Shuffle(len(threads), func(i, j int) { threads[i], threads[j] = threads[j], threads[i] })

	remaining := make(map[tcb.ID]int)
	for _, th := range threads {
		remaining[th.ID] = th.Tickets
	}
	sum := 0
	for _, n := range remaining {
		sum += n
	}

	for i, th := range threads {
		ok := tr.Remove(th)
		require.True(t, ok)
		sum -= th.Tickets
		delete(remaining, th.ID)
		require.Equal(t, sum, tr.Total(), "after removing %d of %d", i+1, len(threads))
		require.Equal(t, len(remaining), tr.Len())

		// Every surviving thread must still be reachable by prefix-sum
		// descent, proving the two-children deletion's second pass kept
		// every ancestor's subtreeTotal correct.
		if tr.Total() > 0 {
			for id := range remaining {
				found := false
				for r := 1; r <= tr.Total(); r++ {
					if got := tr.Pick(r); got != nil && got.ID == id {
						found = true
						break
					}
				}
				require.True(t, found, "thread %d unreachable after removal round %d", id, i+1)
			}
		}
	}
}

func TestRemoveMissingThreadReportsFalse(t *testing.T) {
	tr := New()
	th := newThread(1, 5)
	require.False(t, tr.Remove(th))
	tr.Insert(th)
	require.True(t, tr.Remove(th))
	require.False(t, tr.Remove(th))
}
