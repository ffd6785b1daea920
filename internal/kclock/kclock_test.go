package kclock_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallkernel/sched/internal/kclock"
)

func TestNewStartsAtZero(t *testing.T) {
	c := kclock.New()
	require.Equal(t, uint64(0), c.Now())
}

func TestAdvanceIncrementsByOne(t *testing.T) {
	c := kclock.New()
	for i := uint64(1); i <= 5; i++ {
		require.Equal(t, i, c.Advance())
		require.Equal(t, i, c.Now())
	}
}

// TestAdvanceConcurrent is race free: every call must observe a distinct
// value and the final count must match the number of advances, exercising
// the atomic.Uint64 backing rather than a plain word.
func TestAdvanceConcurrent(t *testing.T) {
	c := kclock.New()
	const goroutines = 20
	const perGoroutine = 100

	var wg sync.WaitGroup
	seen := make(chan uint64, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				seen <- c.Advance()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for v := range seen {
		require.Falsef(t, unique[v], "tick %d observed twice across concurrent Advance calls", v)
		unique[v] = true
	}
	require.Equal(t, uint64(goroutines*perGoroutine), c.Now())
}
