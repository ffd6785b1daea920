package page_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallkernel/sched/internal/page"
)

func TestAllocReturnsZeroedPage(t *testing.T) {
	a := page.New()
	p := a.Alloc()
	for i, b := range p {
		require.Zerof(t, b, "byte %d of a fresh page should be zero", i)
	}
}

func TestFreedPageIsRecycledAndRezeroed(t *testing.T) {
	a := page.New()
	p := a.Alloc()
	p[0] = 0xff
	p[page.Size-1] = 0xff
	a.Free(p)

	p2 := a.Alloc()
	for i, b := range p2 {
		require.Zerof(t, b, "byte %d of a recycled page should be rezeroed on Alloc", i)
	}
}

func TestAllocDoesNotAliasLiveAllocations(t *testing.T) {
	a := page.New()
	p1 := a.Alloc()
	p2 := a.Alloc()
	p1[0] = 1
	require.Zero(t, p2[0], "two live pages must not share backing storage")
}
