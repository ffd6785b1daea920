// Package page is the single-page zeroed allocator TCBs are carved from.
// It is adapted from the teacher's mfixalloc.go: a free-list allocator for
// fixed-size objects, returning zeroed memory on first use. mfixalloc's own
// chunk-bump arena (sysAlloc'd raw memory, deliberately outside the GC) has
// no equivalent here — fighting the collector for a simulated page brings
// no benefit in a hosted Go process — so the free list is backed by
// sync.Pool, which gives the same "reuse freed objects before allocating
// fresh ones" shape the teacher's fixalloc.list/fixalloc.chunk pairing
// provides, without unsafe chunk carving.
package page

import "sync"

// Size is the simulated page size backing one TCB, matching spec.md's
// "one page, TCB at the page base" model.
const Size = 4096

// Page is a single zeroed page.
type Page [Size]byte

// Allocator hands out zeroed pages and recycles freed ones.
type Allocator struct {
	pool sync.Pool
}

// New returns a ready-to-use Allocator.
func New() *Allocator {
	return &Allocator{
		pool: sync.Pool{New: func() any { return new(Page) }},
	}
}

// Alloc returns a zeroed page, analogous to alloc_page_zeroed().
func (a *Allocator) Alloc() *Page {
	p := a.pool.Get().(*Page)
	for i := range p {
		p[i] = 0
	}
	return p
}

// Free returns p to the pool, analogous to free_page(p). The caller must
// not retain p afterward.
func (a *Allocator) Free(p *Page) {
	a.pool.Put(p)
}
