package pagealloc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func noTrap(t *testing.T) func(string) {
	return func(msg string) { t.Fatalf("unexpected trap: %s", msg) }
}

// P1: pages returned by either backend never overlap, and every page's
// start is word (and page-size) aligned.
func TestWasmPageAllocPagesDoNotOverlap(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := NewWasmPageAlloc(0, noTrap(t))
		n := rapid.IntRange(1, 64).Draw(rt, "n")
		var pages []*Page
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(rt, "multi") {
				pages = append(pages, a.AllocPages(rapid.IntRange(1, 4).Draw(rt, "npages")))
			} else {
				pages = append(pages, a.Alloc())
			}
		}
		for i, p := range pages {
			require.Equal(t, uint32(0), p.Start()%PageSize, "page start must be page-aligned")
			for j, q := range pages {
				if i == j {
					continue
				}
				overlap := p.Start() < q.End() && q.Start() < p.End()
				require.False(t, overlap, "pages %d and %d overlap", i, j)
			}
		}
	})
}

func TestTestPageAllocPagesDoNotOverlap(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := NewTestPageAlloc(noTrap(t))
		n := rapid.IntRange(1, 64).Draw(rt, "n")
		var pages []*Page
		for i := 0; i < n; i++ {
			pages = append(pages, a.Alloc())
		}
		for i, p := range pages {
			for j, q := range pages {
				if i == j {
					continue
				}
				overlap := p.Start() < q.End() && q.Start() < p.End()
				require.False(t, overlap, "pages %d and %d overlap", i, j)
			}
		}
	})
}

func TestGetAddressPageStart(t *testing.T) {
	a := NewWasmPageAlloc(0, noTrap(t))
	p1 := a.Alloc()
	p2 := a.Alloc()
	require.Equal(t, p1.Start(), a.GetAddressPageStart(p1.ContentsStart()))
	require.Equal(t, p1.Start(), a.GetAddressPageStart(p1.End()-1))
	require.Equal(t, p2.Start(), a.GetAddressPageStart(p2.Start()))
}

func TestFreedPageIDIsNeverReused(t *testing.T) {
	a := NewTestPageAlloc(noTrap(t))
	p1 := a.Alloc()
	a.Free(p1)
	p2 := a.Alloc()
	require.NotEqual(t, p1.ID(), p2.ID())
}

// Use-after-free on the test backend must trap, not silently succeed,
// since its whole purpose is to surface this class of bug in tests.
func TestTestPageAllocTrapsOnUseAfterFree(t *testing.T) {
	a := NewTestPageAlloc(noTrap(t))
	p := a.Alloc()
	a.StoreByte(p.ContentsStart(), 7)
	a.Free(p)

	trapped := false
	a.trap = func(string) { trapped = true }
	a.Load32(p.ContentsStart())
	require.True(t, trapped)
}

func TestStaticHeapBoundary(t *testing.T) {
	a := NewWasmPageAlloc(4096, noTrap(t))
	require.True(t, a.InStaticHeap(0))
	require.True(t, a.InStaticHeap(4095))
	require.False(t, a.InStaticHeap(4096))

	ta := NewTestPageAlloc(noTrap(t))
	require.False(t, ta.InStaticHeap(0))
}

func TestWasmPageAllocFreelistRecyclesSinglePages(t *testing.T) {
	a := NewWasmPageAlloc(0, noTrap(t))
	p1 := a.Alloc()
	a.Free(p1)
	p2 := a.Alloc()
	require.Equal(t, p1.Start(), p2.Start())
}
