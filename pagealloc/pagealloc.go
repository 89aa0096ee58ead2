// Package pagealloc implements the PageAlloc capability of spec §4.2: a
// source of fixed-size pages carved out of the underlying linear memory,
// with an optional mark-bitmap attachment slot per page (spec §3 Page).
//
// Two backends exist, per spec §9's "Polymorphism over page allocator and
// memory source": WasmPageAlloc grows a real memmod.Arena page by page;
// TestPageAlloc backs each page with an independent, never-reused Go byte
// buffer so use-after-free shows up immediately as a stale id rather than
// silently aliasing freed memory — grounded on
// other_examples/.../mpagealloc_test.go and the teacher's page-granular
// mheap (malloc.go's _PageShift/mHeap_Alloc) for "pages are the allocation
// grain" generally, and on the motoko-rts-tests TestPageAlloc (monotonic,
// non-reused page ids, binary-search address lookup) for the test backend
// specifically.
package pagealloc

import "github.com/cloudfly/wasmgc/object"

// PageSize is the fixed size, in bytes, of a GC page. Distinct from
// memmod.WasmPageBytes (the coarser unit the underlying linear memory
// itself grows by): many GC pages fit in one wasm page.
const PageSize = 4096

// PageHeaderSize is the reserved header region at the start of every page
// (spec §3 "Page... Layout: PageHeader... followed by a contents area").
// Bitmap attachment and bookkeeping live host-side on the Page struct, not
// in these bytes (mirroring the teacher's mspan, whose next/prev/freelist
// bookkeeping is plain Go struct state, not written into the span's own
// managed memory) — the header bytes exist so a page's layout story is
// complete even though nothing currently occupies them.
const PageHeaderSize = 16

// PageID identifies a page; ids are assigned once, monotonically, and never
// reused, so a stale PageID is always detectable as "not currently live"
// rather than silently aliasing a different page.
type PageID uint32

// Page is a page allocator's handle to one fixed-size page. The same struct
// shape serves both backends; only how the allocator that issues it stores
// the page's bytes differs.
type Page struct {
	id            PageID
	start         uint32
	contentsStart uint32
	end           uint32

	hasBitmap   bool
	bitmapBase  uint32
	bitmapNBits uint32
}

func (p *Page) ID() PageID            { return p.id }
func (p *Page) Start() uint32         { return p.start }
func (p *Page) ContentsStart() uint32 { return p.contentsStart }
func (p *Page) End() uint32           { return p.end }
func (p *Page) Size() uint32          { return p.end - p.start }

// SetBitmap attaches mark-bitmap storage described by (base, nBits) to this
// page for the duration of one mark-compact cycle (spec §3 "Bitmaps are
// attached to a page for the duration of a mark-compact cycle only").
func (p *Page) SetBitmap(base uint32, nBits uint32) {
	p.hasBitmap = true
	p.bitmapBase = base
	p.bitmapNBits = nBits
}

// Bitmap reports this page's attached bitmap storage, if any.
func (p *Page) Bitmap() (base uint32, nBits uint32, ok bool) {
	return p.bitmapBase, p.bitmapNBits, p.hasBitmap
}

// TakeBitmap detaches and returns the page's bitmap storage.
func (p *Page) TakeBitmap() (base uint32, nBits uint32, ok bool) {
	base, nBits, ok = p.Bitmap()
	p.hasBitmap = false
	p.bitmapBase, p.bitmapNBits = 0, 0
	return
}

// PageAlloc is the capability collectors and Space are parametric over
// (spec §9): acquire/release fixed-size pages, translate an address back to
// its owning page, and distinguish static from dynamic addresses. It
// embeds object.Mem because the allocator is the component that actually
// owns the bytes a Page's contents live in; everything above it (object,
// space, the collectors) only ever reads and writes through this seam.
type PageAlloc interface {
	object.Mem

	// LoadByte/StoreByte give Blob payloads (and blob_iter, §6) byte
	// granularity under the same word-addressed arena.
	LoadByte(addr uint32) byte
	StoreByte(addr uint32, v byte)
	// CopyWords moves object payloads during evacuation/compaction.
	CopyWords(dst, src uint32, n uint32)

	Alloc() *Page
	AllocPages(n int) *Page
	Free(p *Page)
	GetAddressPageStart(addr uint32) uint32
	InStaticHeap(addr uint32) bool
}

// addrIndex is a sorted-by-start page index shared by both backends to
// answer GetAddressPageStart by binary search, exactly like the
// motoko-rts-tests TestPageAlloc's page_addrs Vec.
type addrIndex struct {
	starts []uint32
	pages  []*Page
}

func (ix *addrIndex) insert(p *Page) {
	i := ix.searchInsertPos(p.start)
	ix.starts = append(ix.starts, 0)
	ix.pages = append(ix.pages, nil)
	copy(ix.starts[i+1:], ix.starts[i:])
	copy(ix.pages[i+1:], ix.pages[i:])
	ix.starts[i] = p.start
	ix.pages[i] = p
}

func (ix *addrIndex) remove(p *Page) {
	i := ix.searchInsertPos(p.start)
	if i >= len(ix.starts) || ix.starts[i] != p.start {
		panic("pagealloc: removing a page start not present in the index")
	}
	ix.starts = append(ix.starts[:i], ix.starts[i+1:]...)
	ix.pages = append(ix.pages[:i], ix.pages[i+1:]...)
}

func (ix *addrIndex) searchInsertPos(start uint32) int {
	lo, hi := 0, len(ix.starts)
	for lo < hi {
		mid := (lo + hi) / 2
		if ix.starts[mid] < start {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// findContaining returns the page whose [start, end) range contains addr,
// or nil.
func (ix *addrIndex) findContaining(addr uint32) *Page {
	lo, hi := 0, len(ix.starts)
	for lo < hi {
		mid := (lo + hi) / 2
		if ix.starts[mid] <= addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	idx := lo - 1
	if idx < 0 {
		return nil
	}
	p := ix.pages[idx]
	if addr >= p.end {
		return nil
	}
	return p
}
