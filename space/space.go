// Package space implements the Space allocation area of spec §4.3: an
// append-only bump allocator over a growing list of pages pulled from a
// pagealloc.PageAlloc, used for both semispaces of the copying collector and
// the single space the mark-compact and generational collectors allocate
// into. Grounded directly on original_source/rts/motoko-rts/src/space.rs.
package space

import (
	"sort"

	"github.com/cloudfly/wasmgc/object"
	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
	"github.com/cloudfly/wasmgc/value"
)

// debugFillSlop mirrors the original's cfg!(debug_assertions) gate around
// stamping filler objects into page slop: the filler only exists so the
// sanity checker (spec §4.9) can walk a page linearly, so release builds of
// a real VM could skip it. Kept on unconditionally here since this module
// doesn't have a separate release profile and the tests rely on it.
const debugFillSlop = true

// PageIdx indexes a page within a Space's page list (spec §3 "Space...
// pages: an ordered list").
type PageIdx int

func (i PageIdx) Next() PageIdx { return i + 1 }

// Space is an allocation area: a linked (here, slice-backed) list of pages,
// a cursor into the current page, and a running allocation-pointer (spec §3
// Space, §4.3).
type Space struct {
	pa   pagealloc.PageAlloc
	trap rtstrap.Hook

	pages       []*pagealloc.Page
	currentPage int
	hp          uint32

	totalAlloc uint64
}

// New creates a Space with one initial page already allocated, matching
// Space::new's eager first-page allocation.
func New(pa pagealloc.PageAlloc, trap rtstrap.Hook) *Space {
	first := pa.Alloc()
	return &Space{
		pa:          pa,
		trap:        trap,
		pages:       []*pagealloc.Page{first},
		currentPage: 0,
		hp:          first.ContentsStart(),
	}
}

func (s *Space) TotalAlloc() uint64 { return s.totalAlloc }

// SortedPages returns a copy of the space's page list sorted by ascending
// start address, used by both collectors' page-by-page linear scans.
// Mark-compact relies on this order: a page recycled by the page allocator
// can sit below pages the space acquired earlier.
func (s *Space) SortedPages() []*pagealloc.Page {
	sorted := append([]*pagealloc.Page(nil), s.pages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start() < sorted[j].Start() })
	return sorted
}

func (s *Space) currentPagePtr() *pagealloc.Page { return s.pages[s.currentPage] }

func (s *Space) FirstPage() PageIdx { return PageIdx(0) }
func (s *Space) LastPage() PageIdx  { return PageIdx(len(s.pages) - 1) }
func (s *Space) CurrentPageIdx() PageIdx { return PageIdx(s.currentPage) }

// GetPage returns the page at idx, or nil if idx is out of range.
func (s *Space) GetPage(idx PageIdx) *pagealloc.Page {
	if int(idx) < 0 || int(idx) >= len(s.pages) {
		return nil
	}
	return s.pages[idx]
}

// AllocationPointer is the address the next AllocWords call will return
// (modulo rollover to a fresh page).
func (s *Space) AllocationPointer() uint32 { return s.hp }

// AllocWords bumps the allocation pointer by n words, rolling over to a
// freshly allocated page when the current page can't fit the request (spec
// §4.3 steps 1-3). Implements memmod.Memory, so a Space can back the
// generational collector's own mark-stack buffer directly.
func (s *Space) AllocWords(n uint32) value.Value {
	bytes := n * object.WordSize
	currentEnd := s.currentPagePtr().End()

	if s.hp+bytes > currentEnd {
		slop := currentEnd - s.hp
		// Slop counts as allocated, so TotalAlloc is approximate: it
		// includes every abandoned page tail.
		s.totalAlloc += uint64(slop)

		if debugFillSlop && slop > 0 {
			if slop == object.WordSize {
				object.WriteOneWordFiller(s.pa, s.hp)
			} else {
				if slop%object.WordSize != 0 {
					rtstrap.Trapf(s.trap, "space: page slop %d is not word-aligned", slop)
					return value.Value(0)
				}
				object.WriteFreeSpace(s.pa, s.hp, slop/object.WordSize)
			}
		}

		newPage := s.pa.Alloc()
		s.hp = newPage.ContentsStart()
		s.pages = append(s.pages, newPage)
		s.currentPage++
	}

	if s.hp+bytes > s.currentPagePtr().End() {
		rtstrap.Trapf(s.trap, "space: large object allocation not supported (requested %d bytes)", bytes)
		return value.Value(0)
	}

	addr := s.hp
	s.hp += bytes
	s.totalAlloc += uint64(bytes)

	return value.FromPtr(addr)
}

// SetPages reinstalls the space's page list and allocation pointer after an
// in-place compaction: mark-compact may leave the live data occupying fewer
// pages than before, so every page past the one toAddr now falls in is
// handed back to the page allocator.
func (s *Space) SetPages(pages []*pagealloc.Page, toAddr uint32) {
	idx := 0
	for idx < len(pages)-1 && toAddr > pages[idx].End() {
		idx++
	}
	for i := idx + 1; i < len(pages); i++ {
		s.pa.Free(pages[i])
	}
	s.pages = pages[:idx+1]
	s.currentPage = idx
	s.hp = toAddr
}

// Contains reports whether addr falls within any page this space currently
// owns, used by the generational collector to classify an address as young
// or old.
func (s *Space) Contains(addr uint32) bool {
	for _, p := range s.pages {
		if addr >= p.Start() && addr < p.End() {
			return true
		}
	}
	return false
}

// Free releases every page the space owns. The space must not be used
// afterwards.
func (s *Space) Free() {
	for _, p := range s.pages {
		s.pa.Free(p)
	}
	s.pages = nil
}

// maxArrayLen bounds a single array's payload so len*WordSize plus the
// header cannot overflow a 32-bit byte address (spec §4.1 Array, mirroring
// the original's "len > 1 << (32 - 2 - 1)" guard).
const maxArrayLen = 1 << (32 - 2 - 1)

func (s *Space) AllocArray(length uint32) value.Value {
	if length > maxArrayLen {
		rtstrap.Trapf(s.trap, "array allocation too large: %d elements", length)
		return value.Value(0)
	}
	v := s.AllocWords(2 + length)
	addr := v.GetPtr()
	object.WriteArrayHeader(s.pa, addr, length)
	return v
}

func (s *Space) AllocBlob(sizeBytes uint32) value.Value {
	v := s.AllocWords(2 + object.WordsForBytes(sizeBytes))
	addr := v.GetPtr()
	object.WriteBlobHeader(s.pa, addr, sizeBytes)
	return v
}
