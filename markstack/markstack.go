// Package markstack implements the two mark-stack designs spec §4.5 calls
// for: MarkStack, a chunked page-backed LIFO used by the mark-compact
// collector's mark phase (grounded on the chunk-chaining sketched in
// original_source/rts/motoko-rts/src/gc/mark_compact.rs's `pub mod
// mark_stack;` and exercised by
// original_source/rts/motoko-rts-tests/src/mark_stack.rs's push/pop
// property test), and GenStack, the simpler doubling single-buffer stack
// the generational collector uses for its minor-GC scan queue.
package markstack

import (
	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
)

// entryWords is the size, in words, of one (object, tag) mark-stack slot.
const entryWords = 2

// overflowWords is the back-link slot reserved at the start of every chunk.
const overflowWords = 1

// noBacklink is stored in the oldest chunk's back-link slot. Pop recognises
// the oldest chunk by len(s.chunks), not by this value, so a page whose
// start address is 0 is never mistaken for it.
const noBacklink = 0

// MarkStack is a LIFO of (object pointer, tag) pairs spanning a chain of
// page-sized chunks linked by an overflow slot at the start of each chunk,
// so growth never copies (spec §4.5).
type MarkStack struct {
	pa   pagealloc.PageAlloc
	trap rtstrap.Hook

	chunks []*pagealloc.Page // oldest to newest, for Free
	top    uint32            // entries used in the current (last) chunk
}

// New allocates the stack's initial chunk.
func New(pa pagealloc.PageAlloc, trap rtstrap.Hook) *MarkStack {
	s := &MarkStack{pa: pa, trap: trap}
	first := pa.Alloc()
	s.pa.Store32(first.ContentsStart(), noBacklink)
	s.chunks = []*pagealloc.Page{first}
	return s
}

func (s *MarkStack) capacity(p *pagealloc.Page) uint32 {
	contentBytes := p.Size() - pagealloc.PageHeaderSize - overflowWords*4
	return contentBytes / (entryWords * 4)
}

func (s *MarkStack) current() *pagealloc.Page { return s.chunks[len(s.chunks)-1] }

func (s *MarkStack) slotAddr(p *pagealloc.Page, i uint32) uint32 {
	return p.ContentsStart() + overflowWords*4 + i*entryWords*4
}

// Push stores (obj, tag) at the current top, linking a fresh chunk first if
// the current one is full.
func (s *MarkStack) Push(obj uint32, tag uint32) {
	cur := s.current()
	if s.top == s.capacity(cur) {
		next := s.pa.AllocPages(1)
		s.pa.Store32(next.ContentsStart(), cur.Start())
		s.chunks = append(s.chunks, next)
		s.top = 0
		cur = next
	}
	addr := s.slotAddr(cur, s.top)
	s.pa.Store32(addr, obj)
	s.pa.Store32(addr+4, tag)
	s.top++
}

// Pop removes and returns the most recently pushed pair, or ok=false if the
// stack is empty.
func (s *MarkStack) Pop() (obj uint32, tag uint32, ok bool) {
	if s.top == 0 {
		if len(s.chunks) == 1 {
			return 0, 0, false
		}
		cur := s.current()
		backlink := s.pa.Load32(cur.ContentsStart())
		if backlink != s.chunks[len(s.chunks)-2].Start() {
			rtstrap.Trapf(s.trap, "mark stack: corrupt chunk back-link")
			return 0, 0, false
		}
		s.pa.Free(cur)
		s.chunks = s.chunks[:len(s.chunks)-1]
		s.top = s.capacity(s.current())
	}
	s.top--
	addr := s.slotAddr(s.current(), s.top)
	return s.pa.Load32(addr), s.pa.Load32(addr + 4), true
}

// Free returns every chunk to the page allocator. The stack must not be
// used afterwards.
func (s *MarkStack) Free() {
	for _, p := range s.chunks {
		s.pa.Free(p)
	}
	s.chunks = nil
	s.top = 0
}
