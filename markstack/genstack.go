package markstack

import (
	"github.com/cloudfly/wasmgc/memmod"
	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
)

// GenStack is the generational collector's single-buffer stack (spec §4.5):
// one contiguous region of single-word slots that doubles in size on
// overflow rather than chaining chunks. The generational collector's
// MinorGC uses it as a push/pop worklist of evacuated objects.
//
// Backing storage comes through memmod.Memory rather than a page-chunked
// MarkStack so growth is "allocate bigger, copy, drop old" instead of
// "link another chunk" — matching the grow_stack invariants of spec §8's
// concrete mark-stack-grow scenario.
type GenStack struct {
	mem  memmod.Memory
	pa   pagealloc.PageAlloc
	trap rtstrap.Hook

	base uint32 // STACK_BASE: start of the current buffer
	ptr  uint32 // STACK_PTR: next free slot
	top  uint32 // STACK_TOP: address one past the buffer's last slot
}

// NewGenStack allocates an initial buffer of initWords single-word slots.
func NewGenStack(mem memmod.Memory, pa pagealloc.PageAlloc, trap rtstrap.Hook, initWords uint32) *GenStack {
	v := mem.AllocWords(initWords)
	base := v.GetPtr()
	return &GenStack{
		mem:  mem,
		pa:   pa,
		trap: trap,
		base: base,
		ptr:  base,
		top:  base + initWords*4,
	}
}

func (s *GenStack) Base() uint32     { return s.base }
func (s *GenStack) Ptr() uint32      { return s.ptr }
func (s *GenStack) Top() uint32      { return s.top }
func (s *GenStack) Capacity() uint32 { return (s.top - s.base) / 4 }
func (s *GenStack) IsEmpty() bool    { return s.ptr == s.base }

// Push appends one word, growing the buffer first if it's full.
func (s *GenStack) Push(word uint32) {
	if s.ptr+4 > s.top {
		s.growStack()
	}
	s.pa.Store32(s.ptr, word)
	s.ptr += 4
}

// growStack doubles the buffer, preserving existing contents and resetting
// the base to the new buffer's start (spec §8 grow_stack invariants).
func (s *GenStack) growStack() {
	oldWords := (s.top - s.base) / 4
	usedBytes := s.ptr - s.base
	newWords := oldWords * 2
	if newWords == 0 {
		newWords = 1
	}

	v := s.mem.AllocWords(newWords)
	newBase := v.GetPtr()
	if usedBytes > 0 {
		s.pa.CopyWords(newBase, s.base, usedBytes/4)
	}

	s.base = newBase
	s.ptr = newBase + usedBytes
	s.top = newBase + newWords*4
}

// Pop removes and returns the most recently pushed word, or ok=false if
// empty.
func (s *GenStack) Pop() (word uint32, ok bool) {
	if s.IsEmpty() {
		return 0, false
	}
	s.ptr -= 4
	return s.pa.Load32(s.ptr), true
}
