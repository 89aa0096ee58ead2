package pagealloc

import "github.com/cloudfly/wasmgc/memmod"

// WasmPageAlloc is the production PageAlloc: it carves fixed-size GC pages
// sequentially out of a memmod.Arena, growing the arena in whole wasm pages
// as needed (spec §4.2, §5). A small freelist recycles single-page frees so
// a long-running heap doesn't grow the arena unboundedly across GC cycles;
// multi-page (AllocPages) blocks are never recycled since they currently
// only back short-lived bitmap scratch regions (spec §4.2).
type WasmPageAlloc struct {
	arena     *memmod.Arena
	trap      func(string)
	next      uint32
	freeList  []uint32
	index     addrIndex
	nextID    PageID
	staticEnd uint32
}

// NewWasmPageAlloc reserves [0, staticBytes) of the arena as the immovable
// static heap (spec §3 "Static heap") and carves all subsequent pages for
// the dynamic heap from the rest.
func NewWasmPageAlloc(staticBytes uint32, trap func(string)) *WasmPageAlloc {
	a := &WasmPageAlloc{trap: trap, staticEnd: staticBytes}
	a.arena = memmod.NewArena(1, trap)
	a.arena.Grow(staticBytes)
	a.next = staticBytes
	return a
}

func (a *WasmPageAlloc) makePage(start, size uint32) *Page {
	id := a.nextID
	a.nextID++
	p := &Page{id: id, start: start, contentsStart: start + PageHeaderSize, end: start + size}
	a.index.insert(p)
	return p
}

func (a *WasmPageAlloc) carve(nPages int) *Page {
	size := uint32(nPages) * PageSize
	if nPages == 1 && len(a.freeList) > 0 {
		start := a.freeList[len(a.freeList)-1]
		a.freeList = a.freeList[:len(a.freeList)-1]
		for off := uint32(0); off < PageSize; off += 4 {
			a.arena.Store32(start+off, 0)
		}
		return a.makePage(start, PageSize)
	}
	start := a.next
	needed := start + size
	a.arena.Grow(needed)
	a.next = needed
	return a.makePage(start, size)
}

func (a *WasmPageAlloc) Alloc() *Page          { return a.carve(1) }
func (a *WasmPageAlloc) AllocPages(n int) *Page { return a.carve(n) }

func (a *WasmPageAlloc) Free(p *Page) {
	a.index.remove(p)
	if p.Size() == PageSize {
		a.freeList = append(a.freeList, p.start)
	}
}

func (a *WasmPageAlloc) GetAddressPageStart(addr uint32) uint32 {
	p := a.index.findContaining(addr)
	if p == nil {
		a.trap("get_address_page_start: address not in any allocated page")
		return 0
	}
	return p.start
}

func (a *WasmPageAlloc) InStaticHeap(addr uint32) bool {
	return addr < a.staticEnd
}

func (a *WasmPageAlloc) Load32(addr uint32) uint32         { return a.arena.Load32(addr) }
func (a *WasmPageAlloc) Store32(addr uint32, v uint32)     { a.arena.Store32(addr, v) }
func (a *WasmPageAlloc) LoadByte(addr uint32) byte         { return a.arena.LoadByte(addr) }
func (a *WasmPageAlloc) StoreByte(addr uint32, v byte)     { a.arena.StoreByte(addr, v) }
func (a *WasmPageAlloc) CopyWords(dst, src uint32, n uint32) { a.arena.CopyWords(dst, src, n) }
