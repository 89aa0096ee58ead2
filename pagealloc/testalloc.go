package pagealloc

// testPage is an independent, owned byte buffer — no relation to any other
// page's storage, so a leftover pointer into a freed page cannot alias a
// live one by accident.
type testPage struct {
	bytes []byte
}

// TestPageAlloc is the test PageAlloc backend (spec §4.2, §9): every page
// gets its own byte buffer and a page id that is never reused, even after
// Free, so a use-after-free access faults loudly (the address is simply no
// longer present in the index) instead of quietly reading stale bytes.
// Grounded on motoko-rts-tests' TestPageAlloc (monotonic n_total_pages,
// sorted page_addrs binary search).
type TestPageAlloc struct {
	trap     func(string)
	pages    map[PageID]*testPage
	index    addrIndex
	nextID   PageID
	nextAddr uint32
}

// NewTestPageAlloc creates an empty test page allocator.
func NewTestPageAlloc(trap func(string)) *TestPageAlloc {
	return &TestPageAlloc{trap: trap, pages: make(map[PageID]*testPage)}
}

func (a *TestPageAlloc) carve(nPages int) *Page {
	size := uint32(nPages) * PageSize
	start := a.nextAddr
	a.nextAddr += size
	id := a.nextID
	a.nextID++
	a.pages[id] = &testPage{bytes: make([]byte, size)}
	p := &Page{id: id, start: start, contentsStart: start + PageHeaderSize, end: start + size}
	a.index.insert(p)
	return p
}

func (a *TestPageAlloc) Alloc() *Page           { return a.carve(1) }
func (a *TestPageAlloc) AllocPages(n int) *Page { return a.carve(n) }

func (a *TestPageAlloc) Free(p *Page) {
	a.index.remove(p)
	delete(a.pages, p.id)
}

func (a *TestPageAlloc) GetAddressPageStart(addr uint32) uint32 {
	p := a.index.findContaining(addr)
	if p == nil {
		a.trap("test page allocator: address not in any allocated page")
		return 0
	}
	return p.start
}

// InStaticHeap always returns false: this test backend does not model a
// static partition. Kept deliberately, per spec §9 Open Question (c) — this
// means the test harness never exercises the static-pointer no-move paths
// of the collectors through this backend alone; gc/copying's
// TestCopying_StaticHeapObjectsNeverEvacuated covers that path over a
// WasmPageAlloc instead.
func (a *TestPageAlloc) InStaticHeap(addr uint32) bool { return false }

func (a *TestPageAlloc) lookup(addr uint32) (*testPage, uint32) {
	p := a.index.findContaining(addr)
	if p == nil {
		a.trap("test page allocator: access to address not in any currently allocated page (use-after-free?)")
		return nil, 0
	}
	return a.pages[p.id], addr - p.start
}

func (a *TestPageAlloc) Load32(addr uint32) uint32 {
	tp, off := a.lookup(addr)
	if tp == nil {
		return 0
	}
	if off+4 > uint32(len(tp.bytes)) {
		a.trap("test page allocator: load out of page bounds")
		return 0
	}
	b := tp.bytes[off : off+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (a *TestPageAlloc) Store32(addr uint32, v uint32) {
	tp, off := a.lookup(addr)
	if tp == nil {
		return
	}
	if off+4 > uint32(len(tp.bytes)) {
		a.trap("test page allocator: store out of page bounds")
		return
	}
	b := tp.bytes[off : off+4]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (a *TestPageAlloc) LoadByte(addr uint32) byte {
	tp, off := a.lookup(addr)
	if tp == nil {
		return 0
	}
	return tp.bytes[off]
}

func (a *TestPageAlloc) StoreByte(addr uint32, v byte) {
	tp, off := a.lookup(addr)
	if tp == nil {
		return
	}
	tp.bytes[off] = v
}

// CopyWords copies forward, word by word. Mark-compact only ever moves
// objects to an address <= their current one, so forward-order copying
// never clobbers source words before they are read, even across distinct
// backing buffers.
func (a *TestPageAlloc) CopyWords(dst, src uint32, n uint32) {
	for i := uint32(0); i < n; i++ {
		a.Store32(dst+i*4, a.Load32(src+i*4))
	}
}
