// Package copying implements the semi-space copying collector of spec §4.6:
// evacuate roots into a fresh to-space, then Cheney-scan that space until
// the scan cursor catches up with the allocation cursor. Grounded on
// original_source/rts/motoko-rts/src/gc/copying.rs.
package copying

import (
	"github.com/cloudfly/wasmgc/object"
	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
	"github.com/cloudfly/wasmgc/space"
	"github.com/cloudfly/wasmgc/value"
)

// Run evacuates everything reachable from staticRoots and the continuation
// table cell into a freshly created to-space and scavenges it to a fixed
// point, then returns the new space. The caller installs it as the
// allocation space and frees the old one (spec §4.6 step 5 "Swap").
func Run(pa pagealloc.PageAlloc, trap rtstrap.Hook, staticRoots value.Value, contTableLoc uint32) *space.Space {
	to := space.New(pa, trap)

	evacStaticRoots(pa, trap, to, staticRoots)

	if v := value.Value(pa.Load32(contTableLoc)); v.IsPtr() {
		evac(pa, trap, to, contTableLoc)
	}

	cheneyScan(pa, trap, to)

	return to
}

// evacStaticRoots scavenges (but never evacuates) the static roots array
// itself: its elements are static MutBoxes that never move, only their
// fields might point into the dynamic heap.
func evacStaticRoots(pa pagealloc.PageAlloc, trap rtstrap.Hook, to *space.Space, staticRoots value.Value) {
	rootsAddr := staticRoots.GetPtr()
	n := object.ArrayLen(pa, rootsAddr)
	for i := uint32(0); i < n; i++ {
		elem := value.Value(object.ArrayGet(pa, rootsAddr, i))
		scav(pa, trap, to, elem.GetPtr())
	}
}

// evac evacuates the object a single field points to, following the rules
// of spec §4.6 step 3.
func evac(pa pagealloc.PageAlloc, trap rtstrap.Hook, to *space.Space, fieldAddr uint32) {
	fieldVal := value.Value(pa.Load32(fieldAddr))
	if !fieldVal.IsPtr() {
		return
	}
	addr := fieldVal.GetPtr()

	switch object.ReadTag(pa, addr) {
	case object.TagFwdPtr:
		pa.Store32(fieldAddr, object.ReadFwdPtr(pa, addr))
		return
	case object.TagOneWordFiller, object.TagFreeSpace:
		return
	}

	if pa.InStaticHeap(addr) {
		return
	}

	size := object.ObjectSize(pa, trap, addr)
	newVal := to.AllocWords(size)
	newAddr := newVal.GetPtr()

	pa.CopyWords(newAddr, addr, size)

	skewedNew := newVal.Raw()
	object.WriteFwdPtr(pa, addr, skewedNew)
	pa.Store32(fieldAddr, skewedNew)
}

// scav visits every pointer field of the object at addr and evacuates what
// it points to.
func scav(pa pagealloc.PageAlloc, trap rtstrap.Hook, to *space.Space, addr uint32) {
	tag := object.ReadTag(pa, addr)
	object.VisitPointerFields(pa, trap, addr, tag, func(fieldAddr uint32) {
		evac(pa, trap, to, fieldAddr)
	})
}

// cheneyScan walks to-space in allocation order, scavenging every object
// between the scan cursor and the (possibly still advancing) allocation
// cursor, until the two coincide.
func cheneyScan(pa pagealloc.PageAlloc, trap rtstrap.Hook, to *space.Space) {
	idx := to.FirstPage()
	for {
		page := to.GetPage(idx)
		if page == nil {
			break
		}
		p := page.ContentsStart()
		for {
			var limit uint32
			if idx == to.CurrentPageIdx() {
				limit = to.AllocationPointer()
			} else {
				limit = page.End()
			}
			if p >= limit {
				break
			}
			size := object.ObjectSize(pa, trap, p)
			scav(pa, trap, to, p)
			p += size * object.WordSize
		}
		if idx == to.CurrentPageIdx() {
			break
		}
		idx = idx.Next()
	}
}
