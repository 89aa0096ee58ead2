// Package sanity implements the opt-in verification pass of spec §4.9:
// check_memory walks static roots, the continuation-table cell, and every
// live page of the given spaces, asserting every pointer field is
// well-formed; take/verify snapshot detects a missing write barrier by
// diffing a previous byte-for-byte copy of those same spaces against their
// current contents. Grounded on
// original_source/rts/motoko-rts/src/check.rs and
// .../gc/experimental/sanity_checks.rs. Like cmd/gcbench, this package sits
// outside the GC's no-alloc hot path and imports internal/rtslog; package
// heap imports it too, only to pass a Logger through to VerifySnapshot.
//
// Walking is done space-by-space, page-by-page (spec §4.3's own model of a
// Space as an ordered page list) rather than over one flat
// [heap_base, heap_end) address range: under the generational collector
// Old and Young are independent Space values whose pages interleave in the
// underlying page allocator's address space, so no single contiguous range
// covers both.
package sanity

import (
	"github.com/cloudfly/wasmgc/internal/rtslog"
	"github.com/cloudfly/wasmgc/object"
	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
	"github.com/cloudfly/wasmgc/space"
	"github.com/cloudfly/wasmgc/value"
)

// coercionFailure is the sentinel tag value the original accepts alongside
// the legal tag range, marking a field that failed a dynamic type coercion
// rather than holding a real object.
const coercionFailure = 0xfffffffe

// CheckMemory walks (a) static roots, (b) the continuation-table cell, (c)
// every live page of spaces, trapping on the first malformed pointer field
// it finds.
func CheckMemory(pa pagealloc.PageAlloc, trap rtstrap.Hook, staticRoots value.Value, contTableLoc, heapBase uint32, spaces []*space.Space) {
	checkStaticRoots(pa, trap, staticRoots, heapBase, spaces)

	if v := value.Value(pa.Load32(contTableLoc)); v.IsPtr() {
		checkObject(pa, trap, v, spaces)
	}

	checkHeap(pa, trap, spaces)
}

func checkStaticRoots(pa pagealloc.PageAlloc, trap rtstrap.Hook, staticRoots value.Value, heapBase uint32, spaces []*space.Space) {
	rootsAddr := staticRoots.GetPtr()
	n := object.ArrayLen(pa, rootsAddr)
	for i := uint32(0); i < n; i++ {
		root := value.Value(object.ArrayGet(pa, rootsAddr, i))
		addr := root.GetPtr()
		if object.ReadTag(pa, addr) != object.TagMutBox {
			rtstrap.Trapf(trap, "sanity: static root %d is not a MutBox", i)
			return
		}
		if addr >= heapBase {
			rtstrap.Trapf(trap, "sanity: static root %d at %#x is not below heap_base %#x", i, addr, heapBase)
			return
		}
		fieldVal := value.Value(pa.Load32(object.MutBoxFieldAddr(addr)))
		if fieldVal.IsPtr() && fieldVal.GetPtr() >= heapBase {
			checkObject(pa, trap, fieldVal, spaces)
		}
	}
}

// checkObject checks obj's own header, then every pointer field's target
// header (one level deep — the recursive reachability walk is the
// collectors' job, not the checker's).
func checkObject(pa pagealloc.PageAlloc, trap rtstrap.Hook, obj value.Value, spaces []*space.Space) {
	checkObjectHeader(pa, trap, obj, spaces)
	addr := obj.GetPtr()
	tag := object.ReadTag(pa, addr)
	object.VisitPointerFields(pa, trap, addr, tag, func(fieldAddr uint32) {
		fieldVal := value.Value(pa.Load32(fieldAddr))
		if fieldVal.IsPtr() {
			checkObjectHeader(pa, trap, fieldVal, spaces)
		}
	})
}

func inAnySpace(spaces []*space.Space, addr uint32) bool {
	for _, sp := range spaces {
		if sp.Contains(addr) {
			return true
		}
	}
	return false
}

func checkObjectHeader(pa pagealloc.PageAlloc, trap rtstrap.Hook, v value.Value, spaces []*space.Space) {
	if !v.IsPtr() {
		rtstrap.Trapf(trap, "sanity: expected a pointer value, got %#x", v.Raw())
		return
	}
	addr := v.GetPtr()
	if !inAnySpace(spaces, addr) {
		rtstrap.Trapf(trap, "sanity: pointer %#x lies outside every checked space", addr)
		return
	}
	tag := object.ReadTag(pa, addr)
	if !tag.IsLegal() && uint32(tag) != coercionFailure {
		rtstrap.Trapf(trap, "sanity: illegal tag %s at %#x", tag, addr)
	}
}

// walkLiveRanges calls fn once per (start, end) live byte range across every
// page of every given space: ContentsStart to AllocationPointer for the
// space's current page, ContentsStart to End for every earlier page.
func walkLiveRanges(spaces []*space.Space, fn func(start, end uint32)) {
	for _, sp := range spaces {
		current := sp.CurrentPageIdx()
		for idx := sp.FirstPage(); ; idx = idx.Next() {
			page := sp.GetPage(idx)
			if page == nil {
				break
			}
			end := page.End()
			if idx == current {
				end = sp.AllocationPointer()
			}
			fn(page.ContentsStart(), end)
			if idx == current {
				break
			}
		}
	}
}

func checkHeap(pa pagealloc.PageAlloc, trap rtstrap.Hook, spaces []*space.Space) {
	walkLiveRanges(spaces, func(start, end uint32) {
		addr := start
		for addr < end {
			tag := object.ReadTag(pa, addr)
			if tag != object.TagOneWordFiller && tag != object.TagFreeSpace {
				checkObject(pa, trap, value.FromPtr(addr), spaces)
			}
			addr += object.ObjectSize(pa, trap, addr) * object.WordSize
		}
	})
}

// byteRange records where one contiguous live range sat in the original
// address space and at what offset its bytes live within the snapshot blob.
type byteRange struct {
	addr      uint32
	length    uint32
	blobBytes uint32
}

// Snapshot is a heap-allocated copy of every live byte range across a set
// of spaces, taken at a point in time, used to detect pointer-field changes
// a write barrier should have recorded. Scoped to exactly the spaces and
// page extents live at the moment TakeSnapshot ran — allocations made after
// the snapshot, even into an already-snapshotted page, fall outside every
// recorded range and are therefore automatically exempt from
// VerifySnapshot, with no separate "high-water mark" parameter needed.
type Snapshot struct {
	blob   value.Value
	ranges []byteRange
}

// TakeSnapshot copies every live byte range of spaces into a fresh Blob
// allocated in scratch — "a heap-allocated Blob", spec §4.9 — typically
// called right after a GC pass completes and before resuming the mutator.
func TakeSnapshot(pa pagealloc.PageAlloc, spaces []*space.Space, scratch *space.Space) *Snapshot {
	var ranges []byteRange
	var total uint32
	walkLiveRanges(spaces, func(start, end uint32) {
		length := end - start
		ranges = append(ranges, byteRange{addr: start, length: length, blobBytes: total})
		total += length
	})

	blob := scratch.AllocBlob(total)
	payload := object.BlobPayloadAddr(blob.GetPtr())
	for _, r := range ranges {
		pa.CopyWords(payload+r.blobBytes, r.addr, r.length/object.WordSize)
	}

	return &Snapshot{blob: blob, ranges: ranges}
}

// VerifySnapshot re-walks every range snap recorded, comparing each
// pointer field against its snapshotted value. A field that changed
// without isRecorded reporting it traps with "Missing write barrier at
// 0x…" (spec §4.9), after logging the structured failure via log.
//
// isRecorded is a predicate over field addresses the caller supplies —
// typically generational.RememberedSet.Contains — keeping this package
// independent of the generational collector's types.
func VerifySnapshot(pa pagealloc.PageAlloc, trap rtstrap.Hook, log rtslog.Logger, snap *Snapshot, isRecorded func(fieldAddr uint32) bool) {
	if snap == nil {
		return
	}
	payload := object.BlobPayloadAddr(snap.blob.GetPtr())

	for _, r := range snap.ranges {
		addr := r.addr
		limit := r.addr + r.length
		for addr < limit {
			tag := object.ReadTag(pa, addr)
			if tag == object.TagOneWordFiller || tag == object.TagFreeSpace {
				addr += object.ObjectSize(pa, trap, addr) * object.WordSize
				continue
			}
			object.VisitPointerFields(pa, trap, addr, tag, func(fieldAddr uint32) {
				if fieldAddr >= limit {
					return
				}
				current := pa.Load32(fieldAddr)
				previous := pa.Load32(payload + r.blobBytes + (fieldAddr - r.addr))
				if current != previous && !isRecorded(fieldAddr) {
					log.MissingBarrier(fieldAddr, previous, current)
					rtstrap.Trapf(trap, "sanity: missing write barrier at %#x", fieldAddr)
				}
			})
			addr += object.ObjectSize(pa, trap, addr) * object.WordSize
		}
	}
}
