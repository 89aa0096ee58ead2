// Package compact implements threaded mark-compact (spec §4.7): mark phase
// pushes reachable objects onto a chunked mark stack while threading
// backwards/self pointers through object headers, then a single linear
// update-refs pass moves every marked object down into its final slot while
// unthreading references that pointed at it and re-threading its own
// forward pointers. Grounded on
// original_source/rts/motoko-rts/src/gc/mark_compact.rs.
package compact

import (
	"github.com/cloudfly/wasmgc/bitmap"
	"github.com/cloudfly/wasmgc/markstack"
	"github.com/cloudfly/wasmgc/object"
	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
	"github.com/cloudfly/wasmgc/space"
	"github.com/cloudfly/wasmgc/value"
)

// Run performs one full mark-compact cycle over sp in place: mark, then
// update-refs, then cleanup (bitmap release, mark-stack release, installing
// the new allocation pointer). extraRoots are individual field addresses
// outside sp to mark and thread exactly like the continuation-table cell
// (spec §4.7): the heap's continuation-table slot is the usual single
// entry, and the generational collector's major GC additionally passes
// every remembered-set field when compacting the young space, so an
// old→young edge keeps its target alive and gets updated in place without
// the old object that holds it ever being touched.
func Run(pa pagealloc.PageAlloc, trap rtstrap.Hook, sp *space.Space, staticRoots value.Value, extraRoots []uint32) {
	pageBitmaps, bitmapPages := setUpBitmaps(pa, sp)

	stack := markstack.New(pa, trap)

	markStaticRoots(pa, pageBitmaps, stack, staticRoots)

	for _, rootField := range extraRoots {
		if v := value.Value(pa.Load32(rootField)); v.IsPtr() {
			markObject(pa, pageBitmaps, stack, v)
			thread(pa, rootField)
		}
	}

	drainMarkStack(pa, trap, pageBitmaps, stack)

	updateRefs(pa, trap, sp, pageBitmaps)

	stack.Free()

	for _, p := range sp.SortedPages() {
		p.TakeBitmap()
	}
	for _, p := range bitmapPages {
		pa.Free(p)
	}
}

// setUpBitmaps attaches a fresh bitmap, sized to the page's word count, to
// every page in the space, and returns a lookup from page start to bitmap
// for the duration of this GC cycle, plus the backing pages the bitmaps
// themselves were carved from (so Run can return them when done).
func setUpBitmaps(pa pagealloc.PageAlloc, sp *space.Space) (map[uint32]*bitmap.Bitmap, []*pagealloc.Page) {
	bitmaps := make(map[uint32]*bitmap.Bitmap, len(sp.SortedPages()))
	var backing []*pagealloc.Page
	for _, p := range sp.SortedPages() {
		nBits := p.Size() / object.WordSize
		bmPage := pa.AllocPages(bitmapPages(nBits))
		backing = append(backing, bmPage)
		base := bmPage.ContentsStart()
		p.SetBitmap(base, nBits)
		bitmaps[p.Start()] = &bitmap.Bitmap{Mem: pa, Base: base, NBits: nBits}
	}
	return bitmaps, backing
}

func bitmapPages(nBits uint32) int {
	bytes := bitmap.Bytes(nBits)
	pages := (bytes + pagealloc.PageSize - 1) / pagealloc.PageSize
	if pages == 0 {
		pages = 1
	}
	return int(pages)
}

func bitmapFor(pa pagealloc.PageAlloc, bitmaps map[uint32]*bitmap.Bitmap, addr uint32) *bitmap.Bitmap {
	pageStart := pa.GetAddressPageStart(addr)
	return bitmaps[pageStart]
}

func markStaticRoots(pa pagealloc.PageAlloc, bitmaps map[uint32]*bitmap.Bitmap, stack *markstack.MarkStack, staticRoots value.Value) {
	rootsAddr := staticRoots.GetPtr()
	n := object.ArrayLen(pa, rootsAddr)
	for i := uint32(0); i < n; i++ {
		elem := value.Value(object.ArrayGet(pa, rootsAddr, i))
		markRootMutBoxFields(pa, bitmaps, stack, elem.GetPtr())
	}
}

// markRootMutBoxFields marks (but never threads the root itself — statics
// never move) the field of a static root MutBox, then threads the field so
// it can be updated during compaction even though the object it's declared
// on will never relocate.
func markRootMutBoxFields(pa pagealloc.PageAlloc, bitmaps map[uint32]*bitmap.Bitmap, stack *markstack.MarkStack, mutbox uint32) {
	fieldAddr := object.MutBoxFieldAddr(mutbox)
	fieldVal := value.Value(pa.Load32(fieldAddr))
	if !fieldVal.IsPtr() {
		return
	}
	markObject(pa, bitmaps, stack, fieldVal)
	thread(pa, fieldAddr)
}

// markObject marks obj in its page's bitmap, pushing it onto the stack the
// first time it's seen.
func markObject(pa pagealloc.PageAlloc, bitmaps map[uint32]*bitmap.Bitmap, stack *markstack.MarkStack, obj value.Value) {
	tag := object.ReadTag(pa, obj.GetPtr())
	addr := obj.GetPtr()

	bm := bitmapFor(pa, bitmaps, addr)
	bitIdx := (addr - pa.GetAddressPageStart(addr) - pagealloc.PageHeaderSize) / object.WordSize

	if bm.Get(bitIdx) {
		return
	}
	bm.Set(bitIdx)

	stack.Push(addr, uint32(tag))
}

func drainMarkStack(pa pagealloc.PageAlloc, trap rtstrap.Hook, bitmaps map[uint32]*bitmap.Bitmap, stack *markstack.MarkStack) {
	for {
		obj, tag, ok := stack.Pop()
		if !ok {
			break
		}
		markFields(pa, trap, bitmaps, stack, obj, object.Tag(tag))
	}
}

func markFields(pa pagealloc.PageAlloc, trap rtstrap.Hook, bitmaps map[uint32]*bitmap.Bitmap, stack *markstack.MarkStack, obj uint32, tag object.Tag) {
	object.VisitPointerFields(pa, trap, obj, tag, func(fieldAddr uint32) {
		fieldVal := value.Value(pa.Load32(fieldAddr))
		if !fieldVal.IsPtr() {
			return
		}
		markObject(pa, bitmaps, stack, fieldVal)

		if fieldVal.GetPtr() <= obj {
			thread(pa, fieldAddr)
		}
	})
}

// thread replaces the field's contents with the pointed object's current
// header word, and makes the pointed object's header point back at the
// field — the classic threaded-compaction trick (spec §4.7 "Threading
// during mark").
func thread(pa pagealloc.PageAlloc, field uint32) {
	fieldVal := value.Value(pa.Load32(field))
	pointed := fieldVal.GetPtr()
	header := pa.Load32(pointed)
	pa.Store32(field, header)
	pa.Store32(pointed, field)
}

// unthread walks the chain of threaded field addresses stored at obj's
// header, overwriting each with a skewed pointer to newLoc, until it
// reaches the original header word (identifiable by its low bit being 1),
// which it restores.
func unthread(pa pagealloc.PageAlloc, obj uint32, newLoc uint32) {
	header := pa.Load32(obj)
	for header&1 == 0 {
		next := pa.Load32(header)
		pa.Store32(header, value.FromPtr(newLoc).Raw())
		header = next
	}
	pa.Store32(obj, header)
}

// getTag follows obj's (possibly threaded) header chain without modifying
// it, returning the original tag at the end of the chain.
//
// A chain that ends on an illegal tag means mark-compact's own threading
// invariant has been violated — the same class of internal corruption
// sanity.checkObjectHeader guards against — so it traps through trap
// rather than a bare panic (spec §7.1).
func getTag(pa pagealloc.PageAlloc, trap rtstrap.Hook, obj uint32) object.Tag {
	header := pa.Load32(obj)
	for header&1 == 0 {
		header = pa.Load32(header)
	}
	tag := object.Tag(header)
	if !tag.IsLegal() {
		rtstrap.Trapf(trap, "compact: illegal tag at end of thread chain")
		return tag
	}
	return tag
}

// threadFwdPointers threads every field of obj whose target lies at a
// higher address than obj, so that target's own update-refs visit (which
// hasn't happened yet) will find its incoming reference threaded.
func threadFwdPointers(pa pagealloc.PageAlloc, trap rtstrap.Hook, obj uint32, tag object.Tag) {
	object.VisitPointerFields(pa, trap, obj, tag, func(fieldAddr uint32) {
		fieldVal := value.Value(pa.Load32(fieldAddr))
		if fieldVal.IsPtr() && fieldVal.GetPtr() > obj {
			thread(pa, fieldAddr)
		}
	})
}

// updateRefs is the combined move+unthread pass: walk every marked object
// in ascending (page, bit) order, unthread backwards references to point at
// its new home, move it there, then thread its own forward pointers.
func updateRefs(pa pagealloc.PageAlloc, trap rtstrap.Hook, sp *space.Space, bitmaps map[uint32]*bitmap.Bitmap) {
	pages := sp.SortedPages()

	toPageIdx := 0
	toPage := pages[toPageIdx]
	toAddr := toPage.ContentsStart()

	for _, page := range pages {
		bm := bitmaps[page.Start()]
		it := bm.Iter()

		for {
			bit := it.Next()
			if bit == bitmap.IterEnd {
				break
			}
			p := page.ContentsStart() + bit*object.WordSize

			tag := getTag(pa, trap, p)
			objSize := objectSizeByTag(pa, trap, p, tag)

			if toAddr+objSize*object.WordSize > toPage.End() {
				// Fill the abandoned tail so the page stays linearly
				// scannable; it only holds stale copies of moved objects.
				if slop := toPage.End() - toAddr; slop == object.WordSize {
					object.WriteOneWordFiller(pa, toAddr)
				} else if slop > 0 {
					object.WriteFreeSpace(pa, toAddr, slop/object.WordSize)
				}
				toPageIdx++
				toPage = pages[toPageIdx]
				toAddr = toPage.ContentsStart()
			}

			unthread(pa, p, toAddr)

			if toAddr != p {
				pa.CopyWords(toAddr, p, objSize)
			}

			threadFwdPointers(pa, trap, toAddr, tag)

			toAddr += objSize * object.WordSize
		}
	}

	sp.SetPages(pages, toAddr)
}

// objectSizeByTag is object.ObjectSize specialized to a tag already known
// from the thread chain, since the header word at p no longer holds the
// real tag once p has been threaded. tag has already passed getTag's
// IsLegal check, so reaching default here means objectSizeByTag's switch
// itself is missing a case, not a corrupt heap — it still traps rather than
// panicking, for the same reason as getTag.
func objectSizeByTag(pa pagealloc.PageAlloc, trap rtstrap.Hook, addr uint32, tag object.Tag) uint32 {
	switch tag {
	case object.TagMutBox, object.TagObjInd, object.TagIndirection, object.TagSome, object.TagBits32:
		return 2
	case object.TagVariant, object.TagBits64:
		return 3
	case object.TagConcat:
		return 4
	case object.TagNull:
		return 1
	case object.TagArray, object.TagObject:
		return 2 + object.ArrayLen(pa, addr)
	case object.TagBlob:
		return 2 + object.WordsForBytes(object.BlobLen(pa, addr))
	case object.TagClosure:
		return 3 + object.ClosureNumFields(pa, addr)
	case object.TagBigInt:
		return 2 + object.BigIntLen(pa, addr)
	default:
		rtstrap.Trapf(trap, "compact: unexpected tag %v in update-refs", tag)
		return 0
	}
}
