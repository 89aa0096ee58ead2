// Package generational implements the young/old variant sketched in spec
// §4.8: minor GC is a copying pass confined to the young space, major GC is
// mark-compact over both spaces, and a write barrier maintains a remembered
// set of old→young pointer-field addresses consulted as extra minor-GC
// roots. No original_source implementation file covers this collector (only
// its mark-stack test harness, motoko-rts-tests/src/gc/generational/mark_stack.rs,
// which this package's markstack.GenStack already matches); its GC passes
// are built directly from the prose sketch, reusing the copying collector's
// evacuate/scavenge shape and the mark-compact collector's extra-root
// mechanism rather than a line-by-line port. MinorGC drives its scavenge
// pass off markstack.GenStack directly, as an explicit scan-queue worklist
// rather than a page-cursor walk.
package generational

import (
	"github.com/cloudfly/wasmgc/gc/compact"
	"github.com/cloudfly/wasmgc/markstack"
	"github.com/cloudfly/wasmgc/object"
	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
	"github.com/cloudfly/wasmgc/space"
	"github.com/cloudfly/wasmgc/value"
)

// scanStackInitWords is the initial capacity of the GenStack backing a
// minor GC's scan queue; it doubles on overflow, so this only sets how many
// chains need a growStack before settling.
const scanStackInitWords = 64

// Generational bundles the two sub-spaces, the remembered set, and the two
// root locations shared with the other collectors.
type Generational struct {
	Old   *space.Space
	Young *space.Space

	Remembered *RememberedSet

	StaticRoots  value.Value
	ContTableLoc uint32
}

// New creates a fresh young/old pair with an empty remembered set.
func New(pa pagealloc.PageAlloc, trap rtstrap.Hook, staticRoots value.Value, contTableLoc uint32) *Generational {
	return &Generational{
		Old:          space.New(pa, trap),
		Young:        space.New(pa, trap),
		Remembered:   NewRememberedSet(),
		StaticRoots:  staticRoots,
		ContTableLoc: contTableLoc,
	}
}

func (g *Generational) InYoung(addr uint32) bool { return g.Young.Contains(addr) }
func (g *Generational) InOld(addr uint32) bool   { return g.Old.Contains(addr) }

// PostWriteBarrier is the runtime entry point a compiler-inserted write
// barrier calls after every pointer store through fieldAddr (spec §4.8,
// §6 "post_write_barrier(field_addr)"): if fieldAddr itself lives outside
// the young space and now holds a pointer into it, the edge is recorded so
// minor GC can find it without scanning all of Old.
func PostWriteBarrier(pa pagealloc.PageAlloc, g *Generational, fieldAddr uint32) {
	if g.InYoung(fieldAddr) {
		return
	}
	v := value.Value(pa.Load32(fieldAddr))
	if v.IsPtr() && g.InYoung(v.GetPtr()) {
		g.Remembered.Add(fieldAddr)
	} else {
		g.Remembered.Remove(fieldAddr)
	}
}

// StoreField performs a pointer-field store through the write barrier, the
// shape every mutator write in this collector is expected to go through.
func StoreField(pa pagealloc.PageAlloc, g *Generational, fieldAddr uint32, newVal value.Value) {
	pa.Store32(fieldAddr, newVal.Raw())
	PostWriteBarrier(pa, g, fieldAddr)
}

// MinorGC runs a copying pass over the young space only (spec §4.8): roots
// are the static roots, the continuation-table cell if it points into
// young, and every remembered-set field. Objects already outside the young
// space (old or static) are never moved.
//
// Scavenging is driven by an explicit worklist — markstack.GenStack, spec
// §4.5's "generational collector's ... minor-GC scan queue" — rather than a
// two-cursor Cheney walk over newYoung's own pages: every object evac copies
// gets its new address pushed, and the pass ends when the stack drains. The
// stack's own backing buffer is allocated out of a throwaway scratch Space
// (satisfying memmod.Memory, same as newYoung would) instead of newYoung
// itself, so its growth and final garbage never land inside the region
// later linear heap walks (sanity, major GC's young-to-old rescan) expect
// to be a clean sequence of tagged objects — it is simply freed whole once
// the scan is done.
func MinorGC(pa pagealloc.PageAlloc, trap rtstrap.Hook, g *Generational) {
	newYoung := space.New(pa, trap)
	scanScratch := space.New(pa, trap)
	scan := markstack.NewGenStack(scanScratch, pa, trap, scanStackInitWords)

	evacStaticRoots(pa, trap, newYoung, g, g.StaticRoots, scan)

	if v := value.Value(pa.Load32(g.ContTableLoc)); v.IsPtr() && g.InYoung(v.GetPtr()) {
		evac(pa, trap, newYoung, g, g.ContTableLoc, scan)
	}

	surviving := g.Remembered.Fields()
	g.Remembered.Clear()
	for _, fieldAddr := range surviving {
		evac(pa, trap, newYoung, g, fieldAddr, scan)
		if v := value.Value(pa.Load32(fieldAddr)); v.IsPtr() && newYoung.Contains(v.GetPtr()) {
			g.Remembered.Add(fieldAddr)
		}
	}

	for {
		addr, ok := scan.Pop()
		if !ok {
			break
		}
		scav(pa, trap, newYoung, g, addr, scan)
	}

	scanScratch.Free()

	g.Young.Free()
	g.Young = newYoung
}

// MajorGC runs mark-compact over both spaces (spec §4.8): Young is compacted
// first, with every surviving remembered-set field passed as an extra root
// alongside the continuation-table cell so an old→young edge keeps its
// target alive and gets updated in place, exactly as the continuation table
// already does for ordinary mark-compact. Old is compacted second; since a
// young object may itself hold the only surviving reference to an old one,
// Young (now settled at its final addresses) is linearly rescanned for
// young→old fields and those are fed to Old's compaction as extra roots too.
// Once both spaces have settled, the remembered set is rebuilt from the
// entries that still describe a real old→young edge after both moves.
func MajorGC(pa pagealloc.PageAlloc, trap rtstrap.Hook, g *Generational) {
	youngRoots := append([]uint32{g.ContTableLoc}, g.Remembered.Fields()...)
	compact.Run(pa, trap, g.Young, g.StaticRoots, youngRoots)

	oldRoots := append([]uint32{g.ContTableLoc}, collectYoungToOldRoots(pa, trap, g)...)
	compact.Run(pa, trap, g.Old, g.StaticRoots, oldRoots)

	kept := g.Remembered.Fields()
	g.Remembered.Clear()
	for _, fieldAddr := range kept {
		if v := value.Value(pa.Load32(fieldAddr)); v.IsPtr() && g.InYoung(v.GetPtr()) {
			g.Remembered.Add(fieldAddr)
		}
	}
}

// collectYoungToOldRoots linearly scans every live object in the (already
// compacted) young space and returns the address of every field that points
// into Old, so Old's compaction doesn't mistake a young-rooted old object
// for garbage.
func collectYoungToOldRoots(pa pagealloc.PageAlloc, trap rtstrap.Hook, g *Generational) []uint32 {
	var roots []uint32
	current := g.Young.GetPage(g.Young.CurrentPageIdx())
	for _, page := range g.Young.SortedPages() {
		end := page.End()
		if page == current {
			end = g.Young.AllocationPointer()
		}
		addr := page.ContentsStart()
		for addr < end {
			tag := object.ReadTag(pa, addr)
			size := object.ObjectSize(pa, trap, addr)
			object.VisitPointerFields(pa, trap, addr, tag, func(fieldAddr uint32) {
				v := value.Value(pa.Load32(fieldAddr))
				if v.IsPtr() && g.InOld(v.GetPtr()) {
					roots = append(roots, fieldAddr)
				}
			})
			addr += size * object.WordSize
		}
	}
	return roots
}

func evacStaticRoots(pa pagealloc.PageAlloc, trap rtstrap.Hook, newYoung *space.Space, g *Generational, staticRoots value.Value, scan *markstack.GenStack) {
	rootsAddr := staticRoots.GetPtr()
	n := object.ArrayLen(pa, rootsAddr)
	for i := uint32(0); i < n; i++ {
		elem := value.Value(object.ArrayGet(pa, rootsAddr, i))
		scav(pa, trap, newYoung, g, elem.GetPtr(), scan)
	}
}

// evac evacuates the object fieldAddr points to into newYoung, unless it
// isn't actually in the old young space (old and static objects stay put —
// a minor GC never moves anything it didn't allocate itself). A freshly
// evacuated object's new address is pushed onto scan so the worklist loop
// in MinorGC visits its own fields in turn.
func evac(pa pagealloc.PageAlloc, trap rtstrap.Hook, newYoung *space.Space, g *Generational, fieldAddr uint32, scan *markstack.GenStack) {
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

	if !g.InYoung(addr) {
		return
	}

	size := object.ObjectSize(pa, trap, addr)
	newVal := newYoung.AllocWords(size)
	newAddr := newVal.GetPtr()

	pa.CopyWords(newAddr, addr, size)

	skewedNew := newVal.Raw()
	object.WriteFwdPtr(pa, addr, skewedNew)
	pa.Store32(fieldAddr, skewedNew)
	scan.Push(newAddr)
}

func scav(pa pagealloc.PageAlloc, trap rtstrap.Hook, newYoung *space.Space, g *Generational, addr uint32, scan *markstack.GenStack) {
	tag := object.ReadTag(pa, addr)
	object.VisitPointerFields(pa, trap, addr, tag, func(fieldAddr uint32) {
		evac(pa, trap, newYoung, g, fieldAddr, scan)
	})
}
