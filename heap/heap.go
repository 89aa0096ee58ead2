// Package heap wires memmod/pagealloc/space/the three collectors behind the
// exported ABI entry points of spec §6, mirroring the teacher's single
// mheap_ aggregate (malloc.go, mcentral.go) but as an explicit struct rather
// than a package-level global, per spec.md §9's own suggestion: "An
// implementation should isolate them behind a single 'runtime' aggregate so
// tests can instantiate multiple independent runtimes."
package heap

import (
	"github.com/cloudfly/wasmgc/gc/compact"
	"github.com/cloudfly/wasmgc/gc/copying"
	"github.com/cloudfly/wasmgc/gc/generational"
	"github.com/cloudfly/wasmgc/gc/nogc"
	"github.com/cloudfly/wasmgc/internal/rtslog"
	"github.com/cloudfly/wasmgc/object"
	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
	"github.com/cloudfly/wasmgc/sanity"
	"github.com/cloudfly/wasmgc/space"
	"github.com/cloudfly/wasmgc/value"
)

// Collector selects which of the three interchangeable collectors (plus the
// no-op baseline) this Runtime uses, spec §6 "schedule_*_gc()" family.
type Collector int

const (
	CollectorCopying Collector = iota
	CollectorCompact
	CollectorGenerational
	CollectorNone
)

func (c Collector) String() string {
	switch c {
	case CollectorCopying:
		return "copying"
	case CollectorCompact:
		return "compact"
	case CollectorGenerational:
		return "generational"
	case CollectorNone:
		return "none"
	default:
		return "unknown"
	}
}

// gcThresholdBytes is the default "bytes allocated since the last
// collection" trigger for the schedule_*_gc entry points — a modest,
// documented heuristic (spec.md names schedule_*_gc but doesn't specify a
// trigger policy), chosen so a handful of pages fill before a GC pass runs.
const gcThresholdBytes = 8 * pagealloc.PageSize

// Runtime is the process-wide aggregate: the allocation space(s), the page
// allocator, the root locations, and GC bookkeeping. Multiple Runtimes can
// coexist (each owns its own PageAlloc), so tests never share mutable
// global state.
type Runtime struct {
	pa    pagealloc.PageAlloc
	hooks Hooks
	trap  rtstrap.Hook

	collector Collector

	sp  *space.Space          // copying, compact, none
	gen *generational.Generational // generational only

	staticRoots  value.Value
	contTableLoc uint32
	heapBase     uint32

	allocAtLastGC      uint64
	oldAllocAtLastMajor uint64

	copyingGCRuns    uint64
	compactingGCRuns uint64
	minorGCRuns      uint64
	majorGCRuns      uint64

	snapshot *sanity.Snapshot
}

// New builds a Runtime using collector, seeding roots from hooks.
func New(pa pagealloc.PageAlloc, hooks Hooks, collector Collector) *Runtime {
	trap := rtstrap.Hook(hooks.TrapWith)
	r := &Runtime{
		pa:           pa,
		hooks:        hooks,
		trap:         trap,
		collector:    collector,
		staticRoots:  hooks.StaticRoots(),
		contTableLoc: hooks.ContinuationTableLoc(),
		heapBase:     hooks.HeapBase(),
	}
	if collector == CollectorGenerational {
		r.gen = generational.New(pa, trap, r.staticRoots, r.contTableLoc)
	} else {
		r.sp = space.New(pa, trap)
	}
	return r
}

func (r *Runtime) Collector() Collector { return r.collector }

// allocSpace is where every mutator allocation entry point lands: the
// single Space for copying/compact/none, or the young generation's Space
// under the generational collector (spec §4.8 — the mutator never
// allocates directly into Old).
func (r *Runtime) allocSpace() *space.Space {
	if r.gen != nil {
		return r.gen.Young
	}
	return r.sp
}

// --- Allocation entry points (spec §6) ---------------------------------

func (r *Runtime) AllocWords(n uint32) value.Value { return r.allocSpace().AllocWords(n) }

func (r *Runtime) AllocBytes(n uint32) value.Value {
	return r.allocSpace().AllocWords(object.WordsForBytes(n))
}

func (r *Runtime) AllocArray(length uint32) value.Value { return r.allocSpace().AllocArray(length) }

func (r *Runtime) AllocBlob(sizeBytes uint32) value.Value { return r.allocSpace().AllocBlob(sizeBytes) }

const (
	iterBlobIdx = 0
	iterPosIdx  = 1
)

// BlobIter allocates a 2-field Array (blob, pos) standing in for the
// iterator object blob_iter.rs builds directly over a raw Array header.
func (r *Runtime) BlobIter(blob value.Value) value.Value {
	iter := r.allocSpace().AllocArray(2)
	addr := iter.GetPtr()
	object.ArraySet(r.pa, addr, iterBlobIdx, blob.Raw())
	object.ArraySet(r.pa, addr, iterPosIdx, value.FromScalar(0).Raw())
	return iter
}

func (r *Runtime) BlobIterDone(iter value.Value) bool {
	addr := iter.GetPtr()
	blob := value.Value(object.ArrayGet(r.pa, addr, iterBlobIdx))
	pos := value.Value(object.ArrayGet(r.pa, addr, iterPosIdx)).GetScalar()
	return uint32(pos) >= object.BlobLen(r.pa, blob.GetPtr())
}

func (r *Runtime) BlobIterNext(iter value.Value) byte {
	addr := iter.GetPtr()
	blob := value.Value(object.ArrayGet(r.pa, addr, iterBlobIdx))
	pos := value.Value(object.ArrayGet(r.pa, addr, iterPosIdx)).GetScalar()
	object.ArraySet(r.pa, addr, iterPosIdx, value.FromScalar(pos+1).Raw())
	payload := object.BlobPayloadAddr(blob.GetPtr())
	return r.pa.LoadByte(payload + uint32(pos))
}

// StoreField is the compiler-generated write's runtime counterpart: every
// pointer-field store a caller wants the generational collector to see
// goes through here instead of a raw Store32, so the remembered set stays
// accurate. Under the other collectors it's a plain store.
func (r *Runtime) StoreField(fieldAddr uint32, v value.Value) {
	if r.gen != nil {
		generational.StoreField(r.pa, r.gen, fieldAddr, v)
		r.hooks.PostWriteBarrier(fieldAddr)
		return
	}
	r.pa.Store32(fieldAddr, v.Raw())
}

// --- GC control (spec §6) -----------------------------------------------

func (r *Runtime) allocatedSinceLastGC() uint64 {
	return r.allocSpace().TotalAlloc() - r.allocAtLastGC
}

func (r *Runtime) ScheduleCopyingGC() {
	if r.allocatedSinceLastGC() > gcThresholdBytes {
		r.CopyingGC()
	}
}

func (r *Runtime) CopyingGC() {
	newSp := copying.Run(r.pa, r.trap, r.staticRoots, r.contTableLoc)
	r.sp.Free()
	r.sp = newSp
	r.copyingGCRuns++
	r.allocAtLastGC = r.sp.TotalAlloc()
}

func (r *Runtime) ScheduleCompactingGC() {
	if r.allocatedSinceLastGC() > gcThresholdBytes {
		r.CompactingGC()
	}
}

func (r *Runtime) CompactingGC() {
	compact.Run(r.pa, r.trap, r.sp, r.staticRoots, []uint32{r.contTableLoc})
	r.compactingGCRuns++
	r.allocAtLastGC = r.sp.TotalAlloc()
}

// ScheduleGenerationalGC runs a minor GC whenever the young space has grown
// past the threshold, additionally running a major GC when the old space
// itself has grown past the same threshold since the last major pass —
// spec.md §4.8 doesn't name a promotion/scheduling policy beyond "minor
// runs over young, major runs over both", so this is this implementation's
// documented choice.
func (r *Runtime) ScheduleGenerationalGC() {
	if r.allocatedSinceLastGC() > gcThresholdBytes {
		r.GenerationalGC()
	}
}

func (r *Runtime) GenerationalGC() {
	generational.MinorGC(r.pa, r.trap, r.gen)
	r.minorGCRuns++
	r.allocAtLastGC = r.gen.Young.TotalAlloc()

	if r.gen.Old.TotalAlloc()-r.oldAllocAtLastMajor > gcThresholdBytes {
		generational.MajorGC(r.pa, r.trap, r.gen)
		r.majorGCRuns++
		r.oldAllocAtLastMajor = r.gen.Old.TotalAlloc()
	}
}

func (r *Runtime) ScheduleNoGC() { nogc.Run() }
func (r *Runtime) NoGC()         { nogc.Run() }

// --- Sanity integration (spec §4.9) -------------------------------------

// sanitySpaces returns every Space that together make up this Runtime's
// heap: Old and Young under the generational collector (interleaved,
// independently page-carved — an old-space field pointing into young, the
// canonical case the checker exists to catch, needs both in scope at once),
// or the single Space otherwise.
func (r *Runtime) sanitySpaces() []*space.Space {
	if r.gen != nil {
		return []*space.Space{r.gen.Old, r.gen.Young}
	}
	return []*space.Space{r.sp}
}

// CheckMemory runs the full static-roots/continuation-table/heap walk over
// every Space this Runtime owns.
func (r *Runtime) CheckMemory() {
	sanity.CheckMemory(r.pa, r.trap, r.staticRoots, r.contTableLoc, r.heapBase, r.sanitySpaces())
}

// TakeSnapshot records the current heap for a later VerifySnapshot call,
// allocating the snapshot Blob itself in the mutator's allocation space.
// Meaningful only under the generational collector, where write-barrier
// coverage is the thing being verified.
func (r *Runtime) TakeSnapshot() {
	r.snapshot = sanity.TakeSnapshot(r.pa, r.sanitySpaces(), r.allocSpace())
}

// VerifySnapshot compares the heap against the last TakeSnapshot, trapping
// with "Missing write barrier at 0x…" if a field changed without being
// recorded in the remembered set. Meaningful only under the generational
// collector, since the other collectors never maintain a remembered set.
func (r *Runtime) VerifySnapshot(log rtslog.Logger) {
	if r.gen == nil {
		rtstrap.Trapf(r.trap, "sanity: verify_snapshot requires the generational collector")
		return
	}
	sanity.VerifySnapshot(r.pa, r.trap, log, r.snapshot, r.gen.Remembered.Contains)
}
