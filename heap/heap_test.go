package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudfly/wasmgc/internal/rtslog"
	"github.com/cloudfly/wasmgc/object"
	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
	"github.com/cloudfly/wasmgc/value"
)

func noTrap(t *testing.T) func(string) {
	return func(msg string) { t.Fatalf("unexpected trap: %s", msg) }
}

// newTestRuntime builds a Runtime over a fresh TestPageAlloc with a static
// roots array holding a single MutBox whose field is dynamicRoot, and
// returns the Runtime plus the address of that MutBox's field so callers
// can rewrite the root itself.
func newTestRuntime(t *testing.T, collector Collector, dynamicRoot value.Value) (*Runtime, uint32) {
	trapFn := noTrap(t)
	pa := pagealloc.NewTestPageAlloc(trapFn)

	rootPage := pa.AllocPages(1)
	mutboxAddr := rootPage.ContentsStart()
	object.WriteMutBox(pa, mutboxAddr, dynamicRoot.Raw())

	arrAddr := mutboxAddr + 8
	object.WriteArrayHeader(pa, arrAddr, 1)
	object.ArraySet(pa, arrAddr, 0, value.FromPtr(mutboxAddr).Raw())
	staticRoots := value.FromPtr(arrAddr)

	contTablePage := pa.Alloc()
	contTableLoc := contTablePage.ContentsStart()
	pa.Store32(contTableLoc, value.FromScalar(0).Raw())

	hooks := NopHooks{
		Trap:         trapFn,
		ContTableLoc: contTableLoc,
		Roots:        staticRoots,
		Base:         pa.GetAddressPageStart(mutboxAddr) + pagealloc.PageSize*3,
	}
	r := New(pa, hooks, collector)
	return r, object.MutBoxFieldAddr(mutboxAddr)
}

// buildChain allocates n two-field MutBoxes A0 -> A1 -> ... -> A(n-1) in r,
// returning A0. Each MutBox's single field points at the next one; the last
// one's field is a scalar 0.
func buildChain(r *Runtime, n int) value.Value {
	next := value.FromScalar(0)
	for i := n - 1; i >= 0; i-- {
		mb := r.AllocWords(2)
		object.WriteMutBox(r.pa, mb.GetPtr(), next.Raw())
		next = mb
	}
	return next
}

func chainLen(r *Runtime, head value.Value) int {
	n := 0
	cur := head
	for cur.IsPtr() {
		n++
		cur = value.Value(r.pa.Load32(object.MutBoxFieldAddr(cur.GetPtr())))
	}
	return n
}

// S1: a reachable 100-element MutBox chain survives copying GC intact and
// in order.
func TestRuntime_S1_CopyingGCPreservesReachableChain(t *testing.T) {
	r, rootField := newTestRuntime(t, CollectorCopying, value.FromScalar(0))
	head := buildChain(r, 100)
	r.pa.Store32(rootField, head.Raw())

	r.CopyingGC()

	newHead := value.Value(r.pa.Load32(rootField))
	require.Equal(t, 100, chainLen(r, newHead))
}

// S2: an unreachable chain is entirely reclaimed by copying GC.
func TestRuntime_S2_CopyingGCReclaimsUnreachableChain(t *testing.T) {
	r, rootField := newTestRuntime(t, CollectorCopying, value.FromScalar(0))
	_ = buildChain(r, 100)
	r.pa.Store32(rootField, value.FromScalar(0).Raw())

	before := r.sp.TotalAlloc()
	r.CopyingGC()
	after := r.sp.TotalAlloc()

	require.Less(t, after, before)
	require.Equal(t, uint64(0), after)
}

// S1 variant under mark-compact, exercising CompactingGC end to end.
func TestRuntime_S1_CompactingGCPreservesReachableChain(t *testing.T) {
	r, rootField := newTestRuntime(t, CollectorCompact, value.FromScalar(0))
	head := buildChain(r, 100)
	r.pa.Store32(rootField, head.Raw())

	r.CompactingGC()

	newHead := value.Value(r.pa.Load32(rootField))
	require.Equal(t, 100, chainLen(r, newHead))
}

// S6: mutating an old-space MutBox to point at a freshly-allocated young
// Blob, then running minor GC, relocates the young object and updates the
// old field. A snapshot-verify pass taken around the mutation (but not
// spanning the GC itself, since minor GC retires Young's entire backing
// pages and a snapshot's raw addresses don't survive that) reports no
// missing barrier, since StoreField recorded the edge.
func TestRuntime_S6_GenerationalMinorGCAndSnapshotVerify(t *testing.T) {
	r, _ := newTestRuntime(t, CollectorGenerational, value.FromScalar(0))

	oldMB := r.gen.Old.AllocWords(2)
	object.WriteMutBox(r.pa, oldMB.GetPtr(), value.FromScalar(0).Raw())
	fieldAddr := object.MutBoxFieldAddr(oldMB.GetPtr())

	r.TakeSnapshot()

	blob := r.AllocBlob(4)
	payload := object.BlobPayloadAddr(blob.GetPtr())
	r.pa.StoreByte(payload+0, 0xDE)
	r.pa.StoreByte(payload+1, 0xAD)
	r.pa.StoreByte(payload+2, 0xBE)
	r.pa.StoreByte(payload+3, 0xEF)

	r.StoreField(fieldAddr, blob)
	r.VerifySnapshot(rtslog.Default())

	r.GenerationalGC()

	moved := value.Value(r.pa.Load32(fieldAddr))
	require.True(t, moved.IsPtr())
	require.True(t, r.gen.InYoung(moved.GetPtr()))
	movedPayload := object.BlobPayloadAddr(moved.GetPtr())
	require.Equal(t, byte(0xDE), r.pa.LoadByte(movedPayload+0))
	require.Equal(t, byte(0xEF), r.pa.LoadByte(movedPayload+3))
}

func TestRuntime_BlobIterWalksPayload(t *testing.T) {
	r, _ := newTestRuntime(t, CollectorCopying, value.FromScalar(0))

	blob := r.AllocBlob(3)
	payload := object.BlobPayloadAddr(blob.GetPtr())
	r.pa.StoreByte(payload+0, 1)
	r.pa.StoreByte(payload+1, 2)
	r.pa.StoreByte(payload+2, 3)

	iter := r.BlobIter(blob)
	var out []byte
	for !r.BlobIterDone(iter) {
		out = append(out, r.BlobIterNext(iter))
	}
	require.Equal(t, []byte{1, 2, 3}, out)
}

func TestRuntime_VerifySnapshotRejectedUnderNonGenerationalCollector(t *testing.T) {
	r, _ := newTestRuntime(t, CollectorCopying, value.FromScalar(0))
	r.trap = rtstrap.TestHook

	require.Panics(t, func() { r.VerifySnapshot(rtslog.Default()) })
}

func TestRuntime_NoGCNeverCollects(t *testing.T) {
	r, rootField := newTestRuntime(t, CollectorNone, value.FromScalar(0))
	_ = buildChain(r, 10)
	r.pa.Store32(rootField, value.FromScalar(0).Raw())

	before := r.sp.TotalAlloc()
	r.NoGC()
	after := r.sp.TotalAlloc()

	require.Equal(t, before, after)
}
