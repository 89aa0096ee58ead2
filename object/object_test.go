package object

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudfly/wasmgc/rtstrap"
)

// fakeMem is a flat word-addressable buffer, standing in for a PageAlloc
// backend in tests that only care about header layout, not paging.
type fakeMem struct {
	words map[uint32]uint32
}

func newFakeMem() *fakeMem { return &fakeMem{words: make(map[uint32]uint32)} }

func (m *fakeMem) Load32(addr uint32) uint32  { return m.words[addr] }
func (m *fakeMem) Store32(addr uint32, v uint32) { m.words[addr] = v }

func noTrap(t *testing.T) func(string) {
	return func(msg string) { t.Fatalf("unexpected trap: %s", msg) }
}

func TestMutBoxFieldRoundTrip(t *testing.T) {
	mem := newFakeMem()
	WriteMutBox(mem, 100, 0xDEADBEEF)
	require.Equal(t, TagMutBox, ReadTag(mem, 100))
	require.Equal(t, uint32(0xDEADBEEF), mem.Load32(MutBoxFieldAddr(100)))
	require.Equal(t, uint32(2), ObjectSize(mem, noTrap(t), 100))
}

func TestArrayHeaderAndFields(t *testing.T) {
	mem := newFakeMem()
	WriteArrayHeader(mem, 200, 3)
	ArraySet(mem, 200, 0, 10)
	ArraySet(mem, 200, 1, 20)
	ArraySet(mem, 200, 2, 30)

	require.Equal(t, uint32(3), ArrayLen(mem, 200))
	require.Equal(t, uint32(10), ArrayGet(mem, 200, 0))
	require.Equal(t, uint32(30), ArrayGet(mem, 200, 2))
	require.Equal(t, uint32(5), ObjectSize(mem, noTrap(t), 200)) // 2 header words + 3 fields

	var visited []uint32
	VisitPointerFields(mem, noTrap(t), 200, TagArray, func(addr uint32) { visited = append(visited, addr) })
	require.Equal(t, []uint32{ArrayFieldAddr(200, 0), ArrayFieldAddr(200, 1), ArrayFieldAddr(200, 2)}, visited)
}

func TestBlobPayloadAndLen(t *testing.T) {
	mem := newFakeMem()
	WriteBlobHeader(mem, 300, 9)
	payload := BlobPayloadAddr(300)
	for i := uint32(0); i < 9; i++ {
		mem.Store32(payload+i, i) // byte-granularity addressing not modeled here, just distinct slots
	}

	require.Equal(t, uint32(9), BlobLen(mem, 300))
	// 2 header words + ceil(9/4) = 3 payload words.
	require.Equal(t, uint32(5), ObjectSize(mem, noTrap(t), 300))

	var visited []uint32
	VisitPointerFields(mem, noTrap(t), 300, TagBlob, func(addr uint32) { visited = append(visited, addr) })
	require.Nil(t, visited, "a Blob's payload is raw bytes, never a pointer field")
}

func TestClosureFieldsAndSize(t *testing.T) {
	mem := newFakeMem()
	WriteClosureHeader(mem, 400, 7, 2)
	mem.Store32(ClosureFieldAddr(400, 0), 0) // env fields start at ClosureFieldAddr, after nFields

	require.Equal(t, uint32(7), ClosureCodeIdx(mem, 400))
	require.Equal(t, uint32(2), ClosureNumFields(mem, 400))
	require.Equal(t, uint32(5), ObjectSize(mem, noTrap(t), 400)) // 3 header words + 2 env fields

	var visited []uint32
	VisitPointerFields(mem, noTrap(t), 400, TagClosure, func(addr uint32) { visited = append(visited, addr) })
	require.Equal(t, []uint32{ClosureFieldAddr(400, 0), ClosureFieldAddr(400, 1)}, visited)
}

func TestConcatFields(t *testing.T) {
	mem := newFakeMem()
	WriteConcatHeader(mem, 500, 12, 600, 700)

	require.Equal(t, uint32(12), ConcatLen(mem, 500))
	require.Equal(t, uint32(4), ObjectSize(mem, noTrap(t), 500))

	var visited []uint32
	VisitPointerFields(mem, noTrap(t), 500, TagConcat, func(addr uint32) { visited = append(visited, addr) })
	require.Equal(t, []uint32{ConcatLeftAddr(500), ConcatRightAddr(500)}, visited)
}

func TestBits32AndBits64NoPointerFields(t *testing.T) {
	mem := newFakeMem()
	WriteBits32(mem, 600, 42)
	require.Equal(t, uint32(42), ReadBits32(mem, 600))
	require.Equal(t, uint32(2), ObjectSize(mem, noTrap(t), 600))

	WriteBits64(mem, 700, 0x1122334455667788)
	require.Equal(t, uint64(0x1122334455667788), ReadBits64(mem, 700))
	require.Equal(t, uint32(3), ObjectSize(mem, noTrap(t), 700))

	for _, tag := range []Tag{TagBits32, TagBits64} {
		var visited []uint32
		addr := uint32(600)
		if tag == TagBits64 {
			addr = 700
		}
		VisitPointerFields(mem, noTrap(t), addr, tag, func(a uint32) { visited = append(visited, a) })
		require.Nil(t, visited)
	}
}

func TestFillersAreNotLegalReferenceTargets(t *testing.T) {
	mem := newFakeMem()
	WriteOneWordFiller(mem, 800)
	require.Equal(t, uint32(1), ObjectSize(mem, noTrap(t), 800))
	require.False(t, TagOneWordFiller.IsLegal())

	WriteFreeSpace(mem, 900, 6)
	require.Equal(t, uint32(6), FreeSpaceWords(mem, 900))
	require.Equal(t, uint32(6), ObjectSize(mem, noTrap(t), 900))
	require.False(t, TagFreeSpace.IsLegal())
}

func TestFwdPtrRoundTrip(t *testing.T) {
	mem := newFakeMem()
	WriteFwdPtr(mem, 1000, 0x1000+1)
	require.Equal(t, TagFwdPtr, ReadTag(mem, 1000))
	require.Equal(t, uint32(0x1000+1), ReadFwdPtr(mem, 1000))
	require.False(t, TagFwdPtr.IsLegal())
}

func TestOrdinaryTagsAreLegal(t *testing.T) {
	for tag := TagObject; tag <= TagNull; tag += 2 {
		require.True(t, tag.IsLegal(), "%v should be in the legal tag range", tag)
	}
	require.False(t, TagFwdPtr.IsLegal())
	require.False(t, TagOneWordFiller.IsLegal())
	require.False(t, TagFreeSpace.IsLegal())
}

// expectTrap runs fn under rtstrap.TestHook and returns the recovered
// trap's message, failing the test if fn never traps.
func expectTrap(t *testing.T, fn func()) string {
	t.Helper()
	var msg string
	func() {
		defer func() {
			r := recover()
			trapped, ok := r.(*rtstrap.Trapped)
			require.True(t, ok, "expected a trap, got %v", r)
			msg = trapped.Msg
		}()
		fn()
	}()
	return msg
}

// An addr whose header holds a tag outside every known case is the same
// internal-invariant violation sanity.checkObjectHeader guards against
// (spec §7.1): both ObjectSize and VisitPointerFields must route it through
// the trap hook rather than a bare panic, so callers (and tests) can use
// the rtstrap.TestHook/*rtstrap.Trapped idiom uniformly across the module.
func TestIllegalTagTraps(t *testing.T) {
	mem := newFakeMem()
	WriteTag(mem, 1100, Tag(9999))

	msg := expectTrap(t, func() { ObjectSize(mem, rtstrap.TestHook, 1100) })
	require.Contains(t, msg, "unknown tag")

	msg = expectTrap(t, func() {
		VisitPointerFields(mem, rtstrap.TestHook, 1100, Tag(9999), func(uint32) {})
	})
	require.Contains(t, msg, "unknown tag")
}

func TestTagStringerCoversEveryTag(t *testing.T) {
	tags := []Tag{
		TagObject, TagObjInd, TagArray, TagBits64, TagMutBox, TagClosure,
		TagSome, TagVariant, TagBlob, TagIndirection, TagBits32, TagBigInt,
		TagConcat, TagNull, TagFwdPtr, TagOneWordFiller, TagFreeSpace,
	}
	seen := make(map[string]bool)
	for _, tag := range tags {
		s := tag.String()
		require.NotContains(t, s, "Tag(", "tag %d should have a named String()", uint32(tag))
		require.False(t, seen[s], "duplicate tag string %q", s)
		seen[s] = true
	}
}
