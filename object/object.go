// Package object implements the heap object model: tags, header layout,
// per-tag field access, and the pointer-field visitor that every collector
// walks during scavenge/mark. See spec §3 (Object header) and §4.1.
//
// Layouts mirror the teacher's size-class table idiom in msize.go
// (class_to_size, class_to_allocnpages): a small dispatch-by-tag table
// rather than per-type Go structs overlaid on raw memory, because objects
// live in a simulated linear address space (package pagealloc), not in the
// host process's own address space the way the teacher's mspans do.
package object

import (
	"fmt"

	"github.com/cloudfly/wasmgc/rtstrap"
)

// WordSize is the size in bytes of a Word, matching spec §3: "32-bit. All
// addresses are word-aligned."
const WordSize = 4

// Tag identifies an object's layout. Every tag value is odd (bit 0 set),
// which is what lets mark-compact's threading tell a tag word (a terminal
// header) apart from a threaded field address (always word-aligned, bit 0
// clear) with a single bit test — invariant I3.
type Tag uint32

const (
	TagObject Tag = 2*iota + 1
	TagObjInd
	TagArray
	TagBits64
	TagMutBox
	TagClosure
	TagSome
	TagVariant
	TagBlob
	TagIndirection
	TagBits32
	TagBigInt
	TagConcat
	TagNull
	TagFwdPtr
	TagOneWordFiller
	TagFreeSpace
)

// firstTag/lastTag bound the "ordinary object" tag range used by the sanity
// checker (spec §4.9): FwdPtr/OneWordFiller/FreeSpace sit outside it because
// they are never live-reference targets in a well-formed post-GC heap.
const (
	firstTag = TagObject
	lastTag  = TagNull
)

func (t Tag) String() string {
	switch t {
	case TagObject:
		return "Object"
	case TagObjInd:
		return "ObjInd"
	case TagArray:
		return "Array"
	case TagBits64:
		return "Bits64"
	case TagMutBox:
		return "MutBox"
	case TagClosure:
		return "Closure"
	case TagSome:
		return "Some"
	case TagVariant:
		return "Variant"
	case TagBlob:
		return "Blob"
	case TagIndirection:
		return "Indirection"
	case TagBits32:
		return "Bits32"
	case TagBigInt:
		return "BigInt"
	case TagConcat:
		return "Concat"
	case TagNull:
		return "Null"
	case TagFwdPtr:
		return "FwdPtr"
	case TagOneWordFiller:
		return "OneWordFiller"
	case TagFreeSpace:
		return "FreeSpace"
	default:
		return fmt.Sprintf("Tag(%d)", uint32(t))
	}
}

// IsLegal reports whether t is one of the ordinary, scannable object tags
// (spec §4.9's tag-range assertion).
func (t Tag) IsLegal() bool {
	return t >= firstTag && t <= lastTag
}

// Mem is the minimal word-addressable memory capability object layouts are
// read and written through. PageAlloc backends implement it; it is the
// seam that lets this package stay free of any notion of how the
// underlying bytes are actually stored (a single growable arena in
// production, independent owned buffers per page in tests).
type Mem interface {
	Load32(addr uint32) uint32
	Store32(addr uint32, v uint32)
}

// WordsForBytes rounds a byte count up to a whole number of words.
func WordsForBytes(n uint32) uint32 {
	return (n + WordSize - 1) / WordSize
}

// ReadTag reads the tag word at addr.
func ReadTag(mem Mem, addr uint32) Tag {
	return Tag(mem.Load32(addr))
}

// WriteTag writes a fresh tag word at addr.
func WriteTag(mem Mem, addr uint32, tag Tag) {
	mem.Store32(addr, uint32(tag))
}

// --- Fixed small layouts -----------------------------------------------

// WriteOneWordFiller stamps a single-word filler, used by space.Space when
// exactly one word of slop remains at the tail of a page (spec §4.3 step 2).
func WriteOneWordFiller(mem Mem, addr uint32) {
	WriteTag(mem, addr, TagOneWordFiller)
}

// WriteFreeSpace stamps a filler object spanning words total words
// (including this 2-word header), used when more than one word of slop
// remains.
func WriteFreeSpace(mem Mem, addr uint32, words uint32) {
	WriteTag(mem, addr, TagFreeSpace)
	mem.Store32(addr+WordSize, words)
}

// FreeSpaceWords reads back the total word span of a FreeSpace filler.
func FreeSpaceWords(mem Mem, addr uint32) uint32 {
	return mem.Load32(addr + WordSize)
}

// WriteFwdPtr overwrites an evacuated object's header with a forwarding
// pointer to its to-space copy (spec §4.6 Evacuate step 3).
func WriteFwdPtr(mem Mem, addr uint32, fwd uint32) {
	WriteTag(mem, addr, TagFwdPtr)
	mem.Store32(addr+WordSize, fwd)
}

// ReadFwdPtr reads the skewed forwarding address out of a FwdPtr object.
func ReadFwdPtr(mem Mem, addr uint32) uint32 {
	return mem.Load32(addr + WordSize)
}

// --- MutBox / ObjInd / Indirection: one pointer field at word 1 ---------

func WriteMutBox(mem Mem, addr uint32, field uint32) {
	WriteTag(mem, addr, TagMutBox)
	mem.Store32(addr+WordSize, field)
}

// MutBoxFieldAddr returns the address of a MutBox's single field. ObjInd
// and Indirection objects share this exact one-field layout.
func MutBoxFieldAddr(addr uint32) uint32 { return addr + WordSize }

// --- Some / Variant -------------------------------------------------

// SomeFieldAddr returns the address of a Some wrapper's payload field.
func SomeFieldAddr(addr uint32) uint32 { return addr + WordSize }

// VariantFieldAddr returns the address of a Variant's payload field (word
// 2; word 1 holds the scalar variant tag index, not a pointer field).
func VariantFieldAddr(addr uint32) uint32 { return addr + 2*WordSize }

func WriteVariant(mem Mem, addr uint32, tagIdx uint32, payload uint32) {
	WriteTag(mem, addr, TagVariant)
	mem.Store32(addr+WordSize, tagIdx)
	mem.Store32(addr+2*WordSize, payload)
}

// --- Array: length + N fields --------------------------------------

func WriteArrayHeader(mem Mem, addr uint32, length uint32) {
	WriteTag(mem, addr, TagArray)
	mem.Store32(addr+WordSize, length)
}

func ArrayLen(mem Mem, addr uint32) uint32 {
	return mem.Load32(addr + WordSize)
}

func ArrayFieldAddr(addr uint32, i uint32) uint32 {
	return addr + 2*WordSize + i*WordSize
}

func ArrayGet(mem Mem, addr uint32, i uint32) uint32 {
	return mem.Load32(ArrayFieldAddr(addr, i))
}

func ArraySet(mem Mem, addr uint32, i uint32, v uint32) {
	mem.Store32(ArrayFieldAddr(addr, i), v)
}

// --- Blob: byte length + payload -------------------------------------

func WriteBlobHeader(mem Mem, addr uint32, lenBytes uint32) {
	WriteTag(mem, addr, TagBlob)
	mem.Store32(addr+WordSize, lenBytes)
}

func BlobLen(mem Mem, addr uint32) uint32 {
	return mem.Load32(addr + WordSize)
}

func BlobPayloadAddr(addr uint32) uint32 { return addr + 2*WordSize }

// --- Closure: code index + N env fields -------------------------------

func WriteClosureHeader(mem Mem, addr uint32, codeIdx uint32, nFields uint32) {
	WriteTag(mem, addr, TagClosure)
	mem.Store32(addr+WordSize, codeIdx)
	mem.Store32(addr+2*WordSize, nFields)
}

func ClosureCodeIdx(mem Mem, addr uint32) uint32 {
	return mem.Load32(addr + WordSize)
}

func ClosureNumFields(mem Mem, addr uint32) uint32 {
	return mem.Load32(addr + 2*WordSize)
}

func ClosureFieldAddr(addr uint32, i uint32) uint32 {
	return addr + 3*WordSize + i*WordSize
}

// --- Bits32 / Bits64: raw unboxed payload, no pointer fields ----------

func WriteBits32(mem Mem, addr uint32, v uint32) {
	WriteTag(mem, addr, TagBits32)
	mem.Store32(addr+WordSize, v)
}

func ReadBits32(mem Mem, addr uint32) uint32 {
	return mem.Load32(addr + WordSize)
}

func WriteBits64(mem Mem, addr uint32, v uint64) {
	WriteTag(mem, addr, TagBits64)
	mem.Store32(addr+WordSize, uint32(v))
	mem.Store32(addr+2*WordSize, uint32(v>>32))
}

func ReadBits64(mem Mem, addr uint32) uint64 {
	lo := uint64(mem.Load32(addr + WordSize))
	hi := uint64(mem.Load32(addr + 2*WordSize))
	return lo | hi<<32
}

// --- BigInt: length + raw digit words, no pointer fields ---------------

func WriteBigIntHeader(mem Mem, addr uint32, nDigits uint32) {
	WriteTag(mem, addr, TagBigInt)
	mem.Store32(addr+WordSize, nDigits)
}

func BigIntLen(mem Mem, addr uint32) uint32 {
	return mem.Load32(addr + WordSize)
}

func BigIntDigitAddr(addr uint32, i uint32) uint32 {
	return addr + 2*WordSize + i*WordSize
}

// --- Concat: two blob pointer fields (rope-style blob concatenation) ----

func WriteConcatHeader(mem Mem, addr uint32, lenBytes uint32, left, right uint32) {
	WriteTag(mem, addr, TagConcat)
	mem.Store32(addr+WordSize, lenBytes)
	mem.Store32(addr+2*WordSize, left)
	mem.Store32(addr+3*WordSize, right)
}

func ConcatLen(mem Mem, addr uint32) uint32 {
	return mem.Load32(addr + WordSize)
}

func ConcatLeftAddr(addr uint32) uint32  { return addr + 2*WordSize }
func ConcatRightAddr(addr uint32) uint32 { return addr + 3*WordSize }

// --- Null: a tag-only singleton ---------------------------------------

func WriteNull(mem Mem, addr uint32) {
	WriteTag(mem, addr, TagNull)
}

// ObjectSize returns the total size, in words, of the object at addr,
// including its header. This is the "read a tag then add object_size(tag)"
// step every linear page scan (space padding, mark-compact update-refs, the
// sanity checker) performs to stay within invariant I1.
//
// An addr whose tag falls outside every known case means the heap's own
// bookkeeping is broken (a stray write, a threading bug mid mark-compact),
// not a condition any caller can recover from — it traps through trap
// exactly like sanity.checkObjectHeader does for the same illegal-tag
// condition (spec §7.1), rather than a bare panic that bypasses the host's
// documented abort channel.
func ObjectSize(mem Mem, trap rtstrap.Hook, addr uint32) uint32 {
	switch tag := ReadTag(mem, addr); tag {
	case TagOneWordFiller:
		return 1
	case TagFreeSpace:
		return FreeSpaceWords(mem, addr)
	case TagMutBox, TagObjInd, TagIndirection, TagFwdPtr, TagSome, TagBits32:
		return 2
	case TagVariant, TagBits64:
		return 3
	case TagConcat:
		return 4
	case TagNull:
		return 1
	case TagArray, TagObject:
		return 2 + ArrayLen(mem, addr)
	case TagBlob:
		return 2 + WordsForBytes(BlobLen(mem, addr))
	case TagClosure:
		return 3 + ClosureNumFields(mem, addr)
	case TagBigInt:
		return 2 + BigIntLen(mem, addr)
	default:
		rtstrap.Trapf(trap, "object: unknown tag %v at %#x", tag, addr)
		return 0
	}
}

// VisitPointerFields calls fn with the address of every pointer-bearing
// field of the object at addr, in a fixed, deterministic order (spec §5).
// Scalar-only payloads (Bits32, Bits64, BigInt digits, Blob bytes) are never
// visited: they hold raw data, not Values.
//
// See ObjectSize's doc comment for why an illegal tag traps through trap
// rather than panicking.
func VisitPointerFields(mem Mem, trap rtstrap.Hook, addr uint32, tag Tag, fn func(fieldAddr uint32)) {
	switch tag {
	case TagMutBox, TagObjInd, TagIndirection:
		fn(MutBoxFieldAddr(addr))
	case TagSome:
		fn(SomeFieldAddr(addr))
	case TagVariant:
		fn(VariantFieldAddr(addr))
	case TagArray:
		n := ArrayLen(mem, addr)
		for i := uint32(0); i < n; i++ {
			fn(ArrayFieldAddr(addr, i))
		}
	case TagClosure:
		n := ClosureNumFields(mem, addr)
		for i := uint32(0); i < n; i++ {
			fn(ClosureFieldAddr(addr, i))
		}
	case TagConcat:
		fn(ConcatLeftAddr(addr))
		fn(ConcatRightAddr(addr))
	case TagObject:
		// Generic "Object" header with N pointer fields laid out exactly
		// like Array's payload, minus the length/tag distinction at the
		// use site; modeled identically here since its ABI is "N fields
		// following the header" per spec §3.
		n := ArrayLen(mem, addr)
		for i := uint32(0); i < n; i++ {
			fn(ArrayFieldAddr(addr, i))
		}
	case TagBlob, TagBits32, TagBits64, TagBigInt, TagNull,
		TagFwdPtr, TagOneWordFiller, TagFreeSpace:
		// No pointer fields.
	default:
		rtstrap.Trapf(trap, "object: unknown tag %v at %#x", tag, addr)
	}
}
