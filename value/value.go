// Package value implements the tagged, skewed 32-bit word that is the only
// currency pointer fields and scalars are allowed to carry. See spec §3.
//
// Every pointer field either holds a scalar (low two bits 00) or a skewed
// pointer (low two bits 01, i.e. the real address plus one). Skewing keeps a
// raw object address (which always ends in 00, since objects are
// word-aligned and tags are odd) from ever being mistaken for a tagged
// value, and it keeps the zero word a valid scalar instead of a dangling
// pointer. All arithmetic on Value must go through this package; nothing
// else may touch the tag bits directly (spec §9, "forbid ad-hoc arithmetic
// elsewhere").
package value

// Value is a 32-bit tagged word: a scalar or a skewed heap/static pointer.
type Value uint32

const (
	skew     = 1
	tagBits  = 2
	tagMask  = (1 << tagBits) - 1
	scalarOf = 0 // low bits of a scalar
)

// FromScalar packs a 30-bit signed integer as a scalar Value.
func FromScalar(n int32) Value {
	return Value(uint32(n) << tagBits)
}

// GetScalar unpacks a scalar Value. Calling this on a pointer Value is a
// caller bug; it is not guarded here, mirroring the teacher's total,
// no-bounds-check accessors on already-validated words.
func (v Value) GetScalar() int32 {
	return int32(v) >> tagBits
}

// FromPtr skews a word-aligned heap address into a pointer Value.
func FromPtr(addr uint32) Value {
	return Value(addr + skew)
}

// GetPtr removes the skew, returning the raw heap address.
func (v Value) GetPtr() uint32 {
	return uint32(v) - skew
}

// IsPtr reports whether v's low two bits are the skew pattern (01).
func (v Value) IsPtr() bool {
	return uint32(v)&tagMask == skew
}

// IsScalar reports whether v's low two bits are 00. IsPtr and IsScalar are
// mutually exclusive and jointly exhaustive over the low two bits other than
// the `10` and `11` patterns, which this object model never produces: every
// tag word (odd, bit 0 set) is only ever read through the object package,
// never wrapped in a Value.
func (v Value) IsScalar() bool {
	return uint32(v)&tagMask == scalarOf
}

// Raw returns the bit pattern of v unchanged, for storage in object headers
// during threading (§4.7) where a Value slot temporarily holds a raw header
// word rather than a real scalar or pointer.
func (v Value) Raw() uint32 { return uint32(v) }

// FromRaw wraps an arbitrary 32-bit pattern without interpreting it. No
// package in this module calls it; gc/compact's threading code moves raw
// header words with Load32/Store32 directly.
func FromRaw(bits uint32) Value { return Value(bits) }
