// Package memmod models the growable 32-bit linear address space a
// WebAssembly-style VM exposes to its heap: a single contiguous byte arena
// that can only grow, in fixed-size OS/wasm pages, never shrink. See
// spec §5 "Memory growth": "The page allocator is the only component that
// grows the underlying linear memory; it rounds the requested byte ceiling
// up to the platform page size and traps on failure."
//
// This package supplies that primitive for package pagealloc's production
// backend. It also defines the Memory capability spec §9 calls out
// separately from PageAlloc: a bare alloc_words(n) used by the generational
// collector's own mark-stack buffer (spec §4.5). space.Space is the type
// that implements it in this module.
package memmod

import "github.com/cloudfly/wasmgc/value"

// WasmPageBytes is the unit the underlying linear memory grows by, matching
// the 64KiB page size of the WebAssembly memory model this heap targets.
const WasmPageBytes = 64 * 1024

// Memory is the allocation capability used where a component needs to bump
// an allocation pointer directly without the page-rollover and filler
// bookkeeping a full space.Space performs. space.Space itself satisfies
// this interface, which is how the generational mark stack's grow_stack
// (spec §4.5) gets its backing storage without depending on the
// mark-compact MarkStack's page-chunked design.
type Memory interface {
	AllocWords(n uint32) value.Value
}

// Arena is a growable byte-addressed linear memory. Addresses are byte
// offsets into arena.bytes; growth is only ever upward and only ever in
// whole WasmPageBytes pages, mirroring a real wasm memory.grow.
type Arena struct {
	bytes []byte
	trap  func(msg string)
}

// NewArena creates an arena with an initial size of initPages wasm pages.
func NewArena(initPages uint32, trap func(msg string)) *Arena {
	a := &Arena{trap: trap}
	a.bytes = make([]byte, uint64(initPages)*WasmPageBytes)
	return a
}

// Size reports the arena's current size in bytes.
func (a *Arena) Size() uint32 { return uint32(len(a.bytes)) }

// Grow extends the arena so it is at least minBytes long, rounding up to a
// whole number of wasm pages, per spec §5. Traps if the platform refuses to
// grow further (modeled here as an implementation-chosen ceiling).
func (a *Arena) Grow(minBytes uint32) {
	if uint32(len(a.bytes)) >= minBytes {
		return
	}
	const maxBytes = 4 << 30 // 4GiB: the full 32-bit address space ceiling
	newPages := (uint64(minBytes) + WasmPageBytes - 1) / WasmPageBytes
	newSize := newPages * WasmPageBytes
	if newSize > maxBytes {
		a.trap("out of memory: linear memory growth exceeds address space")
		return
	}
	grown := make([]byte, newSize)
	copy(grown, a.bytes)
	a.bytes = grown
}

// Load32 reads a little-endian word at addr. Out-of-range reads trap: they
// indicate a bug in an upstream address computation, not a recoverable
// condition (spec §7 posture 1).
func (a *Arena) Load32(addr uint32) uint32 {
	if uint64(addr)+4 > uint64(len(a.bytes)) {
		a.trap("memmod: load out of bounds")
		return 0
	}
	b := a.bytes[addr : addr+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Store32 writes a little-endian word at addr.
func (a *Arena) Store32(addr uint32, v uint32) {
	if uint64(addr)+4 > uint64(len(a.bytes)) {
		a.trap("memmod: store out of bounds")
		return
	}
	b := a.bytes[addr : addr+4]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// LoadByte/StoreByte support Blob payload access, which is byte- rather
// than word-granular.
func (a *Arena) LoadByte(addr uint32) byte {
	if uint64(addr) >= uint64(len(a.bytes)) {
		a.trap("memmod: byte load out of bounds")
		return 0
	}
	return a.bytes[addr]
}

func (a *Arena) StoreByte(addr uint32, v byte) {
	if uint64(addr) >= uint64(len(a.bytes)) {
		a.trap("memmod: byte store out of bounds")
		return
	}
	a.bytes[addr] = v
}

// CopyWords memcpy's n words from src to dst, used by both collectors to
// relocate objects (spec §4.6 Evacuate, §4.7 update-refs). Ranges may
// overlap only in the mark-compact direction (dst <= src, compacting
// downward), which copy handles correctly regardless.
func (a *Arena) CopyWords(dst, src uint32, n uint32) {
	nBytes := uint64(n) * 4
	if uint64(dst)+nBytes > uint64(len(a.bytes)) || uint64(src)+nBytes > uint64(len(a.bytes)) {
		a.trap("memmod: copy out of bounds")
		return
	}
	copy(a.bytes[dst:uint64(dst)+nBytes], a.bytes[src:uint64(src)+nBytes])
}
