package heap

import "github.com/cloudfly/wasmgc/value"

// Hooks is the small capability surface a host embeds Runtime with —
// spec §6 "Imported hooks (provided by the host runtime)". Production code
// wires TrapWith to rts_trap_with and the getters to wherever the
// continuation table, static roots, and heap base actually live outside
// this module's scope (the IDL/continuation-table subsystems spec.md
// explicitly models only the contract of, not the implementation of).
// PostWriteBarrier is an observer: Runtime's own bookkeeping (the
// remembered set) is authoritative, this just lets a host or test harness
// watch every barrier firing.
type Hooks interface {
	TrapWith(msg string)
	ContinuationTableLoc() uint32
	StaticRoots() value.Value
	HeapBase() uint32
	PostWriteBarrier(fieldAddr uint32)
}

// NopHooks is a Hooks implementation whose getters return the values it was
// built with; Trap is typically set to rtstrap.TestHook in tests so a
// triggered trap panics with *rtstrap.Trapped for recovery.
type NopHooks struct {
	Trap         func(msg string)
	ContTableLoc uint32
	Roots        value.Value
	Base         uint32
}

func (h NopHooks) TrapWith(msg string)          { h.Trap(msg) }
func (h NopHooks) ContinuationTableLoc() uint32 { return h.ContTableLoc }
func (h NopHooks) StaticRoots() value.Value     { return h.Roots }
func (h NopHooks) HeapBase() uint32             { return h.Base }
func (h NopHooks) PostWriteBarrier(uint32)      {}
