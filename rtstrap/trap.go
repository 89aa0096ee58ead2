// Package rtstrap implements the single unrecoverable-abort hook that the
// heap uses instead of threading error values through the allocation and
// collection hot paths. See the Hooks contract in package heap.
package rtstrap

import "fmt"

// Hook aborts the process with msg. It must never return. Production code
// wires this to the host runtime's rts_trap_with; tests wire it to a Hook
// that panics so the trap can be recovered and asserted on.
type Hook func(msg string)

// Trapped is the panic value raised by the test Hook so callers can recover
// and inspect the trap message with errors.As-style assertions.
type Trapped struct {
	Msg string
}

func (t *Trapped) Error() string { return t.Msg }

// TestHook panics with a *Trapped carrying msg. Use in tests that need to
// assert a particular code path traps, e.g.:
//
//	defer func() {
//	    r := recover()
//	    trapped, ok := r.(*Trapped)
//	    require.True(t, ok)
//	    require.Contains(t, trapped.Msg, "too large")
//	}()
func TestHook(msg string) {
	panic(&Trapped{Msg: msg})
}

// Trapf formats msg and invokes hook. Mirrors the teacher's throw(msg string)
// call sites (malloc.go, mcentral.go): a single function, no return value,
// the caller's control flow ends here.
func Trapf(hook Hook, format string, args ...interface{}) {
	hook(fmt.Sprintf(format, args...))
}
