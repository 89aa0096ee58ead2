package markstack

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cloudfly/wasmgc/pagealloc"
	"github.com/cloudfly/wasmgc/rtstrap"
)

func noTrap(t *testing.T) func(string) {
	return func(msg string) { t.Fatalf("unexpected trap: %s", msg) }
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

// P3: for any sequence of pushes followed by the same number of pops, the
// pop sequence is the exact reverse of the push sequence, even across
// multiple chunks.
func TestMarkStackPushPopIsLIFO(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		pa := pagealloc.NewTestPageAlloc(noTrap(t))
		s := New(pa, noTrap(t))

		n := rapid.IntRange(0, 2000).Draw(rt, "n")
		type pair struct{ obj, tag uint32 }
		var pushed []pair
		for i := 0; i < n; i++ {
			obj := rapid.Uint32().Draw(rt, "obj")
			tag := rapid.Uint32().Draw(rt, "tag")
			s.Push(obj, tag)
			pushed = append(pushed, pair{obj, tag})
		}

		for i := len(pushed) - 1; i >= 0; i-- {
			obj, tag, ok := s.Pop()
			require.True(t, ok)
			require.Equal(t, pushed[i].obj, obj)
			require.Equal(t, pushed[i].tag, tag)
		}
		_, _, ok := s.Pop()
		require.False(t, ok)

		s.Free()
	})
}

func TestMarkStackGrowsAcrossMultipleChunks(t *testing.T) {
	pa := pagealloc.NewTestPageAlloc(rtstrap.TestHook)
	s := New(pa, rtstrap.TestHook)

	const n = 5000
	for i := uint32(0); i < n; i++ {
		s.Push(i, i+1)
	}
	require.True(t, len(s.chunks) > 1)

	// Remember an address inside the second chunk: draining the stack back
	// past it must return that chunk's page to the allocator, not just drop
	// it from s.chunks.
	secondChunkAddr := s.chunks[1].ContentsStart()

	for i := uint32(n); i > 0; i-- {
		obj, tag, ok := s.Pop()
		require.True(t, ok)
		require.Equal(t, i-1, obj)
		require.Equal(t, i, tag)
	}
	require.Equal(t, 1, len(s.chunks))

	msg := expectTrap(t, func() { pa.Load32(secondChunkAddr) })
	require.Contains(t, msg, "currently allocated")

	s.Free()
}
