package bitmap

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// flatMem is a trivial Mem backed by a plain word slice, enough to exercise
// Bitmap in isolation without pulling in a PageAlloc.
type flatMem struct {
	words []uint32
}

func newFlatMem(nWords int) *flatMem {
	return &flatMem{words: make([]uint32, nWords)}
}

func (m *flatMem) Load32(addr uint32) uint32 {
	return m.words[addr/4]
}

func (m *flatMem) Store32(addr uint32, v uint32) {
	m.words[addr/4] = v
}

func newBitmap(nBits uint32) *Bitmap {
	mem := newFlatMem(int(Bytes(nBits) / 4))
	return &Bitmap{Mem: mem, Base: 0, NBits: nBits}
}

// P4: after any sequence of set(i) on distinct i in [0, N), iter() yields
// those i ascending then IterEnd, and get(j) is true iff j was set.
func TestBitmapSetIterProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.Uint32Range(1, 2000).Draw(rt, "n")
		bm := newBitmap(n)

		idxGen := rapid.Uint32Range(0, n-1)
		set := map[uint32]bool{}
		count := rapid.IntRange(0, 200).Draw(rt, "count")
		for i := 0; i < count; i++ {
			idx := idxGen.Draw(rt, "idx")
			bm.Set(idx)
			set[idx] = true
		}

		var want []uint32
		for idx := range set {
			want = append(want, idx)
		}
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

		var got []uint32
		it := bm.Iter()
		for {
			idx := it.Next()
			if idx == IterEnd {
				break
			}
			got = append(got, idx)
		}
		require.Equal(t, want, got)

		for idx := uint32(0); idx < n; idx++ {
			require.Equal(t, set[idx], bm.Get(idx), "bit %d", idx)
		}
	})
}

func TestSetIsIdempotent(t *testing.T) {
	bm := newBitmap(128)
	bm.Set(5)
	bm.Set(5)
	require.True(t, bm.Get(5))
	it := bm.Iter()
	require.Equal(t, uint32(5), it.Next())
	require.Equal(t, IterEnd, it.Next())
}

func TestEmptyBitmapIterEndsImmediately(t *testing.T) {
	bm := newBitmap(64)
	it := bm.Iter()
	require.Equal(t, IterEnd, it.Next())
}
