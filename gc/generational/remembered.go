package generational

import "sort"

// RememberedSet records old-to-young pointer-field addresses, maintained by
// the write barrier and consulted as extra roots by minor GC (spec §4.8). A
// Go map stands in for the original's "hash-table-of-blobs or similar".
type RememberedSet struct {
	fields map[uint32]struct{}
}

func NewRememberedSet() *RememberedSet {
	return &RememberedSet{fields: make(map[uint32]struct{})}
}

func (r *RememberedSet) Add(fieldAddr uint32) { r.fields[fieldAddr] = struct{}{} }

func (r *RememberedSet) Contains(fieldAddr uint32) bool {
	_, ok := r.fields[fieldAddr]
	return ok
}

func (r *RememberedSet) Remove(fieldAddr uint32) { delete(r.fields, fieldAddr) }

func (r *RememberedSet) Len() int { return len(r.fields) }

// Fields returns the recorded field addresses in ascending order, so callers
// that re-derive liveness from them (minor GC, the sanity checker) see a
// deterministic root order.
func (r *RememberedSet) Fields() []uint32 {
	out := make([]uint32, 0, len(r.fields))
	for f := range r.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *RememberedSet) Clear() { r.fields = make(map[uint32]struct{}) }
