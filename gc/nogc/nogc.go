// Package nogc is the no-op collector baseline (spec §6 "schedule_no_gc(),
// no_gc() — benchmark baselines"): a Space that only ever grows, used to
// measure pure allocation throughput and to bound the other collectors'
// overhead against a do-nothing reference point.
package nogc

// Run is a deliberate no-op: there is no mark phase, no moving, nothing to
// free. The mutator keeps allocating into the existing space until the page
// allocator itself runs out.
func Run() {}

// ShouldGrowHeap always answers false: schedule_no_gc never triggers a
// collection, it only ever asks the page allocator for more pages.
func ShouldGrowHeap(allocatedSinceLast uint64, heapLimit uint64) bool {
	return false
}
