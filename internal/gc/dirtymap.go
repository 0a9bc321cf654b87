package gc

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// RoaringBitmap implements Bitmap on top of a roaring.Bitmap, grounded on
// the teacher's own use of a roaring-bitmap package for set representation
// (adapters/repos/db/roaringset, imported by segment_group.go). dirty_segmap
// and victim_secmap (§3) are both sparse, large, bit-tested-far-more-than-
// mutated sets -- roaring's compressed runs make the victim selector's
// wrap-once linear scan (§4.2) a sequence of O(1) "next set bit" hops
// instead of a bit-by-bit walk. It is exported so every producer of a
// gc.Bitmap (testdisk's fixture disk, the on-disk SIT) shares this one
// implementation instead of each hand-rolling its own.
type RoaringBitmap struct {
	mu sync.Mutex
	bm *roaring.Bitmap
}

func NewRoaringBitmap() *RoaringBitmap {
	return &RoaringBitmap{bm: roaring.New()}
}

func (r *RoaringBitmap) Test(bit uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bm.Contains(bit)
}

func (r *RoaringBitmap) Set(bit uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bm.Add(bit)
}

func (r *RoaringBitmap) Clear(bit uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bm.Remove(bit)
}

// NextSet returns the smallest set bit >= from, without wrapping; callers
// implement wrap-around themselves (the victim selector wraps exactly
// once, per §4.2).
func (r *RoaringBitmap) NextSet(from uint32) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it := r.bm.Iterator()
	it.AdvanceIfNeeded(from)
	if !it.HasNext() {
		return 0, false
	}
	return it.Next(), true
}

func (r *RoaringBitmap) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bm.GetCardinality()
}
