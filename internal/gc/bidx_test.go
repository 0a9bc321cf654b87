package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// isDirectNodeOfs reports whether ofs is the inode (0) or a direct node in
// the node tree: 1-2, the children of the indirect nodes at 3 and
// NidsPerBlock+4, and the children of each indirect node under the
// double-indirect node at 2*NidsPerBlock+5.
func isDirectNodeOfs(ofs uint32) bool {
	switch {
	case ofs <= 2:
		return true
	case ofs == 3, ofs == NidsPerBlock+4, ofs == 2*NidsPerBlock+5:
		return false
	case ofs > 2*NidsPerBlock+5:
		return (ofs-(2*NidsPerBlock+6))%(NidsPerBlock+1) != 0
	default:
		return true
	}
}

// TestStartBidxOfNode_Monotonic checks the round-trip law implied by §6:
// StartBidxOfNode must be non-decreasing across the direct-node offsets
// (indirect-node offsets are outside its contract and are skipped), since
// node offsets are visited in tree order and each covers a disjoint,
// increasing run of data block indices.
func TestStartBidxOfNode_Monotonic(t *testing.T) {
	last := uint64(0)
	for ofs := uint32(0); ofs <= uint32(2*NidsPerBlock+4+NidsPerBlock*NidsPerBlock); ofs++ {
		if !isDirectNodeOfs(ofs) {
			continue
		}
		got := StartBidxOfNode(ofs)
		if ofs > 0 {
			assert.GreaterOrEqualf(t, got, last, "StartBidxOfNode(%d) went backwards", ofs)
		}
		last = got
	}
}

func TestStartBidxOfNode_KnownPoints(t *testing.T) {
	assert.Equal(t, uint64(0), StartBidxOfNode(0))
	assert.Equal(t, uint64(AddrsPerInode), StartBidxOfNode(1))
	assert.Equal(t, uint64(AddrsPerBlock+AddrsPerInode), StartBidxOfNode(2))
}

// TestStartBidxOfNode_DirectRangeLowEnd pins down nodeOfs values right at
// the start of the dec-subtraction range (nodeOfs-4 in the formula), where a
// uint32 computation of "nodeOfs-4" wraps instead of going negative. Each
// expected value is dec*AddrsPerBlock+AddrsPerInode worked out by hand:
// dec truncates toward zero, so nodeOfs 3 and 4 both give dec=0.
func TestStartBidxOfNode_DirectRangeLowEnd(t *testing.T) {
	assert.Equal(t, uint64(1*AddrsPerBlock+AddrsPerInode), StartBidxOfNode(3), "nodeOfs=3: dec=(3-4)/1019=0, bidx=3-2-0=1")
	assert.Equal(t, uint64(2*AddrsPerBlock+AddrsPerInode), StartBidxOfNode(4), "nodeOfs=4: dec=(4-4)/1019=0, bidx=4-2-0=2")
	assert.Equal(t, uint64(3*AddrsPerBlock+AddrsPerInode), StartBidxOfNode(5), "nodeOfs=5: dec=(5-4)/1019=0, bidx=5-2-0=3")
}

// TestStartBidxOfNode_IndirectBoundary pins down the last offset handled by
// the direct-range dec formula and the first handled by the double-indirect
// formula, to guard against the same kind of unsigned-subtraction mistake at
// that boundary (nodeOfs-indirectBlks-3 also goes negative just past it).
func TestStartBidxOfNode_IndirectBoundary(t *testing.T) {
	lastDirect := uint32(2*NidsPerBlock + 4)
	assert.Equal(t, uint64(2037*AddrsPerBlock+AddrsPerInode), StartBidxOfNode(lastDirect), "nodeOfs=2040: dec=(2040-4)/1019=1, bidx=2040-2-1=2037")
	assert.Equal(t, uint64(2036*AddrsPerBlock+AddrsPerInode), StartBidxOfNode(lastDirect+1), "nodeOfs=2041: dec=(2041-indirectBlks(2040)-3)/1019=0, bidx=2041-5-0=2036")
}
