package gc

// Node-tree geometry constants for a standard 4KiB-block layout, mirroring
// the source filesystem's ADDRS_PER_BLOCK / ADDRS_PER_INODE / NIDS_PER_BLOCK.
const (
	AddrsPerBlock = 1018
	AddrsPerInode = 923 // fewer slots in the inode block itself (extra fields)
	NidsPerBlock  = 1018
)

var indirectBlks = 2*NidsPerBlock + 4

// StartBidxOfNode maps a direct-node offset within an inode's node tree to
// the first data block index it covers (§6). Callers must pass only
// direct-node offsets. The argument is not checked and the function never
// panics: for an indirect or double-indirect node offset it returns the
// value of the formula, which is not the start of any data range.
//
// The dec subtractions below are computed in int64 rather than nodeOfs's
// native uint32: nodeOfs-4 (and the double-indirect equivalent) go negative
// for small in-range offsets such as nodeOfs==3, and an unsigned subtraction
// there wraps to a huge positive value instead of truncating toward zero the
// way C's division does.
func StartBidxOfNode(nodeOfs uint32) uint64 {
	switch {
	case nodeOfs == 0:
		return 0
	case nodeOfs >= 1 && nodeOfs <= 2:
		return uint64(nodeOfs-1)*AddrsPerBlock + AddrsPerInode
	case nodeOfs >= 3 && nodeOfs <= uint32(2*NidsPerBlock+4):
		ofs := int64(nodeOfs)
		dec := (ofs - 4) / int64(NidsPerBlock+1)
		return uint64(ofs-2-dec)*AddrsPerBlock + AddrsPerInode
	default:
		// Double-indirect range.
		ofs := int64(nodeOfs)
		dec := (ofs - int64(indirectBlks) - 3) / int64(NidsPerBlock+1)
		return uint64(ofs-5-dec)*AddrsPerBlock + AddrsPerInode
	}
}
