package gc

import "context"

// The interfaces below are the "consumed" contracts of §6: the on-disk
// format, NAT, SIT, page cache, block I/O and checkpoint writer are out of
// scope (§1) and accessed only through these seams. Production wiring lives
// outside this package; internal/testdisk provides a reference
// implementation used by this package's own tests.

// NodePage is a locked, in-memory view of one node block.
type NodePage interface {
	Nid() NID
	OfsOfNode() uint32 // node offset encoded on the page, for nofs reporting
	DatablockAddr(ofsInNode uint16) BlkAddr
	SetDirty()
	Dirty() bool
	WaitOnWriteback(ctx context.Context)
	Writeback() bool
}

// DataPage is a locked, in-memory view of one data block.
type DataPage interface {
	Cached() bool
	Dirty() bool
	SetDirty()
	ClearDirtyForIO()
	WaitOnWriteback(ctx context.Context)
}

// NodeManager is the node-page and NAT collaborator (get_node_page,
// ra_node_page, get_node_info, f2fs_iget, f2fs_put_page, NAT/extent-cache
// updates in §6).
type NodeManager interface {
	GetNodePage(ctx context.Context, nid NID) (NodePage, error)
	RaNodePage(ctx context.Context, nid NID)
	GetNodeInfo(ctx context.Context, nid NID) (NATEntry, error)
	PutPage(p NodePage)

	Iget(ctx context.Context, ino Ino) (Inode, error)
	PutInode(i Inode)
}

// Inode is the minimal view of an inode the data relocator needs.
type Inode interface {
	Ino() Ino
	Encrypted() bool
	IsRegular() bool
	UpdateExtentCache(startBidx uint64, addr BlkAddr)
}

// PageCache is the data page-cache collaborator consulted during phase 2 of
// the data relocator (§4.5) to classify a block as MOVE/REMAP without
// blocking on a cache miss.
type PageCache interface {
	// Probe reports whether the data block at (ino, bidx) is resident and,
	// if so, whether it is dirty, without pulling it in on a miss.
	Probe(ctx context.Context, ino Ino, bidx uint64) (page DataPage, cached bool, err error)
	// Get returns the page, reading it in if necessary (used by MOVE).
	Get(ctx context.Context, ino Ino, bidx uint64) (DataPage, error)
	// GetMeta returns the ciphertext page through the meta-inode, used by
	// the ENCRYPTED path (§4.5) to preserve encryption context.
	GetMeta(ctx context.Context, addr BlkAddr) (DataPage, error)
	Put(p DataPage)
}

// SummaryManager reads a victim segment's summary block (get_sum_page,
// datablock_addr, ofs_of_node in §6).
type SummaryManager interface {
	GetSumPage(ctx context.Context, segno Segno) (SummaryPage, error)
}

// SummaryPage exposes the per-block summary entries of one segment and its
// footer type, and must be released after the caller is done with it (the
// orchestrator releases it immediately per §4.6 step 2, to avoid the
// sum_page/sentry_lock deadlock cycle documented in §5).
type SummaryPage interface {
	FooterType() SummaryFooterType
	Entry(off int) SummaryEntry
	Release()
}

// SegmentManager is the SIT collaborator (get_valid_blocks, get_seg_entry,
// check_valid_map, free/prefree accounting, has_enough_invalid_blocks,
// has_not_enough_free_secs, is_idle in §6).
type SegmentManager interface {
	GetSegEntry(segno Segno) SegEntry
	GetValidBlocks(segno Segno, ofsUnit int) int
	CheckValidMap(segno Segno, off int) bool

	DirtySegmap(kind SegmentKind) Bitmap
	VictimSecmap() Bitmap

	SecUsageCheck(secno Secno) bool // true = section currently in use, excluded from scan

	HasNotEnoughFreeSecs(secFreed int) bool
	HasEnoughInvalidBlocks() bool
	PrefreeSegments() int
	FreeSegments() int

	StartAddr(segno Segno) BlkAddr
}

// IOState reports whether the block layer is idle, for pacer gating (§4.1).
type IOState interface {
	IsIdle() bool
}

// Allocator assigns new log positions for relocated blocks and lets the
// normal write path update SIT/NAT (§5, "GC never mutates segment entries
// directly").
type Allocator interface {
	AllocateDataBlock(ctx context.Context, old BlkAddr, cold bool) (BlkAddr, error)
}

// IOSubmitter is the block I/O submission collaborator.
type IOSubmitter interface {
	SubmitPageBio(ctx context.Context, p DataPage, addr BlkAddr) error
	SubmitPageMbio(ctx context.Context, p DataPage, addr BlkAddr) error
	SubmitMergedBio(ctx context.Context) error
}

// NodeWriteback flushes dirty node pages (sync_node_pages in §6).
type NodeWriteback interface {
	SyncNodePages(ctx context.Context, segno Segno, syncAll bool) error
}

// Checkpointer is the checkpoint writer and freeze-state collaborator.
type Checkpointer interface {
	WriteCheckpoint(ctx context.Context) error
	FilesystemActive() bool
	CheckpointError() bool
	Frozen() bool // true at or above write-freeze
}

// Balancer runs background metadata balancing after each BG pacer tick
// (f2fs_balance_fs_bg in §6).
type Balancer interface {
	BalanceFsBG(ctx context.Context)
}

// Bitmap is the minimal per-bit operation set the victim selector and dirty
// tracking need; internal/gc/dirtymap.go supplies a roaring-bitmap backed
// implementation.
type Bitmap interface {
	Test(bit uint32) bool
	Set(bit uint32)
	Clear(bit uint32)
	NextSet(from uint32) (bit uint32, ok bool)
	Count() uint64
}

// Deps bundles every external collaborator the GC package needs. A single
// struct (rather than one constructor parameter per interface) mirrors the
// teacher's *pattern* of threading a handful of shared collaborators
// (logger, metrics, alloc checker) through its constructors.
type Deps struct {
	Nodes     NodeManager
	Summaries SummaryManager
	Segments  SegmentManager
	Pages     PageCache
	IO        IOState
	Alloc     Allocator
	Submit    IOSubmitter
	Writeback NodeWriteback
	Ckpt      Checkpointer
	Balance   Balancer
}
