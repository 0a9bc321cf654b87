// Package gc implements the garbage-collector core of the flash-friendly
// log-structured filesystem: pacing, victim selection, block relocation and
// the per-section reclamation loop. See SPEC_FULL.md for the full contract.
package gc

import "time"

// Segno identifies one fixed-size segment of B blocks.
type Segno uint32

// Secno identifies one section, a contiguous run of S segments.
type Secno uint32

// NID is a node id, indexing into the node address table.
type NID uint32

// Ino is an inode number.
type Ino uint32

// BlkAddr is an absolute block address in the main storage area.
type BlkAddr uint64

const (
	// NullAddr marks an unmapped block address.
	NullAddr BlkAddr = 0
	// NewAddr marks a block newly allocated but not yet on disk.
	NewAddr BlkAddr = ^BlkAddr(0)
)

// GCType distinguishes synchronous, reclaim-now GC from paced background GC.
type GCType int

const (
	BgGC GCType = iota
	FgGC
)

func (t GCType) String() string {
	if t == FgGC {
		return "FG"
	}
	return "BG"
}

// AllocMode selects how the allocator places new writes.
type AllocMode int

const (
	// LFS appends to a fresh segment; SSR reuses holes in a dirty one.
	LFS AllocMode = iota
	SSR
)

// GCMode selects the cost model used during victim selection.
type GCMode int

const (
	GCGreedy GCMode = iota
	GCCostBenefit
	gcModeCount // sentinel, keep last
)

// SegmentKind distinguishes what a segment holds and, for dirty tracking,
// which writeback-affinity class a node segment belongs to.
type SegmentKind int

const (
	DirtyHotNode SegmentKind = iota
	DirtyWarmNode
	DirtyColdNode
	DirtyHotData
	DirtyWarmData
	DirtyColdData
	// Dirty is the union kind used by LFS victim search: any segment with
	// at least one valid block that isn't the current append target.
	Dirty
	segmentKindCount
)

// SummaryFooterType is the on-disk discriminator read from a segment's
// summary block, dispatching relocation to the node or data path (§4.6).
type SummaryFooterType int

const (
	SumTypeNode SummaryFooterType = iota
	SumTypeData
)

// SummaryEntry is one per-block record of a segment's summary, recording
// the parent node reference of the block at that offset (§3).
type SummaryEntry struct {
	Nid       NID
	Version   uint8
	OfsInNode uint16
}

// SegEntry mirrors one SIT record: the liveness bitmap and bookkeeping the
// GC reads (never writes) for a single segment (§3).
type SegEntry struct {
	Segno            Segno
	Mtime            uint64
	CurValidMap      []byte // B bits, packed
	CkptValidBlocks  int
	ValidBlocks      int
}

// NATEntry mirrors one node-address-table record (§3, §6).
type NATEntry struct {
	Ino     Ino
	BlkAddr BlkAddr
	Version uint8
}

// ClassifyPolicy selects how the data relocator treats a cached-but-clean
// block: always rewrite it, or skip the payload re-read when possible.
// Collapses the source's duplicated FG/BG data relocators (§9).
type ClassifyPolicy int

const (
	AlwaysMove ClassifyPolicy = iota
	ClassifyByCacheState
)

// BlockClass is the per-block relocation path chosen in phase 2 of the data
// relocator (§4.5).
type BlockClass int

const (
	ClassMove BlockClass = iota
	ClassRemap
	ClassEncrypted
)

// GCThresholds are the tuning knobs named in §6 ("gc_th fields").
type GCThresholds struct {
	MinSleep    time.Duration
	MaxSleep    time.Duration
	NoGCSleep   time.Duration
	GCIdle      int // 0 = auto, 1 = force cost-benefit, 2 = force greedy
}

// DefaultGCThresholds mirrors the shipped defaults of the source filesystem.
func DefaultGCThresholds() GCThresholds {
	return GCThresholds{
		MinSleep:  30 * time.Millisecond,
		MaxSleep:  20 * time.Second,
		NoGCSleep: 5 * time.Minute,
		GCIdle:    0,
	}
}

// Status is the outcome of a synchronous f2fs_gc call (§6, §7).
type Status int

const (
	StatusOK Status = iota
	StatusAgain
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAgain:
		return "again"
	default:
		return "invalid"
	}
}
