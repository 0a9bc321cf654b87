package gc

import (
	"context"

	"github.com/sirupsen/logrus"
)

// NodeRelocator implements the node-segment path of C4 (§4.4): a two-pass
// readahead-then-relocate walk over one segment's summary block.
type NodeRelocator struct {
	log    logrus.FieldLogger
	nodes  NodeManager
	segs   SegmentManager
	wb     NodeWriteback
	live   *LivenessOracle
	blocksPerSeg int
}

func NewNodeRelocator(log logrus.FieldLogger, nodes NodeManager, segs SegmentManager, wb NodeWriteback, live *LivenessOracle, blocksPerSeg int) *NodeRelocator {
	return &NodeRelocator{log: log, nodes: nodes, segs: segs, wb: wb, live: live, blocksPerSeg: blocksPerSeg}
}

// Relocate moves every surviving block of segno to a new log position.
// Returns 1 (FG only) iff the segment has zero valid blocks after
// flushing, per the success signal of §4.4.
func (r *NodeRelocator) Relocate(ctx context.Context, segno Segno, sum SummaryPage, gcType GCType) (int, error) {
	if gcType == BgGC && r.segs.FreeSegments() < r.minFreeSectionsForBG() {
		// Early abort (§4.4): BG GC backs off immediately under free-space
		// pressure rather than generating more writeback.
		return 0, nil
	}

	startAddr := r.segs.StartAddr(segno)

	// Pass 1: readahead, no commitment.
	for off := 0; off < r.blocksPerSeg; off++ {
		if !r.segs.CheckValidMap(segno, off) {
			continue
		}
		r.nodes.RaNodePage(ctx, sum.Entry(off).Nid)
	}

	// Pass 2: relocate.
	for off := 0; off < r.blocksPerSeg; off++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !r.segs.CheckValidMap(segno, off) {
			continue
		}

		entry := sum.Entry(off)

		page, err := r.nodes.GetNodePage(ctx, entry.Nid)
		if err != nil {
			// IoError: skip this block, continue the pass (§7).
			r.log.WithFields(logrus.Fields{"action": "gc_node_relocate", "segno": segno, "off": off}).
				WithError(err).Debug("skip block: node page read failed")
			continue
		}

		if !r.segs.CheckValidMap(segno, off) {
			r.nodes.PutPage(page)
			continue
		}

		dni, err := r.nodes.GetNodeInfo(ctx, entry.Nid)
		if err != nil {
			r.nodes.PutPage(page)
			continue
		}
		if dni.BlkAddr != startAddr+BlkAddr(off) {
			// StaleReference: NAT points elsewhere now (§7, §8.1).
			r.nodes.PutPage(page)
			continue
		}

		if gcType == FgGC {
			page.WaitOnWriteback(ctx)
			page.SetDirty()
		} else if !page.Writeback() {
			page.SetDirty()
		}

		r.nodes.PutPage(page)
	}

	if gcType == FgGC {
		if err := r.wb.SyncNodePages(ctx, segno, true); err != nil {
			return 0, wrapErr(KindIOError, "flush relocated node pages", err)
		}
		if r.segs.GetValidBlocks(segno, 1) == 0 {
			return 1, nil
		}
		return 0, nil
	}

	// BG relies on the normal writeback path to pick up dirtied pages.
	return 0, nil
}

// minFreeSectionsForBG is a small, fixed backoff threshold: below it, BG
// GC's node relocation yields rather than adding more writeback pressure.
// The exact shape of this threshold is not specified; only that one exists
// (§4.4, "Early abort").
func (r *NodeRelocator) minFreeSectionsForBG() int { return 1 }
