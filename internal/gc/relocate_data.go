package gc

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/watersir/f2fs-change/internal/metrics"
)

// DataRelocator implements the data-segment path of C4 (§4.5): a
// four-phase walk that lets dependent reads (summary -> node -> inode ->
// data) be issued as readahead one level at a time. It is parameterised by
// a ClassifyPolicy so FG and BG share one implementation instead of the
// source's two near-identical relocators (§9).
type DataRelocator struct {
	log    logrus.FieldLogger
	nodes  NodeManager
	segs   SegmentManager
	pages  PageCache
	live   *LivenessOracle
	alloc  Allocator
	submit IOSubmitter

	blocksPerSeg int
	// raConcurrency bounds phase 0/1 readahead fan-out, grounded on the
	// errgroup + semaphore pattern used for background archival fan-out in
	// kbfs's folderBlockManager.
	raConcurrency int

	metrics *metrics.GC
}

func NewDataRelocator(log logrus.FieldLogger, nodes NodeManager, segs SegmentManager, pages PageCache, live *LivenessOracle, alloc Allocator, submit IOSubmitter, blocksPerSeg int, m *metrics.GC) *DataRelocator {
	return &DataRelocator{
		log: log, nodes: nodes, segs: segs, pages: pages, live: live,
		alloc: alloc, submit: submit, blocksPerSeg: blocksPerSeg, raConcurrency: 16,
		metrics: m,
	}
}

type dataBlockState struct {
	off       int
	summary   SummaryEntry
	dni       NATEntry
	nofs      uint32
	inode     Inode
	class     BlockClass
	startBidx uint64
}

// Relocate moves every surviving data block of segno. policy selects
// AlwaysMove (BG) or ClassifyByCacheState (FG); gcList accumulates pinned
// inodes for the whole f2fs_gc call, released by the orchestrator (§3).
// Returns 1 (FG only) iff the segment has zero valid blocks afterward.
func (r *DataRelocator) Relocate(ctx context.Context, segno Segno, sum SummaryPage, gcType GCType, policy ClassifyPolicy, gcList *inodeList) (int, error) {
	startAddr := r.segs.StartAddr(segno)

	validOffs := make([]int, 0, r.blocksPerSeg)
	for off := 0; off < r.blocksPerSeg; off++ {
		if r.segs.CheckValidMap(segno, off) {
			validOffs = append(validOffs, off)
		}
	}

	// Phase 0: readahead the node page referenced by each block's summary.
	r.fanout(validOffs, func(off int) error {
		r.nodes.RaNodePage(ctx, sum.Entry(off).Nid)
		return nil
	})

	// Phase 1: liveness oracle, then readahead the inode page.
	states := make(map[int]*dataBlockState, len(validOffs))
	var statesMu sync.Mutex
	r.fanout(validOffs, func(off int) error {
		entry := sum.Entry(off)
		blkaddr := startAddr + BlkAddr(off)
		res, err := r.live.IsAlive(ctx, entry, blkaddr)
		if err != nil || !res.Alive {
			return nil // skipped silently, §7
		}
		// Inode nid equals ino in the on-disk node tree.
		r.nodes.RaNodePage(ctx, NID(res.Dnode.Ino))

		statesMu.Lock()
		states[off] = &dataBlockState{off: off, summary: entry, dni: res.Dnode, nofs: res.Nofs}
		statesMu.Unlock()
		return nil
	})

	// Phase 2: iget, classify, release page probe reference, pin inode.
	for _, off := range validOffs {
		st, ok := states[off]
		if !ok {
			continue
		}

		inode, err := r.nodes.Iget(ctx, st.dni.Ino)
		if err != nil {
			delete(states, off)
			continue
		}

		// Phase 3 computes bidx uniformly as start_bidx + ofs_in_node for
		// every classification (§4.5), so startBidx must be set here too --
		// leaving it at its zero value would corrupt the extent-cache key
		// for any encrypted file whose node isn't the root direct node.
		st.startBidx = StartBidxOfNode(st.nofs)

		if inode.Encrypted() && inode.IsRegular() {
			gcList.addOrDedup(ctx, inode)
			st.class = ClassEncrypted
			st.inode = inode
			continue
		}

		bidx := st.startBidx + uint64(st.summary.OfsInNode)

		st.class = classify(ctx, r.pages, policy, gcType, st.dni.Ino, bidx)
		st.inode = gcList.addOrDedup(ctx, inode)
	}

	// Phase 3: relocate each classified block.
	freed := 0
	for _, off := range validOffs {
		st, ok := states[off]
		if !ok {
			continue
		}

		pinned, ok := gcList.get(st.dni.Ino)
		if !ok {
			continue
		}
		st.inode = pinned

		bidx := st.startBidx + uint64(st.summary.OfsInNode)
		blkaddr := startAddr + BlkAddr(off)

		var err error
		var classLabel string
		switch st.class {
		case ClassEncrypted:
			classLabel = "encrypted"
			err = r.relocateEncrypted(ctx, blkaddr, st.inode, bidx)
		case ClassRemap:
			classLabel = "remap"
			err = r.relocateRemap(ctx, blkaddr, st.inode, bidx)
		default:
			classLabel = "move"
			err = r.relocateMove(ctx, blkaddr, st.inode, bidx)
		}
		if err != nil {
			r.log.WithFields(logrus.Fields{"action": "gc_data_relocate", "segno": segno, "off": off}).
				WithError(err).Debug("skip block: relocate failed")
			continue
		}
		r.metrics.IncBlocksRelocated(classLabel)
		freed++
	}

	if gcType == FgGC {
		if err := r.submit.SubmitMergedBio(ctx); err != nil {
			return 0, wrapErr(KindIOError, "submit merged data writes", err)
		}
		if r.segs.GetValidBlocks(segno, 1) == 0 {
			return 1, nil
		}
	}
	return 0, nil
}

// classify implements the classification table of §4.5: BG always moves;
// FG distinguishes dirty-in-cache (MOVE) from clean-or-absent (REMAP).
func classify(ctx context.Context, pages PageCache, policy ClassifyPolicy, gcType GCType, ino Ino, bidx uint64) BlockClass {
	if policy == AlwaysMove || gcType == BgGC {
		return ClassMove
	}
	page, cached, err := pages.Probe(ctx, ino, bidx)
	if err != nil || !cached {
		return ClassRemap
	}
	defer pages.Put(page)
	if page.Dirty() {
		return ClassMove
	}
	return ClassRemap
}

// relocateMove rewrites the block through the normal write path (§4.5,
// class MOVE): mark dirty, wait for prior writeback, clear dirty-for-io,
// allocate a new address steered to the cold log, and submit.
func (r *DataRelocator) relocateMove(ctx context.Context, old BlkAddr, inode Inode, bidx uint64) error {
	page, err := r.pages.Get(ctx, inode.Ino(), bidx)
	if err != nil {
		return wrapErr(KindIOError, "get data page for move", err)
	}
	defer r.pages.Put(page)

	page.SetDirty()
	page.WaitOnWriteback(ctx)
	page.ClearDirtyForIO()

	newAddr, err := r.alloc.AllocateDataBlock(ctx, old, true /* cold */)
	if err != nil {
		return wrapErr(KindIOError, "allocate data block for move", err)
	}

	if err := r.submit.SubmitPageMbio(ctx, page, newAddr); err != nil {
		return wrapErr(KindIOError, "submit moved data page", err)
	}
	inode.UpdateExtentCache(bidx, newAddr)
	return nil
}

// relocateRemap allocates a new address and records it in the inode's
// extent cache without rereading/rewriting the payload (§4.5, class
// REMAP). It does not write the dnode's block pointer itself. Per §9's
// open question, this is semantically MOVE-minus-the-payload-copy; platforms that cannot honour a logical remap should treat
// REMAP as MOVE, which relocateMove already does correctly.
func (r *DataRelocator) relocateRemap(ctx context.Context, old BlkAddr, inode Inode, bidx uint64) error {
	newAddr, err := r.alloc.AllocateDataBlock(ctx, old, false)
	if err != nil {
		return wrapErr(KindIOError, "allocate data block for remap", err)
	}
	inode.UpdateExtentCache(bidx, newAddr)
	return nil
}

// relocateEncrypted reads the ciphertext through the meta-inode and
// resubmits it directly, preserving encryption context without a
// decrypt/re-encrypt round trip (§4.5, class ENCRYPTED).
func (r *DataRelocator) relocateEncrypted(ctx context.Context, old BlkAddr, inode Inode, bidx uint64) error {
	page, err := r.pages.GetMeta(ctx, old)
	if err != nil {
		return wrapErr(KindIOError, "get ciphertext page for encrypted relocate", err)
	}
	defer r.pages.Put(page)

	newAddr, err := r.alloc.AllocateDataBlock(ctx, old, false)
	if err != nil {
		return wrapErr(KindIOError, "allocate data block for encrypted relocate", err)
	}
	if err := r.submit.SubmitPageBio(ctx, page, newAddr); err != nil {
		return wrapErr(KindIOError, "submit encrypted data page", err)
	}
	inode.UpdateExtentCache(bidx, newAddr)
	return nil
}

// fanout runs fn(off) for each off in offs with bounded concurrency,
// grounded on the errgroup-based background fan-out in kbfs's
// folderBlockManager. Errors are intentionally discarded: readahead and
// liveness probing never abort the pass on a single failure (§7).
func (r *DataRelocator) fanout(offs []int, fn func(off int) error) {
	var g errgroup.Group
	g.SetLimit(r.raConcurrency)
	for _, off := range offs {
		off := off
		g.Go(func() error {
			_ = fn(off)
			return nil
		})
	}
	_ = g.Wait()
}
