package gc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/watersir/f2fs-change/internal/metrics"
)

// Orchestrator implements C5: a single f2fs_gc call over one section at a
// time, foreground vs. background mode, checkpoint interaction, and the
// return status of §4.6.
type Orchestrator struct {
	log logrus.FieldLogger

	deps     Deps
	victims  *VictimSelector
	nodeReloc *NodeRelocator
	dataReloc *DataRelocator

	secSegs      int
	allocMode    AllocMode
	gcIdle       func() int

	gcMutex sync.Mutex

	metrics *metrics.GC
}

// NewOrchestrator wires C5 from its collaborators. gcIdle is read fresh on
// each selection so runtime tuning (§6, gc_th.gc_idle) is observed without
// restarting the orchestrator.
func NewOrchestrator(log logrus.FieldLogger, deps Deps, victims *VictimSelector, nodeReloc *NodeRelocator, dataReloc *DataRelocator, secSegs int, allocMode AllocMode, gcIdle func() int, m *metrics.GC) *Orchestrator {
	return &Orchestrator{
		log: log, deps: deps, victims: victims, nodeReloc: nodeReloc,
		dataReloc: dataReloc, secSegs: secSegs, allocMode: allocMode, gcIdle: gcIdle,
		metrics: m,
	}
}

// Run implements the synchronous entry point f2fs_gc(sync=true) (§4.6,
// §6). It acquires gc_mutex itself and blocks until it gets it -- the
// "not cancellable mid-pass" synchronous call of §5.
func (o *Orchestrator) Run(ctx context.Context, sync bool) (Status, error) {
	o.gcMutex.Lock()
	defer o.gcMutex.Unlock()
	return o.runLocked(ctx, sync)
}

// TryLock attempts the non-blocking gc_mutex acquisition the pacer (C6)
// needs for step 3 of its loop contract (§4.1): ok=false means the lock
// was contended and the caller must leave wait_ms untouched and retry next
// tick. On ok=true the caller must eventually call Unlock.
func (o *Orchestrator) TryLock() (ok bool) { return o.gcMutex.TryLock() }

// Unlock releases the lock acquired by TryLock.
func (o *Orchestrator) Unlock() { o.gcMutex.Unlock() }

// RunBGLocked runs one background GC pass; the caller must already hold
// the lock acquired via TryLock (§4.1 step 6).
func (o *Orchestrator) RunBGLocked(ctx context.Context) (Status, error) {
	return o.runLocked(ctx, false)
}

// runLocked is the body of f2fs_gc; the caller must already hold
// gc_mutex (§5, "held across an entire GC call").
func (o *Orchestrator) runLocked(ctx context.Context, sync bool) (Status, error) {
	runID := uuid.NewString()
	log := o.log.WithFields(logrus.Fields{"action": "f2fs_gc", "gc_run_id": runID, "sync": sync})

	gcType := BgGC
	if sync {
		gcType = FgGC
	}

	secFreed := 0
	gcList := newInodeList(o.deps.Nodes)
	defer gcList.releaseAll()

	for {
		if !o.deps.Ckpt.FilesystemActive() {
			log.Debug("filesystem inactive, stopping GC")
			return o.finish(sync, secFreed), wrapErr(KindFilesystemInactive, "filesystem inactive", nil)
		}
		if o.deps.Ckpt.CheckpointError() {
			return o.finish(sync, secFreed), wrapErr(KindCheckpointError, "checkpoint error", nil)
		}

		if gcType == BgGC && o.deps.Segments.HasNotEnoughFreeSecs(secFreed) {
			gcType = FgGC
			_, hasVictim := o.victims.CurVictimSec()
			if hasVictim || o.deps.Segments.PrefreeSegments() > 0 {
				if err := o.deps.Ckpt.WriteCheckpoint(ctx); err != nil {
					return o.finish(sync, secFreed), wrapErr(KindCheckpointError, "checkpoint before escalating to FG", err)
				}
			}
		}

		victim, ok := o.victims.Select(gcType, o.allocMode, Dirty, o.gcIdle())
		if !ok {
			log.WithField("gc_type", gcType).Debug("no victim selected")
			if sync {
				return StatusInvalid, wrapErr(KindNoVictim, "no victim available", nil)
			}
			// BG must still surface KindNoVictim so the pacer can back off
			// to no_gc_sleep (§7/§8 invariant 6); unlike the FG path this is
			// not a failure, so the status stays StatusOK.
			return StatusOK, wrapErr(KindNoVictim, "no victim available", nil)
		}

		if o.secSegs > 1 {
			o.deps.Summaries.GetSumPage(ctx, victim.Segno) // readahead side-effect; result unused here
		}

		allFreed := true
		for i := 0; i < o.secSegs; i++ {
			nfree, err := o.doGarbageCollect(ctx, Segno(uint32(victim.Segno)+uint32(i)), gcList, gcType)
			if err != nil {
				log.WithError(err).Warn("segment reclamation failed")
			}
			if nfree == 0 {
				allFreed = false
				if gcType == FgGC {
					break
				}
			}
		}

		if gcType == FgGC && allFreed {
			secFreed++
			o.metrics.IncSegmentsReclaimed()
		}
		if gcType == FgGC {
			o.victims.ClearCurVictimSec()
		}

		if !sync {
			if o.deps.Segments.HasNotEnoughFreeSecs(secFreed) {
				continue
			}
			if gcType == FgGC {
				if err := o.deps.Ckpt.WriteCheckpoint(ctx); err != nil {
					return o.finish(sync, secFreed), wrapErr(KindCheckpointError, "checkpoint after FG reclaim", err)
				}
			}
		}
		break
	}

	return o.finish(sync, secFreed), nil
}

func (o *Orchestrator) finish(sync bool, secFreed int) Status {
	if !sync {
		return StatusOK
	}
	if secFreed > 0 {
		return StatusOK
	}
	return StatusAgain
}

// doGarbageCollect implements do_garbage_collect (§4.6): read the summary,
// release it immediately (to avoid the sum_page/sentry_lock deadlock cycle
// documented in §5), then dispatch on footer type.
func (o *Orchestrator) doGarbageCollect(ctx context.Context, segno Segno, gcList *inodeList, gcType GCType) (int, error) {
	sum, err := o.deps.Summaries.GetSumPage(ctx, segno)
	if err != nil {
		return 0, wrapErr(KindIOError, "get summary page", err)
	}
	footer := sum.FooterType()
	sum.Release()

	// Re-fetch a handle for the relocator passes; summary content is
	// immutable for the duration of one GC pass so a second read is safe
	// and keeps the "release before further work" ordering explicit.
	sum2, err := o.deps.Summaries.GetSumPage(ctx, segno)
	if err != nil {
		return 0, wrapErr(KindIOError, "get summary page for relocation", err)
	}
	defer sum2.Release()

	switch footer {
	case SumTypeNode:
		return o.nodeReloc.Relocate(ctx, segno, sum2, gcType)
	default:
		policy := ClassifyByCacheState
		if gcType == BgGC {
			policy = AlwaysMove
		}
		return o.dataReloc.Relocate(ctx, segno, sum2, gcType, policy, gcList)
	}
}
