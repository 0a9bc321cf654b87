package gc

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/watersir/f2fs-change/internal/cyclemanager"
	"github.com/watersir/f2fs-change/internal/storagestate"
)

// Manager is the top-level GC facade a filesystem mount wires up: it owns
// the victim selector, both relocators and the orchestrator, and exposes
// the external interface of §6 (start/stop the pacing worker, run a
// synchronous GC call, build the default victim-selection policy).
type Manager struct {
	cfg  Config
	deps Deps

	Victims   *VictimSelector
	NodeReloc *NodeRelocator
	DataReloc *DataRelocator
	Orch      *Orchestrator
	pacer     *Pacer

	statusLock sync.Mutex
	status     storagestate.Status
}

// BuildGCManager wires the default victim-selection policy and the rest of
// the GC stack over the given external collaborators (build_gc_manager,
// §6). There is exactly one shipped policy today; VictimSelector's gc_mode
// dispatch (§9, "polymorphism") is where a future alternative would plug
// in.
func BuildGCManager(log logrus.FieldLogger, deps Deps, cfg Config) *Manager {
	cost := NewCostModel(cfg.BlocksPerSeg, cfg.SegsPerSection)
	victims := NewVictimSelector(log, deps.Segments, cost, cfg.BlocksPerSeg, cfg.SegsPerSection, cfg.MaxVictimSearch, cfg.Metrics)
	live := NewLivenessOracle(deps.Nodes, deps.Segments, cfg.BlocksPerSeg)
	nodeReloc := NewNodeRelocator(log, deps.Nodes, deps.Segments, deps.Writeback, live, cfg.BlocksPerSeg)
	dataReloc := NewDataRelocator(log, deps.Nodes, deps.Segments, deps.Pages, live, deps.Alloc, deps.Submit, cfg.BlocksPerSeg, cfg.Metrics)

	gcIdle := func() int { return cfg.Thresholds.GCIdle }
	orch := NewOrchestrator(log, deps, victims, nodeReloc, dataReloc, cfg.SegsPerSection, cfg.AllocMode, gcIdle, cfg.Metrics)

	return &Manager{
		cfg: cfg, deps: deps,
		Victims: victims, NodeReloc: nodeReloc, DataReloc: dataReloc, Orch: orch,
	}
}

// StartGCThread spawns the pacing worker (§6). id typically names the
// backing device, mirroring the source's "f2fs_gc-<major:minor>" thread
// name.
func (m *Manager) StartGCThread(ctx context.Context, log logrus.FieldLogger, callbacks cyclemanager.CycleCallbackGroup, id string) error {
	m.pacer = NewPacer(log, m.Orch, m.deps, m.cfg.Thresholds, id, m.cfg.Metrics)
	return m.pacer.Start(ctx, callbacks)
}

// StopGCThread signals and joins the worker (§6); idempotent on absence.
func (m *Manager) StopGCThread(ctx context.Context) error {
	if m.pacer == nil {
		return nil
	}
	return m.pacer.Stop(ctx)
}

// F2FSGc is the synchronous entry point of §6. A read-only mount refuses
// the call outright, since a relocated block can never be written back.
func (m *Manager) F2FSGc(ctx context.Context, sync bool) (Status, error) {
	if m.IsReadOnly() {
		return StatusInvalid, newErr(KindFilesystemInactive, "filesystem is read-only")
	}
	return m.Orch.Run(ctx, sync)
}

// UpdateStatus sets the filesystem-wide read/write status, mirroring
// SegmentGroup.UpdateStatus in the teacher.
func (m *Manager) UpdateStatus(status storagestate.Status) {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()
	m.status = status
}

// IsReadOnly mirrors SegmentGroup.isReadyOnly.
func (m *Manager) IsReadOnly() bool {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()
	return m.status == storagestate.StatusReadOnly
}

// Pacer exposes the running worker for tuning/inspection; nil until
// StartGCThread has been called.
func (m *Manager) Pacer() *Pacer { return m.pacer }
