package gc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/watersir/f2fs-change/internal/cyclemanager"
	"github.com/watersir/f2fs-change/internal/metrics"
)

// Pacer implements C6: the long-lived worker that decides when to invoke
// the orchestrator, paced against I/O load and free-space pressure (§4.1).
//
// Rather than hand-rolling its own ticker goroutine, the worker registers
// itself as a cycle callback with internal/cyclemanager -- the same
// register/unregister-on-shutdown shape segment_group.go uses for its
// compaction cycle (compactionCallbackCtrl). The clamp in §4.1/§8.6 is the
// only observable contract; the limiter below only smooths cadence between
// clamp-driven ticks.
type Pacer struct {
	log  logrus.FieldLogger
	orch *Orchestrator
	deps Deps

	th atomic.Value // GCThresholds

	waitMs atomic.Int64
	limiter *rate.Limiter

	ctrl cyclemanager.CycleCallbackCtrl
	id   string

	metrics *metrics.GC
}

// NewPacer builds C6. Start must be called to actually spawn the worker
// (start_gc_thread, §6).
func NewPacer(log logrus.FieldLogger, orch *Orchestrator, deps Deps, th GCThresholds, id string, m *metrics.GC) *Pacer {
	p := &Pacer{log: log, orch: orch, deps: deps, id: id, metrics: m}
	p.th.Store(th)
	p.waitMs.Store(th.MinSleep.Milliseconds())
	p.limiter = rate.NewLimiter(rate.Every(th.MinSleep), 1)
	return p
}

// thresholds returns the current tunables (§6, gc_th fields), read fresh
// on every tick so operators can retune without restarting the worker.
func (p *Pacer) thresholds() GCThresholds { return p.th.Load().(GCThresholds) }

// SetThresholds updates the pacer's sleep knobs (MinSleep, MaxSleep,
// NoGCSleep) at runtime. The GCIdle field set here is not read: victim
// selection keeps the gc_idle value the Manager was built with.
func (p *Pacer) SetThresholds(th GCThresholds) { p.th.Store(th) }

// WaitMs reports the worker's current sleep interval (§3, pacer state;
// §8.6 invariant).
func (p *Pacer) WaitMs() int64 { return p.waitMs.Load() }

// Start spawns the pacing worker as a registered cycle callback
// (start_gc_thread, §6). Named, in spirit, with the device identity the
// way the source names its kernel thread "f2fs_gc-<major:minor>"; here the
// caller-supplied id (e.g. the mount's device path) plays that role.
func (p *Pacer) Start(ctx context.Context, callbacks cyclemanager.CycleCallbackGroup) error {
	p.ctrl = callbacks.Register("gc-pacer/"+p.id, func(shouldAbort cyclemanager.ShouldAbortCallback) bool {
		return p.tick(ctx, shouldAbort)
	})
	return nil
}

// Stop signals and joins the worker (stop_gc_thread, §6); idempotent on
// absence.
func (p *Pacer) Stop(ctx context.Context) error {
	if p.ctrl == nil {
		return nil
	}
	return p.ctrl.Unregister(ctx)
}

// tick implements one iteration of the loop contract in §4.1. It returns
// true iff it did meaningful GC work, matching the cyclemanager callback
// convention used by segment_group.go's compactOrCleanup.
func (p *Pacer) tick(ctx context.Context, shouldAbort cyclemanager.ShouldAbortCallback) bool {
	th := p.thresholds()

	p.sleep(ctx)

	if shouldAbort() {
		return false
	}

	// Step 2: frozen at or above write-freeze.
	if p.deps.Ckpt.Frozen() {
		p.increase(th)
		return false
	}

	// Step 3: non-blocking global GC lock acquisition.
	if !p.orch.TryLock() {
		return false
	}
	defer p.orch.Unlock()

	// Step 4: I/O idleness gate.
	if !p.deps.IO.IsIdle() {
		p.increase(th)
		return false
	}

	// Step 5: free-space pressure.
	if p.deps.Segments.HasEnoughInvalidBlocks() {
		p.decrease(th)
	} else {
		p.increase(th)
	}

	// Step 6: invoke the orchestrator in background mode.
	status, err := p.orch.RunBGLocked(ctx)
	if err != nil && IsKind(err, KindNoVictim) {
		p.waitMs.Store(th.NoGCSleep.Milliseconds())
		p.metrics.SetWaitMs(float64(p.waitMs.Load()))
	}

	// Step 7: background metadata balancing.
	p.deps.Balance.BalanceFsBG(ctx)
	return err == nil && status == StatusOK
}

// sleep waits for the current wait_ms interval, using a rate.Limiter so the
// wait is both reconfigurable between calls and cancellable via ctx, rather
// than a bare uninterruptible time.Sleep.
func (p *Pacer) sleep(ctx context.Context) {
	d := time.Duration(p.waitMs.Load()) * time.Millisecond
	if d <= 0 {
		return
	}
	p.limiter.SetLimit(rate.Every(d))
	_ = p.limiter.WaitN(ctx, 1)
}

func (p *Pacer) increase(th GCThresholds) {
	next := p.waitMs.Load() * 2
	if next <= p.waitMs.Load() {
		next = p.waitMs.Load() + 1
	}
	if max := th.MaxSleep.Milliseconds(); next > max {
		next = max
	}
	p.waitMs.Store(next)
	p.metrics.SetWaitMs(float64(next))
}

func (p *Pacer) decrease(th GCThresholds) {
	next := p.waitMs.Load() / 2
	if min := th.MinSleep.Milliseconds(); next < min {
		next = min
	}
	p.waitMs.Store(next)
	p.metrics.SetWaitMs(float64(next))
}
