package gc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watersir/f2fs-change/internal/cyclemanager"
	"github.com/watersir/f2fs-change/internal/gc"
	"github.com/watersir/f2fs-change/internal/testdisk"
)

// TestPacer_StartStop exercises the cycle-callback lifecycle (§6,
// start_gc_thread/stop_gc_thread): Start must register a callback that
// StartGCThread/StopGCThread can cleanly unregister, mirroring
// SegmentGroup.shutdown's unregister-then-join ordering.
func TestPacer_StartStop(t *testing.T) {
	log := nopLogger()
	disk := testdisk.New(log, 8, 1)
	disk.SetFreeSpace(100, 0, false)
	disk.SetIdle(true)

	cfg := gc.NewConfig(gc.WithSegmentSize(8), gc.WithSectionSize(1))
	mgr := gc.BuildGCManager(log, disk.Deps(), cfg)

	callbacks := cyclemanager.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, mgr.StartGCThread(ctx, log, callbacks, "test-device"))
	require.NotNil(t, mgr.Pacer())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	assert.NoError(t, mgr.StopGCThread(stopCtx))
}

// TestPacer_WaitMs_ClampedToThresholds checks the §4.1/§8.6 invariant: the
// pacer's wait_ms must never leave [MinSleep, MaxSleep] regardless of how
// many idle/pressure ticks it observes.
func TestPacer_WaitMs_ClampedToThresholds(t *testing.T) {
	log := nopLogger()
	disk := testdisk.New(log, 8, 1)
	disk.SetFreeSpace(100, 0, false)
	disk.SetIdle(false) // every tick takes the "increase" branch

	th := gc.GCThresholds{MinSleep: 10 * time.Millisecond, MaxSleep: 40 * time.Millisecond, NoGCSleep: time.Second}
	cfg := gc.NewConfig(gc.WithSegmentSize(8), gc.WithSectionSize(1), gc.WithThresholds(th))
	mgr := gc.BuildGCManager(log, disk.Deps(), cfg)

	callbacks := cyclemanager.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, mgr.StartGCThread(ctx, log, callbacks, "clamp-test"))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = mgr.StopGCThread(stopCtx)
	}()

	require.Eventually(t, func() bool {
		return mgr.Pacer().WaitMs() >= th.MaxSleep.Milliseconds()
	}, time.Second, time.Millisecond, "wait_ms should climb to the max-sleep clamp under sustained I/O pressure")

	assert.LessOrEqual(t, mgr.Pacer().WaitMs(), th.MaxSleep.Milliseconds())
}

// TestPacer_WaitMs_NoGCSleepOnNoVictim checks §7/§8 invariant 6: once
// background GC finds no victim, wait_ms must back off to no_gc_sleep
// rather than follow the I/O/pressure clamp.
func TestPacer_WaitMs_NoGCSleepOnNoVictim(t *testing.T) {
	log := nopLogger()
	disk := testdisk.New(log, 8, 1) // no segments seeded: victim selection always empty
	disk.SetFreeSpace(100, 0, true)
	disk.SetIdle(true)

	th := gc.GCThresholds{MinSleep: time.Millisecond, MaxSleep: 40 * time.Millisecond, NoGCSleep: 500 * time.Millisecond}
	cfg := gc.NewConfig(gc.WithSegmentSize(8), gc.WithSectionSize(1), gc.WithThresholds(th))
	mgr := gc.BuildGCManager(log, disk.Deps(), cfg)

	callbacks := cyclemanager.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, mgr.StartGCThread(ctx, log, callbacks, "no-victim-test"))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = mgr.StopGCThread(stopCtx)
	}()

	require.Eventually(t, func() bool {
		return mgr.Pacer().WaitMs() == th.NoGCSleep.Milliseconds()
	}, time.Second, time.Millisecond, "wait_ms should back off to no_gc_sleep once every victim is drained")
}
