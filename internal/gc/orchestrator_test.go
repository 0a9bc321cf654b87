package gc_test

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watersir/f2fs-change/internal/gc"
	"github.com/watersir/f2fs-change/internal/storagestate"
	"github.com/watersir/f2fs-change/internal/testdisk"
)

func nopLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// buildStack wires the full gc package stack over a fresh testdisk.Disk,
// seeded with one dirty node segment so victim selection always has
// something to find.
func buildStack(t *testing.T) (*gc.Manager, *testdisk.Disk) {
	t.Helper()
	log := nopLogger()

	const blocksPerSeg = 8
	disk := testdisk.New(log, blocksPerSeg, 1)
	disk.SetFreeSpace(100, 0, false)

	// Segment 0: a node segment with one valid block referencing nid 1.
	validMap := make([]byte, 1)
	validMap[0] = 0b00000001
	disk.SeedSegment(0, gc.SegEntry{ValidBlocks: 1, CurValidMap: validMap, Mtime: 1}, gc.Dirty)
	disk.SeedSummary(0, gc.SumTypeNode, []gc.SummaryEntry{{Nid: 1}})
	disk.SeedNAT(1, gc.NATEntry{Ino: 1, BlkAddr: gc.BlkAddr(0 * blocksPerSeg), Version: 1})
	disk.SeedNodePage(1, 0, nil)

	cfg := gc.NewConfig(
		gc.WithSegmentSize(blocksPerSeg),
		gc.WithSectionSize(1),
		gc.WithMaxVictimSearch(64),
		gc.WithAllocMode(gc.LFS),
	)

	mgr := gc.BuildGCManager(log, disk.Deps(), cfg)
	return mgr, disk
}

// TestManager_F2FSGc_Sync_RunsOnePass exercises a full synchronous pass end
// to end: victim selection finds the seeded section, the node relocator
// walks and dirties its one valid block, and the call completes without
// error. Since this fixture's SIT is static (the GC never mutates segment
// entries directly, per §5 -- that's the allocator/writeback path's job),
// the segment is never observed to reach zero valid blocks, so the
// synchronous call reports StatusAgain rather than StatusOK.
func TestManager_F2FSGc_Sync_RunsOnePass(t *testing.T) {
	mgr, _ := buildStack(t)

	status, err := mgr.F2FSGc(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, gc.StatusAgain, status)
}

func TestManager_F2FSGc_ReadOnly_Refused(t *testing.T) {
	mgr, _ := buildStack(t)
	mgr.UpdateStatus(storagestate.StatusReadOnly)
	assert.True(t, mgr.IsReadOnly())

	status, err := mgr.F2FSGc(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, gc.StatusInvalid, status)
}

func TestManager_F2FSGc_NoVictim(t *testing.T) {
	log := nopLogger()
	disk := testdisk.New(log, 8, 1)
	disk.SetFreeSpace(100, 0, false)

	cfg := gc.NewConfig(gc.WithSegmentSize(8), gc.WithSectionSize(1))
	mgr := gc.BuildGCManager(log, disk.Deps(), cfg)

	status, err := mgr.F2FSGc(context.Background(), true)
	require.Error(t, err)
	assert.True(t, gc.IsKind(err, gc.KindNoVictim))
	assert.Equal(t, gc.StatusInvalid, status)
}
