package sit_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sitadapter "github.com/watersir/f2fs-change/adapters/repos/sit"
	"github.com/watersir/f2fs-change/internal/cyclemanager"
	"github.com/watersir/f2fs-change/internal/gc"
	"github.com/watersir/f2fs-change/internal/storagestate"
)

func nopLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestTable_PutThenGet_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	callbacks := cyclemanager.New()

	table, err := sitadapter.Load(nopLogger(), dir, 512, 1, callbacks)
	require.NoError(t, err)
	defer table.Shutdown(context.Background())

	entry := gc.SegEntry{ValidBlocks: 7, CurValidMap: []byte{0b00000111}}
	require.NoError(t, table.Put(3, entry, gc.DirtyHotNode))

	got := table.GetSegEntry(3)
	assert.Equal(t, 7, got.ValidBlocks)
	assert.Equal(t, gc.Segno(3), got.Segno)
	assert.True(t, table.CheckValidMap(3, 0))
	assert.True(t, table.CheckValidMap(3, 1))
	assert.False(t, table.CheckValidMap(3, 3))
}

// TestTable_Load_SurvivesReopen checks the directory-scan-at-open contract
// adapted from newSegmentGroup: entries persisted by one Table must be
// visible to a fresh Table opened over the same directory.
func TestTable_Load_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	cb1 := cyclemanager.New()
	table1, err := sitadapter.Load(nopLogger(), dir, 512, 1, cb1)
	require.NoError(t, err)

	require.NoError(t, table1.Put(0, gc.SegEntry{ValidBlocks: 100}, gc.DirtyHotData))
	require.NoError(t, table1.Put(1, gc.SegEntry{ValidBlocks: 5}, gc.DirtyHotData))
	require.NoError(t, table1.Shutdown(context.Background()))

	cb2 := cyclemanager.New()
	table2, err := sitadapter.Load(nopLogger(), dir, 512, 1, cb2)
	require.NoError(t, err)
	defer table2.Shutdown(context.Background())

	assert.Equal(t, 2, table2.Len())
	assert.Equal(t, []gc.Segno{0, 1}, table2.Segnos())
	assert.Equal(t, 100, table2.GetSegEntry(0).ValidBlocks)
	assert.Equal(t, 5, table2.GetSegEntry(1).ValidBlocks)
}

// TestTable_Recompute_PopulatesDirtyAndVictimMaps exercises the housekeeping
// recompute path directly (rather than waiting out its real-time pacing),
// checking that a mostly-invalid, not-in-use section ends up in both
// dirty_segmap and victim_secmap while a fully valid one does not.
func TestTable_Recompute_PopulatesDirtyAndVictimMaps(t *testing.T) {
	dir := t.TempDir()
	callbacks := cyclemanager.New()
	table, err := sitadapter.Load(nopLogger(), dir, 512, 1, callbacks)
	require.NoError(t, err)
	defer table.Shutdown(context.Background())

	require.NoError(t, table.Put(0, gc.SegEntry{ValidBlocks: 10}, gc.DirtyHotNode)) // sparse, victim-eligible
	require.NoError(t, table.Put(1, gc.SegEntry{ValidBlocks: 512}, gc.DirtyHotNode)) // fully valid

	dirty := table.DirtySegmap(gc.DirtyHotNode)
	_, found0 := dirty.NextSet(0)
	require.True(t, found0)

	bit, found := table.VictimSecmap().NextSet(0)
	require.True(t, found)
	assert.Equal(t, uint32(0), bit)
	assert.False(t, table.VictimSecmap().Test(1))
}

func TestTable_SecInUse_ExcludedFromVictimSecmap(t *testing.T) {
	dir := t.TempDir()
	callbacks := cyclemanager.New()
	table, err := sitadapter.Load(nopLogger(), dir, 512, 1, callbacks)
	require.NoError(t, err)
	defer table.Shutdown(context.Background())

	table.SetSecInUse(0, true)
	require.NoError(t, table.Put(0, gc.SegEntry{ValidBlocks: 1}, gc.DirtyHotData))

	_, found := table.VictimSecmap().NextSet(0)
	assert.False(t, found, "a section still in use as the append target must never be pre-selected")
	assert.True(t, table.SecUsageCheck(0))
}

func TestTable_FreeSpaceAccounting(t *testing.T) {
	dir := t.TempDir()
	callbacks := cyclemanager.New()
	table, err := sitadapter.Load(nopLogger(), dir, 512, 2, callbacks)
	require.NoError(t, err)
	defer table.Shutdown(context.Background())

	table.SetFreeSpace(3, 1, true)
	assert.Equal(t, 3, table.FreeSegments())
	assert.Equal(t, 1, table.PrefreeSegments())
	assert.True(t, table.HasEnoughInvalidBlocks())
	assert.True(t, table.HasNotEnoughFreeSecs(0), "3 free segments over a 2-segment section is below the 2-section reserve")
}

// TestTable_UpdateStatus_ReadOnly mirrors SegmentGroup.UpdateStatus /
// isReadyOnly directly.
func TestTable_UpdateStatus_ReadOnly(t *testing.T) {
	dir := t.TempDir()
	callbacks := cyclemanager.New()
	table, err := sitadapter.Load(nopLogger(), dir, 512, 1, callbacks)
	require.NoError(t, err)
	defer table.Shutdown(context.Background())

	assert.False(t, table.IsReadOnly())
	table.UpdateStatus(storagestate.StatusReadOnly)
	assert.True(t, table.IsReadOnly())
}

// TestTable_Shutdown_UnregistersHousekeeping checks that Shutdown returns
// promptly (the housekeeping cycle sleeps in bounded slices specifically so
// Unregister doesn't have to wait out a full housekeepingInterval).
func TestTable_Shutdown_UnregistersHousekeeping(t *testing.T) {
	dir := t.TempDir()
	callbacks := cyclemanager.New()
	table, err := sitadapter.Load(nopLogger(), dir, 512, 1, callbacks)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- table.Shutdown(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not unregister the housekeeping cycle in time")
	}
}
