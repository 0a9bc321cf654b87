// Package sit is a persistent, directory-backed Segment Information Table:
// the production gc.SegmentManager a real mount would wire into
// gc.BuildGCManager, as opposed to internal/testdisk's in-memory fixture.
//
// Its shape is adapted directly from
// adapters/repos/db/lsmkv.SegmentGroup: maintenanceLock gates structural
// changes to the segment map the way SegmentGroup.maintenanceLock gates its
// segment slice, UpdateStatus/isReadOnly are carried over verbatim in
// behavior, one file per segment mirrors SegmentGroup's one-file-per-segment
// layout and its os.ReadDir startup scan, and the periodic housekeeping
// cycle is SegmentGroup.compactOrCleanup's register/run-until-unregistered
// shape repurposed from compaction bookkeeping to recomputing dirty/victim
// bitmaps from the on-disk entries.
package sit

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/watersir/f2fs-change/internal/cyclemanager"
	"github.com/watersir/f2fs-change/internal/gc"
	"github.com/watersir/f2fs-change/internal/storagestate"
)

// record is the on-disk shape of one segment-<n>.sit file.
type record struct {
	Entry gc.SegEntry
	Kind  gc.SegmentKind
}

// VictimPolicy decides, during housekeeping, whether a section is worth
// adding to victim_secmap ahead of the next FG fast-path lookup (§4.2).
type VictimPolicy struct {
	// MaxValidRatio is the percentage (0-100) of a segment's blocks that may
	// be valid, boundary included, for the segment's section to be
	// considered victim-eligible. Each segment is tested on its own.
	MaxValidRatio int
}

// DefaultVictimPolicy mirrors the source filesystem's CAP_BLKS_PER_SEC-style
// heuristic: a section with a dirty segment at most half valid is
// pre-selected.
func DefaultVictimPolicy() VictimPolicy { return VictimPolicy{MaxValidRatio: 50} }

// Table is the persistent, directory-backed SIT. Zero value is not usable;
// build one with Load.
type Table struct {
	maintenanceLock sync.RWMutex
	dir             string
	logger          logrus.FieldLogger

	statusLock sync.Mutex
	status     storagestate.Status

	blocksPerSeg int
	secSegs      int
	policy       VictimPolicy

	entries map[gc.Segno]record
	kinds   map[gc.SegmentKind]struct{} // kinds ever seen, for recompute

	dirtySegmap  map[gc.SegmentKind]*gc.RoaringBitmap
	victimSecmap *gc.RoaringBitmap
	secInUse     map[gc.Secno]bool

	freeSegments    int
	prefreeSegments int
	enoughInvalid   bool

	housekeepingCtrl     cyclemanager.CycleCallbackCtrl
	lastHousekeepingCall time.Time
}

func segmentFileName(segno gc.Segno) string {
	return fmt.Sprintf("segment-%d.sit", segno)
}

func segnoFromFileName(name string) (gc.Segno, bool) {
	if filepath.Ext(name) != ".sit" {
		return 0, false
	}
	base := strings.TrimSuffix(name, ".sit")
	if !strings.HasPrefix(base, "segment-") {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(base, "segment-"), 10, 32)
	if err != nil {
		return 0, false
	}
	return gc.Segno(n), true
}

// Load scans dir for segment-<n>.sit files, the same directory-scan-at-open
// shape as newSegmentGroup, and registers a housekeeping cycle callback
// under housekeeping (typically the same internal/cyclemanager.Manager the
// GC pacer itself registers against).
func Load(logger logrus.FieldLogger, dir string, blocksPerSeg, secSegs int,
	housekeeping cyclemanager.CycleCallbackGroup,
) (*Table, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sit directory %q: %w", dir, err)
	}

	list, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sit directory %q: %w", dir, err)
	}

	t := &Table{
		dir:             dir,
		logger:          logger,
		blocksPerSeg:    blocksPerSeg,
		secSegs:         secSegs,
		policy:          DefaultVictimPolicy(),
		entries:         make(map[gc.Segno]record),
		kinds:           make(map[gc.SegmentKind]struct{}),
		dirtySegmap:     make(map[gc.SegmentKind]*gc.RoaringBitmap),
		victimSecmap:    gc.NewRoaringBitmap(),
		secInUse:        make(map[gc.Secno]bool),
		lastHousekeepingCall: time.Now(),
	}

	for _, entry := range list {
		segno, ok := segnoFromFileName(entry.Name())
		if !ok {
			continue
		}
		rec, err := readRecord(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load sit entry %s: %w", entry.Name(), err)
		}
		t.entries[segno] = rec
		t.kinds[rec.Kind] = struct{}{}
	}

	t.recomputeLocked()

	id := "sit/housekeeping/" + dir
	t.housekeepingCtrl = housekeeping.Register(id, t.housekeepingCycle)

	return t, nil
}

func readRecord(path string) (record, error) {
	f, err := os.Open(path)
	if err != nil {
		return record{}, err
	}
	defer f.Close()

	var rec record
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return record{}, err
	}
	return rec, nil
}

func writeRecord(path string, rec record) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(rec); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return fsyncDir(filepath.Dir(path))
}

// fsyncDir fsyncs a directory's fd, the same step SegmentGroup.newSegmentGroup
// takes after renaming a recovered compacted segment into place, so a
// Put survives a crash between the rename above and the next directory
// fsync this process would otherwise perform on its own.
func fsyncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open %q for fsync: %w", dir, err)
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}

// Put installs (or overwrites) segno's SIT entry and persists it to dir
// before making it visible to readers, mirroring SegmentGroup.add's
// lock-then-mutate-then-publish ordering. The derived bitmaps are
// recomputed immediately so a reader never observes a Put that isn't yet
// reflected in DirtySegmap/VictimSecmap. SetSecInUse recomputes them the
// same way, and the periodic housekeeping cycle recomputes them again on
// its own schedule.
func (t *Table) Put(segno gc.Segno, entry gc.SegEntry, kind gc.SegmentKind) error {
	entry.Segno = segno
	rec := record{Entry: entry, Kind: kind}

	if err := writeRecord(filepath.Join(t.dir, segmentFileName(segno)), rec); err != nil {
		return fmt.Errorf("persist sit entry for segno %d: %w", segno, err)
	}

	t.maintenanceLock.Lock()
	defer t.maintenanceLock.Unlock()
	t.entries[segno] = rec
	t.kinds[kind] = struct{}{}
	t.recomputeLocked()
	return nil
}

// SetSecInUse marks whether a section is the allocator's current append
// target, excluding it from victim scans (§4.2).
func (t *Table) SetSecInUse(secno gc.Secno, inUse bool) {
	t.maintenanceLock.Lock()
	defer t.maintenanceLock.Unlock()
	t.secInUse[secno] = inUse
	t.recomputeLocked()
}

// SetFreeSpace updates the free/prefree/invalid-block accounting the
// orchestrator and pacer read (§4.1, §4.3).
func (t *Table) SetFreeSpace(freeSegments, prefreeSegments int, enoughInvalid bool) {
	t.maintenanceLock.Lock()
	defer t.maintenanceLock.Unlock()
	t.freeSegments = freeSegments
	t.prefreeSegments = prefreeSegments
	t.enoughInvalid = enoughInvalid
}

// recomputeLocked rebuilds dirtySegmap and victimSecmap from the current
// entries. Caller must hold maintenanceLock for writing.
func (t *Table) recomputeLocked() {
	for kind := range t.kinds {
		t.dirtySegmap[kind] = gc.NewRoaringBitmap()
	}
	t.dirtySegmap[gc.Dirty] = gc.NewRoaringBitmap()
	t.victimSecmap = gc.NewRoaringBitmap()

	maxValid := t.blocksPerSeg * t.policy.MaxValidRatio / 100

	for segno, rec := range t.entries {
		if rec.Entry.ValidBlocks >= t.blocksPerSeg {
			continue // fully valid, nothing to reclaim
		}
		if rec.Entry.ValidBlocks == 0 {
			continue // no valid block: free or prefree, not dirty
		}
		secno := uint32(segno) / uint32(t.secSegs)
		if t.secInUse[gc.Secno(secno)] {
			continue // current append target, not dirty
		}
		t.dirtySegmap[rec.Kind].Set(uint32(segno))
		t.dirtySegmap[gc.Dirty].Set(uint32(segno))

		if rec.Entry.ValidBlocks <= maxValid {
			t.victimSecmap.Set(secno)
		}
	}
}

// housekeepingInterval paces recompute cycles. Unlike SegmentGroup's
// compaction cycle, which is naturally rate-limited by real segment I/O,
// recomputing an in-memory map is cheap enough that the cycle needs an
// explicit sleep or it would spin the callback goroutine at 100% CPU.
const housekeepingInterval = 2 * time.Second

// housekeepingCycle is the registered background callback, adapted from
// SegmentGroup.compactOrCleanup: recompute the derived bitmaps from the
// authoritative entries map, the SIT equivalent of the teacher's
// compact-or-clean decision. Sleeps in small slices so Unregister can
// interrupt it promptly, the same responsiveness tradeoff
// SegmentGroup.segmentCleaner.cleanupOnce makes via its own shouldAbort
// polling.
func (t *Table) housekeepingCycle(shouldAbort cyclemanager.ShouldAbortCallback) bool {
	const steps = 20
	for i := 0; i < steps; i++ {
		if shouldAbort() {
			return false
		}
		time.Sleep(housekeepingInterval / steps)
	}
	if shouldAbort() {
		return false
	}

	t.maintenanceLock.Lock()
	before := t.victimSecmap.Count()
	t.recomputeLocked()
	after := t.victimSecmap.Count()
	t.maintenanceLock.Unlock()

	t.lastHousekeepingCall = time.Now()

	if after != before {
		t.logger.WithFields(logrus.Fields{
			"action":          "sit_housekeeping",
			"path":            t.dir,
			"victim_sections": after,
		}).Debug("recomputed victim section map")
	}

	return after != before
}

// Shutdown unregisters the housekeeping cycle before taking the
// maintenance lock, mirroring SegmentGroup.shutdown's comment on why the
// unregister must happen before the lock is taken: if housekeepingCycle is
// mid-run and blocked on the same lock, Shutdown would deadlock waiting for
// a cycle that can never observe the stop signal.
func (t *Table) Shutdown(ctx context.Context) error {
	if t.housekeepingCtrl != nil {
		if err := t.housekeepingCtrl.Unregister(ctx); err != nil {
			return fmt.Errorf("sit housekeeping still running: %w", err)
		}
	}

	t.maintenanceLock.Lock()
	defer t.maintenanceLock.Unlock()
	t.entries = nil
	return nil
}

// UpdateStatus mirrors SegmentGroup.UpdateStatus.
func (t *Table) UpdateStatus(status storagestate.Status) {
	t.statusLock.Lock()
	defer t.statusLock.Unlock()
	t.status = status
}

// IsReadOnly mirrors SegmentGroup.isReadyOnly.
func (t *Table) IsReadOnly() bool {
	t.statusLock.Lock()
	defer t.statusLock.Unlock()
	return t.status == storagestate.StatusReadOnly
}

// Len reports how many segments currently have a SIT entry.
func (t *Table) Len() int {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()
	return len(t.entries)
}

// Segnos returns every segment number with a SIT entry, sorted, mainly for
// diagnostics/tests.
func (t *Table) Segnos() []gc.Segno {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()

	out := make([]gc.Segno, 0, len(t.entries))
	for segno := range t.entries {
		out = append(out, segno)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// --- gc.SegmentManager ---

func (t *Table) GetSegEntry(segno gc.Segno) gc.SegEntry {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()
	return t.entries[segno].Entry
}

func (t *Table) GetValidBlocks(segno gc.Segno, ofsUnit int) int {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()
	return t.entries[segno].Entry.ValidBlocks
}

func (t *Table) CheckValidMap(segno gc.Segno, off int) bool {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()

	rec, ok := t.entries[segno]
	if !ok {
		return false
	}
	byteOff, bitOff := off/8, uint(off%8)
	if byteOff < 0 || byteOff >= len(rec.Entry.CurValidMap) {
		return false
	}
	return rec.Entry.CurValidMap[byteOff]&(1<<bitOff) != 0
}

func (t *Table) DirtySegmap(kind gc.SegmentKind) gc.Bitmap {
	t.maintenanceLock.Lock()
	defer t.maintenanceLock.Unlock()
	bm, ok := t.dirtySegmap[kind]
	if !ok {
		bm = gc.NewRoaringBitmap()
		t.dirtySegmap[kind] = bm
	}
	return bm
}

func (t *Table) VictimSecmap() gc.Bitmap {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()
	return t.victimSecmap
}

func (t *Table) SecUsageCheck(secno gc.Secno) bool {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()
	return t.secInUse[secno]
}

func (t *Table) HasNotEnoughFreeSecs(secFreed int) bool {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()
	return t.freeSegments+secFreed*t.secSegs < t.secSegs*2
}

func (t *Table) HasEnoughInvalidBlocks() bool {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()
	return t.enoughInvalid
}

func (t *Table) PrefreeSegments() int {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()
	return t.prefreeSegments
}

func (t *Table) FreeSegments() int {
	t.maintenanceLock.RLock()
	defer t.maintenanceLock.RUnlock()
	return t.freeSegments
}

func (t *Table) StartAddr(segno gc.Segno) gc.BlkAddr {
	return gc.BlkAddr(uint64(segno) * uint64(t.blocksPerSeg))
}

var _ gc.SegmentManager = (*Table)(nil)
