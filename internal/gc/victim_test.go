package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSegs is a minimal SegmentManager good enough to drive the victim
// selector in isolation, without the full testdisk fixture.
type fakeSegs struct {
	entries      map[Segno]SegEntry
	dirty        map[SegmentKind]*memBitmap
	victimSecmap *memBitmap
	secInUse     map[Secno]bool
}

func newFakeSegs() *fakeSegs {
	return &fakeSegs{
		entries:      make(map[Segno]SegEntry),
		dirty:        make(map[SegmentKind]*memBitmap),
		victimSecmap: newMemBitmap(),
		secInUse:     make(map[Secno]bool),
	}
}

func (f *fakeSegs) add(e SegEntry, kind SegmentKind) {
	f.entries[e.Segno] = e
	bm, ok := f.dirty[kind]
	if !ok {
		bm = newMemBitmap()
		f.dirty[kind] = bm
	}
	bm.Set(uint32(e.Segno))
}

func (f *fakeSegs) GetSegEntry(segno Segno) SegEntry           { return f.entries[segno] }
func (f *fakeSegs) GetValidBlocks(segno Segno, ofsUnit int) int { return f.entries[segno].ValidBlocks }
func (f *fakeSegs) CheckValidMap(segno Segno, off int) bool     { return true }
func (f *fakeSegs) DirtySegmap(kind SegmentKind) Bitmap {
	bm, ok := f.dirty[kind]
	if !ok {
		bm = newMemBitmap()
		f.dirty[kind] = bm
	}
	return bm
}
func (f *fakeSegs) VictimSecmap() Bitmap                { return f.victimSecmap }
func (f *fakeSegs) SecUsageCheck(secno Secno) bool      { return f.secInUse[secno] }
func (f *fakeSegs) HasNotEnoughFreeSecs(secFreed int) bool { return false }
func (f *fakeSegs) HasEnoughInvalidBlocks() bool        { return false }
func (f *fakeSegs) PrefreeSegments() int                { return 0 }
func (f *fakeSegs) FreeSegments() int                   { return 0 }
func (f *fakeSegs) StartAddr(segno Segno) BlkAddr       { return BlkAddr(segno) * 512 }

// memBitmap is a trivial map-backed Bitmap for tests that don't need
// roaring's compression.
type memBitmap struct{ bits map[uint32]struct{} }

func newMemBitmap() *memBitmap { return &memBitmap{bits: make(map[uint32]struct{})} }

func (m *memBitmap) Test(bit uint32) bool { _, ok := m.bits[bit]; return ok }
func (m *memBitmap) Set(bit uint32)       { m.bits[bit] = struct{}{} }
func (m *memBitmap) Clear(bit uint32)     { delete(m.bits, bit) }
func (m *memBitmap) Count() uint64        { return uint64(len(m.bits)) }
func (m *memBitmap) NextSet(from uint32) (uint32, bool) {
	best := uint32(0)
	found := false
	for b := range m.bits {
		if b >= from && (!found || b < best) {
			best, found = b, true
		}
	}
	return best, found
}

func TestVictimSelector_Greedy_PicksLowestValidSection(t *testing.T) {
	segs := newFakeSegs()
	segs.add(SegEntry{Segno: 0, ValidBlocks: 400}, Dirty)
	segs.add(SegEntry{Segno: 1, ValidBlocks: 10}, Dirty)
	segs.add(SegEntry{Segno: 2, ValidBlocks: 300}, Dirty)

	cost := NewCostModel(512, 1)
	v := NewVictimSelector(logrusNop(), segs, cost, 512, 1, 4096, nil)

	victim, ok := v.Select(FgGC, LFS, Dirty, 2 /* gc_idle=2 forces greedy */)
	require.True(t, ok)
	assert.Equal(t, Segno(1), victim.Segno, "greedy must pick the section with the fewest valid blocks")
	assert.Equal(t, GCGreedy, victim.Mode)
}

func TestVictimSelector_NoVictim_WhenNothingDirty(t *testing.T) {
	segs := newFakeSegs()
	cost := NewCostModel(512, 1)
	v := NewVictimSelector(logrusNop(), segs, cost, 512, 1, 4096, nil)

	_, ok := v.Select(BgGC, LFS, Dirty, 0)
	assert.False(t, ok)
}

// TestVictimSelector_FGFastPath_ConsumesVictimSecmap covers the LFS+FG fast
// path of §4.2: a section already vetted by background GC (present in
// victim_secmap) must be consumed directly rather than re-scanned.
func TestVictimSelector_FGFastPath_ConsumesVictimSecmap(t *testing.T) {
	segs := newFakeSegs()
	segs.victimSecmap.Set(5)

	cost := NewCostModel(512, 1)
	v := NewVictimSelector(logrusNop(), segs, cost, 512, 1, 4096, nil)

	victim, ok := v.Select(FgGC, LFS, Dirty, 0)
	require.True(t, ok)
	assert.Equal(t, Segno(5), victim.Segno)
	assert.False(t, segs.victimSecmap.Test(5), "fast path must clear the consumed bit")

	sec, has := v.CurVictimSec()
	require.True(t, has)
	assert.Equal(t, Secno(5), sec)
}

// TestVictimSelector_BoundedScan_RecordsLastVictim checks the bounded-scan
// invariant of §4.2/§8: once max_victim_search candidates have been
// examined without exhausting the bitmap, the selector must stop and record
// its position for the next call rather than scanning unboundedly.
func TestVictimSelector_BoundedScan_RecordsLastVictim(t *testing.T) {
	segs := newFakeSegs()
	for i := Segno(0); i < 10; i++ {
		segs.add(SegEntry{Segno: i, ValidBlocks: 100 + int(i)}, Dirty)
	}

	cost := NewCostModel(512, 1)
	v := NewVictimSelector(logrusNop(), segs, cost, 512, 1, 3 /* maxVictimSearch */, nil)

	_, ok := v.Select(BgGC, SSR, Dirty, 0)
	require.True(t, ok)
	assert.NotEqual(t, Segno(0), v.LastVictim(GCGreedy), "a bounded scan must advance last_victim past the starting point")
}
