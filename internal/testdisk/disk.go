// Package testdisk is an in-memory reference implementation of the
// collaborator interfaces in internal/gc/ports.go, used by this module's own
// tests in place of a real flash filesystem.
//
// Its shape is adapted from segment_group.go: a maintenanceLock
// (sync.RWMutex) gates structural changes to the segment table the way
// SegmentGroup.maintenanceLock gates its segment slice, and UpdateStatus /
// IsReadOnly mirror SegmentGroup.UpdateStatus / isReadyOnly directly.
// Everything else -- node pages, data pages, the NAT, summary blocks -- is
// new bookkeeping this package needs that the teacher's LSM store has no
// analog for.
package testdisk

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/watersir/f2fs-change/internal/gc"
	"github.com/watersir/f2fs-change/internal/storagestate"
)

// errNotFound is returned by collaborator lookups that miss; the gc package
// only ever treats these as a single block being skipped (§7), never as a
// reason to abort the pass.
var errNotFound = errors.New("testdisk: not found")

// errCheckpoint is returned by WriteCheckpoint when the fixture is primed
// with SetCkptError(true).
var errCheckpoint = errors.New("testdisk: checkpoint error")

type nodePage struct {
	mu        sync.Mutex
	nid       gc.NID
	ofsOfNode uint32
	datablk   map[uint16]gc.BlkAddr
	dirty     bool
	writeback bool
}

func (p *nodePage) Nid() gc.NID        { return p.nid }
func (p *nodePage) OfsOfNode() uint32  { return p.ofsOfNode }
func (p *nodePage) DatablockAddr(ofsInNode uint16) gc.BlkAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.datablk[ofsInNode]
}
func (p *nodePage) SetDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = true
}
func (p *nodePage) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}
func (p *nodePage) WaitOnWriteback(ctx context.Context) {}
func (p *nodePage) Writeback() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeback
}

type dataPage struct {
	mu     sync.Mutex
	cached bool
	dirty  bool
}

func (p *dataPage) Cached() bool { return p.cached }
func (p *dataPage) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}
func (p *dataPage) SetDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = true
}
func (p *dataPage) ClearDirtyForIO() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = false
}
func (p *dataPage) WaitOnWriteback(ctx context.Context) {}

type inode struct {
	mu        sync.Mutex
	ino       gc.Ino
	encrypted bool
	regular   bool
	extents   map[uint64]gc.BlkAddr
}

func (i *inode) Ino() gc.Ino       { return i.ino }
func (i *inode) Encrypted() bool   { return i.encrypted }
func (i *inode) IsRegular() bool   { return i.regular }
func (i *inode) UpdateExtentCache(startBidx uint64, addr gc.BlkAddr) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.extents[startBidx] = addr
}

type summaryPage struct {
	footer  gc.SummaryFooterType
	entries []gc.SummaryEntry
}

func (s *summaryPage) FooterType() gc.SummaryFooterType { return s.footer }
func (s *summaryPage) Entry(off int) gc.SummaryEntry     { return s.entries[off] }
func (s *summaryPage) Release()                          {}

type dataKey struct {
	ino  gc.Ino
	bidx uint64
}

// Disk is the reference fixture. Zero value is not usable; build one with
// New and populate it through the Seed* helpers before driving gc package
// code against it.
type Disk struct {
	maintenanceLock sync.RWMutex
	logger          logrus.FieldLogger

	statusLock sync.Mutex
	status     storagestate.Status

	blocksPerSeg int
	secSegs      int

	segs         map[gc.Segno]*gc.SegEntry
	nat          map[gc.NID]gc.NATEntry
	nodePages    map[gc.NID]*nodePage
	inodes       map[gc.Ino]*inode
	dataPages    map[dataKey]*dataPage
	summaries    map[gc.Segno]*summaryPage
	secInUse     map[gc.Secno]bool

	dirtySegmap  map[gc.SegmentKind]*gc.RoaringBitmap
	victimSecmap *gc.RoaringBitmap

	freeSegments    int
	prefreeSegments int
	idle            bool
	enoughInvalid   bool
	frozen          bool
	ckptErr         bool
	fsActive        bool

	allocNext   gc.BlkAddr
	allocations []gc.BlkAddr
	ckptCalls   int
	balanceCalls int
}

// New builds an empty fixture. blocksPerSeg/secSegs mirror the GC config
// the caller wires the same values into.
func New(logger logrus.FieldLogger, blocksPerSeg, secSegs int) *Disk {
	d := &Disk{
		logger:       logger,
		blocksPerSeg: blocksPerSeg,
		secSegs:      secSegs,
		segs:         make(map[gc.Segno]*gc.SegEntry),
		nat:          make(map[gc.NID]gc.NATEntry),
		nodePages:    make(map[gc.NID]*nodePage),
		inodes:       make(map[gc.Ino]*inode),
		dataPages:    make(map[dataKey]*dataPage),
		summaries:    make(map[gc.Segno]*summaryPage),
		secInUse:     make(map[gc.Secno]bool),
		dirtySegmap:  make(map[gc.SegmentKind]*gc.RoaringBitmap),
		victimSecmap: gc.NewRoaringBitmap(),
		fsActive:     true,
	}
	return d
}

// UpdateStatus mirrors SegmentGroup.UpdateStatus.
func (d *Disk) UpdateStatus(status storagestate.Status) {
	d.statusLock.Lock()
	defer d.statusLock.Unlock()
	d.status = status
}

// IsReadOnly mirrors SegmentGroup.isReadyOnly.
func (d *Disk) IsReadOnly() bool {
	d.statusLock.Lock()
	defer d.statusLock.Unlock()
	return d.status == storagestate.StatusReadOnly
}

// SeedSegment installs (or overwrites) segno's SIT entry and marks it dirty
// for the given kind, the way a real mount's SIT load would populate both at
// once.
func (d *Disk) SeedSegment(segno gc.Segno, entry gc.SegEntry, kind gc.SegmentKind) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()

	entry.Segno = segno
	d.segs[segno] = &entry
	bm, ok := d.dirtySegmap[kind]
	if !ok {
		bm = gc.NewRoaringBitmap()
		d.dirtySegmap[kind] = bm
	}
	bm.Set(uint32(segno))
}

// SeedSummary installs segno's summary block.
func (d *Disk) SeedSummary(segno gc.Segno, footer gc.SummaryFooterType, entries []gc.SummaryEntry) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.summaries[segno] = &summaryPage{footer: footer, entries: entries}
}

// SeedNAT installs nid's node-address-table record.
func (d *Disk) SeedNAT(nid gc.NID, entry gc.NATEntry) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.nat[nid] = entry
}

// SeedNodePage installs nid's in-memory node page, with datablk mapping
// ofsInNode -> on-disk block address (what DatablockAddr reports).
func (d *Disk) SeedNodePage(nid gc.NID, ofsOfNode uint32, datablk map[uint16]gc.BlkAddr) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.nodePages[nid] = &nodePage{nid: nid, ofsOfNode: ofsOfNode, datablk: datablk}
}

// SeedInode installs ino's inode record.
func (d *Disk) SeedInode(ino gc.Ino, encrypted, regular bool) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.inodes[ino] = &inode{ino: ino, encrypted: encrypted, regular: regular, extents: make(map[uint64]gc.BlkAddr)}
}

// SeedDataPage installs a cached data page at (ino, bidx).
func (d *Disk) SeedDataPage(ino gc.Ino, bidx uint64, dirty bool) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.dataPages[dataKey{ino, bidx}] = &dataPage{cached: true, dirty: dirty}
}

// SetFreeSpace drives the pressure signals the pacer and orchestrator read
// (§4.1, §4.4 early-abort, §4.6 FG escalation).
func (d *Disk) SetFreeSpace(freeSegments, prefreeSegments int, enoughInvalid bool) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.freeSegments = freeSegments
	d.prefreeSegments = prefreeSegments
	d.enoughInvalid = enoughInvalid
}

func (d *Disk) SetIdle(idle bool)   { d.maintenanceLock.Lock(); d.idle = idle; d.maintenanceLock.Unlock() }
func (d *Disk) SetFrozen(v bool)    { d.maintenanceLock.Lock(); d.frozen = v; d.maintenanceLock.Unlock() }
func (d *Disk) SetCkptError(v bool) { d.maintenanceLock.Lock(); d.ckptErr = v; d.maintenanceLock.Unlock() }
func (d *Disk) SetFSActive(v bool)  { d.maintenanceLock.Lock(); d.fsActive = v; d.maintenanceLock.Unlock() }
func (d *Disk) SetSecInUse(sec gc.Secno, inUse bool) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.secInUse[sec] = inUse
}

// CheckpointCalls and BalanceCalls report call counts for test assertions.
func (d *Disk) CheckpointCalls() int {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.ckptCalls
}

func (d *Disk) BalanceCalls() int {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.balanceCalls
}

// Allocations reports the sequence of newly assigned block addresses.
func (d *Disk) Allocations() []gc.BlkAddr {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	out := make([]gc.BlkAddr, len(d.allocations))
	copy(out, d.allocations)
	return out
}

// --- gc.SegmentManager ---

func (d *Disk) GetSegEntry(segno gc.Segno) gc.SegEntry {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	if e, ok := d.segs[segno]; ok {
		return *e
	}
	return gc.SegEntry{Segno: segno}
}

func (d *Disk) GetValidBlocks(segno gc.Segno, ofsUnit int) int {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	total := 0
	for i := 0; i < ofsUnit; i++ {
		if e, ok := d.segs[gc.Segno(uint32(segno)+uint32(i))]; ok {
			total += e.ValidBlocks
		}
	}
	return total
}

func (d *Disk) CheckValidMap(segno gc.Segno, off int) bool {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	e, ok := d.segs[segno]
	if !ok || off/8 >= len(e.CurValidMap) {
		return false
	}
	return e.CurValidMap[off/8]&(1<<uint(off%8)) != 0
}

func (d *Disk) DirtySegmap(kind gc.SegmentKind) gc.Bitmap {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	bm, ok := d.dirtySegmap[kind]
	if !ok {
		bm = gc.NewRoaringBitmap()
		d.dirtySegmap[kind] = bm
	}
	return bm
}

func (d *Disk) VictimSecmap() gc.Bitmap { return d.victimSecmap }

func (d *Disk) SecUsageCheck(secno gc.Secno) bool {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.secInUse[secno]
}

func (d *Disk) HasNotEnoughFreeSecs(secFreed int) bool {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.freeSegments+secFreed*d.secSegs < d.secSegs*2
}

func (d *Disk) HasEnoughInvalidBlocks() bool {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.enoughInvalid
}

func (d *Disk) PrefreeSegments() int {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.prefreeSegments
}

func (d *Disk) FreeSegments() int {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.freeSegments
}

func (d *Disk) StartAddr(segno gc.Segno) gc.BlkAddr {
	return gc.BlkAddr(uint64(segno) * uint64(d.blocksPerSeg))
}

// --- gc.NodeManager ---

func (d *Disk) GetNodePage(ctx context.Context, nid gc.NID) (gc.NodePage, error) {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	p, ok := d.nodePages[nid]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}

func (d *Disk) RaNodePage(ctx context.Context, nid gc.NID) {}

func (d *Disk) GetNodeInfo(ctx context.Context, nid gc.NID) (gc.NATEntry, error) {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	e, ok := d.nat[nid]
	if !ok {
		return gc.NATEntry{}, errNotFound
	}
	return e, nil
}

func (d *Disk) PutPage(p gc.NodePage) {}

func (d *Disk) Iget(ctx context.Context, ino gc.Ino) (gc.Inode, error) {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	i, ok := d.inodes[ino]
	if !ok {
		return nil, errNotFound
	}
	return i, nil
}

func (d *Disk) PutInode(i gc.Inode) {}

// --- gc.SummaryManager ---

func (d *Disk) GetSumPage(ctx context.Context, segno gc.Segno) (gc.SummaryPage, error) {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	s, ok := d.summaries[segno]
	if !ok {
		return nil, errNotFound
	}
	return s, nil
}

// --- gc.PageCache ---

func (d *Disk) Probe(ctx context.Context, ino gc.Ino, bidx uint64) (gc.DataPage, bool, error) {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	p, ok := d.dataPages[dataKey{ino, bidx}]
	if !ok {
		return nil, false, nil
	}
	return p, true, nil
}

func (d *Disk) Get(ctx context.Context, ino gc.Ino, bidx uint64) (gc.DataPage, error) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	key := dataKey{ino, bidx}
	p, ok := d.dataPages[key]
	if !ok {
		p = &dataPage{cached: true}
		d.dataPages[key] = p
	}
	return p, nil
}

func (d *Disk) GetMeta(ctx context.Context, addr gc.BlkAddr) (gc.DataPage, error) {
	return &dataPage{cached: true}, nil
}

func (d *Disk) Put(p gc.DataPage) {}

// --- gc.IOState ---

func (d *Disk) IsIdle() bool {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.idle
}

// --- gc.Allocator ---

func (d *Disk) AllocateDataBlock(ctx context.Context, old gc.BlkAddr, cold bool) (gc.BlkAddr, error) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.allocNext++
	addr := d.allocNext
	d.allocations = append(d.allocations, addr)
	return addr, nil
}

// --- gc.IOSubmitter ---

func (d *Disk) SubmitPageBio(ctx context.Context, p gc.DataPage, addr gc.BlkAddr) error  { return nil }
func (d *Disk) SubmitPageMbio(ctx context.Context, p gc.DataPage, addr gc.BlkAddr) error { return nil }
func (d *Disk) SubmitMergedBio(ctx context.Context) error                               { return nil }

// --- gc.NodeWriteback ---

func (d *Disk) SyncNodePages(ctx context.Context, segno gc.Segno, syncAll bool) error { return nil }

// --- gc.Checkpointer ---

func (d *Disk) WriteCheckpoint(ctx context.Context) error {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.ckptCalls++
	if d.ckptErr {
		return errCheckpoint
	}
	return nil
}

func (d *Disk) FilesystemActive() bool {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.fsActive
}

func (d *Disk) CheckpointError() bool {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.ckptErr
}

func (d *Disk) Frozen() bool {
	d.maintenanceLock.RLock()
	defer d.maintenanceLock.RUnlock()
	return d.frozen
}

// --- gc.Balancer ---

func (d *Disk) BalanceFsBG(ctx context.Context) {
	d.maintenanceLock.Lock()
	defer d.maintenanceLock.Unlock()
	d.balanceCalls++
}

// Deps assembles this fixture into a gc.Deps bundle.
func (d *Disk) Deps() gc.Deps {
	return gc.Deps{
		Nodes:     d,
		Summaries: d,
		Segments:  d,
		Pages:     d,
		IO:        d,
		Alloc:     d,
		Submit:    d,
		Writeback: d,
		Ckpt:      d,
		Balance:   d,
	}
}
