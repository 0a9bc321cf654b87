package gc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/watersir/f2fs-change/internal/metrics"
)

// Victim is the outcome of a successful selection: a section-aligned segno
// for LFS, or a single segno for SSR (§4.2).
type Victim struct {
	Segno Segno
	Mode  GCMode
}

// VictimSelector implements C3. One instance is shared by the orchestrator
// (C5) and is always invoked while holding the caller's gc_mutex; it takes
// its own seglist_lock internally for the duration of one selection,
// mirroring the acquisition order documented in §5.
type VictimSelector struct {
	log logrus.FieldLogger

	segs SegmentManager
	cost *CostModel

	blocksPerSeg    int
	secSegs         int // S
	maxVictimSearch int

	seglistLock  sync.Mutex
	lastVictim   [gcModeCount]Segno
	curVictimSec *Secno

	metrics *metrics.GC
}

// NewVictimSelector builds C3 over the given SIT collaborator and cost
// model (build_gc_manager in §6 installs this as the default policy).
func NewVictimSelector(log logrus.FieldLogger, segs SegmentManager, cost *CostModel, blocksPerSeg, secSegs, maxVictimSearch int, m *metrics.GC) *VictimSelector {
	return &VictimSelector{
		log:             log,
		segs:            segs,
		cost:            cost,
		blocksPerSeg:    blocksPerSeg,
		secSegs:         secSegs,
		maxVictimSearch: maxVictimSearch,
		metrics:         m,
	}
}

// resolveGCMode implements the policy-resolution table of §4.2.
func resolveGCMode(allocMode AllocMode, gcType GCType, gcIdle int) GCMode {
	if allocMode == SSR {
		return GCGreedy
	}
	switch gcIdle {
	case 1:
		return GCCostBenefit
	case 2:
		return GCGreedy
	}
	if gcType == FgGC {
		return GCGreedy
	}
	return GCCostBenefit
}

// secno converts a segno to its containing section.
func (v *VictimSelector) secno(s Segno) Secno { return Secno(uint32(s) / uint32(v.secSegs)) }

// alignDownToSection rounds segno down to its section's first segment.
func (v *VictimSelector) alignDownToSection(s Segno) Segno {
	return Segno((uint32(s) / uint32(v.secSegs)) * uint32(v.secSegs))
}

// sectionEntries reads the SIT entries of every segment in secno's section.
func (v *VictimSelector) sectionEntries(sec Secno) []SegEntry {
	entries := make([]SegEntry, 0, v.secSegs)
	base := Segno(uint32(sec) * uint32(v.secSegs))
	for i := 0; i < v.secSegs; i++ {
		entries = append(entries, v.segs.GetSegEntry(Segno(uint32(base)+uint32(i))))
	}
	return entries
}

// Select implements __get_victim (§4.2). It returns ok=false when no legal
// candidate exists (NoVictim, §7).
func (v *VictimSelector) Select(gcType GCType, allocMode AllocMode, kind SegmentKind, gcIdle int) (Victim, bool) {
	v.seglistLock.Lock()
	defer v.seglistLock.Unlock()

	gcMode := resolveGCMode(allocMode, gcType, gcIdle)

	// Fast path: LFS + FG consumes sections background GC already queued.
	if allocMode == LFS && gcType == FgGC {
		if victim, ok := v.fastPathLocked(gcMode); ok {
			return victim, true
		}
	}

	searchKind := kind
	if allocMode == LFS {
		searchKind = Dirty
	}
	bitmap := v.segs.DirtySegmap(searchKind)

	nrDirty := bitmap.Count()
	if nrDirty == 0 {
		return Victim{}, false
	}
	maxSearch := v.maxVictimSearch
	if int(nrDirty) < maxSearch {
		maxSearch = int(nrDirty)
	}

	start := v.lastVictim[gcMode]
	bestCost := uint64(^uint64(0))
	var best Segno
	found := false

	examined := 0
	cur := uint32(start)
	wrapped := false
	for {
		bit, ok := bitmap.NextSet(cur)
		if !ok {
			if wrapped {
				break
			}
			wrapped = true
			cur = 0
			continue
		}
		if wrapped && bit >= uint32(start) {
			break
		}

		segno := Segno(bit)
		sec := v.secno(segno)

		if v.segs.SecUsageCheck(sec) {
			cur = bit + 1
			continue
		}
		if allocMode == LFS && gcType == BgGC && v.segs.VictimSecmap().Test(uint32(sec)) {
			cur = bit + 1
			continue
		}

		examined++

		cost, maxCost := v.costOf(gcMode, allocMode, segno, sec)
		if cost != maxCost && uint64(cost) < bestCost {
			bestCost = uint64(cost)
			best = segno
			found = true
		}

		if examined >= maxSearch {
			v.lastVictim[gcMode] = segno
			break
		}
		cur = bit + 1
	}

	if !found {
		return Victim{}, false
	}
	v.metrics.IncVictimSelection(gcModeLabel(gcMode))

	if allocMode == LFS {
		aligned := v.alignDownToSection(best)
		sec := v.secno(aligned)
		if gcType == FgGC {
			v.curVictimSec = &sec
		} else {
			v.segs.VictimSecmap().Set(uint32(sec))
		}
		return Victim{Segno: aligned, Mode: gcMode}, true
	}

	return Victim{Segno: best, Mode: gcMode}, true
}

// fastPathLocked is the LFS+FG fast path of §4.2: consume a section
// already vetted by background GC via victim_secmap.
func (v *VictimSelector) fastPathLocked(gcMode GCMode) (Victim, bool) {
	vsm := v.segs.VictimSecmap()
	cur := uint32(0)
	for {
		bit, ok := vsm.NextSet(cur)
		if !ok {
			return Victim{}, false
		}
		sec := Secno(bit)
		if !v.segs.SecUsageCheck(sec) {
			vsm.Clear(bit)
			segno := Segno(bit * uint32(v.secSegs))
			v.curVictimSec = &sec
			v.metrics.IncVictimSelection(gcModeLabel(gcMode) + "_fastpath")
			return Victim{Segno: segno, Mode: gcMode}, true
		}
		cur = bit + 1
	}
}

func gcModeLabel(m GCMode) string {
	if m == GCGreedy {
		return "greedy"
	}
	return "cost_benefit"
}

// costOf dispatches to the cost function selected by gcMode/allocMode and
// reports the sentinel "not worth it" max cost for that model, per §4.2.
func (v *VictimSelector) costOf(gcMode GCMode, allocMode AllocMode, segno Segno, sec Secno) (int, int) {
	if allocMode == SSR {
		e := v.segs.GetSegEntry(segno)
		return v.cost.SSRCost(e), v.cost.SSRMaxCost()
	}
	switch gcMode {
	case GCGreedy:
		entries := v.sectionEntries(sec)
		return v.cost.GreedyCost(entries), v.cost.GreedyMaxCost()
	default:
		entries := v.sectionEntries(sec)
		return int(v.cost.CostBenefit(entries)), int(MaxCostU32)
	}
}

// CurVictimSec reports the section the most recent FG selection committed
// to, for observability (internal/gc/status.go).
func (v *VictimSelector) CurVictimSec() (Secno, bool) {
	v.seglistLock.Lock()
	defer v.seglistLock.Unlock()
	if v.curVictimSec == nil {
		return 0, false
	}
	return *v.curVictimSec, true
}

// ClearCurVictimSec resets bookkeeping after an FG pass completes (§4.6,
// "cur_victim_sec <- none").
func (v *VictimSelector) ClearCurVictimSec() {
	v.seglistLock.Lock()
	defer v.seglistLock.Unlock()
	v.curVictimSec = nil
}

// LastVictim reports last_victim[gcMode], the persisted selector cursor
// (§6, "Observable state").
func (v *VictimSelector) LastVictim(mode GCMode) Segno {
	v.seglistLock.Lock()
	defer v.seglistLock.Unlock()
	return v.lastVictim[mode]
}
