package gc

// StatusSnapshot is a read-only view of pacer and selector state,
// supplementing the distilled spec's silence on an inspection surface --
// mirrored on SegmentGroup.Len()/isReadOnly() in the teacher, which expose
// internal bookkeeping without taking the maintenance write lock.
type StatusSnapshot struct {
	WaitMs             int64
	LastVictimGreedy   Segno
	LastVictimCostBen  Segno
	CurVictimSec       Secno
	HasCurVictimSec    bool
	VictimSecmapCount  uint64
}

// Status returns a point-in-time snapshot. It never blocks on gc_mutex.
func (m *Manager) Status() StatusSnapshot {
	snap := StatusSnapshot{
		LastVictimGreedy:  m.Victims.LastVictim(GCGreedy),
		LastVictimCostBen: m.Victims.LastVictim(GCCostBenefit),
		VictimSecmapCount: m.deps.Segments.VictimSecmap().Count(),
	}
	if sec, ok := m.Victims.CurVictimSec(); ok {
		snap.CurVictimSec = sec
		snap.HasCurVictimSec = true
	}
	if p := m.pacer; p != nil {
		snap.WaitMs = p.WaitMs()
	}
	return snap
}
