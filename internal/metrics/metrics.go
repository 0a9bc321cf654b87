// Package metrics exposes the GC's Prometheus instrumentation, grounded on
// the teacher's own *Metrics field threaded through SegmentGroup and its
// constructors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// GC holds the counters/gauges the GC package updates. A nil *GC is valid
// everywhere it's used (all methods are nil-safe no-ops), mirroring how
// the teacher tolerates an unconfigured metrics dependency in tests.
type GC struct {
	SegmentsReclaimed prometheus.Counter
	BlocksRelocated   *prometheus.CounterVec // label "class": move|remap|encrypted
	WaitMs            prometheus.Gauge
	DirtySegments     prometheus.Gauge
	VictimSelections  *prometheus.CounterVec // label "mode": greedy|cost_benefit
}

// New registers and returns a GC metrics bundle on reg.
func New(reg prometheus.Registerer) *GC {
	g := &GC{
		SegmentsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flashfs",
			Subsystem: "gc",
			Name:      "segments_reclaimed_total",
			Help:      "Sections fully reclaimed by the garbage collector.",
		}),
		BlocksRelocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashfs",
			Subsystem: "gc",
			Name:      "blocks_relocated_total",
			Help:      "Blocks relocated by the garbage collector, by relocation class.",
		}, []string{"class"}),
		WaitMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flashfs",
			Subsystem: "gc",
			Name:      "pacer_wait_ms",
			Help:      "Current pacing worker sleep interval, in milliseconds.",
		}),
		DirtySegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flashfs",
			Subsystem: "gc",
			Name:      "dirty_segments",
			Help:      "Segments currently eligible for victim selection.",
		}),
		VictimSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashfs",
			Subsystem: "gc",
			Name:      "victim_selections_total",
			Help:      "Victim selections performed, by cost model.",
		}, []string{"mode"}),
	}

	if reg != nil {
		reg.MustRegister(g.SegmentsReclaimed, g.BlocksRelocated, g.WaitMs, g.DirtySegments, g.VictimSelections)
	}
	return g
}

// The Inc*/Set* helpers below are nil-receiver safe so callers can thread
// an unconfigured (nil) *GC through tests without a separate no-op
// implementation.

func (g *GC) IncSegmentsReclaimed() {
	if g == nil {
		return
	}
	g.SegmentsReclaimed.Inc()
}

func (g *GC) IncBlocksRelocated(class string) {
	if g == nil {
		return
	}
	g.BlocksRelocated.WithLabelValues(class).Inc()
}

func (g *GC) SetWaitMs(ms float64) {
	if g == nil {
		return
	}
	g.WaitMs.Set(ms)
}

func (g *GC) SetDirtySegments(n float64) {
	if g == nil {
		return
	}
	g.DirtySegments.Set(n)
}

func (g *GC) IncVictimSelection(mode string) {
	if g == nil {
		return
	}
	g.VictimSelections.WithLabelValues(mode).Inc()
}
