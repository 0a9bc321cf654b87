package gc

import "math"

// MaxCostU32 mirrors the source's UINT_MAX sentinel used in the
// cost-benefit formula (§4.2).
const MaxCostU32 = math.MaxUint32

// CostModel computes the two segment-selection cost functions of §4.2. It
// owns the adaptive mtime range (min_mtime/max_mtime) the cost-benefit
// model needs, since that range must persist and drift across calls.
type CostModel struct {
	blocksPerSeg int
	secSegs      int // S, segments per section ("ofs_unit")

	minMtime uint64
	maxMtime uint64
	seeded   bool
}

// NewCostModel builds a cost model for a filesystem with the given segment
// size (B) and section size (S).
func NewCostModel(blocksPerSeg, secSegs int) *CostModel {
	return &CostModel{blocksPerSeg: blocksPerSeg, secSegs: secSegs}
}

// GreedyCost is the LFS greedy cost of a section: valid blocks summed
// across its S segments. maxCost = B * S.
func (c *CostModel) GreedyCost(entries []SegEntry) int {
	total := 0
	for _, e := range entries {
		total += e.ValidBlocks
	}
	return total
}

// GreedyMaxCost is the "not worth it" sentinel for GreedyCost.
func (c *CostModel) GreedyMaxCost() int { return c.blocksPerSeg * c.secSegs }

// SSRCost is the SSR cost of a single segment: its checkpointed
// valid-block count. maxCost = B.
func (c *CostModel) SSRCost(e SegEntry) int { return e.CkptValidBlocks }

// SSRMaxCost is the "not worth it" sentinel for SSRCost.
func (c *CostModel) SSRMaxCost() int { return c.blocksPerSeg }

// observeMtime extends the adaptive [min_mtime, max_mtime] range to cover
// mtime, per §4.2 ("adapted to drift").
func (c *CostModel) observeMtime(mtime uint64) {
	if !c.seeded {
		c.minMtime, c.maxMtime, c.seeded = mtime, mtime, true
		return
	}
	if mtime < c.minMtime {
		c.minMtime = mtime
	}
	if mtime > c.maxMtime {
		c.maxMtime = mtime
	}
}

// CostBenefit computes the cost-benefit cost of a section from its
// segment entries, per the exact formula of §4.2. Lower cost wins.
func (c *CostModel) CostBenefit(entries []SegEntry) uint32 {
	if len(entries) == 0 {
		return MaxCostU32
	}

	var mtimeSum uint64
	var validSum int
	for _, e := range entries {
		c.observeMtime(e.Mtime)
		mtimeSum += e.Mtime
		validSum += e.ValidBlocks
	}

	mtimeAvg := mtimeSum / uint64(len(entries))
	validAvg := float64(validSum) / float64(len(entries))

	u := validAvg * 100 / float64(c.blocksPerSeg)

	var age float64
	if c.maxMtime > c.minMtime {
		age = 100 - 100*float64(mtimeAvg-c.minMtime)/float64(c.maxMtime-c.minMtime)
	}

	cost := float64(MaxCostU32) - (100*(100-u)*age)/(100+u)
	if cost < 0 {
		cost = 0
	}
	return uint32(cost)
}
