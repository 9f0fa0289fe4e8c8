package arbtypes

import (
	"math"
	"time"
)

// CycleStep is one hop of a cycle: swap `From` for `To` on `Pool` (a pool of
// the given DexFamily) at `Rate` after `FeeBps`. `Ladder`, when non-nil,
// carries the depth-ladder snapshot from the underlying edge for families
// (e.g. Whirlpool) where a single reserve figure does not capture
// available liquidity (spec §4.8's ladder-of-levels sizing path).
type CycleStep struct {
	From   Token
	To     Token
	Family DexFamily
	Pool   [32]byte
	Rate   float64
	FeeBps uint16
	Ladder []PriceLevel
}

// Cycle is an ordered path that returns to its starting token, along with
// the aggregate metrics the detector computed while assembling it (spec
// §3, §4.7).
type Cycle struct {
	Steps            []CycleStep
	Start            Token
	Weight           float64 // sum of per-hop weights, strictly negative
	GrossProfitRatio float64 // exp(-Weight)
	GrossProfitBps   int64
	TotalFeeBps      int64
	DetectedAt       time.Time
}

// Hops returns the number of swaps in the cycle.
func (c Cycle) Hops() int { return len(c.Steps) }

// NewCycle assembles aggregate metrics from a weight sum, matching the
// invariant in spec §8.3: gross_profit_ratio = exp(-sum(w)), gross_profit_bps
// = round((ratio-1)*10000).
func NewCycle(start Token, steps []CycleStep, weight float64, ts time.Time) Cycle {
	ratio := math.Exp(-weight)
	var totalFee int64
	for _, s := range steps {
		totalFee += int64(s.FeeBps)
	}
	return Cycle{
		Steps:            steps,
		Start:            start,
		Weight:           weight,
		GrossProfitRatio: ratio,
		GrossProfitBps:   int64(math.Round((ratio - 1) * 10000)),
		TotalFeeBps:      totalFee,
		DetectedAt:       ts,
	}
}

// RiskClass classifies an opportunity's execution risk (spec §4.8).
type RiskClass uint8

const (
	RiskLow RiskClass = iota
	RiskMedium
	RiskHigh
)

func (r RiskClass) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskHigh:
		return "high"
	default:
		return "medium"
	}
}

// Opportunity is a Cycle promoted by the scorer: sized, simulated, and
// ranked for execution (spec §3, §4.8).
type Opportunity struct {
	Cycle          Cycle
	InputAmount    uint64
	ExpectedOutput uint64
	ExpectedProfit int64 // native-token units (e.g. lamports)
	NetProfitBps   int64
	PriorityScore  float64
	Risk           RiskClass
	DetectedAt     time.Time
}
