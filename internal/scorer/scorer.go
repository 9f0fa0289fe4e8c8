// Package scorer implements the Opportunity Scorer & Sizer (spec §4.8):
// input sizing under a slippage ceiling, sequential simulation, a
// profitability gate, and a weighted priority score.
package scorer

import (
	"math"

	"github.com/triarb/engine/internal/arbtypes"
)

// PoolLookup resolves a pool address to its current reserves, the
// constant-product sizing formula's `R` (spec §4.8). The scorer only
// needs reserves, not the full ingestion pipeline, so it depends on this
// narrow interface rather than internal/enrich or internal/fetcher.
type PoolLookup interface {
	Pool(addr [32]byte) (arbtypes.Pool, bool)
}

// Config holds the scorer's tunables (spec §4.8).
type Config struct {
	MaxSlippageBps int64
	MinProfitBps   int64
	MaxPositionIn  uint64
}

// Scorer sizes, simulates and scores candidate cycles into Opportunities.
type Scorer struct {
	pools PoolLookup
	cfg   Config
}

// New builds a Scorer drawing reserve data from pools.
func New(pools PoolLookup, cfg Config) *Scorer {
	return &Scorer{pools: pools, cfg: cfg}
}

// hopCeiling is the maximum input (denominated in the hop's From token)
// that keeps this single hop's slippage at or below maxSlippageBps.
func hopCeiling(step arbtypes.CycleStep, reserveIn uint64, maxSlippageBps int64) uint64 {
	s := float64(maxSlippageBps) / 10000
	if len(step.Ladder) > 0 {
		return ladderCeiling(step, maxSlippageBps)
	}
	// Constant-product hop: amount satisfying slippage s is R*s/(1-s)
	// (spec §4.8, verified by scenario S4).
	if s >= 1 {
		return reserveIn
	}
	ceiling := float64(reserveIn) * s / (1 - s)
	if ceiling < 0 {
		return 0
	}
	return uint64(ceiling)
}

// ladderCeiling sums liquidity across consecutive levels whose price
// satisfies price >= rate*(1-s) (spec §4.8's ladder-of-levels sizing).
func ladderCeiling(step arbtypes.CycleStep, maxSlippageBps int64) uint64 {
	s := float64(maxSlippageBps) / 10000
	floor := step.Rate * (1 - s)
	var total uint64
	for _, lvl := range step.Ladder {
		if lvl.Price < floor {
			break
		}
		total += lvl.Liquidity
	}
	return total
}

// reserveInFor resolves the reserve of the hop's input token from the
// pool the step trades on. Pump-style pools whose reserves are already
// populated at parse time (the exception documented in internal/dex/pump.go) are
// resolved the same way as any other pool.
func reserveInFor(pools PoolLookup, step arbtypes.CycleStep) (uint64, bool) {
	pool, ok := pools.Pool(step.Pool)
	if !ok {
		return 0, false
	}
	switch step.From {
	case pool.TokenA:
		return pool.ReserveA, true
	case pool.TokenB:
		return pool.ReserveB, true
	default:
		return 0, false
	}
}

// SizeAndSimulate sizes the cycle's input (the minimum of every hop's
// slippage ceiling, capped by MaxPositionIn) and simulates sequential
// application of each hop's rate and fee to derive expected output (spec
// §4.8). ok is false when any hop's pool is unresolvable.
func (s *Scorer) SizeAndSimulate(cycle arbtypes.Cycle) (input, output uint64, ok bool) {
	if len(cycle.Steps) == 0 {
		return 0, 0, false
	}

	ceiling := s.cfg.MaxPositionIn
	for _, step := range cycle.Steps {
		reserveIn, found := reserveInFor(s.pools, step)
		if !found {
			return 0, 0, false
		}
		hc := hopCeiling(step, reserveIn, s.cfg.MaxSlippageBps)
		if hc < ceiling {
			ceiling = hc
		}
	}
	input = ceiling

	amount := input
	for _, step := range cycle.Steps {
		effective := step.Rate * (1 - float64(step.FeeBps)/10000)
		amount = uint64(math.Floor(float64(amount) * effective))
	}
	return input, amount, true
}

// NetProfitBps computes basis-points profit of output over input.
func NetProfitBps(input, output uint64) int64 {
	if input == 0 {
		return 0
	}
	return int64(math.Round((float64(output)/float64(input) - 1) * 10000))
}

// hopCountWeight is the hop-count-preference term of the priority score
// (spec §4.8).
func hopCountWeight(hops int) float64 {
	switch hops {
	case 2:
		return 1.0
	case 3:
		return 0.8
	case 4:
		return 0.6
	default:
		return 0.4
	}
}

// clampProfit maps native-unit profit onto [0, 1] for the priority
// score's profit term; profit at or above profitCapForScore saturates.
const profitCapForScore = 1_000_000_000 // 1e9 lamports ~= 1 SOL

func clampProfit(profit int64) float64 {
	if profit <= 0 {
		return 0
	}
	v := float64(profit) / profitCapForScore
	if v > 1 {
		return 1
	}
	return v
}

const liquidityProxyDefault = 0.5

// PriorityScore computes the weighted priority score in [0, 1] (spec
// §4.8): 0.4 profit + 0.3 hop-count preference + 0.2 liquidity proxy +
// 0.1 DEX reliability.
func PriorityScore(netProfit int64, hops int, dexReliability float64) float64 {
	return 0.4*clampProfit(netProfit) +
		0.3*hopCountWeight(hops) +
		0.2*liquidityProxyDefault +
		0.1*dexReliability
}

// dominantFamily picks the reliability-weighting family for a cycle: the
// least reliable hop, since that is the hop most likely to fail or be
// front-run (conservative choice; spec §4.8 does not specify how a
// multi-family cycle reduces to one reliability figure).
func dominantFamily(cycle arbtypes.Cycle) arbtypes.DexFamily {
	worst := arbtypes.DexFamily(0)
	worstScore := math.Inf(1)
	for _, step := range cycle.Steps {
		r, ok := arbtypes.DexReliability[step.Family]
		if !ok {
			r = 0
		}
		if r < worstScore {
			worstScore = r
			worst = step.Family
		}
	}
	return worst
}

// ClassifyRisk applies spec §4.8's risk-class rule.
func ClassifyRisk(hops int, netProfitBps int64) arbtypes.RiskClass {
	switch {
	case hops <= 3 && netProfitBps > 200:
		return arbtypes.RiskLow
	case hops >= 4 || netProfitBps < 50:
		return arbtypes.RiskHigh
	default:
		return arbtypes.RiskMedium
	}
}

// Evaluate runs the full pipeline (size, simulate, gate, score, classify)
// and returns the resulting Opportunity. ok is false if sizing failed or
// the cycle did not clear the profitability gate.
func (s *Scorer) Evaluate(cycle arbtypes.Cycle) (arbtypes.Opportunity, bool) {
	input, output, ok := s.SizeAndSimulate(cycle)
	if !ok || input == 0 {
		return arbtypes.Opportunity{}, false
	}

	netBps := NetProfitBps(input, output)
	if netBps < s.cfg.MinProfitBps {
		return arbtypes.Opportunity{}, false
	}

	family := dominantFamily(cycle)
	score := PriorityScore(int64(output)-int64(input), cycle.Hops(), arbtypes.DexReliability[family])

	return arbtypes.Opportunity{
		Cycle:          cycle,
		InputAmount:    input,
		ExpectedOutput: output,
		ExpectedProfit: int64(output) - int64(input),
		NetProfitBps:   netBps,
		PriorityScore:  score,
		Risk:           ClassifyRisk(cycle.Hops(), netBps),
		DetectedAt:     cycle.DetectedAt,
	}, true
}
