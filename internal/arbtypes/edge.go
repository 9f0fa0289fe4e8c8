package arbtypes

import (
	"math"
	"time"
)

// ExchangeEdge is a directed arc from_token -> to_token, priced by one
// specific pool. Two edges are produced per pool (A->B and B->A); both are
// indexed by (from, to, family, pool) so parallel DEX paths between the
// same token pair coexist (spec §3).
type ExchangeEdge struct {
	From        Token
	To          Token
	Family      DexFamily
	Pool        [32]byte
	Rate        float64 // units of To per unit of From, before fee (FeeBps is applied in Weight)
	Weight      float64 // -ln(rate * (1 - fee/10000)); +Inf if rate <= 0
	FeeBps      uint16
	Ladder      []PriceLevel // optional depth ladder, ordered by price
	LastUpdated time.Time
}

// Weight computes the log-transformed edge weight used for negative-cycle
// detection: w = -ln(rate * (1 - fee_bps/10000)). Per spec §3/§8 invariant 1,
// a non-positive effective rate maps to +Inf so the edge is simply skipped
// by the search rather than producing a NaN or a bogus negative weight.
func Weight(rate float64, feeBps uint16) float64 {
	effective := rate * (1 - float64(feeBps)/10000)
	if effective <= 0 {
		return math.Inf(1)
	}
	return -math.Log(effective)
}

// NewEdge builds an edge with its weight precomputed.
func NewEdge(from, to Token, family DexFamily, pool [32]byte, rate float64, feeBps uint16, ladder []PriceLevel, ts time.Time) ExchangeEdge {
	return ExchangeEdge{
		From:        from,
		To:          to,
		Family:      family,
		Pool:        pool,
		Rate:        rate,
		Weight:      Weight(rate, feeBps),
		FeeBps:      feeBps,
		Ladder:      ladder,
		LastUpdated: ts,
	}
}

// UpdateRate mutates the edge's rate, weight and timestamp in place —
// the O(1) live-update path the graph's secondary index exists to serve.
func (e *ExchangeEdge) UpdateRate(rate float64, ts time.Time) {
	e.Rate = rate
	e.Weight = Weight(rate, e.FeeBps)
	e.LastUpdated = ts
}
