// Package arbtypes defines the core data model shared by every subsystem of
// the arbitrage engine: tokens, pools, graph edges, and the cycles and
// opportunities the detector and scorer produce.
package arbtypes

import "encoding/hex"

// Token is an opaque on-chain mint identifier. It is used only for
// equality, hashing, and as a map key — the engine never interprets its
// bytes.
type Token [32]byte

// String renders the token as a hex string for logging. Addresses on the
// wire are base58, but Token itself is chain-format-agnostic; callers that
// need the base58 mint address keep it alongside the Token in their own
// lookup table.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// DexFamily tags the AMM program a pool belongs to. Each family has its own
// binary layout and instruction encoding (see internal/dex).
type DexFamily uint8

const (
	DexUnknown DexFamily = iota
	DexRaydium
	DexMeteoraDLMM
	DexWhirlpool
	DexPump
)

func (f DexFamily) String() string {
	switch f {
	case DexRaydium:
		return "raydium"
	case DexMeteoraDLMM:
		return "meteora-dlmm"
	case DexWhirlpool:
		return "whirlpool"
	case DexPump:
		return "pump"
	default:
		return "unknown"
	}
}

// DexReliability is the tabulated per-family weight used by the Opportunity
// Scorer's priority formula (spec §4.8): more established programs score
// higher. Ordering reflects relative mainnet maturity/TVL of each family,
// not any property this engine measures directly.
var DexReliability = map[DexFamily]float64{
	DexRaydium:     1.0,
	DexWhirlpool:   0.9,
	DexMeteoraDLMM: 0.8,
	DexPump:        0.7,
}
