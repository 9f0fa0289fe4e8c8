package arbtypes

import "time"

// Pool is a liquidity pool at an on-chain address. Reserves are derived:
// the parser fills them with zero, the vault enricher (internal/enrich)
// fills them in a separate pass from vault account balances.
type Pool struct {
	Address     [32]byte
	Owner       [32]byte // owning program id, used by the parser to pick a DexFamily
	Family      DexFamily
	TokenA      Token
	TokenB      Token
	VaultA      [32]byte
	VaultB      [32]byte
	ReserveA    uint64
	ReserveB    uint64
	FeeBps      uint16
	LastUpdated time.Time
}

// HasVaults reports whether both vault addresses are known. A pool with an
// unknown vault is skipped by the enricher; whether it contributes edges is
// decided by Tradeable alone (Pump pools carry reserves without vaults).
func (p Pool) HasVaults() bool {
	return p.VaultA != ([32]byte{}) && p.VaultB != ([32]byte{})
}

// Tradeable reports whether the pool satisfies the invariant in spec §3:
// both reserves must be non-zero, and fee_bps must not exceed 10000, before
// the pool may contribute edges to the graph.
func (p Pool) Tradeable() bool {
	return p.FeeBps <= 10000 && p.ReserveA > 0 && p.ReserveB > 0
}

// PriceLevel is one rung of a liquidity-depth ladder: the price at which
// `Liquidity` units of the quote side are available. Used by concentrated-
// liquidity families (Whirlpool) where a single reserve figure does not
// capture available depth.
type PriceLevel struct {
	Price     float64
	Liquidity uint64
}
