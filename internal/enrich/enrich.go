// Package enrich implements the Vault Enricher (spec §4.3): given a batch
// of parsed pools, it fetches every referenced vault account once and fills
// in the authoritative reserve balances.
package enrich

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/luxfi/log"

	"github.com/triarb/engine/internal/arbtypes"
	"github.com/triarb/engine/internal/fetcher"
)

// vaultBalanceOffset is the byte offset of the little-endian u64 balance
// slot in an SPL-style token-account payload (spec §6).
const (
	vaultBalanceOffset = 64
	vaultMinLen        = 72
)

// Enricher fills Pool.ReserveA/ReserveB from vault account balances.
type Enricher struct {
	fetch fetcher.Fetcher
	log   log.Logger

	missingVaults atomic.Uint64 // pools_missing_vault metric, spec scenario S7
}

// New builds an Enricher drawing vault balances from fetch.
func New(fetch fetcher.Fetcher, logger log.Logger) *Enricher {
	if logger == nil {
		logger = log.New()
	}
	return &Enricher{fetch: fetch, log: logger}
}

// MissingVaultCount returns the running total of pools whose vault was
// absent or malformed (spec scenario S7's `pools_missing_vault` metric).
func (e *Enricher) MissingVaultCount() uint64 { return e.missingVaults.Load() }

// DecodeVaultBalance reads the little-endian u64 balance slot out of a raw
// vault account payload (spec §6). Exported for the Orchestrator's live
// subscription path, which re-derives a single vault's balance from a
// streamed update rather than a batch fetch.
func DecodeVaultBalance(data []byte) (uint64, bool) {
	if len(data) < vaultMinLen {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data[vaultBalanceOffset:vaultMinLen]), true
}

// Enrich mutates pools in place, filling ReserveA/ReserveB from the
// corresponding vault accounts (spec §4.3). Pools with unknown vaults are
// left at zero reserves and logged, not failed; callers proceed to filter
// them out of the graph via Pool.Tradeable().
func (e *Enricher) Enrich(ctx context.Context, pools []*arbtypes.Pool) error {
	if len(pools) == 0 {
		return nil
	}

	// Step 1: collect every distinct vault address referenced.
	seen := make(map[[32]byte]struct{})
	var vaults [][32]byte
	for _, p := range pools {
		if !p.HasVaults() {
			continue
		}
		for _, v := range []([32]byte){p.VaultA, p.VaultB} {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				vaults = append(vaults, v)
			}
		}
	}
	if len(vaults) == 0 {
		return nil
	}

	// Step 2: fetch the full set in one call.
	accounts, err := e.fetch.FetchMany(ctx, vaults)
	if err != nil {
		return err
	}

	balances := make(map[[32]byte]uint64, len(vaults))
	for i, acc := range accounts {
		addr := vaults[i]
		if acc == nil || len(acc.Data) < vaultMinLen {
			e.log.Warn("vault account missing or malformed", "vault", addr)
			continue
		}
		balances[addr] = binary.LittleEndian.Uint64(acc.Data[vaultBalanceOffset:vaultMinLen])
	}

	// Step 3/4: populate reserves.
	for _, p := range pools {
		if !p.HasVaults() {
			continue
		}
		ra, okA := balances[p.VaultA]
		rb, okB := balances[p.VaultB]
		if !okA || !okB {
			e.missingVaults.Add(1)
			continue
		}
		p.ReserveA = ra
		p.ReserveB = rb
	}
	return nil
}
