package enrich

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/triarb/engine/internal/arbtypes"
	"github.com/triarb/engine/internal/fetcher"
)

type fakeFetcher struct {
	byAddr map[[32]byte]*fetcher.Account
}

func (f *fakeFetcher) FetchOne(ctx context.Context, a [32]byte) (*fetcher.Account, error) {
	return f.byAddr[a], nil
}

func (f *fakeFetcher) FetchMany(ctx context.Context, addrs [][32]byte) ([]*fetcher.Account, error) {
	out := make([]*fetcher.Account, len(addrs))
	for i, a := range addrs {
		out[i] = f.byAddr[a]
	}
	return out, nil
}

func vaultAccount(balance uint64) *fetcher.Account {
	data := make([]byte, 80)
	binary.LittleEndian.PutUint64(data[64:72], balance)
	return &fetcher.Account{Data: data}
}

func TestEnrichFillsReserves(t *testing.T) {
	vaultA := [32]byte{1}
	vaultB := [32]byte{2}
	f := &fakeFetcher{byAddr: map[[32]byte]*fetcher.Account{
		vaultA: vaultAccount(1_000_000),
		vaultB: vaultAccount(2_000_000),
	}}
	e := New(f, nil)

	pool := &arbtypes.Pool{VaultA: vaultA, VaultB: vaultB}
	err := e.Enrich(context.Background(), []*arbtypes.Pool{pool})
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), pool.ReserveA)
	require.Equal(t, uint64(2_000_000), pool.ReserveB)
	require.True(t, pool.Tradeable())
}

// TestS7VaultEnrichmentSkip is spec scenario S7: a pool whose vault account
// is absent is parsed with reserves left at zero, contributes no edges,
// and increments pools_missing_vault.
func TestS7VaultEnrichmentSkip(t *testing.T) {
	vaultA := [32]byte{1}
	vaultB := [32]byte{2} // never populated in the fake -> nil account
	f := &fakeFetcher{byAddr: map[[32]byte]*fetcher.Account{
		vaultA: vaultAccount(1_000_000),
	}}
	e := New(f, nil)

	pool := &arbtypes.Pool{VaultA: vaultA, VaultB: vaultB}
	err := e.Enrich(context.Background(), []*arbtypes.Pool{pool})
	require.NoError(t, err)
	require.Zero(t, pool.ReserveA)
	require.Zero(t, pool.ReserveB)
	require.False(t, pool.Tradeable())
	require.Equal(t, uint64(1), e.MissingVaultCount())
}

func TestEnrichSkipsPoolsWithoutVaults(t *testing.T) {
	e := New(&fakeFetcher{byAddr: map[[32]byte]*fetcher.Account{}}, nil)
	pool := &arbtypes.Pool{ReserveA: 5, ReserveB: 5} // e.g. a Pump pool, already populated
	err := e.Enrich(context.Background(), []*arbtypes.Pool{pool})
	require.NoError(t, err)
	require.Equal(t, uint64(5), pool.ReserveA)
}
