package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/triarb/engine/internal/arbtypes"
	"github.com/triarb/engine/internal/fetcher"
	"github.com/triarb/engine/internal/sender"
	"github.com/triarb/engine/internal/subscription"
	"github.com/triarb/engine/internal/txbuilder"
)

// TestMain verifies no goroutine leaks past the orchestrator's shutdown
// path, matching the teacher's core/main_test.go use of goleak.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func tok(seed byte) arbtypes.Token {
	var t arbtypes.Token
	for i := range t {
		t[i] = seed + byte(i)
	}
	return t
}

func addr32(seed byte) [32]byte {
	var a [32]byte
	for i := range a {
		a[i] = seed
	}
	return a
}

// fakeFetcher never has any accounts: bootstrap tests exercise pool
// decoding against internal/dex's own byte-layout tests, not here, so the
// orchestrator's fetch path only needs to be exercised for its "nothing
// came back" and "nothing configured" branches.
type fakeFetcher struct{}

func (fakeFetcher) FetchOne(ctx context.Context, address [32]byte) (*fetcher.Account, error) {
	return nil, nil
}

func (fakeFetcher) FetchMany(ctx context.Context, addresses [][32]byte) ([]*fetcher.Account, error) {
	return make([]*fetcher.Account, len(addresses)), nil
}

func testOrchestrator() *Orchestrator {
	return New(Config{
		Fetch:             fakeFetcher{},
		WSURL:             "wss://fake.invalid",
		DetectionInterval: 10 * time.Millisecond,
		MaxSlippageBps:    100,
		MinProfitBps:      1,
		MaxPositionIn:     1_000_000_000,
		Workers:           1,
		ShutdownGrace:     200 * time.Millisecond,
		TxBuilder:         txbuilder.Config{SlippageBps: 50},
	})
}

func TestBootstrapWithNoPoolsIsNoop(t *testing.T) {
	o := testOrchestrator()
	require.NoError(t, o.bootstrap(context.Background()))
	require.Equal(t, 0, o.g.TokenCount())
	require.Equal(t, 0, o.g.EdgeCount())
}

func TestBootstrapSkipsMissingAccounts(t *testing.T) {
	o := testOrchestrator()
	o.cfg.PoolAddresses = [][32]byte{addr32(1), addr32(2)}
	require.NoError(t, o.bootstrap(context.Background()))
	require.Equal(t, 0, o.g.TokenCount())
}

// TestRegisterPoolPopulatesGraphCacheAndVaultIndex exercises the
// bootstrap→graph wiring directly via registerPoolLocked, the same path
// bootstrap uses once a pool clears decode+enrich (spec §4.11).
func TestRegisterPoolPopulatesGraphCacheAndVaultIndex(t *testing.T) {
	o := testOrchestrator()
	pool := arbtypes.Pool{
		Address:  addr32(10),
		Owner:    addr32(11),
		Family:   arbtypes.DexRaydium,
		TokenA:   tok(1),
		TokenB:   tok(2),
		VaultA:   addr32(20),
		VaultB:   addr32(21),
		ReserveA: 1_000_000,
		ReserveB: 2_000_000,
		FeeBps:   30,
	}

	o.poolsMu.Lock()
	o.registerPoolLocked(pool, time.Now())
	o.poolsMu.Unlock()

	require.Equal(t, 2, o.g.TokenCount())
	require.Equal(t, 2, o.g.EdgeCount())

	meta, ok := o.caches.Metadata.Get(pool.Address)
	require.True(t, ok)
	require.Equal(t, pool.FeeBps, meta.FeeBps)

	reserves, ok := o.caches.Reserves.Get(pool.Address)
	require.True(t, ok)
	require.Equal(t, pool.ReserveA, reserves.ReserveA)

	vaults := o.vaultAddresses()
	require.Len(t, vaults, 2)
}

// TestApplyVaultUpdateRecomputesEdgeRate exercises the live-update path
// (spec §4.5→§4.6): a streamed vault balance change must mutate the
// pool's reserve and recompute both directed edges' rates in place.
func TestApplyVaultUpdateRecomputesEdgeRate(t *testing.T) {
	o := testOrchestrator()
	pool := arbtypes.Pool{
		Address:  addr32(30),
		Owner:    addr32(31),
		Family:   arbtypes.DexRaydium,
		TokenA:   tok(5),
		TokenB:   tok(6),
		VaultA:   addr32(40),
		VaultB:   addr32(41),
		ReserveA: 1_000_000,
		ReserveB: 1_000_000,
		FeeBps:   0,
	}
	o.poolsMu.Lock()
	o.registerPoolLocked(pool, time.Now())
	o.poolsMu.Unlock()

	before := o.g.EdgesFrom(pool.TokenA)
	require.Len(t, before, 1)
	require.InDelta(t, 1.0, before[0].Rate, 1e-9)

	vaultABalance := make([]byte, 72)
	putLE := func(buf []byte, v uint64) {
		for i := 0; i < 8; i++ {
			buf[64+i] = byte(v >> (8 * uint(i)))
		}
	}
	putLE(vaultABalance, 2_000_000)

	o.applyVaultUpdate(subscription.Update{
		Address: arbtypes.Token(pool.VaultA),
		Data:    vaultABalance,
		Slot:    1,
	})

	after := o.g.EdgesFrom(pool.TokenA)
	require.Len(t, after, 1)
	require.InDelta(t, 0.5, after[0].Rate, 1e-9) // reserveB/reserveA = 1e6/2e6

	reserves, ok := o.caches.Reserves.Get(pool.Address)
	require.True(t, ok)
	require.Equal(t, uint64(2_000_000), reserves.ReserveA)
}

func TestApplyVaultUpdateIgnoresShortPayload(t *testing.T) {
	o := testOrchestrator()
	pool := arbtypes.Pool{
		Address: addr32(50), TokenA: tok(7), TokenB: tok(8),
		VaultA: addr32(60), VaultB: addr32(61),
		ReserveA: 10, ReserveB: 10, FeeBps: 0, Family: arbtypes.DexRaydium,
	}
	o.poolsMu.Lock()
	o.registerPoolLocked(pool, time.Now())
	o.poolsMu.Unlock()

	o.applyVaultUpdate(subscription.Update{Address: arbtypes.Token(pool.VaultA), Data: []byte("short")})

	reserves, ok := o.caches.Reserves.Get(pool.Address)
	require.True(t, ok)
	require.Equal(t, uint64(10), reserves.ReserveA) // unchanged
}

// TestEdgesForPoolProducesBothDirections covers spec §3: "two edges are
// produced per pool", inverse rates.
func TestEdgesForPoolProducesBothDirections(t *testing.T) {
	pool := arbtypes.Pool{
		Address: addr32(1), TokenA: tok(1), TokenB: tok(2),
		ReserveA: 100, ReserveB: 300, FeeBps: 0, Family: arbtypes.DexRaydium,
	}
	ab, ba := edgesForPool(pool, time.Now())
	require.Equal(t, pool.TokenA, ab.From)
	require.Equal(t, pool.TokenB, ab.To)
	require.InDelta(t, 3.0, ab.Rate, 1e-9)
	require.Equal(t, pool.TokenB, ba.From)
	require.Equal(t, pool.TokenA, ba.To)
	require.InDelta(t, 1.0/3.0, ba.Rate, 1e-9)
}

// TestRunLifecycleShutsDownCleanly exercises the full Run() wiring with an
// empty pool/endpoint configuration: startup, background tasks, and a
// clean shutdown within the grace period, with no leaked goroutines
// (checked globally by TestMain's goleak hook).
func TestRunLifecycleShutsDownCleanly(t *testing.T) {
	o := testOrchestrator()
	o.cfg.Anchors = nil // no anchors: detection passes are instant no-ops

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := o.Run(ctx)
	require.NoError(t, err)

	snap := o.Snapshot()
	require.Equal(t, 0, snap.Tokens)
	require.Equal(t, uint64(0), snap.OpportunitiesFound)
}

// TestRunIsIdempotentOnDoubleShutdown guards the closeLock-protected
// shutdown path (matching the teacher's network.go closed/closeLock
// idiom) against being entered twice.
func TestRunIsIdempotentOnDoubleShutdown(t *testing.T) {
	o := testOrchestrator()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, o.Run(ctx))
	require.NoError(t, o.shutdown())
}

// noopEndpoint always confirms immediately, for exercising the handleOpportunity
// send path without a real network.
type noopEndpoint struct{ name string }

func (n noopEndpoint) Name() string { return n.name }
func (n noopEndpoint) Submit(ctx context.Context, tx txbuilder.Transaction) error {
	return nil
}
func (n noopEndpoint) PollStatus(ctx context.Context, tx txbuilder.Transaction) (sender.Status, error) {
	return sender.StatusConfirmed, nil
}

// TestHandleOpportunityBuildsAndSends exercises the worker's build→sign→
// send path end to end for a trivial two-hop opportunity.
func TestHandleOpportunityBuildsAndSends(t *testing.T) {
	o := testOrchestrator()
	o.cfg.SendEndpoints = []sender.Endpoint{noopEndpoint{name: "rpc1"}}
	o.cfg.Sign = func(tx txbuilder.Transaction) ([64]byte, error) {
		return [64]byte{1}, nil
	}

	opp := arbtypes.Opportunity{
		InputAmount:    1000,
		ExpectedOutput: 1100,
		Cycle: arbtypes.Cycle{
			Steps: []arbtypes.CycleStep{
				{From: tok(1), To: tok(2), Family: arbtypes.DexRaydium, Pool: addr32(1), Rate: 1.05, FeeBps: 0},
				{From: tok(2), To: tok(1), Family: arbtypes.DexRaydium, Pool: addr32(2), Rate: 1.05, FeeBps: 0},
			},
		},
	}

	o.handleOpportunity(context.Background(), opp)
	require.Equal(t, uint64(1), o.opportunitiesSent.Load())
	require.Equal(t, uint64(0), o.sendFailures.Load())
}

// mapFetcher serves FetchMany from a fixed address->Account table, for
// exercising the post-confirm realized-profit resimulation.
type mapFetcher map[[32]byte]*fetcher.Account

func (m mapFetcher) FetchOne(ctx context.Context, address [32]byte) (*fetcher.Account, error) {
	return m[address], nil
}

func (m mapFetcher) FetchMany(ctx context.Context, addresses [][32]byte) ([]*fetcher.Account, error) {
	out := make([]*fetcher.Account, len(addresses))
	for i, a := range addresses {
		out[i] = m[a]
	}
	return out, nil
}

func vaultAccount(balance uint64) *fetcher.Account {
	data := make([]byte, 72)
	for i := 0; i < 8; i++ {
		data[64+i] = byte(balance >> (8 * uint(i)))
	}
	return &fetcher.Account{Data: data}
}

// TestCheckFrontrunFlagsDegradedRealizedProfit: a hop's fresh vault
// balances show far worse output than the opportunity's detection-time
// rate promised, so the realized/expected ratio falls below the
// configured threshold and frontrun_suspected must increment.
func TestCheckFrontrunFlagsDegradedRealizedProfit(t *testing.T) {
	o := testOrchestrator()
	pool := arbtypes.Pool{
		Address: addr32(70), TokenA: tok(1), TokenB: tok(2),
		VaultA: addr32(71), VaultB: addr32(72),
		ReserveA: 1_000_000, ReserveB: 1_000_000, FeeBps: 0, Family: arbtypes.DexRaydium,
	}
	o.poolsMu.Lock()
	o.registerPoolLocked(pool, time.Now())
	o.poolsMu.Unlock()

	o.cfg.Fetch = mapFetcher{
		pool.VaultA: vaultAccount(1_000_000),
		pool.VaultB: vaultAccount(100_000), // reserves moved hard against this hop
	}

	opp := arbtypes.Opportunity{
		InputAmount:    1000,
		ExpectedProfit: 500,
		Cycle: arbtypes.Cycle{Steps: []arbtypes.CycleStep{
			{From: tok(1), To: tok(2), Family: arbtypes.DexRaydium, Pool: pool.Address, Rate: 1.5, FeeBps: 0},
		}},
	}

	o.checkFrontrun(context.Background(), opp)
	require.Equal(t, uint64(1), o.frontrunSuspected.Load())
}

// TestCheckFrontrunIgnoresHealthyRealizedProfit: fresh vault balances
// match the opportunity's assumed rate, so no front-run is flagged.
func TestCheckFrontrunIgnoresHealthyRealizedProfit(t *testing.T) {
	o := testOrchestrator()
	pool := arbtypes.Pool{
		Address: addr32(80), TokenA: tok(1), TokenB: tok(2),
		VaultA: addr32(81), VaultB: addr32(82),
		ReserveA: 1_000_000, ReserveB: 1_000_000, FeeBps: 0, Family: arbtypes.DexRaydium,
	}
	o.poolsMu.Lock()
	o.registerPoolLocked(pool, time.Now())
	o.poolsMu.Unlock()

	o.cfg.Fetch = mapFetcher{
		pool.VaultA: vaultAccount(1_000_000),
		pool.VaultB: vaultAccount(1_000_000),
	}

	opp := arbtypes.Opportunity{
		InputAmount:    1000,
		ExpectedProfit: -10, // roughly breakeven at a 1:1 rate
		Cycle: arbtypes.Cycle{Steps: []arbtypes.CycleStep{
			{From: tok(1), To: tok(2), Family: arbtypes.DexRaydium, Pool: pool.Address, Rate: 1.0, FeeBps: 0},
		}},
	}

	o.checkFrontrun(context.Background(), opp)
	require.Equal(t, uint64(0), o.frontrunSuspected.Load())
}

// TestRealizedProfitSkipsUnknownPool: a hop whose pool never registered
// metadata (e.g. it was never bootstrapped) can't be resimulated, so the
// check is skipped rather than guessed at.
func TestRealizedProfitSkipsUnknownPool(t *testing.T) {
	o := testOrchestrator()
	opp := arbtypes.Opportunity{
		InputAmount: 1000,
		Cycle: arbtypes.Cycle{Steps: []arbtypes.CycleStep{
			{From: tok(1), To: tok(2), Family: arbtypes.DexRaydium, Pool: addr32(99), Rate: 1.0, FeeBps: 0},
		}},
	}
	_, ok := o.realizedProfit(context.Background(), opp)
	require.False(t, ok)
}

func TestBuildHopInputsAppliesRateAndFeeSequentially(t *testing.T) {
	o := testOrchestrator()
	opp := arbtypes.Opportunity{
		InputAmount: 1000,
		Cycle: arbtypes.Cycle{Steps: []arbtypes.CycleStep{
			{Rate: 2.0, FeeBps: 0},
			{Rate: 0.5, FeeBps: 1000}, // 10% fee
		}},
	}
	hops := o.buildHopInputs(opp)
	require.Len(t, hops, 2)
	require.Equal(t, uint64(2000), hops[0].ExpectedOut)
	require.Equal(t, uint64(900), hops[1].ExpectedOut) // 2000 * 0.5 * 0.9
}
