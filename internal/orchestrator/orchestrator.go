// Package orchestrator wires every component into the running pipeline
// described in spec §4.11 and §5: startup sequencing, a rate-limited and
// coalescing detection trigger, an opportunity worker pool, and graceful
// shutdown.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
	"golang.org/x/time/rate"

	"github.com/triarb/engine/internal/arbtypes"
	"github.com/triarb/engine/internal/cache"
	"github.com/triarb/engine/internal/dex"
	"github.com/triarb/engine/internal/detector"
	"github.com/triarb/engine/internal/enrich"
	"github.com/triarb/engine/internal/fetcher"
	"github.com/triarb/engine/internal/graph"
	"github.com/triarb/engine/internal/metrics"
	"github.com/triarb/engine/internal/scorer"
	"github.com/triarb/engine/internal/sender"
	"github.com/triarb/engine/internal/subscription"
	"github.com/triarb/engine/internal/txbuilder"
)

// Config is the already-populated configuration the Orchestrator is built
// from. Flag/env parsing is explicitly out of scope (spec §1 Non-goal);
// an external caller owns that and hands over a filled Config.
type Config struct {
	Fetch  fetcher.Fetcher
	WSURL  string
	Logger log.Logger

	// PoolAddresses is the configured universe of pool accounts to track
	// (spec §2: "discovered at startup from configuration").
	PoolAddresses [][32]byte
	Anchors       []arbtypes.Token

	DetectMaxDepth    int
	MinProfitBps      int64
	MaxSlippageBps    int64
	MaxPositionIn     uint64
	DetectionInterval time.Duration // default 1s, spec §4.11

	MetadataCacheCapacity int
	ReservesCacheMaxBytes int

	TxBuilder     txbuilder.Config
	SendEndpoints []sender.Endpoint
	// Sign produces the transaction signature; key management is out of
	// scope (spec §1), so the orchestrator delegates to an external signer.
	Sign func(tx txbuilder.Transaction) ([64]byte, error)

	Workers       int           // opportunity worker-pool size, default 4
	ShutdownGrace time.Duration // default 5s, spec §5
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = log.New()
	}
	if c.DetectionInterval <= 0 {
		c.DetectionInterval = time.Second
	}
	if c.MetadataCacheCapacity <= 0 {
		c.MetadataCacheCapacity = 8192
	}
	if c.ReservesCacheMaxBytes <= 0 {
		c.ReservesCacheMaxBytes = 32 * 1024 * 1024
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
}

// vaultRef locates which pool and side a vault address feeds (spec §4.3):
// the Subscription Manager streams vault-account changes, and each one
// must be routed back to the pool(s) it prices.
type vaultRef struct {
	pool [32]byte
	side byte // 'A' or 'B'
}

// Snapshot is the external metrics-export struct spec §6 calls for
// ("the orchestrator exposes a snapshot struct; no on-disk file format is
// part of the core contract").
type Snapshot struct {
	Tokens              int
	Edges               int
	MissingVaults       uint64
	OpportunitiesFound  uint64
	OpportunitiesSent   uint64
	SendFailures        uint64
	SubscriptionUpdates uint64
	FrontrunSuspected   uint64
}

// Orchestrator drives the full pipeline (spec §4.11).
type Orchestrator struct {
	cfg Config
	log log.Logger

	enricher *enrich.Enricher
	caches   *cache.TwoTier
	g        *graph.Graph
	det      *detector.Detector
	score    *scorer.Scorer
	builder  *txbuilder.Builder
	send     *sender.Sender
	sub      *subscription.Manager
	mx       *metrics.Metrics

	poolsMu    sync.RWMutex
	pools      map[[32]byte]arbtypes.Pool
	vaultIndex map[arbtypes.Token][]vaultRef

	opportunities chan arbtypes.Opportunity

	opportunitiesFound  atomic.Uint64
	opportunitiesSent   atomic.Uint64
	sendFailures        atomic.Uint64
	subscriptionUpdates atomic.Uint64
	frontrunSuspected   atomic.Uint64

	closeLock sync.Mutex
	closed    bool

	wg sync.WaitGroup
}

// poolIndex adapts Orchestrator to scorer.PoolLookup without exposing the
// rest of its surface.
type poolIndex struct{ o *Orchestrator }

func (p poolIndex) Pool(addr [32]byte) (arbtypes.Pool, bool) {
	p.o.poolsMu.RLock()
	defer p.o.poolsMu.RUnlock()
	pool, ok := p.o.pools[addr]
	return pool, ok
}

// New builds an Orchestrator from cfg. Components are constructed but not
// started; call Run to begin the pipeline.
func New(cfg Config) *Orchestrator {
	cfg.setDefaults()

	o := &Orchestrator{
		cfg:           cfg,
		log:           cfg.Logger,
		caches:        cache.New(cfg.MetadataCacheCapacity, cfg.ReservesCacheMaxBytes),
		g:             graph.New(),
		mx:            metrics.New(),
		pools:         make(map[[32]byte]arbtypes.Pool),
		vaultIndex:    make(map[arbtypes.Token][]vaultRef),
		opportunities: make(chan arbtypes.Opportunity, 4096),
	}
	o.enricher = enrich.New(cfg.Fetch, cfg.Logger)
	o.det = detector.New(o.g, detector.Config{
		MaxDepth:     cfg.DetectMaxDepth,
		MinProfitBps: cfg.MinProfitBps,
		Anchors:      cfg.Anchors,
	})
	o.score = scorer.New(poolIndex{o}, scorer.Config{
		MaxSlippageBps: cfg.MaxSlippageBps,
		MinProfitBps:   cfg.MinProfitBps,
		MaxPositionIn:  cfg.MaxPositionIn,
	})
	o.builder = txbuilder.New(cfg.TxBuilder)
	o.send = sender.New(sender.DefaultConfig())
	return o
}

// Snapshot returns a point-in-time view of the running pipeline's state
// (spec §6).
func (o *Orchestrator) Snapshot() Snapshot {
	return Snapshot{
		Tokens:              o.g.TokenCount(),
		Edges:               o.g.EdgeCount(),
		MissingVaults:       o.enricher.MissingVaultCount(),
		OpportunitiesFound:  o.opportunitiesFound.Load(),
		OpportunitiesSent:   o.opportunitiesSent.Load(),
		SendFailures:        o.sendFailures.Load(),
		SubscriptionUpdates: o.subscriptionUpdates.Load(),
		FrontrunSuspected:   o.frontrunSuspected.Load(),
	}
}

// Run executes the full lifecycle: initial fetch and graph population,
// subscription start, the rate-limited detection loop, and the
// opportunity worker pool, blocking until ctx is cancelled and then
// shutting down (spec §4.11). Every background task, the workers' sends
// included, runs under a context derived from ctx, so cancelling ctx also
// cancels any send in progress; shutdown then waits up to ShutdownGrace
// for those goroutines to return.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.bootstrap(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.sub = subscription.New(o.cfg.WSURL, o.vaultAddresses(), o.cfg.Logger)

	trigger := make(chan struct{}, 1)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.sub.Run(runCtx)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.applyUpdates(runCtx, trigger)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.detectionLoop(runCtx, trigger)
	}()

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.worker(runCtx)
		}()
	}

	// Prime the first detection pass against the bootstrap state.
	select {
	case trigger <- struct{}{}:
	default:
	}

	<-ctx.Done()
	return o.shutdown()
}

// shutdown marks the orchestrator closed and waits up to ShutdownGrace for
// every background goroutine to return, logging a warning if the grace
// period elapses first. Those goroutines run under Run's derived context,
// which is already cancelled when shutdown is called, so in-flight sends
// are cancelled with it rather than left to complete.
func (o *Orchestrator) shutdown() error {
	o.closeLock.Lock()
	if o.closed {
		o.closeLock.Unlock()
		return nil
	}
	o.closed = true
	o.closeLock.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(o.cfg.ShutdownGrace):
		o.log.Warn("shutdown grace period elapsed with tasks still running")
	}

	snap := o.Snapshot()
	o.log.Info("final snapshot",
		"tokens", snap.Tokens, "edges", snap.Edges,
		"opportunities_found", snap.OpportunitiesFound,
		"opportunities_sent", snap.OpportunitiesSent,
		"send_failures", snap.SendFailures,
	)
	return nil
}

// bootstrap fetches the configured pool set (including vault enrichment),
// decodes it, and populates the graph and caches (spec §4.11: "initialize
// components, fetch initial pool set including vault enrichment, populate
// the graph").
func (o *Orchestrator) bootstrap(ctx context.Context) error {
	if len(o.cfg.PoolAddresses) == 0 {
		return nil
	}

	accounts, err := o.cfg.Fetch.FetchMany(ctx, o.cfg.PoolAddresses)
	if err != nil {
		return err
	}

	now := time.Now()
	pools := make([]*arbtypes.Pool, 0, len(o.cfg.PoolAddresses))
	for i, acc := range accounts {
		if acc == nil {
			continue
		}
		addr := o.cfg.PoolAddresses[i]
		pool, err := dex.Decode(acc.Owner, addr, acc.Data, now)
		if err != nil {
			o.mx.PoolsParseErrors.WithLabelValues(classifyParseErr(err)).Inc()
			continue
		}
		o.mx.PoolsParsed.Inc()
		pools = append(pools, &pool)
	}

	if err := o.enricher.Enrich(ctx, pools); err != nil {
		return err
	}

	o.poolsMu.Lock()
	for _, p := range pools {
		if !p.Tradeable() {
			continue
		}
		o.registerPoolLocked(*p, now)
	}
	o.poolsMu.Unlock()

	o.mx.GraphTokens.Set(float64(o.g.TokenCount()))
	o.mx.GraphEdges.Set(float64(o.g.EdgeCount()))
	return nil
}

// registerPoolLocked indexes a tradeable pool's metadata/reserves, vault
// routing table, and graph edges. Callers must hold poolsMu.
func (o *Orchestrator) registerPoolLocked(p arbtypes.Pool, now time.Time) {
	o.pools[p.Address] = p
	o.caches.Metadata.Put(p.Address, cache.Metadata{
		Owner: p.Owner, Family: p.Family, TokenA: p.TokenA, TokenB: p.TokenB,
		VaultA: p.VaultA, VaultB: p.VaultB, FeeBps: p.FeeBps,
	})
	o.caches.Reserves.Put(p.Address, cache.Reserves{ReserveA: p.ReserveA, ReserveB: p.ReserveB})

	if p.VaultA != ([32]byte{}) {
		o.vaultIndex[arbtypes.Token(p.VaultA)] = append(o.vaultIndex[arbtypes.Token(p.VaultA)], vaultRef{pool: p.Address, side: 'A'})
	}
	if p.VaultB != ([32]byte{}) {
		o.vaultIndex[arbtypes.Token(p.VaultB)] = append(o.vaultIndex[arbtypes.Token(p.VaultB)], vaultRef{pool: p.Address, side: 'B'})
	}

	ab, ba := edgesForPool(p, now)
	o.g.AddEdge(ab)
	o.g.AddEdge(ba)
}

// edgesForPool derives the pair of directed edges a pool prices (spec
// §3: "two edges are produced per pool").
func edgesForPool(p arbtypes.Pool, now time.Time) (ab, ba arbtypes.ExchangeEdge) {
	rateAB := float64(p.ReserveB) / float64(p.ReserveA)
	rateBA := float64(p.ReserveA) / float64(p.ReserveB)
	ab = arbtypes.NewEdge(p.TokenA, p.TokenB, p.Family, p.Address, rateAB, p.FeeBps, nil, now)
	ba = arbtypes.NewEdge(p.TokenB, p.TokenA, p.Family, p.Address, rateBA, p.FeeBps, nil, now)
	return ab, ba
}

// vaultAddresses returns every vault address currently tracked, for the
// Subscription Manager to shard and subscribe to.
func (o *Orchestrator) vaultAddresses() []arbtypes.Token {
	o.poolsMu.RLock()
	defer o.poolsMu.RUnlock()
	out := make([]arbtypes.Token, 0, len(o.vaultIndex))
	for v := range o.vaultIndex {
		out = append(out, v)
	}
	return out
}

// applyUpdates consumes the Subscription Manager's update stream, updating
// reserves/graph/cache in place and coalescing a detection trigger (spec
// §4.11: "each pool update triggers a graph write... if multiple updates
// arrive within the interval, they coalesce").
func (o *Orchestrator) applyUpdates(ctx context.Context, trigger chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-o.sub.Updates():
			if !ok {
				return
			}
			o.subscriptionUpdates.Add(1)
			o.applyVaultUpdate(u)
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	}
}

func (o *Orchestrator) applyVaultUpdate(u subscription.Update) {
	balance, ok := enrich.DecodeVaultBalance(u.Data)
	if !ok {
		return
	}

	o.poolsMu.Lock()
	refs := o.vaultIndex[u.Address]
	now := time.Now()
	for _, ref := range refs {
		pool, ok := o.pools[ref.pool]
		if !ok {
			continue
		}
		if ref.side == 'A' {
			pool.ReserveA = balance
		} else {
			pool.ReserveB = balance
		}
		o.pools[ref.pool] = pool
		o.caches.Reserves.Put(pool.Address, cache.Reserves{ReserveA: pool.ReserveA, ReserveB: pool.ReserveB})

		if !pool.Tradeable() {
			continue
		}
		ab, ba := edgesForPool(pool, now)
		_ = o.g.UpdateEdgeRate(ab.From, ab.To, ab.Family, ab.Pool, ab.Rate, now)
		_ = o.g.UpdateEdgeRate(ba.From, ba.To, ba.Family, ba.Pool, ba.Rate, now)
	}
	o.poolsMu.Unlock()

	o.mx.GraphTokens.Set(float64(o.g.TokenCount()))
	o.mx.GraphEdges.Set(float64(o.g.EdgeCount()))
}

// detectionLoop runs the Cycle Detector at most once per
// DetectionInterval (spec §4.11), using rate.Limiter.Wait to throttle and
// a single-slot trigger channel to coalesce bursts of updates that arrive
// faster than the interval: every extra non-blocking send on trigger while
// a wait is already pending is a harmless no-op, and the detector always runs against
// whatever the graph's latest state is at the moment it actually fires.
func (o *Orchestrator) detectionLoop(ctx context.Context, trigger chan struct{}) {
	limiter := rate.NewLimiter(rate.Every(o.cfg.DetectionInterval), 1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			drain(trigger)
			o.runDetectionPass(ctx)
		}
	}
}

func drain(trigger chan struct{}) {
	select {
	case <-trigger:
	default:
	}
}

func (o *Orchestrator) runDetectionPass(ctx context.Context) {
	start := time.Now()
	o.mx.DetectionRuns.Inc()

	cycles, err := o.det.DetectAll(ctx)
	if err != nil {
		return
	}
	o.mx.DetectionLatency.Observe(time.Since(start).Seconds())
	if len(cycles) == 0 {
		return
	}
	o.mx.CyclesFound.Add(float64(len(cycles)))

	for _, c := range cycles {
		o.mx.OpportunitiesEvaluated.Inc()
		opp, ok := o.score.Evaluate(c)
		if !ok {
			continue
		}
		o.mx.OpportunitiesPassed.Inc()
		o.opportunitiesFound.Add(1)
		select {
		case o.opportunities <- opp:
		case <-ctx.Done():
			return
		}
	}
}

// worker drains the opportunity queue, building and racing a transaction
// for each one (spec §4.11: "consumed by a worker pool that builds and
// sends transactions").
func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp, ok := <-o.opportunities:
			if !ok {
				return
			}
			o.handleOpportunity(ctx, opp)
		}
	}
}

func (o *Orchestrator) handleOpportunity(ctx context.Context, opp arbtypes.Opportunity) {
	hops := o.buildHopInputs(opp)
	tx, err := o.builder.Build(hops, opp.InputAmount, nil)
	if err != nil {
		o.mx.BuildErrors.WithLabelValues(buildErrKind(err)).Inc()
		return
	}

	if o.cfg.Sign != nil {
		sig, err := o.cfg.Sign(tx)
		if err != nil {
			o.sendFailures.Add(1)
			return
		}
		tx = o.builder.Sign(tx, sig)
	}

	o.mx.SendAttempts.Inc()
	start := time.Now()
	result, err := o.send.Send(ctx, tx, o.cfg.SendEndpoints)
	if err != nil {
		o.sendFailures.Add(1)
		o.mx.SendFailed.WithLabelValues(sendErrKind(err)).Inc()
		return
	}
	o.mx.SendLatency.Observe(time.Since(start).Seconds())
	o.mx.SendConfirmed.Inc()
	o.opportunitiesSent.Add(1)
	_ = result

	o.checkFrontrun(ctx, opp)
}

// checkFrontrun re-fetches each hop's vault balances right after
// confirmation and resimulates the cycle against that live state to
// obtain a realized profit figure, then compares it to the opportunity's
// expected profit via DetectFrontrun (spec §4.10: "after confirmation,
// compare observed realized profit to expected... reported as
// frontrun_suspected in metrics"). A resimulation against the
// authoritative post-confirmation reserves is this engine's only source
// of "realized profit" — it holds no wallet/token-account balance of its
// own to diff (key management is out of scope, spec §1). If any hop's
// pool metadata or vault balances can't be resolved, the check is
// skipped rather than guessed at.
func (o *Orchestrator) checkFrontrun(ctx context.Context, opp arbtypes.Opportunity) {
	realized, ok := o.realizedProfit(ctx, opp)
	if !ok {
		return
	}
	_, suspected := sender.DetectFrontrun(opp.ExpectedProfit, realized, o.send.FrontRunRatio())
	if suspected {
		o.mx.FrontrunSuspected.Inc()
		o.frontrunSuspected.Add(1)
	}
}

// realizedProfit resimulates opp's cycle sequentially, as buildHopInputs
// does, but against freshly fetched vault balances instead of the
// detection-time rates baked into opp.Cycle.Steps.
func (o *Orchestrator) realizedProfit(ctx context.Context, opp arbtypes.Opportunity) (int64, bool) {
	steps := opp.Cycle.Steps
	if len(steps) == 0 {
		return 0, false
	}

	metas := make([]cache.Metadata, len(steps))
	seen := make(map[[32]byte]struct{})
	var vaults [][32]byte
	for i, step := range steps {
		meta, ok := o.caches.Metadata.Get(step.Pool)
		if !ok {
			return 0, false
		}
		metas[i] = meta
		for _, v := range [][32]byte{meta.VaultA, meta.VaultB} {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				vaults = append(vaults, v)
			}
		}
	}

	accounts, err := o.cfg.Fetch.FetchMany(ctx, vaults)
	if err != nil {
		return 0, false
	}
	balances := make(map[[32]byte]uint64, len(vaults))
	for i, acc := range accounts {
		if acc == nil {
			continue
		}
		if bal, ok := enrich.DecodeVaultBalance(acc.Data); ok {
			balances[vaults[i]] = bal
		}
	}

	amount := opp.InputAmount
	for i, step := range steps {
		meta := metas[i]
		ra, okA := balances[meta.VaultA]
		rb, okB := balances[meta.VaultB]
		if !okA || !okB || ra == 0 || rb == 0 {
			return 0, false
		}
		var rate float64
		if step.From == meta.TokenA {
			rate = float64(rb) / float64(ra)
		} else {
			rate = float64(ra) / float64(rb)
		}
		effective := rate * (1 - float64(step.FeeBps)/10000)
		amount = uint64(float64(amount) * effective)
	}
	return int64(amount) - int64(opp.InputAmount), true
}

// buildHopInputs replays the scorer's already-decided sizing (opp.Cycle's
// per-hop rate/fee, applied sequentially starting from opp.InputAmount) to
// recover each hop's expected output for the Transaction Builder, rather
// than having the scorer expose hop-level intermediate amounts it has no
// other use for.
func (o *Orchestrator) buildHopInputs(opp arbtypes.Opportunity) []txbuilder.HopInput {
	hops := make([]txbuilder.HopInput, 0, len(opp.Cycle.Steps))
	amount := opp.InputAmount
	for _, step := range opp.Cycle.Steps {
		effective := step.Rate * (1 - float64(step.FeeBps)/10000)
		out := uint64(float64(amount) * effective)
		hops = append(hops, txbuilder.HopInput{
			Step:        step,
			ExpectedOut: out,
		})
		amount = out
	}
	return hops
}

func classifyParseErr(err error) string {
	var pe *arbtypes.ParseError
	if errors.As(err, &pe) {
		return pe.Kind.String()
	}
	return "unknown"
}

func buildErrKind(err error) string {
	var be *arbtypes.BuildError
	if errors.As(err, &be) {
		return be.Kind.String()
	}
	return "unknown"
}

func sendErrKind(err error) string {
	var se *arbtypes.SendError
	if errors.As(err, &se) {
		return se.Kind.String()
	}
	return "unknown"
}
