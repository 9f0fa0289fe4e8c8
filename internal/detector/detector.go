// Package detector implements the Cycle Detector (spec §4.7): a
// bounded-depth simple-path negative-cycle search over the Arbitrage
// Graph, run independently per anchor token and merged.
package detector

import (
	"context"
	"math"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/triarb/engine/internal/arbtypes"
	"github.com/triarb/engine/internal/graph"
)

// edgeLister is the subset of *graph.Graph the detector depends on,
// narrowed so tests can supply a fake without building a real graph.
type edgeLister interface {
	EdgesFrom(token arbtypes.Token) []arbtypes.ExchangeEdge
	Tokens() []arbtypes.Token
}

var _ edgeLister = (*graph.Graph)(nil)

// Config bounds and thresholds the search (spec §4.7).
type Config struct {
	MaxDepth     int // L, in {2,3,4}
	MinProfitBps int64
	Anchors      []arbtypes.Token
}

// Detector runs the bounded-depth negative-cycle search.
type Detector struct {
	g   edgeLister
	cfg Config
}

// New builds a Detector over g with the given configuration.
func New(g edgeLister, cfg Config) *Detector {
	if cfg.MaxDepth < 2 {
		cfg.MaxDepth = 2
	}
	if cfg.MaxDepth > 4 {
		cfg.MaxDepth = 4
	}
	return &Detector{g: g, cfg: cfg}
}

// path is one in-progress walk from an anchor.
type path struct {
	edges  []arbtypes.ExchangeEdge
	weight float64
}

// candidate pairs a detected cycle with the most recent LastUpdated among
// its edges, the datum spec §4.7's tie-break needs but arbtypes.Cycle
// itself does not retain per-edge.
type candidate struct {
	cycle       arbtypes.Cycle
	lastUpdated time.Time
}

// DetectFromAnchor runs the bounded-depth DFS rooted at anchor alone (spec
// §4.7). Per spec, GraphEmpty (the anchor has no outgoing edges, or is
// unknown to the graph) is non-fatal and yields an empty, non-error
// result.
func (d *Detector) DetectFromAnchor(anchor arbtypes.Token) []arbtypes.Cycle {
	var found []candidate
	visited := mapset.NewThreadUnsafeSet[arbtypes.Token](anchor)
	d.extend(anchor, anchor, path{}, visited, &found)
	return rank(found, d.cfg.MinProfitBps)
}

// extend walks one more hop from cur, recording any closing cycle back to
// anchor whose total weight is strictly negative, then recursing up to
// cfg.MaxDepth hops deep. Numerically degenerate edges (weight == +Inf,
// per arbtypes.Weight) are skipped rather than failing the search (§4.7).
func (d *Detector) extend(anchor, cur arbtypes.Token, p path, visited mapset.Set[arbtypes.Token], found *[]candidate) {
	if len(p.edges) >= d.cfg.MaxDepth {
		return
	}
	for _, e := range d.g.EdgesFrom(cur) {
		if math.IsInf(e.Weight, 1) {
			continue
		}

		// Closing hop: cur -> anchor completes a cycle, regardless of
		// interior-visited state (the only permitted revisit, §4.7).
		if e.To == anchor && len(p.edges) >= 1 {
			total := p.weight + e.Weight
			if total < 0 {
				allEdges := append(append([]arbtypes.ExchangeEdge{}, p.edges...), e)
				*found = append(*found, candidate{
					cycle:       buildCycle(anchor, allEdges, total),
					lastUpdated: mostRecent(allEdges),
				})
			}
		}

		// Interior extension: only into tokens not yet visited in this
		// path's interior (§4.7 path-extension rule).
		if e.To == anchor || visited.Contains(e.To) {
			continue
		}
		visited.Add(e.To)
		next := path{
			edges:  append(append([]arbtypes.ExchangeEdge{}, p.edges...), e),
			weight: p.weight + e.Weight,
		}
		d.extend(anchor, e.To, next, visited, found)
		visited.Remove(e.To)
	}
}

func buildCycle(anchor arbtypes.Token, edges []arbtypes.ExchangeEdge, weight float64) arbtypes.Cycle {
	steps := make([]arbtypes.CycleStep, len(edges))
	for i, e := range edges {
		steps[i] = arbtypes.CycleStep{
			From:   e.From,
			To:     e.To,
			Family: e.Family,
			Pool:   e.Pool,
			Rate:   e.Rate,
			FeeBps: e.FeeBps,
			Ladder: e.Ladder,
		}
	}
	return arbtypes.NewCycle(anchor, steps, weight, time.Now())
}

func mostRecent(edges []arbtypes.ExchangeEdge) time.Time {
	var max time.Time
	for _, e := range edges {
		if e.LastUpdated.After(max) {
			max = e.LastUpdated
		}
	}
	return max
}

// DetectAll runs DetectFromAnchor for every configured anchor in parallel
// (errgroup, one goroutine per anchor) and concatenates the results (spec
// §4.7's anchor-parallel mode).
func (d *Detector) DetectAll(ctx context.Context) ([]arbtypes.Cycle, error) {
	if len(d.cfg.Anchors) == 0 {
		return nil, nil
	}
	results := make([][]arbtypes.Cycle, len(d.cfg.Anchors))
	g, _ := errgroup.WithContext(ctx)
	for i, anchor := range d.cfg.Anchors {
		i, anchor := i, anchor
		g.Go(func() error {
			results[i] = d.DetectFromAnchor(anchor)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []arbtypes.Cycle
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// rank filters by the profit threshold and sorts descending by gross
// profit, tie-breaking by fewer hops then more-recent update (spec §4.7).
func rank(candidates []candidate, minProfitBps int64) []arbtypes.Cycle {
	filtered := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.cycle.GrossProfitBps >= minProfitBps {
			filtered = append(filtered, c)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.cycle.GrossProfitBps != b.cycle.GrossProfitBps {
			return a.cycle.GrossProfitBps > b.cycle.GrossProfitBps
		}
		if len(a.cycle.Steps) != len(b.cycle.Steps) {
			return len(a.cycle.Steps) < len(b.cycle.Steps)
		}
		return a.lastUpdated.After(b.lastUpdated)
	})
	out := make([]arbtypes.Cycle, len(filtered))
	for i, c := range filtered {
		out[i] = c.cycle
	}
	return out
}
