// Package graph implements the Arbitrage Graph (spec §4.6): the shared,
// concurrently-read, single-writer-at-a-time multigraph of ExchangeEdges
// the Cycle Detector searches for negative-weight cycles.
package graph

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/triarb/engine/internal/arbtypes"
)

// edgeKey identifies one directed edge uniquely: the pair of tokens plus
// the DEX family and pool that priced it (spec §4.6's secondary index —
// parallel edges between the same token pair from different pools/
// families coexist).
type edgeKey struct {
	From, To arbtypes.Token
	Family   arbtypes.DexFamily
	Pool     [32]byte
}

// Graph is the arbitrage multigraph. Zero value is not usable; build with
// New.
type Graph struct {
	mu sync.RWMutex

	// adjacency is the per-token outgoing-edge list the detector walks.
	adjacency map[arbtypes.Token][]arbtypes.ExchangeEdge

	// index maps an edge key to its position in adjacency[From], giving
	// UpdateEdgeRate its O(1) lookup (spec §4.6).
	index map[edgeKey]int

	tokens mapset.Set[arbtypes.Token]
}

// New builds an empty graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[arbtypes.Token][]arbtypes.ExchangeEdge),
		index:     make(map[edgeKey]int),
		tokens:    mapset.NewThreadUnsafeSet[arbtypes.Token](),
	}
}

func keyOf(e arbtypes.ExchangeEdge) edgeKey {
	return edgeKey{From: e.From, To: e.To, Family: e.Family, Pool: e.Pool}
}

// AddEdge inserts edge, registering both endpoints as tokens and updating
// the secondary index (spec §4.6). If an edge with the same key already
// exists it is replaced in place rather than duplicated.
func (g *Graph) AddEdge(e arbtypes.ExchangeEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tokens.Add(e.From)
	g.tokens.Add(e.To)

	k := keyOf(e)
	if pos, ok := g.index[k]; ok {
		g.adjacency[e.From][pos] = e
		return
	}
	g.adjacency[e.From] = append(g.adjacency[e.From], e)
	g.index[k] = len(g.adjacency[e.From]) - 1
}

// UpdateEdgeRate performs the O(1) live-rate update path and recomputes an
// edge's weight in place. Per spec §4.6/§7, it returns *arbtypes.EdgeError
// if no such edge exists.
//
// spec §4.6 writes this as update_edge_rate(from, to, dex, new_rate, ts);
// this implementation takes an extra pool argument and keys the index on
// (from, to, dex, pool) rather than (from, to, dex) alone. Two distinct
// pools of the same family can price the same token pair (two Raydium
// pools for the same pair, say), and the three-tuple key can't tell their
// edges apart — an update meant for one would silently land on whichever
// of the two was registered first. Keying on the pool as well removes
// that collision; callers that only have (from, to, family) still resolve
// it via the edge's own Pool field recorded at AddEdge time.
func (g *Graph) UpdateEdgeRate(from, to arbtypes.Token, family arbtypes.DexFamily, pool [32]byte, newRate float64, ts time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := edgeKey{From: from, To: to, Family: family, Pool: pool}
	pos, ok := g.index[k]
	if !ok {
		return &arbtypes.EdgeError{From: from, To: to, Family: family}
	}
	g.adjacency[from][pos].UpdateRate(newRate, ts)
	return nil
}

// EdgesFrom returns a copied snapshot of token's outgoing edges. Per spec
// §4.6, the caller must not expect this to reflect later mutation, and the
// read lock is released before this function returns — a detector walking
// the result never holds the graph lock across a suspension point.
func (g *Graph) EdgesFrom(token arbtypes.Token) []arbtypes.ExchangeEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	src := g.adjacency[token]
	if len(src) == 0 {
		return nil
	}
	out := make([]arbtypes.ExchangeEdge, len(src))
	copy(out, src)
	return out
}

// TokenCount reports the number of distinct tokens registered (spec
// §4.6 metrics).
func (g *Graph) TokenCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tokens.Cardinality()
}

// EdgeCount reports the total number of edges across every token's
// adjacency list (spec §4.6 metrics; §8 invariant: must equal
// sum_t len(EdgesFrom(t))).
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, edges := range g.adjacency {
		n += len(edges)
	}
	return n
}

// Tokens returns a snapshot slice of every registered token, in
// unspecified order — used by the detector to pick anchors and by tests.
func (g *Graph) Tokens() []arbtypes.Token {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tokens.ToSlice()
}
