// Package poolgraph owns the Reserve Cache and Pool Graph (spec.md §3):
// the adjacency mapping from token to (neighbor-token, pool-id) edges,
// and the hot per-block reserve state each pool carries. The Orchestrator
// is the sole writer at block boundaries; the Finder borrows the graph
// read-only for the duration of one enumeration (spec.md §5).
package poolgraph

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitrageur-go/engine/internal/domain"
)

// Edge is one hop out of a token: the neighbor token and the pool that
// connects them.
type Edge struct {
	Neighbor common.Address
	PoolID   string
}

// Graph is the readers-many/writer-on-block-boundary pool graph +
// reserve cache.
type Graph struct {
	mu sync.RWMutex

	pools     map[string]*domain.Pool
	adjacency map[common.Address][]Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		pools:     make(map[string]*domain.Pool),
		adjacency: make(map[common.Address][]Edge),
	}
}

// LoadPools installs a batch of pools (e.g. from the CSV cache or a
// factory-log sync) and rebuilds the adjacency list.
func (g *Graph) LoadPools(pools []*domain.Pool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range pools {
		g.pools[p.ID()] = p
	}
	g.rebuildAdjacencyLocked()
}

// UpdateReserves applies a batch of per-block reserve snapshots, keyed by
// pool ID, and returns the set of pool IDs that actually changed — an
// unchanged snapshot (older or equal block) is a no-op, per the Reserve
// Snapshot invariant in spec.md §3.
func (g *Graph) UpdateReserves(snapshots []*domain.ReserveSnapshot) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var changed []string
	for _, snap := range snapshots {
		pool, ok := g.pools[snap.PoolID]
		if !ok {
			continue
		}
		current := &domain.ReserveSnapshot{Block: pool.Block}
		if !snap.Newer(current) {
			continue
		}

		pool.Reserve0 = snap.Reserve0
		pool.Reserve1 = snap.Reserve1
		pool.SqrtPriceX96 = snap.SqrtPriceX96
		pool.Liquidity = snap.Liquidity
		pool.Tick = snap.Tick
		pool.Block = snap.Block
		pool.UpdatedAt = snap.ObservedAt

		changed = append(changed, snap.PoolID)
	}
	return changed
}

// Neighbors returns the edges out of token, read-only. The caller holds
// no lock across iterations of the returned slice (it's a copy), so the
// Finder can enumerate paths without blocking concurrent block updates
// any longer than this call.
func (g *Graph) Neighbors(token common.Address) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := g.adjacency[token]
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// Pool returns the current state of poolID, or nil if unknown.
func (g *Graph) Pool(poolID string) *domain.Pool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pools[poolID]
}

// Snapshot locks the graph for the duration of fn, giving the Finder a
// single consistent view across its whole enumeration (spec.md §5:
// "Finder observes a consistent snapshot of reserves (read lock held for
// the duration of enumeration)").
func (g *Graph) Snapshot(fn func(pools map[string]*domain.Pool, adjacency map[common.Address][]Edge)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.pools, g.adjacency)
}

// Len returns the number of pools currently tracked.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pools)
}

func (g *Graph) rebuildAdjacencyLocked() {
	adjacency := make(map[common.Address][]Edge, len(g.adjacency))
	for _, pool := range g.pools {
		id := pool.ID()
		adjacency[pool.Token0] = append(adjacency[pool.Token0], Edge{Neighbor: pool.Token1, PoolID: id})
		adjacency[pool.Token1] = append(adjacency[pool.Token1], Edge{Neighbor: pool.Token0, PoolID: id})
	}
	g.adjacency = adjacency
}
