// Package finder implements the Opportunity Finder (spec.md §4.3):
// bidirectional-graph-bounded DFS cycle enumeration, per-path simulation,
// amount_in optimisation, gas-aware scoring, and touched-pool
// re-evaluation. The teacher has no equivalent subsystem (a single-DEX
// executor has nothing to "find"); this package is built directly from
// spec.md's own algorithm description.
package finder

import (
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitrageur-go/engine/internal/ammmath"
	"github.com/arbitrageur-go/engine/internal/domain"
	"github.com/arbitrageur-go/engine/internal/poolgraph"
)

const (
	// maxCumulativeImpactBps is the Finder's cumulative path-impact guard
	// (spec.md §4.3 step 4), distinct from the Oracle's 100bps per-hop
	// guard (internal/oracle.MaxPoolImpactBps).
	maxCumulativeImpactBps = 300

	gasBaseUnits    = 21_000
	gasPerHopUnits  = 100_000
	optimizeIters   = 10
)

// PoolSafetyChecker reports whether a pool is currently safe to route
// through (spec.md §4.2, borrowed read-only by the Finder).
type PoolSafetyChecker interface {
	IsSafe(poolID string) bool
}

// GasPricer converts a wei-gas amount into profit-token units at the
// prevailing base fee (spec.md §4.3 step 6).
type GasPricer interface {
	GasCostInProfitToken(gasUnits uint64) (*big.Int, error)
}

// Finder enumerates and ranks arbitrage opportunities against a graph.
type Finder struct {
	graph   *poolgraph.Graph
	safety  PoolSafetyChecker
	pricer  GasPricer
	maxHops int
}

// New builds a Finder bounded to maxHops (1-5, spec.md §6).
func New(graph *poolgraph.Graph, safety PoolSafetyChecker, pricer GasPricer, maxHops int) *Finder {
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > 5 {
		maxHops = 5
	}
	return &Finder{graph: graph, safety: safety, pricer: pricer, maxHops: maxHops}
}

// Find runs the full pipeline: enumerate, simulate, optimise, score,
// filter, sort. Returns opportunities ranked by profit/gas descending.
func (f *Finder) Find(profitToken common.Address, probeAmount *big.Int) []*domain.Opportunity {
	var opportunities []*domain.Opportunity

	f.graph.Snapshot(func(pools map[string]*domain.Pool, adjacency map[common.Address][]poolgraph.Edge) {
		paths := f.enumerate(profitToken, adjacency, pools)
		for _, path := range paths {
			opp := f.evaluate(path, pools, probeAmount)
			if opp != nil {
				opportunities = append(opportunities, opp)
			}
		}
	})

	return rank(opportunities)
}

// FindTouched re-evaluates only paths whose pool set intersects
// changedPools (spec.md §4.3: "Touched-pool optimisation").
func (f *Finder) FindTouched(profitToken common.Address, probeAmount *big.Int, changedPools []string, previous []*domain.Opportunity) []*domain.Opportunity {
	changed := make(map[string]bool, len(changedPools))
	for _, id := range changedPools {
		changed[id] = true
	}

	var kept []*domain.Opportunity
	for _, opp := range previous {
		if !intersects(opp.Path.PoolIDs(), changed) {
			kept = append(kept, opp)
		}
	}

	var fresh []*domain.Opportunity
	f.graph.Snapshot(func(pools map[string]*domain.Pool, adjacency map[common.Address][]poolgraph.Edge) {
		paths := f.enumerate(profitToken, adjacency, pools)
		for _, path := range paths {
			if !intersects(path.PoolIDs(), changed) {
				continue
			}
			opp := f.evaluate(path, pools, probeAmount)
			if opp != nil {
				fresh = append(fresh, opp)
			}
		}
	})

	return rank(append(kept, fresh...))
}

func intersects(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}

// pairKey is the order-independent token-pair part of enumerate's
// visited key (spec.md §4.3 step 2).
func pairKey(a, b common.Address) string {
	ah, bh := a.Hex(), b.Hex()
	if ah > bh {
		ah, bh = bh, ah
	}
	return ah + ":" + bh
}

// enumerate runs bounded DFS cycle enumeration from profitToken back to
// itself, using each pool at most once per path. A hop's visited key is
// the unordered token pair plus the pool ID, so two pools on the same
// pair can form a 2-hop cycle; the key is released on backtrack.
func (f *Finder) enumerate(profitToken common.Address, adjacency map[common.Address][]poolgraph.Edge, pools map[string]*domain.Pool) []*domain.Path {
	var results []*domain.Path
	visitedPairs := make(map[string]bool)
	tokens := []common.Address{profitToken}
	poolList := []*domain.Pool{}

	var dfs func(current common.Address, depth int)
	dfs = func(current common.Address, depth int) {
		if depth >= f.maxHops {
			return
		}
		for _, edge := range adjacency[current] {
			pool, ok := pools[edge.PoolID]
			if !ok {
				continue
			}
			key := pairKey(current, edge.Neighbor) + "@" + edge.PoolID
			if visitedPairs[key] {
				continue
			}

			visitedPairs[key] = true
			tokens = append(tokens, edge.Neighbor)
			poolList = append(poolList, pool)

			if edge.Neighbor == profitToken && depth+1 >= 2 {
				results = append(results, &domain.Path{
					ProfitToken: profitToken,
					Tokens:      append([]common.Address(nil), tokens...),
					Pools:       append([]*domain.Pool(nil), poolList...),
				})
			} else {
				dfs(edge.Neighbor, depth+1)
			}

			tokens = tokens[:len(tokens)-1]
			poolList = poolList[:len(poolList)-1]
			delete(visitedPairs, key)
		}
	}

	dfs(profitToken, 0)
	return results
}

// simulate composes per-hop amount_out across path's legs for amountIn,
// returning (output, cumulativeImpactBps).
func simulate(path *domain.Path, amountIn *big.Int) (*big.Int, uint32, error) {
	current := new(big.Int).Set(amountIn)
	var cumulativeImpactBps uint32

	for i, pool := range path.Pools {
		tokenIn := path.Tokens[i]
		var reserveIn, reserveOut *big.Int
		if tokenIn == pool.Token0 {
			reserveIn, reserveOut = pool.Reserve0, pool.Reserve1
		} else {
			reserveIn, reserveOut = pool.Reserve1, pool.Reserve0
		}

		out, err := ammmath.V2AmountOut(current, reserveIn, reserveOut, pool.FeeBps)
		if err != nil {
			return nil, 0, err
		}

		impact := impactBps(current, reserveIn)
		cumulativeImpactBps += impact
		current = out
	}

	return current, cumulativeImpactBps, nil
}

func impactBps(amountIn, reserveIn *big.Int) uint32 {
	if reserveIn.Sign() == 0 {
		return 10000
	}
	bps := new(big.Int).Mul(amountIn, big.NewInt(10000))
	bps.Div(bps, reserveIn)
	if !bps.IsUint64() || bps.Uint64() > 10000 {
		return 10000
	}
	return uint32(bps.Uint64())
}

// evaluate simulates, validates, optimises amount_in, and scores path.
func (f *Finder) evaluate(path *domain.Path, pools map[string]*domain.Pool, probeAmount *big.Int) *domain.Opportunity {
	for _, pool := range path.Pools {
		if f.safety != nil && !f.safety.IsSafe(pool.ID()) {
			return nil
		}
	}

	probeOut, impactBps, err := simulate(path, probeAmount)
	if err != nil {
		return nil
	}
	if probeOut.Cmp(probeAmount) <= 0 {
		return nil // no arbitrage
	}
	if impactBps > maxCumulativeImpactBps {
		return nil
	}

	optimizedIn, expectedOut := optimizeAmountIn(path, probeAmount)
	if optimizedIn == nil {
		return nil
	}

	profit := new(big.Int).Sub(expectedOut, optimizedIn)
	if profit.Sign() <= 0 {
		return nil
	}

	gasUnits := uint64(gasBaseUnits + gasPerHopUnits*len(path.Pools))
	var gasCost *big.Int
	if f.pricer != nil {
		gasCost, err = f.pricer.GasCostInProfitToken(gasUnits)
		if err != nil {
			return nil
		}
	} else {
		gasCost = big.NewInt(0)
	}

	if profit.Cmp(gasCost) <= 0 {
		return nil
	}

	path.ProbeOut = probeOut
	path.OptimizedIn = optimizedIn
	path.ExpectedOut = expectedOut
	path.ExpectedProfit = profit
	path.EstimatedGas = new(big.Int).SetUint64(gasUnits)
	path.ImpactBps = impactBps

	return &domain.Opportunity{
		Path:        path,
		ProfitToken: path.ProfitToken,
		GasCost:     gasCost,
	}
}

// optimizeAmountIn performs a bounded ternary search over
// [minProbe, upperBound] maximising output-amountIn (spec.md §4.3 step
// 5: "10 iterations, golden-section-style").
func optimizeAmountIn(path *domain.Path, minProbe *big.Int) (*big.Int, *big.Int) {
	lo := new(big.Float).SetInt(minProbe)
	hi := new(big.Float).SetInt(new(big.Int).Mul(minProbe, big.NewInt(1000))) // heuristic upper bound

	bestIn := new(big.Int).Set(minProbe)
	bestOut, _, err := simulate(path, minProbe)
	if err != nil {
		return nil, nil
	}

	for i := 0; i < optimizeIters; i++ {
		third := new(big.Float).Quo(new(big.Float).Sub(hi, lo), big.NewFloat(3))
		m1 := new(big.Float).Add(lo, third)
		m2 := new(big.Float).Sub(hi, third)

		m1Int, _ := m1.Int(nil)
		m2Int, _ := m2.Int(nil)
		if m1Int.Sign() <= 0 || m2Int.Sign() <= 0 {
			break
		}

		out1, _, err1 := simulate(path, m1Int)
		out2, _, err2 := simulate(path, m2Int)

		profit1 := profitOf(out1, m1Int, err1)
		profit2 := profitOf(out2, m2Int, err2)

		if profit1.Cmp(profit2) < 0 {
			lo = m1
		} else {
			hi = m2
		}

		for _, cand := range []struct {
			in  *big.Int
			out *big.Int
			err error
		}{{m1Int, out1, err1}, {m2Int, out2, err2}} {
			if cand.err != nil {
				continue
			}
			p := new(big.Int).Sub(cand.out, cand.in)
			bestP := new(big.Int).Sub(bestOut, bestIn)
			if p.Cmp(bestP) > 0 {
				bestIn, bestOut = cand.in, cand.out
			}
		}
	}

	return bestIn, bestOut
}

func profitOf(out, in *big.Int, err error) *big.Int {
	if err != nil || out == nil {
		return big.NewInt(-1 << 62)
	}
	return new(big.Int).Sub(out, in)
}

// rank sorts opportunities by profit/gas descending, tie-breaking by
// shorter path, then older pool (lower UpdatedAt... approximated by
// lower Block), then lexicographically smaller pool-id sequence
// (spec.md §4.3 Tie-breaks).
func rank(opportunities []*domain.Opportunity) []*domain.Opportunity {
	sort.SliceStable(opportunities, func(i, j int) bool {
		a, b := opportunities[i], opportunities[j]
		ratioA, ratioB := a.ProfitOverGas(), b.ProfitOverGas()
		if ratioA != ratioB {
			return ratioA > ratioB
		}
		if len(a.Path.Pools) != len(b.Path.Pools) {
			return len(a.Path.Pools) < len(b.Path.Pools)
		}
		if oldest(a.Path) != oldest(b.Path) {
			return oldest(a.Path) < oldest(b.Path)
		}
		return strings.Join(a.Path.PoolIDs(), ",") < strings.Join(b.Path.PoolIDs(), ",")
	})
	return opportunities
}

func oldest(p *domain.Path) uint64 {
	var min uint64
	for i, pool := range p.Pools {
		if i == 0 || pool.Block < min {
			min = pool.Block
		}
	}
	return min
}
