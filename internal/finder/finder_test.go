package finder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrageur-go/engine/internal/domain"
	"github.com/arbitrageur-go/engine/internal/poolgraph"
)

var (
	weth = common.HexToAddress("0x000000000000000000000000000000000000AA")
	usdc = common.HexToAddress("0x000000000000000000000000000000000000BB")
)

// poolSeq gives every pool built by mustPool its own address, so two
// pools on the same token pair stay distinct in the graph.
var poolSeq int64

func mustPool(t *testing.T, chain domain.Chain, a, b common.Address, reserveA, reserveB int64, feeBps uint32, block uint64) *domain.Pool {
	t.Helper()
	t0, t1 := domain.OrderedTokens(a, b)
	r0, r1 := reserveA, reserveB
	if t0 != a {
		r0, r1 = reserveB, reserveA
	}
	poolSeq++
	return &domain.Pool{
		Address:  common.BigToAddress(big.NewInt(poolSeq)),
		Chain:    chain,
		Protocol: domain.ProtocolV2,
		Token0:   t0,
		Token1:   t1,
		Decimals0: 18,
		Decimals1: 18,
		FeeBps:   feeBps,
		Reserve0: big.NewInt(r0),
		Reserve1: big.NewInt(r1),
		Block:    block,
	}
}

// mispricedGraph builds a 2-hop WETH->USDC->WETH loop via two pools whose
// implied prices disagree, guaranteeing a profitable cycle.
func mispricedGraph(t *testing.T) *poolgraph.Graph {
	t.Helper()
	g := poolgraph.New()
	poolA := mustPool(t, domain.ChainEthereum, weth, usdc, 1_000_000, 1_000_000, 30, 100)
	poolB := mustPool(t, domain.ChainEthereum, usdc, weth, 900_000, 1_200_000, 30, 100)
	g.LoadPools([]*domain.Pool{poolA, poolB})
	return g
}

type allowAllSafety struct{}

func (allowAllSafety) IsSafe(string) bool { return true }

type fixedGasPricer struct{ cost *big.Int }

func (f fixedGasPricer) GasCostInProfitToken(gasUnits uint64) (*big.Int, error) {
	return f.cost, nil
}

func TestFindDiscoversProfitableCycle(t *testing.T) {
	g := mispricedGraph(t)
	finder := New(g, allowAllSafety{}, fixedGasPricer{cost: big.NewInt(1)}, 3)

	opportunities := finder.Find(weth, big.NewInt(1000))
	require.NotEmpty(t, opportunities)
	assert.True(t, opportunities[0].Path.ExpectedProfit.Sign() > 0)
	assert.True(t, opportunities[0].Path.Closed())
}

func TestFindRejectsWhenGasExceedsProfit(t *testing.T) {
	g := mispricedGraph(t)
	finder := New(g, allowAllSafety{}, fixedGasPricer{cost: big.NewInt(1_000_000_000)}, 3)

	opportunities := finder.Find(weth, big.NewInt(1000))
	assert.Empty(t, opportunities)
}

func TestFindRejectsUnsafePool(t *testing.T) {
	g := mispricedGraph(t)
	finder := New(g, poolSafetyFunc(func(string) bool { return false }), fixedGasPricer{cost: big.NewInt(1)}, 3)

	opportunities := finder.Find(weth, big.NewInt(1000))
	assert.Empty(t, opportunities)
}

type poolSafetyFunc func(string) bool

func (f poolSafetyFunc) IsSafe(id string) bool { return f(id) }

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, pairKey(weth, usdc), pairKey(usdc, weth))
}

func TestSimulateComposesHops(t *testing.T) {
	g := mispricedGraph(t)
	var path *domain.Path
	g.Snapshot(func(pools map[string]*domain.Pool, adjacency map[common.Address][]poolgraph.Edge) {
		f := &Finder{graph: g, maxHops: 3}
		paths := f.enumerate(weth, adjacency, pools)
		require.NotEmpty(t, paths)
		path = paths[0]
	})

	out, impact, err := simulate(path, big.NewInt(1000))
	require.NoError(t, err)
	assert.True(t, out.Sign() > 0)
	assert.True(t, impact < 10000)
}

func TestRankOrdersByProfitOverGasDescending(t *testing.T) {
	low := &domain.Opportunity{
		Path:    &domain.Path{ExpectedProfit: big.NewInt(10), Pools: []*domain.Pool{{}, {}}},
		GasCost: big.NewInt(10),
	}
	high := &domain.Opportunity{
		Path:    &domain.Path{ExpectedProfit: big.NewInt(100), Pools: []*domain.Pool{{}, {}}},
		GasCost: big.NewInt(10),
	}

	ranked := rank([]*domain.Opportunity{low, high})
	assert.Same(t, high, ranked[0])
	assert.Same(t, low, ranked[1])
}

func TestRankTieBreaksByShorterPath(t *testing.T) {
	short := &domain.Opportunity{
		Path:    &domain.Path{ExpectedProfit: big.NewInt(10), Pools: []*domain.Pool{{}, {}}},
		GasCost: big.NewInt(1),
	}
	long := &domain.Opportunity{
		Path:    &domain.Path{ExpectedProfit: big.NewInt(10), Pools: []*domain.Pool{{}, {}, {}}},
		GasCost: big.NewInt(1),
	}

	ranked := rank([]*domain.Opportunity{long, short})
	assert.Same(t, short, ranked[0])
}

func TestFindTouchedOnlyReEvaluatesChangedPools(t *testing.T) {
	g := mispricedGraph(t)
	finder := New(g, allowAllSafety{}, fixedGasPricer{cost: big.NewInt(1)}, 3)

	initial := finder.Find(weth, big.NewInt(1000))
	require.NotEmpty(t, initial)

	touched := finder.FindTouched(weth, big.NewInt(1000), []string{"nonexistent-pool"}, initial)
	assert.Equal(t, len(initial), len(touched), "untouched opportunities should be kept as-is")
}

func TestOldestReturnsMinimumBlock(t *testing.T) {
	path := &domain.Path{Pools: []*domain.Pool{{Block: 50}, {Block: 10}, {Block: 30}}}
	assert.Equal(t, uint64(10), oldest(path))
}
