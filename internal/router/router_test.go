package router

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrageur-go/engine/internal/domain"
)

var asset = common.HexToAddress("0xAAAA")

type stubRateSource struct {
	rate Rate
	err  error
}

func (s stubRateSource) FetchRate(ctx context.Context, chain domain.Chain, asset common.Address, amount *big.Int) (Rate, error) {
	return s.rate, s.err
}

type erroringRateSource struct{}

func (erroringRateSource) FetchRate(ctx context.Context, chain domain.Chain, asset common.Address, amount *big.Int) (Rate, error) {
	return Rate{}, assert.AnError
}

type flatBridgeCoster struct{ gasWei *big.Int }

func (f flatBridgeCoster) BridgeGasCostWei(source, target domain.Chain, asset common.Address, amount *big.Int) (*big.Int, error) {
	return f.gasWei, nil
}
func (flatBridgeCoster) BridgeProtocol(source, target domain.Chain) string { return "stargate" }

func TestDiscoverOmitsErroringChains(t *testing.T) {
	sources := map[domain.Chain]RateSource{
		domain.ChainEthereum: stubRateSource{rate: Rate{Chain: domain.ChainEthereum, SupplyAPYBps: 300}},
		domain.ChainArbitrum: erroringRateSource{},
	}
	r := New(sources, flatBridgeCoster{gasWei: big.NewInt(1000)}, 30)

	rates := r.Discover(context.Background(), asset, big.NewInt(1000))
	require.Len(t, rates, 1)
	assert.Equal(t, domain.ChainEthereum, rates[0].Chain)
}

func TestFindRoutesOnlyKeepsHigherYieldTargets(t *testing.T) {
	sources := map[domain.Chain]RateSource{
		domain.ChainEthereum: stubRateSource{rate: Rate{Chain: domain.ChainEthereum, SupplyAPYBps: 300, GasTokenPriceUSD: big.NewInt(2000)}},
		domain.ChainArbitrum: stubRateSource{rate: Rate{Chain: domain.ChainArbitrum, SupplyAPYBps: 800, GasTokenPriceUSD: big.NewInt(2000)}},
		domain.ChainBase:     stubRateSource{rate: Rate{Chain: domain.ChainBase, SupplyAPYBps: 100, GasTokenPriceUSD: big.NewInt(2000)}},
	}
	r := New(sources, flatBridgeCoster{gasWei: big.NewInt(1)}, 30)

	routes := r.FindRoutes(context.Background(), asset, big.NewInt(1_000_000), domain.ChainEthereum, big.NewInt(0))
	require.Len(t, routes, 1)
	assert.Equal(t, domain.ChainArbitrum, routes[0].Target)
}

func TestFindRoutesReturnsEmptyWhenSourceMissing(t *testing.T) {
	sources := map[domain.Chain]RateSource{
		domain.ChainArbitrum: stubRateSource{rate: Rate{Chain: domain.ChainArbitrum, SupplyAPYBps: 800}},
	}
	r := New(sources, flatBridgeCoster{gasWei: big.NewInt(1)}, 30)

	routes := r.FindRoutes(context.Background(), asset, big.NewInt(1000), domain.ChainEthereum, big.NewInt(0))
	assert.Empty(t, routes)
}

func TestRouteToStrategyProducesBridgeThenSupply(t *testing.T) {
	route := Route{
		Source: domain.ChainEthereum,
		Target: domain.ChainArbitrum,
		Asset:  asset,
		Amount: big.NewInt(1000),
		Steps: []domain.Step{
			{Kind: domain.StepBridge},
			{Kind: domain.StepLendingAction, LendingKind: domain.LendingSupply},
		},
	}

	strategy := route.ToStrategy()
	require.Len(t, strategy.Steps, 2)
	assert.Equal(t, domain.StepBridge, strategy.Steps[0].Kind)
	assert.Equal(t, domain.StepLendingAction, strategy.Steps[1].Kind)
	assert.Equal(t, "router", strategy.Source)
}

func TestRoutesSortedByProfitDescending(t *testing.T) {
	sources := map[domain.Chain]RateSource{
		domain.ChainEthereum: stubRateSource{rate: Rate{Chain: domain.ChainEthereum, SupplyAPYBps: 100, GasTokenPriceUSD: big.NewInt(1)}},
		domain.ChainArbitrum: stubRateSource{rate: Rate{Chain: domain.ChainArbitrum, SupplyAPYBps: 900, GasTokenPriceUSD: big.NewInt(1)}},
		domain.ChainBase:     stubRateSource{rate: Rate{Chain: domain.ChainBase, SupplyAPYBps: 500, GasTokenPriceUSD: big.NewInt(1)}},
	}
	r := New(sources, flatBridgeCoster{gasWei: big.NewInt(1)}, 365)

	routes := r.FindRoutes(context.Background(), asset, big.NewInt(1_000_000), domain.ChainEthereum, big.NewInt(0))
	require.Len(t, routes, 2)
	assert.True(t, routes[0].ProjectedProfitUSD.Cmp(routes[1].ProjectedProfitUSD) >= 0)
}
