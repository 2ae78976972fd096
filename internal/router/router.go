// Package router implements the Cross-Chain Router (spec.md §4.6):
// parallel per-chain lending-rate discovery bounded by a 5s timeout per
// chain, bridge-cost-aware route synthesis, and hand-off of the
// resulting routes to the Planner as plain Strategies. The teacher is a
// single-chain DEX with no lending-rate or bridging concept at all, so
// this package is new code; its fan-out discipline is grounded on the
// `golang.org/x/sync/errgroup` pattern from the example pack's oracle
// price-feeder (parallel per-provider calls, a dropped/timed-out member
// simply never contributes to the result set).
package router

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/arbitrageur-go/engine/internal/domain"
	"github.com/arbitrageur-go/engine/internal/submitter"
)

const (
	// perChainDiscoveryTimeout bounds each chain's rate lookup (spec.md
	// §4.6: "5-second per-chain timeout").
	perChainDiscoveryTimeout = 5 * time.Second

	defaultHorizonDays = 30
)

// Rate is one chain's lending-market snapshot for an asset.
type Rate struct {
	Chain          domain.Chain
	SupplyAPYBps   int64
	BorrowAPYBps   int64
	Liquidity      *big.Int
	UtilisationBps int64
	GasTokenPriceUSD *big.Int // 18-decimal-scaled USD price of the chain's gas token
	EstimatedGasCostWei *big.Int
}

// Route is a synthesized cross-chain strategy candidate: bridge the
// asset from Rate.Chain to a higher-yielding chain, then supply it.
type Route struct {
	Source domain.Chain
	Target domain.Chain
	Asset  common.Address
	Amount *big.Int

	ProjectedProfitUSD *big.Int // over horizonDays, net of bridge gas
	Steps              []domain.Step
}

// RateSource fetches one chain's lending rate for asset/amount. Supplied
// per-chain; a real implementation would call an Aave-style lending pool
// contract via contractclient.
type RateSource interface {
	FetchRate(ctx context.Context, chain domain.Chain, asset common.Address, amount *big.Int) (Rate, error)
}

// BridgeCoster estimates the gas-token cost (in wei, on the source
// chain) of bridging amount of asset from source to target.
type BridgeCoster interface {
	BridgeGasCostWei(source, target domain.Chain, asset common.Address, amount *big.Int) (*big.Int, error)
	BridgeProtocol(source, target domain.Chain) string
}

// Router discovers lending rates across chains and synthesizes
// cross-chain yield routes.
type Router struct {
	sources      map[domain.Chain]RateSource
	bridgeCoster BridgeCoster
	horizonDays  int
}

// New builds a Router over the given per-chain rate sources.
func New(sources map[domain.Chain]RateSource, bridgeCoster BridgeCoster, horizonDays int) *Router {
	if horizonDays <= 0 {
		horizonDays = defaultHorizonDays
	}
	return &Router{sources: sources, bridgeCoster: bridgeCoster, horizonDays: horizonDays}
}

// Discover fans out FetchRate to every configured chain in parallel,
// each bounded by its own 5s timeout; a chain that doesn't respond in
// time is simply omitted from the result (spec.md §4.6).
func (r *Router) Discover(ctx context.Context, asset common.Address, amount *big.Int) []Rate {
	type indexed struct {
		idx  int
		rate Rate
		ok   bool
	}

	chains := make([]domain.Chain, 0, len(r.sources))
	for chain := range r.sources {
		chains = append(chains, chain)
	}

	results := make([]indexed, len(chains))
	group, gctx := errgroup.WithContext(ctx)

	for i, chain := range chains {
		i, chain := i, chain
		group.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, perChainDiscoveryTimeout)
			defer cancel()

			rate, err := r.sources[chain].FetchRate(callCtx, chain, asset, amount)
			if err != nil {
				return nil // dropped, not fatal to the group
			}
			results[i] = indexed{idx: i, rate: rate, ok: true}
			return nil
		})
	}
	_ = group.Wait() // per-chain errors are swallowed above; only omission matters

	rates := make([]Rate, 0, len(chains))
	for _, res := range results {
		if res.ok {
			rates = append(rates, res.rate)
		}
	}
	return rates
}

// FindRoutes synthesizes a Route for every ordered (source, target) pair
// whose target supply APY exceeds source by enough to cover bridge cost,
// filtered to minProfitUSD, sorted by profit descending.
func (r *Router) FindRoutes(ctx context.Context, asset common.Address, amount *big.Int, sourceChain domain.Chain, minProfitUSD *big.Int) []Route {
	rates := r.Discover(ctx, asset, amount)

	byChain := make(map[domain.Chain]Rate, len(rates))
	for _, rate := range rates {
		byChain[rate.Chain] = rate
	}

	source, ok := byChain[sourceChain]
	if !ok {
		return nil
	}

	var routes []Route
	for target, targetRate := range byChain {
		if target == sourceChain {
			continue
		}
		if targetRate.SupplyAPYBps <= source.SupplyAPYBps {
			continue
		}

		profit, steps := r.synthesize(sourceChain, target, asset, amount, source, targetRate)
		if profit.Cmp(minProfitUSD) < 0 {
			continue
		}

		routes = append(routes, Route{
			Source:             sourceChain,
			Target:             target,
			Asset:              asset,
			Amount:             amount,
			ProjectedProfitUSD: profit,
			Steps:              steps,
		})
	}

	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].ProjectedProfitUSD.Cmp(routes[j].ProjectedProfitUSD) > 0
	})
	return routes
}

// synthesize computes the projected-over-horizon differential yield net
// of bridge gas, and builds the {Bridge, Supply} step pair (spec.md
// §4.6).
func (r *Router) synthesize(source, target domain.Chain, asset common.Address, amount *big.Int, sourceRate, targetRate Rate) (*big.Int, []domain.Step) {
	apyDeltaBps := targetRate.SupplyAPYBps - sourceRate.SupplyAPYBps

	// differential yield over horizonDays, in asset units: amount * apyDeltaBps/10000 * horizonDays/365
	yield := new(big.Int).Mul(amount, big.NewInt(apyDeltaBps))
	yield.Mul(yield, big.NewInt(int64(r.horizonDays)))
	yield.Div(yield, big.NewInt(10000*365))

	bridgeGasWei := big.NewInt(0)
	bridgeProtocol := ""
	if r.bridgeCoster != nil {
		if cost, err := r.bridgeCoster.BridgeGasCostWei(source, target, asset, amount); err == nil {
			bridgeGasWei = cost
		}
		bridgeProtocol = r.bridgeCoster.BridgeProtocol(source, target)
	}

	bridgeGasUSD := big.NewInt(0)
	if sourceRate.GasTokenPriceUSD != nil {
		bridgeGasUSD = new(big.Int).Mul(bridgeGasWei, sourceRate.GasTokenPriceUSD)
		bridgeGasUSD.Div(bridgeGasUSD, big.NewInt(1_000_000_000_000_000_000))
	}

	profit := new(big.Int).Sub(yield, bridgeGasUSD)

	steps := []domain.Step{
		{
			Kind:           domain.StepBridge,
			BridgeFrom:     source,
			BridgeTo:       target,
			BridgeToken:    asset,
			BridgeAmount:   amount,
			BridgeProtocol: bridgeProtocol,
			Deadline:       time.Now().Add(time.Hour),
		},
		{
			Kind:          domain.StepLendingAction,
			Chain:         target,
			LendingKind:   domain.LendingSupply,
			LendingToken:  asset,
			LendingAmount: amount,
		},
	}

	return profit, steps
}

// ToStrategy converts a Route into the plain Strategy shape the Planner
// consumes (spec.md §4.6: "handed to the Execution Planner as standard
// strategies").
func (route Route) ToStrategy() domain.Strategy {
	return domain.Strategy{
		ProfitToken: route.Asset,
		Steps:       route.Steps,
		Source:      "router",
	}
}

// Planner is the subset of *planner.Planner Execute needs. Declared
// locally (rather than importing internal/planner) since the method
// operates on plain domain types and planner.Planner already satisfies it.
type Planner interface {
	ValidateAndPrepare(strategy domain.Strategy) (*domain.ValidatedPlan, *domain.RejectReason)
}

// Executor is the subset of *submitter.Submitter Execute needs.
type Executor interface {
	Submit(ctx context.Context, plan *domain.ValidatedPlan, key *ecdsa.PrivateKey) (submitter.Outcome, error)
}

// Receipt is one Step's execution result from a submitted Route (spec.md
// §4.6's public contract: "execute(Route) -> [Receipt]"; spec.md:225
// scenario 5 names two receipts for a Bridge-then-Supply route). The
// Submitter executes a Route's steps as a single assembled transaction,
// so every Receipt in the slice shares the one Outcome that transaction
// produced.
type Receipt struct {
	Step      domain.Step
	TxHash    common.Hash
	Included  bool
	Abandoned bool
}

// Execute converts route into a Strategy, validates it through plan, and
// submits the validated plan through executor, returning one Receipt per
// Step in route.Steps.
func (r *Router) Execute(ctx context.Context, route Route, plan Planner, executor Executor, key *ecdsa.PrivateKey) ([]Receipt, error) {
	strategy := route.ToStrategy()
	validated, reject := plan.ValidateAndPrepare(strategy)
	if reject != nil {
		return nil, reject
	}

	outcome, err := executor.Submit(ctx, validated, key)
	if err != nil {
		return nil, err
	}

	receipts := make([]Receipt, len(route.Steps))
	for i, step := range route.Steps {
		receipts[i] = Receipt{
			Step:      step,
			TxHash:    outcome.TxHash,
			Included:  outcome.Included,
			Abandoned: outcome.Abandoned,
		}
	}
	return receipts, nil
}
