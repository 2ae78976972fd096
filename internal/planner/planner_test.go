package planner

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrageur-go/engine/internal/domain"
)

var (
	profitToken = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherToken  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type allowAllTokens struct{}

func (allowAllTokens) SupportsToken(domain.Chain, common.Address) bool { return true }

type plentifulLiquidity struct{}

func (plentifulLiquidity) AvailableLiquidity(domain.Chain, common.Address) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

type allowAllBridges struct{}

func (allowAllBridges) SupportsBridge(string, domain.Chain, domain.Chain) bool { return true }

type allowAllDexes struct{}

func (allowAllDexes) SupportsDex(string, domain.Chain) bool { return true }

type flatGasPricer struct{ priceWei *big.Int }

func (f flatGasPricer) GasPriceWei(domain.Chain) (*big.Int, error) { return f.priceWei, nil }
func (f flatGasPricer) ToProfitToken(chain domain.Chain, weiAmount *big.Int, token common.Address) (*big.Int, error) {
	return new(big.Int).Set(weiAmount), nil
}

type richBalances struct{}

func (richBalances) NativeBalance(domain.Chain) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000), nil
}

type fixedBlock struct{ block uint64 }

func (f fixedBlock) CurrentBlock(domain.Chain) (uint64, error) { return f.block, nil }

func newPlanner() *Planner {
	return New(allowAllTokens{}, plentifulLiquidity{}, allowAllBridges{}, allowAllDexes{}, flatGasPricer{priceWei: big.NewInt(10)}, richBalances{}, fixedBlock{block: 100})
}

// singleChainStrategy: Flash(1000) -> Swap(profit->other) -> Swap(other->profit) -> Repay(flash).
func singleChainStrategy(flashAmount int64) domain.Strategy {
	return domain.Strategy{
		ProfitToken: profitToken,
		Steps: []domain.Step{
			{Kind: domain.StepFlashLoan, Chain: domain.ChainEthereum, FlashToken: profitToken, FlashAmount: big.NewInt(flashAmount)},
			{Kind: domain.StepSwap, Chain: domain.ChainEthereum, Dex: "uniswap-v2", SwapIn: profitToken, SwapOut: otherToken, AmountIn: big.NewInt(flashAmount), MinOut: big.NewInt(flashAmount)},
			{Kind: domain.StepSwap, Chain: domain.ChainEthereum, Dex: "uniswap-v2", SwapIn: otherToken, SwapOut: profitToken, AmountIn: big.NewInt(flashAmount), MinOut: big.NewInt(flashAmount + 10)},
			{Kind: domain.StepLendingAction, Chain: domain.ChainEthereum, LendingKind: domain.LendingRepay, LendingToken: profitToken, LendingAmount: big.NewInt(flashAmount)},
		},
	}
}

func TestValidateAndPrepareHappyPath(t *testing.T) {
	p := newPlanner()
	plan, reject := p.ValidateAndPrepare(singleChainStrategy(1000))
	require.Nil(t, reject)
	require.NotNil(t, plan)
	assert.Equal(t, uint64(103), plan.ExpiryBlock)
	assert.True(t, plan.MinProfitThreshold.Sign() > 0)
	assert.True(t, plan.TotalGasCost.Sign() > 0)
	for _, step := range plan.Strategy.Steps {
		assert.NotZero(t, step.GasUnits)
	}
}

func TestValidateAndPrepareRejectsNoSteps(t *testing.T) {
	p := newPlanner()
	_, reject := p.ValidateAndPrepare(domain.Strategy{ProfitToken: profitToken})
	require.NotNil(t, reject)
	assert.Equal(t, "chains", reject.Stage)
}

func TestValidateAndPrepareRejectsMultiChainWithoutBridge(t *testing.T) {
	p := newPlanner()
	strategy := singleChainStrategy(1000)
	strategy.Steps[1].Chain = domain.ChainArbitrum
	_, reject := p.ValidateAndPrepare(strategy)
	require.NotNil(t, reject)
	assert.Equal(t, "chains", reject.Stage)
}

func TestValidateAndPrepareRejectsSwapInEqualsOut(t *testing.T) {
	p := newPlanner()
	strategy := singleChainStrategy(1000)
	strategy.Steps[1].SwapOut = strategy.Steps[1].SwapIn
	_, reject := p.ValidateAndPrepare(strategy)
	require.NotNil(t, reject)
	assert.Equal(t, "tokens", reject.Stage)
}

func TestValidateAndPrepareRejectsZeroFlashAmount(t *testing.T) {
	p := newPlanner()
	strategy := singleChainStrategy(0)
	_, reject := p.ValidateAndPrepare(strategy)
	require.NotNil(t, reject)
	assert.Equal(t, "amounts", reject.Stage)
}

func TestValidateAndPrepareRejectsNegativeRunningBalance(t *testing.T) {
	p := newPlanner()
	strategy := singleChainStrategy(1000)
	// Swap out far less than swapped in, driving the intermediate token balance negative downstream.
	strategy.Steps[2].AmountIn = big.NewInt(1_000_000)
	_, reject := p.ValidateAndPrepare(strategy)
	require.NotNil(t, reject)
	assert.Equal(t, "amounts", reject.Stage)
}

func TestValidateAndPrepareRejectsMultipleFlashLoans(t *testing.T) {
	p := newPlanner()
	strategy := singleChainStrategy(1000)
	strategy.Steps = append(strategy.Steps, domain.Step{Kind: domain.StepFlashLoan, Chain: domain.ChainEthereum, FlashToken: profitToken, FlashAmount: big.NewInt(1)})
	_, reject := p.ValidateAndPrepare(strategy)
	require.NotNil(t, reject)
	assert.Equal(t, "sequence", reject.Stage)
}

func TestValidateAndPrepareRejectsUnrepaidFlash(t *testing.T) {
	p := newPlanner()
	strategy := singleChainStrategy(1000)
	strategy.Steps = strategy.Steps[:3] // drop the repay step
	_, reject := p.ValidateAndPrepare(strategy)
	require.NotNil(t, reject)
	assert.Equal(t, "sequence", reject.Stage)
}

type refusingBridges struct{}

func (refusingBridges) SupportsBridge(string, domain.Chain, domain.Chain) bool { return false }

func TestValidateAndPrepareRejectsUnsupportedBridge(t *testing.T) {
	p := New(allowAllTokens{}, plentifulLiquidity{}, refusingBridges{}, allowAllDexes{}, flatGasPricer{priceWei: big.NewInt(10)}, richBalances{}, fixedBlock{block: 100})

	strategy := domain.Strategy{
		ProfitToken: profitToken,
		Steps: []domain.Step{
			{Kind: domain.StepFlashLoan, Chain: domain.ChainEthereum, FlashToken: profitToken, FlashAmount: big.NewInt(1000)},
			{Kind: domain.StepBridge, BridgeFrom: domain.ChainEthereum, BridgeTo: domain.ChainArbitrum, BridgeToken: profitToken, BridgeAmount: big.NewInt(1000), BridgeProtocol: "stargate", Deadline: time.Now().Add(time.Hour)},
			{Kind: domain.StepBridge, BridgeFrom: domain.ChainArbitrum, BridgeTo: domain.ChainEthereum, BridgeToken: profitToken, BridgeAmount: big.NewInt(1000), BridgeProtocol: "stargate", Deadline: time.Now().Add(time.Hour)},
			{Kind: domain.StepLendingAction, Chain: domain.ChainEthereum, LendingKind: domain.LendingRepay, LendingToken: profitToken, LendingAmount: big.NewInt(1000)},
		},
	}
	_, reject := p.ValidateAndPrepare(strategy)
	require.NotNil(t, reject)
	assert.Equal(t, "bridges", reject.Stage)
}

type stingyBalances struct{}

func (stingyBalances) NativeBalance(domain.Chain) (*big.Int, error) { return big.NewInt(0), nil }

func TestValidateAndPrepareRejectsInsufficientGasBalance(t *testing.T) {
	p := New(allowAllTokens{}, plentifulLiquidity{}, allowAllBridges{}, allowAllDexes{}, flatGasPricer{priceWei: big.NewInt(10)}, stingyBalances{}, fixedBlock{block: 100})
	_, reject := p.ValidateAndPrepare(singleChainStrategy(1000))
	require.NotNil(t, reject)
	assert.Equal(t, "gas", reject.Stage)
}

// routerStrategy mirrors what internal/router.Route.ToStrategy() produces:
// a Bridge step followed by a Supply, no FlashLoan at all.
func routerStrategy() domain.Strategy {
	return domain.Strategy{
		ProfitToken: profitToken,
		Source:      "router",
		Steps: []domain.Step{
			{Kind: domain.StepBridge, BridgeFrom: domain.ChainEthereum, BridgeTo: domain.ChainArbitrum, BridgeToken: profitToken, BridgeAmount: big.NewInt(1000), BridgeProtocol: "stargate", Deadline: time.Now().Add(time.Hour)},
			{Kind: domain.StepLendingAction, Chain: domain.ChainArbitrum, LendingKind: domain.LendingSupply, LendingToken: profitToken, LendingAmount: big.NewInt(1000)},
		},
	}
}

func TestValidateAndPrepareAcceptsRouterStrategyWithNoFlashLoan(t *testing.T) {
	p := newPlanner()
	plan, reject := p.ValidateAndPrepare(routerStrategy())
	require.Nil(t, reject)
	require.NotNil(t, plan)
	assert.True(t, plan.TotalGasCost.Sign() > 0)
}
