// Package planner implements the Execution Planner (spec.md §4.4):
// validate_and_prepare(Strategy) -> ValidatedPlan | RejectReason, applying
// the seven ordered, short-circuiting validation stages and emitting a
// gas-budgeted, expiry-bound ValidatedPlan. The teacher has no multi-step
// strategy concept (its "strategy" is one hardcoded swap-then-repay
// sequence against a single pool), so this package is built directly from
// spec.md's own validation-order prose, reusing the teacher's small-
// pure-function style.
package planner

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitrageur-go/engine/internal/domain"
)

const (
	gasUnitsFlashLoan     = 300_000
	gasUnitsBridge        = 500_000
	gasUnitsSwap          = 200_000
	gasUnitsLendingAction = 250_000

	minProfitMultiplier = 2
	expiryBlockWindow   = 3 // blocks the plan remains valid for once validated
)

// TokenRegistry reports whether a token is supported on a chain (spec.md
// §4.4 step 2).
type TokenRegistry interface {
	SupportsToken(chain domain.Chain, token common.Address) bool
}

// LiquidityOracle reports the available liquidity for the flash asset on
// its source chain (spec.md §4.4 step 3).
type LiquidityOracle interface {
	AvailableLiquidity(chain domain.Chain, token common.Address) (*big.Int, error)
}

// BridgeRegistry reports whether a bridge protocol supports a chain pair
// (spec.md §4.4 step 5).
type BridgeRegistry interface {
	SupportsBridge(protocol string, from, to domain.Chain) bool
}

// DexRegistry reports whether a DEX protocol is supported on a chain
// (spec.md §4.4 step 6).
type DexRegistry interface {
	SupportsDex(protocol string, chain domain.Chain) bool
}

// GasPricer reports the current gas price (wei) on a chain and converts a
// wei-denominated gas cost into profit-token units (spec.md §4.4 step 7).
type GasPricer interface {
	GasPriceWei(chain domain.Chain) (*big.Int, error)
	ToProfitToken(chain domain.Chain, weiAmount *big.Int, profitToken common.Address) (*big.Int, error)
}

// BalanceSource reports the executor's native-token balance on a chain.
type BalanceSource interface {
	NativeBalance(chain domain.Chain) (*big.Int, error)
}

// BlockSource reports the current block height of a chain, used to stamp
// a ValidatedPlan's expiry.
type BlockSource interface {
	CurrentBlock(chain domain.Chain) (uint64, error)
}

// Planner validates strategies and prepares them for submission.
type Planner struct {
	tokens    TokenRegistry
	liquidity LiquidityOracle
	bridges   BridgeRegistry
	dexes     DexRegistry
	gas       GasPricer
	balances  BalanceSource
	blocks    BlockSource
	now       func() time.Time
}

// New builds a Planner from its collaborators.
func New(tokens TokenRegistry, liquidity LiquidityOracle, bridges BridgeRegistry, dexes DexRegistry, gas GasPricer, balances BalanceSource, blocks BlockSource) *Planner {
	return &Planner{
		tokens:    tokens,
		liquidity: liquidity,
		bridges:   bridges,
		dexes:     dexes,
		gas:       gas,
		balances:  balances,
		blocks:    blocks,
		now:       time.Now,
	}
}

// balanceKey is the running-balance-map key from spec.md §4.4 step 3:
// "(chain, token)".
type balanceKey struct {
	chain domain.Chain
	token common.Address
}

// ValidateAndPrepare runs the seven ordered validation stages, short-
// circuiting on first failure, and emits a ValidatedPlan on success.
func (p *Planner) ValidateAndPrepare(strategy domain.Strategy) (*domain.ValidatedPlan, *domain.RejectReason) {
	if err := p.validateChains(strategy); err != nil {
		return nil, err
	}
	if err := p.validateTokens(strategy); err != nil {
		return nil, err
	}
	if err := p.validateAmounts(strategy); err != nil {
		return nil, err
	}
	if err := p.validateSequence(strategy); err != nil {
		return nil, err
	}
	if err := p.validateBridges(strategy); err != nil {
		return nil, err
	}
	if err := p.validateDexes(strategy); err != nil {
		return nil, err
	}
	totalGasCost, perChainGas, err := p.validateGas(strategy)
	if err != nil {
		return nil, err
	}

	originChain := startingChain(strategy.Steps[0])

	minProfitThreshold, convErr := p.gas.ToProfitToken(originChain, totalGasCost, strategy.ProfitToken)
	if convErr != nil {
		return nil, &domain.RejectReason{Stage: "gas", Message: convErr.Error()}
	}
	minProfitThreshold.Mul(minProfitThreshold, big.NewInt(minProfitMultiplier))

	expiryBlock := uint64(0)
	if p.blocks != nil {
		current, blockErr := p.blocks.CurrentBlock(originChain)
		if blockErr != nil {
			return nil, &domain.RejectReason{Stage: "gas", Message: blockErr.Error()}
		}
		expiryBlock = current + expiryBlockWindow
	}

	steps := append([]domain.Step(nil), strategy.Steps...)
	for i := range steps {
		steps[i].GasUnits = stepGasUnits(steps[i].Kind)
		steps[i].GasPrice = perChainGas[startingChain(steps[i])]
	}
	strategy.Steps = steps

	return &domain.ValidatedPlan{
		Strategy:           strategy,
		MinProfitThreshold: minProfitThreshold,
		TotalGasCost:       totalGasCost,
		ExpiryBlock:        expiryBlock,
		CreatedAt:          p.now(),
	}, nil
}

// 1. Chains: source and target chains both supported; a cross-chain
// strategy contains at least one Bridge step.
func (p *Planner) validateChains(s domain.Strategy) *domain.RejectReason {
	if len(s.Steps) == 0 {
		return &domain.RejectReason{Stage: "chains", Message: "strategy has no steps"}
	}

	chains := make(map[domain.Chain]bool)
	hasBridge := false
	for _, step := range s.Steps {
		if step.Kind == domain.StepBridge {
			if !domain.SupportedChains[step.BridgeFrom] || !domain.SupportedChains[step.BridgeTo] {
				return &domain.RejectReason{Stage: "chains", Message: "bridge step references an unsupported chain"}
			}
			chains[step.BridgeFrom] = true
			chains[step.BridgeTo] = true
			hasBridge = true
			continue
		}
		if !domain.SupportedChains[step.Chain] {
			return &domain.RejectReason{Stage: "chains", Message: fmt.Sprintf("chain %s is not supported", step.Chain)}
		}
		chains[step.Chain] = true
	}

	if len(chains) > 1 && !hasBridge {
		return &domain.RejectReason{Stage: "chains", Message: "strategy touches multiple chains without a Bridge step"}
	}
	return nil
}

// 2. Tokens: every step's token is supported on its chain; swap steps
// have in != out.
func (p *Planner) validateTokens(s domain.Strategy) *domain.RejectReason {
	for i, step := range s.Steps {
		switch step.Kind {
		case domain.StepFlashLoan:
			if !p.tokens.SupportsToken(step.Chain, step.FlashToken) {
				return &domain.RejectReason{Stage: "tokens", Message: fmt.Sprintf("step %d: flash token not supported on chain", i)}
			}
		case domain.StepSwap:
			if step.SwapIn == step.SwapOut {
				return &domain.RejectReason{Stage: "tokens", Message: fmt.Sprintf("step %d: swap in == out", i)}
			}
			if !p.tokens.SupportsToken(step.Chain, step.SwapIn) || !p.tokens.SupportsToken(step.Chain, step.SwapOut) {
				return &domain.RejectReason{Stage: "tokens", Message: fmt.Sprintf("step %d: swap token not supported on chain", i)}
			}
		case domain.StepBridge:
			if !p.tokens.SupportsToken(step.BridgeFrom, step.BridgeToken) || !p.tokens.SupportsToken(step.BridgeTo, step.BridgeToken) {
				return &domain.RejectReason{Stage: "tokens", Message: fmt.Sprintf("step %d: bridge token not supported on one side", i)}
			}
		case domain.StepLendingAction:
			if !p.tokens.SupportsToken(step.Chain, step.LendingToken) {
				return &domain.RejectReason{Stage: "tokens", Message: fmt.Sprintf("step %d: lending token not supported on chain", i)}
			}
		}
	}
	return nil
}

// 3. Amounts: flash amount in (0, source liquidity); running balance map
// over all steps never goes negative. Strategies with no FlashLoan step
// (router-sourced yield routes) move capital the engine already holds
// rather than borrowed capital, so the map is seeded with exactly the
// first step's required balance instead of starting every token at zero
// — see DESIGN.md's Open Question decision on this stage.
func (p *Planner) validateAmounts(s domain.Strategy) *domain.RejectReason {
	balances := make(map[balanceKey]*big.Int)

	get := func(chain domain.Chain, token common.Address) *big.Int {
		key := balanceKey{chain, token}
		if balances[key] == nil {
			balances[key] = big.NewInt(0)
		}
		return balances[key]
	}

	if seedChain, seedToken, seedAmount, ok := preFundedSeed(s.Steps); ok {
		get(seedChain, seedToken).Add(get(seedChain, seedToken), seedAmount)
	}

	for i, step := range s.Steps {
		switch step.Kind {
		case domain.StepFlashLoan:
			if step.FlashAmount == nil || step.FlashAmount.Sign() <= 0 {
				return &domain.RejectReason{Stage: "amounts", Message: fmt.Sprintf("step %d: flash amount must be positive", i)}
			}
			if p.liquidity != nil {
				available, err := p.liquidity.AvailableLiquidity(step.Chain, step.FlashToken)
				if err != nil {
					return &domain.RejectReason{Stage: "amounts", Message: err.Error()}
				}
				if step.FlashAmount.Cmp(available) >= 0 {
					return &domain.RejectReason{Stage: "amounts", Message: fmt.Sprintf("step %d: flash amount exceeds source liquidity", i)}
				}
			}
			get(step.Chain, step.FlashToken).Add(get(step.Chain, step.FlashToken), step.FlashAmount)

		case domain.StepBridge:
			get(step.BridgeFrom, step.BridgeToken).Sub(get(step.BridgeFrom, step.BridgeToken), step.BridgeAmount)
			get(step.BridgeTo, step.BridgeToken).Add(get(step.BridgeTo, step.BridgeToken), step.BridgeAmount)

		case domain.StepSwap:
			get(step.Chain, step.SwapIn).Sub(get(step.Chain, step.SwapIn), step.AmountIn)
			get(step.Chain, step.SwapOut).Add(get(step.Chain, step.SwapOut), step.MinOut)

		case domain.StepLendingAction:
			switch step.LendingKind {
			case domain.LendingSupply, domain.LendingRepay:
				get(step.Chain, step.LendingToken).Sub(get(step.Chain, step.LendingToken), step.LendingAmount)
			case domain.LendingBorrow:
				get(step.Chain, step.LendingToken).Add(get(step.Chain, step.LendingToken), step.LendingAmount)
			}
		}

		for key, balance := range balances {
			if balance.Sign() < 0 {
				return &domain.RejectReason{Stage: "amounts", Message: fmt.Sprintf("running balance for chain %s token %s went negative after step %d", key.chain, key.token.Hex(), i)}
			}
		}
	}
	return nil
}

// preFundedSeed returns the (chain, token, amount) a strategy with no
// FlashLoan step needs already on hand for its first step, or ok=false
// if the strategy borrows via FlashLoan instead.
func preFundedSeed(steps []domain.Step) (domain.Chain, common.Address, *big.Int, bool) {
	for _, step := range steps {
		if step.Kind == domain.StepFlashLoan {
			return domain.Chain(0), common.Address{}, nil, false
		}
	}
	if len(steps) == 0 {
		return domain.Chain(0), common.Address{}, nil, false
	}

	switch first := steps[0]; first.Kind {
	case domain.StepBridge:
		return first.BridgeFrom, first.BridgeToken, first.BridgeAmount, true
	case domain.StepSwap:
		return first.Chain, first.SwapIn, first.AmountIn, true
	case domain.StepLendingAction:
		return first.Chain, first.LendingToken, first.LendingAmount, true
	default:
		return domain.Chain(0), common.Address{}, nil, false
	}
}

// 4. Sequence: at most one FlashLoan (finder-sourced arbitrage
// strategies carry exactly one; router-sourced yield routes carry none,
// since they move capital the engine already holds rather than borrowed
// capital — see DESIGN.md's Open Question decision on this stage); all
// non-Bridge steps execute on the tracked current chain; Bridge steps
// update current chain; a present flash asset must be repaid on its
// source chain before termination.
func (p *Planner) validateSequence(s domain.Strategy) *domain.RejectReason {
	flashLoans := 0
	var flashChain domain.Chain
	var flashToken common.Address
	var flashAmount *big.Int

	currentChain := startingChain(s.Steps[0])
	repayAmount := big.NewInt(0)

	for i, step := range s.Steps {
		if step.Kind == domain.StepFlashLoan {
			flashLoans++
			flashChain = step.Chain
			flashToken = step.FlashToken
			flashAmount = step.FlashAmount
			continue
		}

		if step.Kind == domain.StepBridge {
			if step.BridgeFrom != currentChain {
				return &domain.RejectReason{Stage: "sequence", Message: fmt.Sprintf("step %d: bridge does not originate from the current chain", i)}
			}
			currentChain = step.BridgeTo
			continue
		}

		if step.Chain != currentChain {
			return &domain.RejectReason{Stage: "sequence", Message: fmt.Sprintf("step %d: executes on %s but current chain is %s", i, step.Chain, currentChain)}
		}

		if step.Kind == domain.StepLendingAction && step.LendingKind == domain.LendingRepay &&
			step.Chain == flashChain && step.LendingToken == flashToken {
			repayAmount.Add(repayAmount, step.LendingAmount)
		}
	}

	if flashLoans > 1 {
		return &domain.RejectReason{Stage: "sequence", Message: fmt.Sprintf("strategy has %d FlashLoan steps, must have at most 1", flashLoans)}
	}
	if flashLoans == 1 {
		if currentChain != flashChain {
			return &domain.RejectReason{Stage: "sequence", Message: "strategy does not return to the flash asset's source chain"}
		}
		if flashAmount != nil && repayAmount.Cmp(flashAmount) < 0 {
			return &domain.RejectReason{Stage: "sequence", Message: "flash asset is not fully repaid on its source chain"}
		}
	}
	return nil
}

// startingChain resolves the chain a strategy begins execution on, for
// both chain-tagged step kinds (Chain field) and Bridge steps (which
// carry BridgeFrom/BridgeTo instead).
func startingChain(step domain.Step) domain.Chain {
	if step.Kind == domain.StepBridge {
		return step.BridgeFrom
	}
	return step.Chain
}

// 5. Bridges: protocol supports the chain pair; deadline is in the future.
func (p *Planner) validateBridges(s domain.Strategy) *domain.RejectReason {
	now := p.now()
	for i, step := range s.Steps {
		if step.Kind != domain.StepBridge {
			continue
		}
		if !p.bridges.SupportsBridge(step.BridgeProtocol, step.BridgeFrom, step.BridgeTo) {
			return &domain.RejectReason{Stage: "bridges", Message: fmt.Sprintf("step %d: %s does not support %s -> %s", i, step.BridgeProtocol, step.BridgeFrom, step.BridgeTo)}
		}
		if !step.Deadline.After(now) {
			return &domain.RejectReason{Stage: "bridges", Message: fmt.Sprintf("step %d: bridge deadline has passed", i)}
		}
	}
	return nil
}

// 6. DEXes: protocol supported on the step's chain.
func (p *Planner) validateDexes(s domain.Strategy) *domain.RejectReason {
	for i, step := range s.Steps {
		if step.Kind != domain.StepSwap {
			continue
		}
		if !p.dexes.SupportsDex(step.Dex, step.Chain) {
			return &domain.RejectReason{Stage: "dexes", Message: fmt.Sprintf("step %d: %s not supported on chain %s", i, step.Dex, step.Chain)}
		}
	}
	return nil
}

// 7. Gas: estimate per-chain gas units, multiply by current chain gas
// price, require native balance >= gas cost on every touched chain.
func (p *Planner) validateGas(s domain.Strategy) (*big.Int, map[domain.Chain]*big.Int, *domain.RejectReason) {
	gasUnitsByChain := make(map[domain.Chain]uint64)
	for _, step := range s.Steps {
		gasUnitsByChain[startingChain(step)] += stepGasUnits(step.Kind)
	}

	perChainGasPrice := make(map[domain.Chain]*big.Int)
	totalCostWei := big.NewInt(0)

	for chain, units := range gasUnitsByChain {
		price, err := p.gas.GasPriceWei(chain)
		if err != nil {
			return nil, nil, &domain.RejectReason{Stage: "gas", Message: err.Error()}
		}
		perChainGasPrice[chain] = price

		cost := new(big.Int).Mul(price, new(big.Int).SetUint64(units))
		totalCostWei.Add(totalCostWei, cost)

		if p.balances != nil {
			balance, err := p.balances.NativeBalance(chain)
			if err != nil {
				return nil, nil, &domain.RejectReason{Stage: "gas", Message: err.Error()}
			}
			if balance.Cmp(cost) < 0 {
				return nil, nil, &domain.RejectReason{Stage: "gas", Message: fmt.Sprintf("native balance on chain %s insufficient for estimated gas cost", chain)}
			}
		}
	}

	return totalCostWei, perChainGasPrice, nil
}

func stepGasUnits(kind domain.StepKind) uint64 {
	switch kind {
	case domain.StepFlashLoan:
		return gasUnitsFlashLoan
	case domain.StepBridge:
		return gasUnitsBridge
	case domain.StepSwap:
		return gasUnitsSwap
	case domain.StepLendingAction:
		return gasUnitsLendingAction
	default:
		return 0
	}
}
