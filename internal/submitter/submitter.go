// Package submitter implements the MEV-Protected Submitter (spec.md
// §4.5): pre-flight re-simulation, sandwich-bot detection, a relay
// selection ladder, and post-hoc sandwich-bot learning. Grounded on the
// teacher's `blackhole.go` submission idiom (sign with `b.privateKey`,
// send via `ContractClient.Send`, confirm via `TxListener.
// WaitForTransaction`) generalised from one hardcoded swap to an
// arbitrary ValidatedPlan, plus `golang.org/x/time/rate` for the relay
// pacing spec.md §4.5 requires.
package submitter

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/arbitrageur-go/engine/internal/domain"
	"github.com/arbitrageur-go/engine/internal/storage"
)

const (
	// preFlightLiquidityDropPct is the pre-flight re-simulation's pool
	// liquidity drop tolerance (spec.md §4.5).
	preFlightLiquidityDropPct = 5
	// preFlightProfitDropPct is the pre-flight re-simulation's profit drop
	// tolerance (spec.md §4.5).
	preFlightProfitDropPct = 10

	// gasPriceMatchLowBps / gasPriceMatchHighBps bound the sandwich-
	// detection gas-price window [0.9x, 1.1x] (spec.md §4.5).
	gasPriceMatchLowBps  = 90
	gasPriceMatchHighBps = 110

	sandwichLearningWindowBlocks = 1000

	submissionTimeout = 10 * time.Second
)

// BlockDelay is one of the three congestion-scaled delays spec.md §4.5
// names for a suspected sandwich.
type BlockDelay int

const (
	DelayOneBlock BlockDelay = 1
	DelayTwoBlocks BlockDelay = 2
	DelayThreeBlocks BlockDelay = 3
)

// Outcome is the submitter's public result (spec.md §4.5: submit(plan,
// signer) -> Outcome).
type Outcome struct {
	TxHash    common.Hash
	Included  bool
	Relay     string
	BlockDelay BlockDelay
	Abandoned bool
}

// Resimulator re-evaluates a plan against the latest reserves, reporting
// the pre-flight checks spec.md §4.5 requires.
type Resimulator interface {
	Resimulate(plan *domain.ValidatedPlan) (ResimResult, error)
}

// ResimResult is the outcome of a pre-flight re-simulation.
type ResimResult struct {
	MaxPoolLiquidityDropPct float64
	ProfitDropPct           float64
	CurrentGasPriceWei      *big.Int
	GasPriceCeilingWei      *big.Int
}

// PendingTxFeed exposes the pending-transaction stream the sandwich
// detector scans (spec.md §4.5).
type PendingTxFeed interface {
	Recent(chain domain.Chain) []PendingTx
}

// PendingTx is the minimal shape the sandwich detector needs out of a
// pending transaction.
type PendingTx struct {
	From     common.Address
	GasPrice *big.Int
	Tokens   []common.Address
	PoolIDs  []string
}

// Relay submits a signed, assembled bundle to one relay endpoint.
type Relay interface {
	Name() string
	Submit(ctx context.Context, bundle Bundle) (common.Hash, error)
}

// Bundle is the Flashbots-style bundle payload (spec.md §4.5: "signed
// transaction, target block, revert_if_partial flag").
type Bundle struct {
	SignedTx        []byte
	TargetBlock      uint64
	RevertIfPartial bool
}

// Signer signs a ValidatedPlan's assembled transaction.
type Signer interface {
	SignPlan(plan *domain.ValidatedPlan, key *ecdsa.PrivateKey) ([]byte, error)
}

// CurrentBlockSource reports the current block of a chain, used to
// compute a bundle's target block.
type CurrentBlockSource interface {
	CurrentBlock(chain domain.Chain) (uint64, error)
}

// Submitter implements spec.md §4.5's submit(plan, signer) -> Outcome.
type Submitter struct {
	resimulator Resimulator
	feed        PendingTxFeed
	signer      Signer
	blocks      CurrentBlockSource
	sandwichBots *storage.SandwichBotSet
	relays      []Relay
	limiter     *rate.Limiter
}

// New builds a Submitter trying relays in the given order (spec.md §4.5:
// "private relay -> alternative private relay -> public mempool").
// ratePerSecond/burst bound outbound submission pacing.
func New(resimulator Resimulator, feed PendingTxFeed, signer Signer, blocks CurrentBlockSource, sandwichBots *storage.SandwichBotSet, relays []Relay, ratePerSecond float64, burst int) *Submitter {
	return &Submitter{
		resimulator:  resimulator,
		feed:         feed,
		signer:       signer,
		blocks:       blocks,
		sandwichBots: sandwichBots,
		relays:       relays,
		limiter:      rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Submit runs the pre-flight check, sandwich detection, and relay ladder.
func (s *Submitter) Submit(ctx context.Context, plan *domain.ValidatedPlan, key *ecdsa.PrivateKey) (Outcome, error) {
	if err := s.preFlight(plan); err != nil {
		return Outcome{Abandoned: true}, err
	}

	delay, abandon := s.detectSandwich(plan)
	if abandon {
		return Outcome{Abandoned: true}, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return Outcome{Abandoned: true}, err
	}

	signed, err := s.signer.SignPlan(plan, key)
	if err != nil {
		return Outcome{}, domain.NewClassifiedError(domain.KindFatalConfig, err)
	}

	chain := plan.Strategy.Steps[0].Chain
	current, err := s.blocks.CurrentBlock(chain)
	if err != nil {
		return Outcome{}, domain.NewClassifiedError(domain.KindTransient, err)
	}

	bundle := Bundle{SignedTx: signed, TargetBlock: current + uint64(delay), RevertIfPartial: true}

	ctx, cancel := context.WithTimeout(ctx, submissionTimeout)
	defer cancel()

	for _, relay := range s.relays {
		hash, err := relay.Submit(ctx, bundle)
		if err == nil {
			return Outcome{TxHash: hash, Included: true, Relay: relay.Name(), BlockDelay: delay}, nil
		}
	}

	return Outcome{Abandoned: true}, domain.NewClassifiedError(domain.KindTransient, fmt.Errorf("all relays rejected the bundle"))
}

// preFlight rejects a plan whose conditions have drifted since
// validation (spec.md §4.5).
func (s *Submitter) preFlight(plan *domain.ValidatedPlan) error {
	result, err := s.resimulator.Resimulate(plan)
	if err != nil {
		return domain.NewClassifiedError(domain.KindTransient, err)
	}
	if result.MaxPoolLiquidityDropPct > preFlightLiquidityDropPct {
		return domain.NewClassifiedError(domain.KindStaleState, fmt.Errorf("pool liquidity dropped %.2f%%, exceeds %d%% ceiling", result.MaxPoolLiquidityDropPct, preFlightLiquidityDropPct))
	}
	if result.ProfitDropPct > preFlightProfitDropPct {
		return domain.NewClassifiedError(domain.KindStaleState, fmt.Errorf("profit dropped %.2f%%, exceeds %d%% ceiling", result.ProfitDropPct, preFlightProfitDropPct))
	}
	if result.CurrentGasPriceWei != nil && result.GasPriceCeilingWei != nil &&
		result.CurrentGasPriceWei.Cmp(result.GasPriceCeilingWei) > 0 {
		return domain.NewClassifiedError(domain.KindGasSpike, fmt.Errorf("current gas price exceeds per-chain ceiling"))
	}
	return nil
}

// detectSandwich scans the pending-tx feed for the three predicates from
// spec.md §4.5 and returns the congestion-scaled delay, or reports
// abandonment when the risk can't be mitigated by delay alone.
func (s *Submitter) detectSandwich(plan *domain.ValidatedPlan) (BlockDelay, bool) {
	chain := plan.Strategy.Steps[0].Chain
	planGasPrice := firstGasPrice(plan)
	planPools := make(map[string]bool)
	planTokens := make(map[common.Address]bool)
	for _, step := range plan.Strategy.Steps {
		if step.Kind == domain.StepSwap {
			planTokens[step.SwapIn] = true
			planTokens[step.SwapOut] = true
		}
	}

	matched := 0
	for _, tx := range s.feed.Recent(chain) {
		if s.sandwichBots != nil && s.sandwichBots.Known(tx.From) {
			matched++
			continue
		}
		if sharesTokens(tx.Tokens, planTokens, 2) {
			matched++
			continue
		}
		if planGasPrice != nil && tx.GasPrice != nil && withinGasWindow(tx.GasPrice, planGasPrice) && overlapsPools(tx.PoolIDs, planPools) {
			matched++
		}
	}

	if matched == 0 {
		return 0, false
	}
	if matched >= 3 {
		return 0, true // abandon: too much congestion to mitigate by delay
	}
	return BlockDelay(matched), false
}

func firstGasPrice(plan *domain.ValidatedPlan) *big.Int {
	for _, step := range plan.Strategy.Steps {
		if step.GasPrice != nil {
			return step.GasPrice
		}
	}
	return nil
}

func sharesTokens(candidates []common.Address, planTokens map[common.Address]bool, minShared int) bool {
	shared := 0
	for _, t := range candidates {
		if planTokens[t] {
			shared++
		}
	}
	return shared >= minShared
}

func overlapsPools(candidates []string, planPools map[string]bool) bool {
	for _, id := range candidates {
		if planPools[id] {
			return true
		}
	}
	return false
}

func withinGasWindow(candidate, planGasPrice *big.Int) bool {
	low := new(big.Int).Mul(planGasPrice, big.NewInt(gasPriceMatchLowBps))
	low.Div(low, big.NewInt(100))
	high := new(big.Int).Mul(planGasPrice, big.NewInt(gasPriceMatchHighBps))
	high.Div(high, big.NewInt(100))
	return candidate.Cmp(low) >= 0 && candidate.Cmp(high) <= 0
}

// LearnSandwichBots scans txs for the (tx_i.from, tx_i+2.from) sandwich
// pattern and records both addresses (spec.md §4.5). It scans every
// transaction in txs and does not apply sandwichLearningWindowBlocks
// itself.
func LearnSandwichBots(txs []PendingTx, set *storage.SandwichBotSet, observedAt time.Time) int {
	learned := 0
	for i := 0; i+2 < len(txs); i++ {
		front, victim, back := txs[i], txs[i+1], txs[i+2]
		if front.From == back.From && sandwichesVictim(front, victim, back) {
			set.Learn(front.From, observedAt)
			set.Learn(back.From, observedAt)
			learned += 2
		}
	}
	return learned
}

func sandwichesVictim(front, victim, back PendingTx) bool {
	if len(front.Tokens) < 2 || len(back.Tokens) < 2 || len(victim.Tokens) < 2 {
		return false
	}
	// opposite swap directions: front buys what back sells.
	return front.Tokens[0] == back.Tokens[1] && front.Tokens[1] == back.Tokens[0]
}
