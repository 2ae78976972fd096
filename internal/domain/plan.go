package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LendingActionKind enumerates the lending-protocol step kinds, grounded
// on the original Aave protocol surface (supply/borrow/repay).
type LendingActionKind int

const (
	LendingSupply LendingActionKind = iota
	LendingBorrow
	LendingRepay
)

// StepKind tags which variant a Step holds.
type StepKind int

const (
	StepFlashLoan StepKind = iota
	StepSwap
	StepBridge
	StepLendingAction
)

// Step is a tagged union over the four execution-plan step variants from
// spec.md §3. Only the fields relevant to Kind are populated.
type Step struct {
	Kind StepKind

	Chain Chain

	// FlashLoan
	FlashToken  common.Address
	FlashAmount *big.Int
	FlashParams []byte

	// Swap
	Dex      string
	SwapIn   common.Address
	SwapOut  common.Address
	AmountIn *big.Int
	MinOut   *big.Int

	// Bridge
	BridgeFrom     Chain
	BridgeTo       Chain
	BridgeToken    common.Address
	BridgeAmount   *big.Int
	BridgeProtocol string
	Deadline       time.Time
	SlippageBps    uint32

	// LendingAction
	LendingKind LendingActionKind
	LendingToken common.Address
	LendingAmount *big.Int
	RateMode      int

	// Gas allowance assigned by the Planner.
	GasUnits uint64
	GasPrice *big.Int
}

// Strategy is the unvalidated input to the Planner: an ordered list of
// steps describing the intended execution, plus the profit token used for
// the min-profit threshold calculation.
type Strategy struct {
	ProfitToken common.Address
	Steps       []Step
	Source      string // "finder" | "router", for metrics/logging only
}

// ValidatedPlan is the Planner's output: a Strategy that passed every
// validation in spec.md §4.4, enriched with gas allowances and an expiry.
type ValidatedPlan struct {
	Strategy Strategy

	MinProfitThreshold *big.Int // 2x total gas cost, in profit-token units
	TotalGasCost        *big.Int
	ExpiryBlock          uint64
	CreatedAt            time.Time
}

// RejectReason explains why the Planner refused a Strategy.
type RejectReason struct {
	Stage   string // "chains", "tokens", "amounts", "sequence", "bridges", "dexes", "gas"
	Message string
}

func (r *RejectReason) Error() string {
	return r.Stage + ": " + r.Message
}
