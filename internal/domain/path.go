package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Path is an ordered sequence of >=2 pools forming a closed loop that
// starts and ends at ProfitToken.
type Path struct {
	ProfitToken common.Address
	Tokens      []common.Address // len(Tokens) == len(Pools)+1, Tokens[0] == Tokens[last] == ProfitToken
	Pools       []*Pool

	ProbeOut    *big.Int
	OptimizedIn *big.Int
	ExpectedOut *big.Int

	ExpectedProfit *big.Int // in profit-token units
	EstimatedGas   *big.Int // wei-gas units
	ImpactBps      uint32   // 0-10000
}

// Closed reports whether the path satisfies the closure invariant from
// spec.md §8 (Path closure): tokens.first() == tokens.last() == profit_token
// and pools.len() >= 2.
func (p *Path) Closed() bool {
	if len(p.Tokens) < 3 || len(p.Pools) < 2 {
		return false
	}
	first, last := p.Tokens[0], p.Tokens[len(p.Tokens)-1]
	return first == p.ProfitToken && last == p.ProfitToken
}

// PoolIDs returns the ordered pool-id sequence, used as a tie-break key.
func (p *Path) PoolIDs() []string {
	ids := make([]string, len(p.Pools))
	for i, pool := range p.Pools {
		ids[i] = pool.ID()
	}
	return ids
}

// Opportunity is a Path plus the execution-relevant derived fields.
type Opportunity struct {
	Path *Path

	RequiredFlashAmount *big.Int
	RiskScore           int // 0-100
	ProfitToken         common.Address
	GasCost             *big.Int
	FreshnessBlock      uint64
}

// ProfitOverGas is the ranking key from spec.md §4.3 step 7.
func (o *Opportunity) ProfitOverGas() float64 {
	if o.GasCost == nil || o.GasCost.Sign() == 0 {
		return 0
	}
	profit := new(big.Float).SetInt(o.Path.ExpectedProfit)
	gas := new(big.Float).SetInt(o.GasCost)
	ratio, _ := new(big.Float).Quo(profit, gas).Float64()
	return ratio
}
