// Package domain holds the plain data records shared across every
// subsystem: pools, paths, opportunities, execution plans and the
// token/price caches. Prices are carried as *big.Int with an implicit
// 18-decimal scale (see SPEC_FULL.md, Open Question: PriceQuote scale).
package domain

import (
	"bytes"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol tags the AMM family a Pool belongs to. The set is closed, so we
// use a tagged enum rather than an interface with per-family virtual
// dispatch (spec.md §9 Design Notes: "polymorphism over AMM families").
type Protocol int

const (
	ProtocolV2 Protocol = iota
	ProtocolV3
	ProtocolCurve
	ProtocolBalancer
)

func (p Protocol) String() string {
	switch p {
	case ProtocolV2:
		return "v2"
	case ProtocolV3:
		return "v3"
	case ProtocolCurve:
		return "curve"
	case ProtocolBalancer:
		return "balancer"
	default:
		return "unknown"
	}
}

// Chain identifies an EVM chain by its numeric chain ID. Only the closed
// set from spec.md §6 is accepted by config validation.
type Chain uint64

const (
	ChainEthereum      Chain = 1
	ChainOptimism      Chain = 10
	ChainPolygon       Chain = 137
	ChainArbitrum      Chain = 42161
	ChainBase          Chain = 8453
	ChainGoerli        Chain = 5
	ChainOptimismGoerli Chain = 420
	ChainMumbai        Chain = 80001
	ChainBaseGoerli    Chain = 84531
	ChainArbitrumGoerli Chain = 421613
)

// SupportedChains is the closed set of chain IDs config validation accepts.
var SupportedChains = map[Chain]bool{
	ChainEthereum: true, ChainOptimism: true, ChainPolygon: true,
	ChainArbitrum: true, ChainBase: true, ChainGoerli: true,
	ChainOptimismGoerli: true, ChainMumbai: true, ChainBaseGoerli: true,
	ChainArbitrumGoerli: true,
}

// Pool is the identity and state of one AMM pool, V2/V3/Curve/Balancer.
// Invariant: for ProtocolV2-family entries, Token0 < Token1 lexicographically.
type Pool struct {
	Address  common.Address
	Chain    Chain
	Protocol Protocol

	Token0 common.Address
	Token1 common.Address

	Decimals0 uint8
	Decimals1 uint8
	FeeBps    uint32

	// V2-family state.
	Reserve0 *big.Int
	Reserve1 *big.Int

	// V3-family state.
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32

	Block     uint64
	UpdatedAt time.Time
}

// ID returns a stable key for maps/caches built from chain + address.
func (p *Pool) ID() string {
	return p.Chain.String() + ":" + p.Address.Hex()
}

func (c Chain) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// TokenLess reports whether a < b as the V2-family canonical ordering.
func TokenLess(a, b common.Address) bool {
	return bytes.Compare(a.Bytes(), b.Bytes()) < 0
}

// OrderedTokens returns (token0, token1) satisfying the V2 invariant.
func OrderedTokens(a, b common.Address) (common.Address, common.Address) {
	if TokenLess(a, b) {
		return a, b
	}
	return b, a
}

// ReserveSnapshot is a per-pool, per-block reserve observation. At most one
// snapshot exists per (pool, block); a newer one supersedes an older one.
type ReserveSnapshot struct {
	PoolID    string
	Reserve0  *big.Int
	Reserve1  *big.Int

	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32

	Block       uint64
	ObservedAt time.Time
}

// Newer reports whether s supersedes other (by block height).
func (s *ReserveSnapshot) Newer(other *ReserveSnapshot) bool {
	if other == nil {
		return true
	}
	return s.Block > other.Block
}
