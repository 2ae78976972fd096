package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenClass classifies a token for risk/scoring purposes.
type TokenClass int

const (
	ClassUnknown TokenClass = iota
	ClassStablecoin
	ClassWrappedNative
	ClassWrappedBTC
	ClassLiquidStaking
	ClassDeFi
)

// TokenMetadata is the cached profile of a token used by the Oracle's
// validation pipeline. Refreshed on demand, cached with TTL.
type TokenMetadata struct {
	Address common.Address
	Chain   Chain

	Symbol   string
	Decimals uint8
	Class    TokenClass

	HolderCount  uint64
	Volume24hUSD float64

	Verified bool
	FirstSeenBlock uint64
	FirstSeenAt    time.Time

	BlacklistReason string // empty if not blacklisted

	FetchedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the cached entry is past its TTL as of now.
func (m *TokenMetadata) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.After(m.FetchedAt.Add(m.TTL))
}

func (m *TokenMetadata) Blacklisted() bool {
	return m.BlacklistReason != ""
}

// TWAPRecord is a time-weighted price derived from a V3 pool's tick
// cumulatives, valid for the current block only.
type TWAPRecord struct {
	PoolID     string
	BaseToken  common.Address
	Price      *big.Int // 18-decimal fixed point
	SampleCount int
	Block       uint64
	ComputedAt  time.Time
}

// PriceSource tags where a PriceQuote's observation came from.
type PriceSource int

const (
	SourceV2 PriceSource = iota
	SourceV3
	SourceCurve
	SourceBalancer
)

// PriceQuote is one observation feeding the weighted-median aggregator.
// Price is 18-decimal fixed point USD, per SPEC_FULL.md's Open Question
// resolution.
type PriceQuote struct {
	Token     common.Address
	Price     *big.Int
	Weight    int
	Source    PriceSource
	Timestamp time.Time
}

// SourceWeight is the fixed per-family weight from spec.md §4.2: V3 and
// Curve carry more weight because concentrated liquidity / stable-swap
// math resists single-block manipulation better than constant-product.
func SourceWeight(s PriceSource) int {
	switch s {
	case SourceV3, SourceCurve:
		return 2
	default:
		return 1
	}
}
