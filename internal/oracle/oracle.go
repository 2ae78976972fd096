// Package oracle implements the Safety & Pricing Oracle (spec.md §4.2):
// spot price aggregation by weighted median, V3 TWAP, token validation,
// and pool safety checks. The Oracle owns the Token Metadata cache behind
// a readers-writer discipline (spec.md §3 Ownership); TWAPs are computed
// per call by ComputeTWAP and are not cached.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitrageur-go/engine/internal/ammmath"
	"github.com/arbitrageur-go/engine/internal/domain"
	"github.com/arbitrageur-go/engine/internal/storage"
)

// Security constants lifted verbatim from the Rust original's
// security/mod.rs (SPEC_FULL.md Supplemented Features), matching
// spec.md §4.2's prose thresholds exactly.
const (
	MinLiquidityUSD       = 10_000
	MinVolumeUSD          = 100_000
	MinHoldersWhitelist   = 1_000
	MinHoldersForValid    = 100
	MinTokenAgeDays       = 30
	MaxPoolImpactBps      = 100 // 1% per-hop, distinct from the Finder's 3% cumulative guard
	TWAPPeriodSeconds     = 1800
	MinTWAPSamples        = 3
	MaxTickMovementPerGap = 1000

	maxHolderConcentrationPct = 50
	callTimeout               = 5 * time.Second
	priceAgreementTolerance   = 0.05 // 5%
)

// ErrUnknown is returned whenever an oracle call can't produce a
// trustworthy answer within callTimeout — spec.md §4.2 Fail modes: "the
// caller treats 'unknown' as unsafe".
var ErrUnknown = errors.New("oracle: unknown")

// Quote is one AMM family's raw observation, before weighting/aggregation.
type Quote struct {
	Source domain.PriceSource
	Price  *big.Int // 18-decimal fixed point
}

// Oracle aggregates prices, computes TWAPs, and validates tokens/pools.
type Oracle struct {
	tokenCache *storage.TokenMetadataCache
	metaSource MetadataSource
	now        func() time.Time
}

// MetadataSource fetches fresh token metadata on a cache miss/expiry —
// implemented by whatever on-chain/off-chain indexer the deployment
// wires in (e.g. a token-list API, a holder-count subgraph).
type MetadataSource interface {
	FetchTokenMetadata(ctx context.Context, chain domain.Chain, token common.Address) (*domain.TokenMetadata, error)
}

// New builds an Oracle backed by cache and source.
func New(cache *storage.TokenMetadataCache, source MetadataSource) *Oracle {
	return &Oracle{tokenCache: cache, metaSource: source, now: time.Now}
}

// AggregatePrice combines quotes by weighted median (spec.md §4.2: V3=2,
// Curve=2, V2=1, Balancer=1), accepting a lone source only if it agrees
// with a cached reference within 5%.
func (o *Oracle) AggregatePrice(token common.Address, quotes []Quote, cachedReference *big.Int) (*domain.PriceQuote, error) {
	if len(quotes) == 0 {
		return nil, ErrUnknown
	}
	if len(quotes) == 1 {
		if cachedReference != nil && !withinTolerance(quotes[0].Price, cachedReference, priceAgreementTolerance) {
			return nil, ErrUnknown
		}
	}

	weighted := make([]weightedPrice, 0, len(quotes))
	for _, q := range quotes {
		weighted = append(weighted, weightedPrice{price: q.Price, weight: domain.SourceWeight(q.Source)})
	}

	median := weightedMedian(weighted)
	if median == nil {
		return nil, ErrUnknown
	}

	return &domain.PriceQuote{
		Token:     token,
		Price:     median,
		Weight:    totalWeight(weighted),
		Source:    quotes[0].Source,
		Timestamp: o.now(),
	}, nil
}

type weightedPrice struct {
	price  *big.Int
	weight int
}

func totalWeight(ws []weightedPrice) int {
	total := 0
	for _, w := range ws {
		total += w.weight
	}
	return total
}

// weightedMedian sorts by price and walks the cumulative weight, picking
// the price at which cumulative weight first reaches half the total —
// the standard weighted-median definition.
func weightedMedian(ws []weightedPrice) *big.Int {
	if len(ws) == 0 {
		return nil
	}
	sorted := make([]weightedPrice, len(ws))
	copy(sorted, ws)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].price.Cmp(sorted[j].price) < 0 })

	total := totalWeight(sorted)
	half := total / 2
	cumulative := 0
	for _, w := range sorted {
		cumulative += w.weight
		if cumulative*2 >= total || cumulative > half {
			return w.price
		}
	}
	return sorted[len(sorted)-1].price
}

func withinTolerance(a, b *big.Int, tolerance float64) bool {
	if a == nil || b == nil || b.Sign() == 0 {
		return false
	}
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)

	diffF := new(big.Float).SetInt(diff)
	bF := new(big.Float).SetInt(b)
	ratio, _ := new(big.Float).Quo(diffF, bF).Float64()
	return ratio <= tolerance
}

// PriceFromPool derives a single Quote from a pool's current state,
// dispatching on protocol family (spec.md §9: tagged variants, not
// virtual dispatch).
func PriceFromPool(p *domain.Pool) (Quote, error) {
	switch p.Protocol {
	case domain.ProtocolV2, domain.ProtocolBalancer:
		price, err := ammmath.PriceFromReserves(p.Reserve0, p.Reserve1, p.Decimals0, p.Decimals1)
		if err != nil {
			return Quote{}, err
		}
		return Quote{Source: protocolToSource(p.Protocol), Price: price}, nil
	case domain.ProtocolV3, domain.ProtocolCurve:
		price, err := ammmath.V3PriceFromSqrt(p.SqrtPriceX96, p.Decimals0, p.Decimals1)
		if err != nil {
			return Quote{}, err
		}
		return Quote{Source: protocolToSource(p.Protocol), Price: price}, nil
	default:
		return Quote{}, ErrUnknown
	}
}

func protocolToSource(p domain.Protocol) domain.PriceSource {
	switch p {
	case domain.ProtocolV3:
		return domain.SourceV3
	case domain.ProtocolCurve:
		return domain.SourceCurve
	case domain.ProtocolBalancer:
		return domain.SourceBalancer
	default:
		return domain.SourceV2
	}
}
