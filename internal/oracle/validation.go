package oracle

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitrageur-go/engine/internal/domain"
)

// TokenValidation is the oracle's verdict on a token, per spec.md §4.2:
// "not blacklisted; 24h volume >= $100k; unique holders >= 100 (stricter
// 1000 for whitelist-grade); top-10 holder concentration <= 50%;
// contract source verified; no known malicious bytecode patterns; token
// age >= 30 days for uncategorised tokens".
type TokenValidation struct {
	Valid       bool
	Whitelisted bool
	Reason      string // populated when !Valid
}

// HolderConcentrationPct is supplied by the caller (a holder-distribution
// indexer this engine doesn't itself implement); top-10 concentration as
// a percentage 0-100.
type TokenSignals struct {
	HolderConcentrationPct int
	MaliciousBytecode      bool
}

// ValidateToken applies the token-validity predicate chain. meta must
// already be fresh (caller resolves via ValidateOrFetch).
func ValidateToken(meta *domain.TokenMetadata, signals TokenSignals, now time.Time) TokenValidation {
	if meta.Blacklisted() {
		return TokenValidation{Reason: "blacklisted: " + meta.BlacklistReason}
	}
	if meta.Volume24hUSD < MinVolumeUSD {
		return TokenValidation{Reason: "24h volume below floor"}
	}
	if meta.HolderCount < MinHoldersForValid {
		return TokenValidation{Reason: "holder count below floor"}
	}
	if signals.HolderConcentrationPct > maxHolderConcentrationPct {
		return TokenValidation{Reason: "top-10 holder concentration too high"}
	}
	if !meta.Verified {
		return TokenValidation{Reason: "contract source not verified"}
	}
	if signals.MaliciousBytecode {
		return TokenValidation{Reason: "malicious bytecode pattern matched"}
	}

	if meta.Class == domain.ClassUnknown {
		if !meta.FirstSeenAt.IsZero() && now.Sub(meta.FirstSeenAt) < MinTokenAgeDays*24*time.Hour {
			return TokenValidation{Reason: "uncategorised token below minimum age"}
		}
	}

	whitelisted := meta.HolderCount >= MinHoldersWhitelist
	return TokenValidation{Valid: true, Whitelisted: whitelisted}
}

// ValidateOrFetch returns a cached, non-expired TokenMetadata, or fetches
// and caches a fresh one via source.
func (o *Oracle) ValidateOrFetch(ctx context.Context, chain domain.Chain, token common.Address) (*domain.TokenMetadata, error) {
	if cached, ok := o.tokenCache.Get(chain, token, o.now()); ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	meta, err := o.metaSource.FetchTokenMetadata(ctx, chain, token)
	if err != nil {
		return nil, ErrUnknown
	}
	meta.FetchedAt = o.now()
	o.tokenCache.Put(meta)
	return meta, nil
}

// PoolSafety is the oracle's verdict on a pool, per spec.md §4.2:
// "liquidity-in-USD >= $10,000 floor; both tokens valid; no
// transfer-fee/transfer-restriction markers detected".
type PoolSafety struct {
	Safe   bool
	Reason string
}

// ValidatePool checks the pool-safety predicate chain given the already-
// computed liquidity-in-USD and both tokens' validation verdicts.
func ValidatePool(liquidityUSD float64, token0, token1 TokenValidation, transferRestricted bool) PoolSafety {
	if liquidityUSD < MinLiquidityUSD {
		return PoolSafety{Reason: "liquidity below floor"}
	}
	if !token0.Valid || !token1.Valid {
		return PoolSafety{Reason: "constituent token failed validation"}
	}
	if transferRestricted {
		return PoolSafety{Reason: "transfer-fee or transfer-restriction marker detected"}
	}
	return PoolSafety{Safe: true}
}
