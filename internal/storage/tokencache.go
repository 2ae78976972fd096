package storage

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitrageur-go/engine/internal/domain"
)

// TokenMetadataCache is the "many readers, writer only during TTL
// refresh" cache from spec.md §5. Keyed by (chain, address).
type TokenMetadataCache struct {
	mu    sync.RWMutex
	byKey map[tokenKey]*domain.TokenMetadata
}

type tokenKey struct {
	chain   domain.Chain
	address common.Address
}

// NewTokenMetadataCache returns an empty cache.
func NewTokenMetadataCache() *TokenMetadataCache {
	return &TokenMetadataCache{byKey: make(map[tokenKey]*domain.TokenMetadata)}
}

// Get returns the cached entry if present and not expired as of now.
func (c *TokenMetadataCache) Get(chain domain.Chain, address common.Address, now time.Time) (*domain.TokenMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byKey[tokenKey{chain, address}]
	if !ok || entry.Expired(now) {
		return nil, false
	}
	return entry, true
}

// Put installs or refreshes an entry. Only called from the TTL-refresh
// writer path, per the concurrency model.
func (c *TokenMetadataCache) Put(meta *domain.TokenMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[tokenKey{meta.Chain, meta.Address}] = meta
}

// Delete evicts an entry (e.g. after a blacklist transition).
func (c *TokenMetadataCache) Delete(chain domain.Chain, address common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byKey, tokenKey{chain, address})
}

// Len returns the number of cached entries, for metrics/health reporting.
func (c *TokenMetadataCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}
