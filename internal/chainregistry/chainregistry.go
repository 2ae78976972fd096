// Package chainregistry manages one *ethclient.Client per configured
// chain. The teacher dials a single chain once in cmd/main.go; this
// engine's Cross-Chain Router (spec.md §4.6) needs many simultaneous
// connections, so the dial-and-hold idiom is generalised into a small
// registry rather than repeated ad hoc at every call site.
package chainregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/arbitrageur-go/engine/internal/domain"
)

// Registry holds a live client per chain.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.Chain]*ethclient.Client
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{clients: make(map[domain.Chain]*ethclient.Client)}
}

// Dial connects to rpcURL and registers the client under chain,
// replacing (and closing) any prior client for that chain.
func (r *Registry) Dial(ctx context.Context, chain domain.Chain, rpcURL string) error {
	if !domain.SupportedChains[chain] {
		return domain.NewClassifiedError(domain.KindFatalConfig, fmt.Errorf("chainregistry: chain %s is not supported", chain))
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("chainregistry: dial %s for chain %s: %w", rpcURL, chain, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.clients[chain]; ok {
		prior.Close()
	}
	r.clients[chain] = client
	return nil
}

// Client returns the live client for chain, or an error if not dialed.
func (r *Registry) Client(chain domain.Chain) (*ethclient.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[chain]
	if !ok {
		return nil, fmt.Errorf("chainregistry: no client registered for chain %s", chain)
	}
	return client, nil
}

// Chains returns every chain currently registered, for fan-out loops.
func (r *Registry) Chains() []domain.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make([]domain.Chain, 0, len(r.clients))
	for chain := range r.clients {
		chains = append(chains, chain)
	}
	return chains
}

// CloseAll closes every registered client, used on graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		client.Close()
	}
	r.clients = make(map[domain.Chain]*ethclient.Client)
}
