package chainregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrageur-go/engine/internal/domain"
)

func TestDialRejectsUnsupportedChain(t *testing.T) {
	r := New()
	err := r.Dial(context.Background(), domain.Chain(999999), "http://localhost:8545")
	require.Error(t, err)

	var classified *domain.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, domain.KindFatalConfig, classified.Kind)
}

func TestClientMissingBeforeDial(t *testing.T) {
	r := New()
	_, err := r.Client(domain.ChainEthereum)
	assert.Error(t, err)
}

func TestDialAndClientRoundTrip(t *testing.T) {
	r := New()
	// http dial is lazy (no handshake), so this succeeds without a live RPC endpoint.
	err := r.Dial(context.Background(), domain.ChainEthereum, "http://127.0.0.1:1")
	require.NoError(t, err)

	client, err := r.Client(domain.ChainEthereum)
	require.NoError(t, err)
	assert.NotNil(t, client)

	assert.Contains(t, r.Chains(), domain.ChainEthereum)

	r.CloseAll()
	_, err = r.Client(domain.ChainEthereum)
	assert.Error(t, err)
}
