package poolgraph

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrageur-go/engine/internal/domain"
)

func tokenAddr(n byte) common.Address {
	var a common.Address
	a[len(a)-1] = n
	return a
}

func samplePool(id byte) *domain.Pool {
	return &domain.Pool{
		Address:   tokenAddr(id),
		Chain:     domain.ChainEthereum,
		Protocol:  domain.ProtocolV2,
		Token0:    tokenAddr(1),
		Token1:    tokenAddr(2),
		Decimals0: 18,
		Decimals1: 6,
		FeeBps:    30,
		Reserve0:  big.NewInt(1000),
		Reserve1:  big.NewInt(2000),
		Block:     100,
	}
}

func TestLoadPoolsBuildsAdjacency(t *testing.T) {
	g := New()
	g.LoadPools([]*domain.Pool{samplePool(9)})

	neighbors := g.Neighbors(tokenAddr(1))
	require.Len(t, neighbors, 1)
	assert.Equal(t, tokenAddr(2), neighbors[0].Neighbor)
	assert.Equal(t, 1, g.Len())
}

func TestUpdateReservesOnlyAppliesNewerBlocks(t *testing.T) {
	g := New()
	pool := samplePool(9)
	g.LoadPools([]*domain.Pool{pool})

	older := &domain.ReserveSnapshot{PoolID: pool.ID(), Reserve0: big.NewInt(1), Reserve1: big.NewInt(1), Block: 50}
	changed := g.UpdateReserves([]*domain.ReserveSnapshot{older})
	assert.Empty(t, changed, "an older snapshot must not overwrite newer state")

	newer := &domain.ReserveSnapshot{PoolID: pool.ID(), Reserve0: big.NewInt(5000), Reserve1: big.NewInt(6000), Block: 200, ObservedAt: time.Now()}
	changed = g.UpdateReserves([]*domain.ReserveSnapshot{newer})
	assert.Equal(t, []string{pool.ID()}, changed)

	assert.Equal(t, big.NewInt(5000), g.Pool(pool.ID()).Reserve0)
}

func TestUpdateReservesIgnoresUnknownPool(t *testing.T) {
	g := New()
	changed := g.UpdateReserves([]*domain.ReserveSnapshot{{PoolID: "nope", Block: 1}})
	assert.Empty(t, changed)
}

func TestSnapshotProvidesConsistentView(t *testing.T) {
	g := New()
	g.LoadPools([]*domain.Pool{samplePool(9)})

	var poolCount int
	g.Snapshot(func(pools map[string]*domain.Pool, adjacency map[common.Address][]Edge) {
		poolCount = len(pools)
	})
	assert.Equal(t, 1, poolCount)
}
