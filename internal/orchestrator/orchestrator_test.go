package orchestrator

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrageur-go/engine/internal/domain"
	"github.com/arbitrageur-go/engine/internal/poolgraph"
	"github.com/arbitrageur-go/engine/internal/submitter"
)

var (
	tokenA = common.HexToAddress("0xAAAA")
	tokenB = common.HexToAddress("0xBBBB")
)

func samplePool() *domain.Pool {
	return &domain.Pool{
		Address:  common.HexToAddress("0x1"),
		Chain:    domain.ChainEthereum,
		Protocol: domain.ProtocolV2,
		Token0:   tokenA,
		Token1:   tokenB,
		Reserve0: big.NewInt(1000),
		Reserve1: big.NewInt(1000),
		Block:    1,
	}
}

type fixedDecoder struct {
	snapshot *domain.ReserveSnapshot
	ok       bool
}

func (f fixedDecoder) DecodeReserveSnapshot(types.Log) (*domain.ReserveSnapshot, bool) {
	return f.snapshot, f.ok
}

type recordingFinder struct {
	calls int32
	block chan struct{} // if non-nil, FindTouched blocks until this is closed
}

func (r *recordingFinder) FindTouched(profitToken common.Address, probeAmount *big.Int, changedPools []string, previous []*domain.Opportunity) []*domain.Opportunity {
	atomic.AddInt32(&r.calls, 1)
	if r.block != nil {
		<-r.block
	}
	return nil
}

func newTestOrchestrator(finder OpportunityFinder) *Orchestrator {
	o := New(poolgraph.New(), nil, nil, nil, nil, fixedDecoder{}, finder, nil, nil, nil)
	o.feeds[domain.ChainEthereum] = feederArgs{ProfitToken: tokenA, ProbeAmount: big.NewInt(1)}
	o.pendingPools[domain.ChainEthereum] = make(map[string]bool)
	inFlight := int32(0)
	o.finderInFlight[domain.ChainEthereum] = &inFlight
	return o
}

func TestBroadcasterDropsOldestWhenFull(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()

	for i := 0; i < broadcastCapacity; i++ {
		b.Publish(Event{Kind: EventNewBlock, Chain: domain.Chain(i)})
	}
	// Channel is now full of chains 0..511. One more publish should drop
	// the oldest (chain 0) and admit the newest (chain 512).
	b.Publish(Event{Kind: EventNewBlock, Chain: domain.Chain(broadcastCapacity)})

	assert.Len(t, ch, broadcastCapacity)
	first := <-ch
	assert.Equal(t, domain.Chain(1), first.Chain)
}

func TestDispatchLogUpdatesGraphAndTracksTouchedPool(t *testing.T) {
	graph := poolgraph.New()
	pool := samplePool()
	graph.LoadPools([]*domain.Pool{pool})

	snapshot := &domain.ReserveSnapshot{PoolID: pool.ID(), Reserve0: big.NewInt(2000), Reserve1: big.NewInt(500), Block: 2}
	o := New(graph, nil, nil, nil, nil, fixedDecoder{snapshot: snapshot, ok: true}, nil, nil, nil, nil)
	o.pendingPools[domain.ChainEthereum] = make(map[string]bool)

	o.dispatchLog(domain.ChainEthereum, types.Log{})

	assert.True(t, o.pendingPools[domain.ChainEthereum][pool.ID()])
	updated := graph.Pool(pool.ID())
	require.NotNil(t, updated)
	assert.Equal(t, big.NewInt(2000), updated.Reserve0)
}

func TestDispatchBlockSkipsFinderWithoutTouchedPools(t *testing.T) {
	finder := &recordingFinder{}
	o := newTestOrchestrator(finder)

	o.dispatchBlock(domain.ChainEthereum, &types.Header{})
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&finder.calls))
}

func TestDispatchBlockRunsFinderOnceForTouchedPools(t *testing.T) {
	finder := &recordingFinder{}
	o := newTestOrchestrator(finder)
	o.pendingPools[domain.ChainEthereum]["pool-1"] = true

	o.dispatchBlock(domain.ChainEthereum, &types.Header{})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&finder.calls) == 1
	}, time.Second, time.Millisecond)
}

func TestDispatchBlockDropsSecondPassWhileFirstInFlight(t *testing.T) {
	block := make(chan struct{})
	finder := &recordingFinder{block: block}
	o := newTestOrchestrator(finder)

	o.pendingPools[domain.ChainEthereum]["pool-1"] = true
	o.dispatchBlock(domain.ChainEthereum, &types.Header{})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&finder.calls) == 1
	}, time.Second, time.Millisecond)

	// A second block arrives with a freshly touched pool while the first
	// pass is still running: the in-flight guard must drop it.
	o.pendingPools[domain.ChainEthereum]["pool-2"] = true
	o.dispatchBlock(domain.ChainEthereum, &types.Header{})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&finder.calls))

	close(block)
}

type fakeSubscription struct {
	errCh chan error
}

func (f fakeSubscription) Unsubscribe() {}
func (f fakeSubscription) Err() <-chan error { return f.errCh }

type alwaysFailBlocks struct {
	calls int32
}

func (a *alwaysFailBlocks) SubscribeNewHead(ctx context.Context, chain domain.Chain) (<-chan *types.Header, ethereum.Subscription, error) {
	atomic.AddInt32(&a.calls, 1)
	return nil, nil, assert.AnError
}

func TestReconnectEscalatesToFatalAfterMaxFailures(t *testing.T) {
	blocks := &alwaysFailBlocks{}
	var fatalCalls int32
	var lastKind domain.ErrorKind

	o := New(poolgraph.New(), blocks, nil, nil, nil, nil, nil, nil, nil, func(chain domain.Chain, source string, err *domain.ClassifiedError) {
		atomic.AddInt32(&fatalCalls, 1)
		lastKind = err.Kind
	})
	o.backoffBase = time.Millisecond
	o.backoffMax = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	o.runBlocks(ctx, domain.ChainEthereum)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&blocks.calls), int32(maxConsecutiveFailures))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fatalCalls), int32(1))
	assert.Equal(t, domain.KindFatalConfig, lastKind)
}

func TestPendingTxRingWrapsAndSnapshotsInOrder(t *testing.T) {
	ring := newPendingTxRing(3)
	ring.add(submitter.PendingTx{From: tokenA})
	ring.add(submitter.PendingTx{From: tokenB})
	assert.Len(t, ring.snapshot(), 2)

	ring.add(submitter.PendingTx{From: common.HexToAddress("0x3")})
	ring.add(submitter.PendingTx{From: common.HexToAddress("0x4")}) // overwrites the tokenA entry

	snap := ring.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, tokenB, snap[0].From)
	assert.Equal(t, common.HexToAddress("0x4"), snap[2].From)
}

func TestOrchestratorRecentImplementsPendingTxFeed(t *testing.T) {
	o := New(poolgraph.New(), nil, nil, nil, nil, nil, nil, nil, nil, nil)
	o.pendingTxRing[domain.ChainEthereum] = newPendingTxRing(10)
	o.pendingTxRing[domain.ChainEthereum].add(submitter.PendingTx{From: tokenA})

	var feed submitter.PendingTxFeed = o
	recent := feed.Recent(domain.ChainEthereum)
	require.Len(t, recent, 1)
	assert.Equal(t, tokenA, recent[0].From)
}
