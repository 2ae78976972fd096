package submitter

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrageur-go/engine/internal/domain"
	"github.com/arbitrageur-go/engine/internal/storage"
)

var token1 = common.HexToAddress("0xAAAA")
var token2 = common.HexToAddress("0xBBBB")

func samplePlan() *domain.ValidatedPlan {
	return &domain.ValidatedPlan{
		Strategy: domain.Strategy{
			ProfitToken: token1,
			Steps: []domain.Step{
				{Kind: domain.StepSwap, Chain: domain.ChainEthereum, SwapIn: token1, SwapOut: token2, GasPrice: big.NewInt(100)},
			},
		},
	}
}

type cleanResim struct{}

func (cleanResim) Resimulate(*domain.ValidatedPlan) (ResimResult, error) {
	return ResimResult{MaxPoolLiquidityDropPct: 1, ProfitDropPct: 1, CurrentGasPriceWei: big.NewInt(100), GasPriceCeilingWei: big.NewInt(500)}, nil
}

type staleResim struct{}

func (staleResim) Resimulate(*domain.ValidatedPlan) (ResimResult, error) {
	return ResimResult{MaxPoolLiquidityDropPct: 10}, nil
}

type emptyFeed struct{}

func (emptyFeed) Recent(domain.Chain) []PendingTx { return nil }

type stubSigner struct{}

func (stubSigner) SignPlan(*domain.ValidatedPlan, *ecdsa.PrivateKey) ([]byte, error) {
	return []byte{0x01, 0x02}, nil
}

type fixedBlocks struct{ block uint64 }

func (f fixedBlocks) CurrentBlock(domain.Chain) (uint64, error) { return f.block, nil }

type successRelay struct{ name string }

func (r successRelay) Name() string { return r.name }
func (r successRelay) Submit(ctx context.Context, bundle Bundle) (common.Hash, error) {
	return common.HexToHash("0x01"), nil
}

type failingRelay struct{ name string }

func (r failingRelay) Name() string { return r.name }
func (r failingRelay) Submit(ctx context.Context, bundle Bundle) (common.Hash, error) {
	return common.Hash{}, assert.AnError
}

func TestSubmitHappyPath(t *testing.T) {
	s := New(cleanResim{}, emptyFeed{}, stubSigner{}, fixedBlocks{block: 100}, storage.NewSandwichBotSet(), []Relay{successRelay{name: "flashbots"}}, 100, 10)

	outcome, err := s.Submit(context.Background(), samplePlan(), nil)
	require.NoError(t, err)
	assert.True(t, outcome.Included)
	assert.Equal(t, "flashbots", outcome.Relay)
}

func TestSubmitRejectsOnStaleLiquidity(t *testing.T) {
	s := New(staleResim{}, emptyFeed{}, stubSigner{}, fixedBlocks{block: 100}, storage.NewSandwichBotSet(), []Relay{successRelay{name: "flashbots"}}, 100, 10)

	outcome, err := s.Submit(context.Background(), samplePlan(), nil)
	require.Error(t, err)
	assert.True(t, outcome.Abandoned)
}

func TestSubmitFallsThroughRelayLadder(t *testing.T) {
	s := New(cleanResim{}, emptyFeed{}, stubSigner{}, fixedBlocks{block: 100}, storage.NewSandwichBotSet(), []Relay{failingRelay{name: "private"}, successRelay{name: "public"}}, 100, 10)

	outcome, err := s.Submit(context.Background(), samplePlan(), nil)
	require.NoError(t, err)
	assert.Equal(t, "public", outcome.Relay)
}

func TestDetectSandwichKnownBotDelays(t *testing.T) {
	set := storage.NewSandwichBotSet()
	bot := common.HexToAddress("0xBADBAD")
	set.Learn(bot, time.Now())

	feed := singleTxFeed{PendingTx{From: bot}}
	s := New(cleanResim{}, feed, stubSigner{}, fixedBlocks{block: 100}, set, nil, 100, 10)

	delay, abandon := s.detectSandwich(samplePlan())
	assert.False(t, abandon)
	assert.Equal(t, BlockDelay(1), delay)
}

func TestDetectSandwichSharedTokensDelays(t *testing.T) {
	feed := singleTxFeed{PendingTx{From: common.HexToAddress("0xCCCC"), Tokens: []common.Address{token1, token2}}}
	s := New(cleanResim{}, feed, stubSigner{}, fixedBlocks{block: 100}, storage.NewSandwichBotSet(), nil, 100, 10)

	delay, abandon := s.detectSandwich(samplePlan())
	assert.False(t, abandon)
	assert.Equal(t, BlockDelay(1), delay)
}

func TestDetectSandwichNoMatchIsClean(t *testing.T) {
	s := New(cleanResim{}, emptyFeed{}, stubSigner{}, fixedBlocks{block: 100}, storage.NewSandwichBotSet(), nil, 100, 10)

	delay, abandon := s.detectSandwich(samplePlan())
	assert.False(t, abandon)
	assert.Equal(t, BlockDelay(0), delay)
}

type singleTxFeed []PendingTx

func (f singleTxFeed) Recent(domain.Chain) []PendingTx { return f }

func TestLearnSandwichBotsDetectsPattern(t *testing.T) {
	set := storage.NewSandwichBotSet()
	bot := common.HexToAddress("0xF00D")
	victim := common.HexToAddress("0xBEEF")

	txs := []PendingTx{
		{From: bot, Tokens: []common.Address{token1, token2}},
		{From: victim, Tokens: []common.Address{token1, token2}},
		{From: bot, Tokens: []common.Address{token2, token1}},
	}

	learned := LearnSandwichBots(txs, set, time.Now())
	assert.Equal(t, 2, learned)
	assert.True(t, set.Known(bot))
}

func TestWithinGasWindow(t *testing.T) {
	plan := big.NewInt(100)
	assert.True(t, withinGasWindow(big.NewInt(95), plan))
	assert.False(t, withinGasWindow(big.NewInt(150), plan))
}
