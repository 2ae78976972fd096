package oracle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticLadder(tickPerSecond int64) []Observation {
	obs := make([]Observation, len(twapLookbacksMinutes))
	for i, lookbackMin := range twapLookbacksMinutes {
		secondsAgo := int64(lookbackMin) * 60
		// tickCumulative grows with elapsed time; "now" (index 0) has the
		// largest cumulative value.
		cumulative := tickPerSecond * (3600 - secondsAgo)
		obs[i] = Observation{TickCumulative: big.NewInt(cumulative), Initialized: true}
	}
	return obs
}

func TestComputeTWAPHappyPath(t *testing.T) {
	obs := syntheticLadder(10)
	price, samples, err := ComputeTWAP(obs, 100, 18, 18, false)
	require.NoError(t, err)
	assert.True(t, price.Sign() > 0)
	assert.Equal(t, len(twapLookbacksMinutes), samples)
}

func TestComputeTWAPRejectsLowCardinality(t *testing.T) {
	obs := syntheticLadder(10)
	_, _, err := ComputeTWAP(obs, 10, 18, 18, false)
	assert.ErrorIs(t, err, ErrNoTWAP)
}

func TestComputeTWAPRejectsTooFewInitializedSamples(t *testing.T) {
	obs := syntheticLadder(10)
	for i := 2; i < len(obs); i++ {
		obs[i].Initialized = false
	}
	_, _, err := ComputeTWAP(obs, 100, 18, 18, false)
	assert.ErrorIs(t, err, ErrNoTWAP)
}

func TestComputeTWAPRejectsTooManyGaps(t *testing.T) {
	obs := syntheticLadder(10)
	obs[2].Initialized = false
	obs[4].Initialized = false
	obs[5].Initialized = false
	_, _, err := ComputeTWAP(obs, 100, 18, 18, false)
	assert.ErrorIs(t, err, ErrNoTWAP)
}

func TestComputeTWAPRejectsLargeTickMovement(t *testing.T) {
	obs := syntheticLadder(10)
	// Force a huge jump between two consecutive mean-tick intervals.
	obs[1].TickCumulative = new(big.Int).Add(obs[1].TickCumulative, big.NewInt(10_000_000))
	_, _, err := ComputeTWAP(obs, 100, 18, 18, false)
	assert.ErrorIs(t, err, ErrNoTWAP)
}

func TestInvertFixedPoint18(t *testing.T) {
	oneE18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	assert.Equal(t, oneE18, invertFixedPoint18(oneE18))
}
