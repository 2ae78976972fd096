package oracle

import (
	"errors"
	"math/big"

	"github.com/arbitrageur-go/engine/internal/ammmath"
)

// twapLookbacksMinutes is the look-back ladder from spec.md §4.2.
// observations[i] corresponds to twapLookbacksMinutes[i] minutes ago;
// observations[0] is "now" (0-minute lookback).
var twapLookbacksMinutes = []int{0, 5, 10, 15, 20, 25, 30}

const minCardinality = 50
const maxGaps = 2

// ErrNoTWAP is returned when fewer than MinTWAPSamples valid intervals
// remain after the gate checks (spec.md §4.2: "If fewer than 3 valid
// samples remain, return 'no TWAP'").
var ErrNoTWAP = errors.New("oracle: no twap")

// Observation is one tick-cumulative sample at a given look-back.
type Observation struct {
	TickCumulative *big.Int
	Initialized    bool
}

// ComputeTWAP derives a time-weighted price from a ladder of tick
// observations, gated on sample count, observation cardinality, gap
// count, and per-interval tick delta (spec.md §4.2). observations must
// have the same length and ordering as twapLookbacksMinutes.
func ComputeTWAP(observations []Observation, cardinality int, decimals0, decimals1 uint8, invertForToken1 bool) (price *big.Int, sampleCount int, err error) {
	if len(observations) != len(twapLookbacksMinutes) {
		return nil, 0, errors.New("oracle: observation ladder length mismatch")
	}
	if cardinality < minCardinality {
		return nil, 0, ErrNoTWAP
	}

	initializedCount := 0
	gaps := 0
	for _, obs := range observations {
		if obs.Initialized {
			initializedCount++
		} else {
			gaps++
		}
	}
	if initializedCount < MinTWAPSamples || gaps > maxGaps {
		return nil, 0, ErrNoTWAP
	}

	var ticks []*big.Float
	for i := 0; i < len(observations)-1; i++ {
		newer, older := observations[i], observations[i+1]
		if !newer.Initialized || !older.Initialized {
			continue
		}

		seconds := int64(twapLookbacksMinutes[i+1]-twapLookbacksMinutes[i]) * 60
		if seconds <= 0 {
			continue
		}

		deltaCumulative := new(big.Int).Sub(newer.TickCumulative, older.TickCumulative)
		meanTick := new(big.Float).Quo(
			new(big.Float).SetInt(deltaCumulative),
			new(big.Float).SetInt64(seconds),
		)
		ticks = append(ticks, meanTick)
	}

	// Gate per-interval tick delta: consecutive mean ticks must not move
	// by more than MaxTickMovementPerGap (~10%).
	for i := 1; i < len(ticks); i++ {
		delta := new(big.Float).Sub(ticks[i], ticks[i-1])
		delta.Abs(delta)
		if toFloat64(delta) > MaxTickMovementPerGap {
			return nil, 0, ErrNoTWAP
		}
	}

	if len(ticks) == 0 {
		return nil, 0, ErrNoTWAP
	}

	sum := new(big.Float)
	for _, t := range ticks {
		sum.Add(sum, t)
	}
	meanTick := new(big.Float).Quo(sum, new(big.Float).SetInt64(int64(len(ticks))))
	meanTickInt, _ := meanTick.Int64()

	sqrtPrice, err := ammmath.TickToSqrtPriceX96(int(meanTickInt))
	if err != nil {
		return nil, 0, err
	}

	twapPrice, err := ammmath.V3PriceFromSqrt(sqrtPrice, decimals0, decimals1)
	if err != nil {
		return nil, 0, err
	}

	if invertForToken1 {
		twapPrice = invertFixedPoint18(twapPrice)
	}

	return twapPrice, len(ticks) + 1, nil
}

func toFloat64(f *big.Float) float64 {
	v, _ := f.Float64()
	return v
}

// invertFixedPoint18 returns 1/price for an 18-decimal fixed-point price.
func invertFixedPoint18(price *big.Int) *big.Int {
	if price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	oneE36 := new(big.Int).Exp(big.NewInt(10), big.NewInt(36), nil)
	return new(big.Int).Div(oneE36, price)
}
