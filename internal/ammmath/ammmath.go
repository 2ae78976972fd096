// Package ammmath implements the pure, side-effect-free AMM math used by
// the Pool Graph & Simulator (spec.md §4.1): constant-product swap
// quoting, concentrated-liquidity tick/sqrt-price conversion and amount
// composition. Every function here is deterministic and performs no I/O;
// "impossible" is always returned as an error rather than silently
// saturating, per spec.md §4.1 invariants.
package ammmath

import (
	"errors"
	"math/big"
)

// ErrImpossible is returned wherever the AMM math has no valid answer
// (zero reserves, an amount_in over the impact guard, out-of-range ticks).
var ErrImpossible = errors.New("ammmath: impossible")

const feeDenominatorBps = 10000

// impactGuardNumerator/Denominator encode the 30% impact guard from
// spec.md §4.1 as an exact rational comparison, avoiding float rounding.
const impactGuardNumerator = 30
const impactGuardDenominator = 100

// precisionBits is the big.Float precision used for tick <-> sqrt-price
// conversion. 1.0001^tick for |tick| up to ~887272 (the V3 tick bound)
// needs well over 128 bits of mantissa to stay accurate to the last wei
// of a Q64.96 sqrt price.
const precisionBits = 256

// q96 is 2^96, the Q64.96 fixed-point scale Uniswap V3 uses for sqrt
// prices.
var q96 = new(big.Float).SetPrec(precisionBits).SetMantExp(big.NewFloat(1), 96)

// tickBase is 1.0001, the per-tick price step.
var tickBase = new(big.Float).SetPrec(precisionBits).SetFloat64(1.0001)

const minTick = -887272
const maxTick = 887272

// V2AmountOut computes the constant-product output amount with fee, per
// spec.md §4.1:
//
//	amount_in_with_fee = amount_in * (10000 - fee_bps)
//	out = in_fee * reserve_out / (reserve_in * 10000 + in_fee)
//
// Returns ErrImpossible if either reserve is zero, feeBps is out of
// [0, 10000], or amountIn exceeds 30% of reserveIn (impact guard).
func V2AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) (*big.Int, error) {
	if amountIn == nil || reserveIn == nil || reserveOut == nil {
		return nil, ErrImpossible
	}
	if amountIn.Sign() <= 0 {
		return nil, ErrImpossible
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrImpossible
	}
	if feeBps > feeDenominatorBps {
		return nil, ErrImpossible
	}

	// amount_in > 0.30 * reserve_in  <=>  amount_in*100 > reserve_in*30
	lhs := new(big.Int).Mul(amountIn, big.NewInt(impactGuardDenominator))
	rhs := new(big.Int).Mul(reserveIn, big.NewInt(impactGuardNumerator))
	if lhs.Cmp(rhs) > 0 {
		return nil, ErrImpossible
	}

	feeMultiplier := big.NewInt(int64(feeDenominatorBps - feeBps))
	amountInWithFee := new(big.Int).Mul(amountIn, feeMultiplier)

	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(feeDenominatorBps))
	denominator.Add(denominator, amountInWithFee)

	if denominator.Sign() == 0 {
		return nil, ErrImpossible
	}
	return new(big.Int).Div(numerator, denominator), nil
}

// PriceFromReserves returns the spot price of tokenIn denominated in
// tokenOut, decimal-normalised, as an 18-decimal fixed-point *big.Int
// (matching the PriceQuote convention in internal/domain).
func PriceFromReserves(reserveIn, reserveOut *big.Int, decimalsIn, decimalsOut uint8) (*big.Int, error) {
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrImpossible
	}

	num := new(big.Float).SetPrec(precisionBits).SetInt(reserveOut)
	den := new(big.Float).SetPrec(precisionBits).SetInt(reserveIn)

	// Normalise for decimals: price = (reserveOut / 10^decimalsOut) / (reserveIn / 10^decimalsIn)
	//                               = reserveOut * 10^decimalsIn / (reserveIn * 10^decimalsOut)
	if decimalsIn > decimalsOut {
		scale := pow10(int(decimalsIn - decimalsOut))
		num.Mul(num, scale)
	} else if decimalsOut > decimalsIn {
		scale := pow10(int(decimalsOut - decimalsIn))
		den.Mul(den, scale)
	}

	price := new(big.Float).SetPrec(precisionBits).Quo(num, den)
	price.Mul(price, pow10(18))

	out, _ := price.Int(nil)
	return out, nil
}

func pow10(n int) *big.Float {
	r := new(big.Float).SetPrec(precisionBits).SetInt64(1)
	ten := new(big.Float).SetPrec(precisionBits).SetInt64(10)
	for i := 0; i < n; i++ {
		r.Mul(r, ten)
	}
	return r
}

// TickToSqrtPriceX96 converts a V3 tick to its Q64.96 sqrt price:
//
//	sqrtPriceX96 = floor( sqrt(1.0001^tick) * 2^96 )
func TickToSqrtPriceX96(tick int) (*big.Int, error) {
	if tick < minTick || tick > maxTick {
		return nil, ErrImpossible
	}

	price := powFloat(tickBase, tick)
	sqrtPrice := new(big.Float).SetPrec(precisionBits).Sqrt(price)
	sqrtPrice.Mul(sqrtPrice, q96)

	out, _ := sqrtPrice.Int(nil)
	return out, nil
}

// SqrtPriceToPrice converts a Q64.96 sqrt price back to the plain price
// ratio (token1 per token0) as a *big.Float.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) (*big.Float, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return nil, ErrImpossible
	}
	sqrtPrice := new(big.Float).SetPrec(precisionBits).SetInt(sqrtPriceX96)
	sqrtPrice.Quo(sqrtPrice, q96)
	return new(big.Float).SetPrec(precisionBits).Mul(sqrtPrice, sqrtPrice), nil
}

// V3PriceFromSqrt normalises SqrtPriceToPrice for token decimals and
// returns an 18-decimal fixed-point *big.Int, matching PriceFromReserves.
func V3PriceFromSqrt(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) (*big.Int, error) {
	price, err := SqrtPriceToPrice(sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	if decimals0 > decimals1 {
		price.Mul(price, pow10(int(decimals0-decimals1)))
	} else if decimals1 > decimals0 {
		price.Quo(price, pow10(int(decimals1-decimals0)))
	}
	price.Mul(price, pow10(18))
	out, _ := price.Int(nil)
	return out, nil
}

// powFloat computes base^exp for an integer exponent (positive or
// negative) using big.Float exponentiation-by-squaring.
func powFloat(base *big.Float, exp int) *big.Float {
	result := new(big.Float).SetPrec(precisionBits).SetInt64(1)
	b := new(big.Float).SetPrec(precisionBits).Copy(base)
	e := exp
	if e < 0 {
		e = -e
	}
	for e > 0 {
		if e&1 == 1 {
			result.Mul(result, b)
		}
		b.Mul(b, b)
		e >>= 1
	}
	if exp < 0 {
		one := new(big.Float).SetPrec(precisionBits).SetInt64(1)
		result.Quo(one, result)
	}
	return result
}

// CalculateTickBounds centers a [tickLower, tickUpper] range on
// currentTick with the given half-width (in ticks), rounded outward to
// the nearest tickSpacing multiple so both bounds are valid, initialised
// ticks for the pool's fee tier.
func CalculateTickBounds(currentTick, rangeWidth, tickSpacing int) (tickLower, tickUpper int, err error) {
	if tickSpacing <= 0 || rangeWidth < 0 {
		return 0, 0, ErrImpossible
	}
	lower := currentTick - rangeWidth
	upper := currentTick + rangeWidth

	tickLower = floorToSpacing(lower, tickSpacing)
	tickUpper = ceilToSpacing(upper, tickSpacing)

	if tickLower < minTick || tickUpper > maxTick || tickLower >= tickUpper {
		return 0, 0, ErrImpossible
	}
	return tickLower, tickUpper, nil
}

func floorToSpacing(tick, spacing int) int {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

func ceilToSpacing(tick, spacing int) int {
	q := tick / spacing
	if tick%spacing != 0 && tick > 0 {
		q++
	}
	return q * spacing
}

// ComputeAmounts derives the maximal (amount0, amount1, liquidity) triple
// obtainable for a position over [tickLower, tickUpper] at the pool's
// current (tick, sqrtPriceX96), bounded by amount0Max/amount1Max, per the
// standard V3 single-sided/double-sided liquidity formulas.
func ComputeAmounts(sqrtPriceX96 *big.Int, tick, tickLower, tickUpper int, amount0Max, amount1Max *big.Int) (amount0, amount1, liquidity *big.Int, err error) {
	if sqrtPriceX96 == nil || amount0Max == nil || amount1Max == nil {
		return nil, nil, nil, ErrImpossible
	}
	if tickLower >= tickUpper {
		return nil, nil, nil, ErrImpossible
	}

	sqrtLower, err := TickToSqrtPriceX96(tickLower)
	if err != nil {
		return nil, nil, nil, err
	}
	sqrtUpper, err := TickToSqrtPriceX96(tickUpper)
	if err != nil {
		return nil, nil, nil, err
	}

	sqrtCurrent := new(big.Int).Set(sqrtPriceX96)
	if tick < tickLower {
		sqrtCurrent = sqrtLower
	} else if tick > tickUpper {
		sqrtCurrent = sqrtUpper
	}

	var liq0, liq1 *big.Int
	switch {
	case tick < tickLower:
		liq0 = liquidityForAmount0(sqrtLower, sqrtUpper, amount0Max)
	case tick >= tickUpper:
		liq1 = liquidityForAmount1(sqrtLower, sqrtUpper, amount1Max)
	default:
		liq0 = liquidityForAmount0(sqrtCurrent, sqrtUpper, amount0Max)
		liq1 = liquidityForAmount1(sqrtLower, sqrtCurrent, amount1Max)
	}

	switch {
	case liq0 != nil && liq1 != nil:
		if liq0.Cmp(liq1) < 0 {
			liquidity = liq0
		} else {
			liquidity = liq1
		}
	case liq0 != nil:
		liquidity = liq0
	case liq1 != nil:
		liquidity = liq1
	default:
		return nil, nil, nil, ErrImpossible
	}

	a0, a1, err := CalculateTokenAmountsFromLiquidity(liquidity, sqrtPriceX96, tickLower, tickUpper, tick)
	if err != nil {
		return nil, nil, nil, err
	}
	return a0, a1, liquidity, nil
}

// liquidityForAmount0 returns L = amount0 * (sqrtUpper * sqrtLower) / (sqrtUpper - sqrtLower), Q96-scaled.
func liquidityForAmount0(sqrtLower, sqrtUpper, amount0 *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtUpper, sqrtLower)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	intermediate := new(big.Int).Mul(sqrtLower, sqrtUpper)
	intermediate.Div(intermediate, q96Int())
	numerator := new(big.Int).Mul(amount0, intermediate)
	return numerator.Div(numerator, diff)
}

// liquidityForAmount1 returns L = amount1 * 2^96 / (sqrtUpper - sqrtLower).
func liquidityForAmount1(sqrtLower, sqrtUpper, amount1 *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtUpper, sqrtLower)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(amount1, q96Int())
	return numerator.Div(numerator, diff)
}

func q96Int() *big.Int {
	i, _ := q96.Int(nil)
	return i
}

// CalculateTokenAmountsFromLiquidity returns the (amount0, amount1) a
// position of the given liquidity holds at the pool's current tick.
func CalculateTokenAmountsFromLiquidity(liquidity, sqrtPriceX96 *big.Int, tickLower, tickUpper, currentTick int) (amount0, amount1 *big.Int, err error) {
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, nil, ErrImpossible
	}
	sqrtLower, err := TickToSqrtPriceX96(tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := TickToSqrtPriceX96(tickUpper)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case currentTick < tickLower:
		amount0 = amount0ForLiquidity(sqrtLower, sqrtUpper, liquidity)
		amount1 = big.NewInt(0)
	case currentTick >= tickUpper:
		amount0 = big.NewInt(0)
		amount1 = amount1ForLiquidity(sqrtLower, sqrtUpper, liquidity)
	default:
		amount0 = amount0ForLiquidity(sqrtPriceX96, sqrtUpper, liquidity)
		amount1 = amount1ForLiquidity(sqrtLower, sqrtPriceX96, liquidity)
	}
	return amount0, amount1, nil
}

// amount0ForLiquidity returns L * (sqrtUpper - sqrtLower) / (sqrtUpper * sqrtLower) * 2^96.
func amount0ForLiquidity(sqrtLower, sqrtUpper, liquidity *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtUpper, sqrtLower)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(liquidity, diff)
	numerator.Mul(numerator, q96Int())
	denominator := new(big.Int).Mul(sqrtUpper, sqrtLower)
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	return numerator.Div(numerator, denominator)
}

// amount1ForLiquidity returns L * (sqrtUpper - sqrtLower) / 2^96.
func amount1ForLiquidity(sqrtLower, sqrtUpper, liquidity *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtUpper, sqrtLower)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(liquidity, diff)
	return numerator.Div(numerator, q96Int())
}

// CalculateRebalanceAmounts reports which token a liquidity-repositioning
// strategy must sell (0 or 1) and how much, to bring the two balances to
// equal value at the pool's current price ratio. When the balances are
// already equal in value it returns -1 and a zero amount. It takes no
// rebalance threshold: any imbalance, however small, yields a sell.
func CalculateRebalanceAmounts(balance0, balance1, sqrtPriceX96 *big.Int) (tokenToSell int, sellAmount *big.Int, err error) {
	if balance0 == nil || balance1 == nil || sqrtPriceX96 == nil {
		return 0, nil, ErrImpossible
	}
	price, err := SqrtPriceToPrice(sqrtPriceX96) // token1 per token0
	if err != nil {
		return 0, nil, err
	}

	// Value of balance0 in token1 terms.
	bal0F := new(big.Float).SetPrec(precisionBits).SetInt(balance0)
	bal0ValueInToken1 := new(big.Float).SetPrec(precisionBits).Mul(bal0F, price)
	bal1F := new(big.Float).SetPrec(precisionBits).SetInt(balance1)

	diff := new(big.Float).SetPrec(precisionBits).Sub(bal0ValueInToken1, bal1F)
	if diff.Sign() == 0 {
		return -1, big.NewInt(0), nil
	}

	half := new(big.Float).SetPrec(precisionBits).Quo(diff, big.NewFloat(2))
	if diff.Sign() > 0 {
		// token0 side is overweight in value; sell some token0 (in token0 units).
		sellInToken1 := new(big.Float).SetPrec(precisionBits).Abs(half)
		sellInToken0 := new(big.Float).SetPrec(precisionBits).Quo(sellInToken1, price)
		amt, _ := sellInToken0.Int(nil)
		return 0, amt, nil
	}
	sellInToken1 := new(big.Float).SetPrec(precisionBits).Abs(half)
	amt, _ := sellInToken1.Int(nil)
	return 1, amt, nil
}
