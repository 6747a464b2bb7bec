// Package lpmath implements the default fee and impermanent-loss estimators
// for concentrated-liquidity (Uniswap v3 style) range positions.
//
// All monetary values use shopspring/decimal. The square roots in the
// position-value formulas are computed in float64 and the results are
// immediately converted back to decimal at Scale places.
//
// Range position amounts for liquidity L over [pa, pb] at price P:
//
//	P <= pa:      x = L(1/√pa - 1/√pb), y = 0
//	P >= pb:      x = 0,                y = L(√pb - √pa)
//	pa < P < pb:  x = L(1/√P - 1/√pb),  y = L(√P - √pa)
//
// Position value in quote terms is V = x·P + y.
package lpmath

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	// Scale is the number of decimal places results are rounded to.
	Scale int32 = 8

	// MinConcentration and MaxConcentration bound the fee multiplier a
	// narrow range earns relative to a ±50% reference range.
	MinConcentration = decimal.NewFromInt(1)
	MaxConcentration = decimal.NewFromInt(50)

	feeTierDenominator = decimal.NewFromInt(1_000_000)
	hundred            = decimal.NewFromInt(100)
)

// Estimator is the default implementation of both estimator contracts used
// by the backtest simulator. It is stateless and safe for concurrent use.
type Estimator struct{}

// EstimateDailyFees returns the fee income a position of the given capital
// would earn in one day.
//
//	fees = volume24h × feeTier/1e6 × capital/(tvl+capital) × concentration
//	concentration = clamp(100 / rangeWidthPct, 1, 50)
//
// Returns zero when tvl, capital or the range width is not positive.
func (Estimator) EstimateDailyFees(volume24h, tvl decimal.Decimal, feeTier int, capital, rangeWidthPct decimal.Decimal) decimal.Decimal {
	if tvl.LessThanOrEqual(decimal.Zero) || capital.LessThanOrEqual(decimal.Zero) || rangeWidthPct.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if feeTier <= 0 || volume24h.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	feeRate := decimal.NewFromInt(int64(feeTier)).Div(feeTierDenominator)
	share := capital.Div(tvl.Add(capital))
	concentration := hundred.Div(rangeWidthPct)
	if concentration.LessThan(MinConcentration) {
		concentration = MinConcentration
	}
	if concentration.GreaterThan(MaxConcentration) {
		concentration = MaxConcentration
	}

	return volume24h.Mul(feeRate).Mul(share).Mul(concentration).Round(Scale)
}

// EstimateImpermanentLoss returns the signed IL fraction (always <= 0) of a
// range position opened at entryPrice and valued at price, relative to
// holding the entry amounts. Invalid inputs yield zero.
func (Estimator) EstimateImpermanentLoss(entryPrice, price, lower, upper decimal.Decimal) decimal.Decimal {
	p0 := entryPrice.InexactFloat64()
	p1 := price.InexactFloat64()
	pa := lower.InexactFloat64()
	pb := upper.InexactFloat64()
	if p0 <= 0 || p1 <= 0 || pa <= 0 || pb <= pa {
		return decimal.Zero
	}

	x0, y0 := amounts(p0, pa, pb)
	hold := x0*p1 + y0
	if hold <= 0 {
		return decimal.Zero
	}
	lp := unitValue(p1, pa, pb)

	il := lp/hold - 1
	if il > 0 || math.IsNaN(il) {
		il = 0
	}
	return decimal.NewFromFloat(il).Round(Scale)
}

// unitValue is the quote value of one unit of liquidity at price p.
func unitValue(p, pa, pb float64) float64 {
	x, y := amounts(p, pa, pb)
	return x*p + y
}

// amounts returns token amounts per unit of liquidity.
func amounts(p, pa, pb float64) (x, y float64) {
	sa, sb := math.Sqrt(pa), math.Sqrt(pb)
	switch {
	case p <= pa:
		return 1/sa - 1/sb, 0
	case p >= pb:
		return 0, sb - sa
	default:
		sp := math.Sqrt(p)
		return 1/sp - 1/sb, sp - sa
	}
}
