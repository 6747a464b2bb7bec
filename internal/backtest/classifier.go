package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/lpwatch/risk-engine/internal/model"
)

var (
	defensiveWidth = decimal.NewFromInt(20)
	optimizedWidth = decimal.NewFromInt(10)
	hundred        = decimal.NewFromInt(100)
)

// RangeWidthPercent returns (upper - lower) / price × 100, or zero when
// price is not positive.
func RangeWidthPercent(lower, upper, price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return upper.Sub(lower).Div(price).Mul(hundred)
}

// ClassifyRange labels a range by its width relative to the current price:
// wider than 20% is DEFENSIVE, wider than 10% is OPTIMIZED, anything
// narrower is AGGRESSIVE. The caller is responsible for lower < upper.
func ClassifyRange(lower, upper, current decimal.Decimal) model.RangeType {
	width := RangeWidthPercent(lower, upper, current)
	switch {
	case width.GreaterThan(defensiveWidth):
		return model.RangeDefensive
	case width.GreaterThan(optimizedWidth):
		return model.RangeOptimized
	default:
		return model.RangeAggressive
	}
}
