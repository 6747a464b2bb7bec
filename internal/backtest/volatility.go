package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lpwatch/risk-engine/internal/model"
)

// Assumed daily volatility, in percent, per pair category.
var (
	volatilityStable   = decimal.NewFromFloat(0.5)
	volatilityBluechip = decimal.NewFromInt(3)
	volatilityDefault  = decimal.NewFromInt(8)

	minTimeInRange = decimal.NewFromInt(50)
	rebalanceStep  = decimal.NewFromInt(20)
	ten            = decimal.NewFromInt(10)
)

// DailyVolatility returns the assumed daily price volatility (percent) for
// a pair category.
func DailyVolatility(c model.PairCategory) decimal.Decimal {
	switch c {
	case model.CategoryStableStable:
		return volatilityStable
	case model.CategoryBluechipStable:
		return volatilityBluechip
	default:
		return volatilityDefault
	}
}

// runVolatility estimates the outcome of a range from the pool category's
// assumed volatility when there is not enough history to replay.
//
//	timeInRange = clamp(rangeWidth / volatility × 10, 50, 100)
//	fees        = dailyFee × days × timeInRange/100
//	move        = volatility × √days / 100
//	IL          = |IL(current, current × (1+move))| × capital
func (s *Simulator) runVolatility(req model.BacktestRequest, start, end int64) model.BacktestResult {
	pool := req.Pool
	days := decimal.NewFromInt(int64(req.PeriodDays))
	vol := DailyVolatility(pool.PairCategory)

	width := RangeWidthPercent(req.RangeLower, req.RangeUpper, pool.CurrentPrice)

	timeInRange := width.Div(vol).Mul(ten)
	if timeInRange.LessThan(minTimeInRange) {
		timeInRange = minTimeInRange
	}
	if timeInRange.GreaterThan(hundred) {
		timeInRange = hundred
	}
	timeInRange = timeInRange.Round(Scale)

	daily := s.fees.EstimateDailyFees(pool.Volume24h, pool.TVL, pool.FeeTier, req.Capital, width)
	fees := daily.Mul(days).Mul(timeInRange).Div(hundred).Round(Scale)

	sqrtDays := decimal.NewFromFloat(math.Sqrt(float64(req.PeriodDays))).Round(Scale)
	move := vol.Mul(sqrtDays).Div(hundred)
	simulated := pool.CurrentPrice.Mul(decimal.NewFromInt(1).Add(move))

	il := s.il.EstimateImpermanentLoss(pool.CurrentPrice, simulated, req.RangeLower, req.RangeUpper).
		Abs().
		Mul(req.Capital).
		Round(Scale)

	net := fees.Sub(il)
	rebalances := hundred.Sub(timeInRange).Div(rebalanceStep).Floor().IntPart()

	return model.BacktestResult{
		PoolID:     pool.ID,
		RangeLower: req.RangeLower,
		RangeUpper: req.RangeUpper,
		RangeType:  ClassifyRange(req.RangeLower, req.RangeUpper, pool.CurrentPrice),
		PeriodDays: req.PeriodDays,
		StartTime:  time.Unix(start, 0).UTC(),
		EndTime:    time.Unix(end, 0).UTC(),
		Method:     model.MethodVolatility,
		Metrics: model.BacktestMetrics{
			TimeInRangePercent: timeInRange,
			TotalFees:          fees,
			TotalIL:            il,
			NetPnL:             net,
			NetPnLPercent:      percentOf(net, req.Capital),
			MaxDrawdownPercent: percentOf(il, req.Capital),
			Rebalances:         int(rebalances),
		},
		DailyData: []model.DailyMetric{},
	}
}
