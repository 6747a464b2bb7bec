package backtest_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpwatch/risk-engine/internal/backtest"
	"github.com/lpwatch/risk-engine/internal/lpmath"
	"github.com/lpwatch/risk-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var fixedNow = time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fixedFees struct{ perDay decimal.Decimal }

func (f fixedFees) EstimateDailyFees(_, _ decimal.Decimal, _ int, _, _ decimal.Decimal) decimal.Decimal {
	return f.perDay
}

type fixedIL struct{ frac decimal.Decimal }

func (f fixedIL) EstimateImpermanentLoss(_, _, _, _ decimal.Decimal) decimal.Decimal {
	return f.frac
}

// history returns pointsPerDay evenly spaced points per day for the given
// number of days ending at fixedNow, priced by priceFor(dayIndex).
func history(days, pointsPerDay int, priceFor func(day int) float64) []model.PricePoint {
	start := fixedNow.Unix() - int64(days)*86400
	step := int64(86400 / pointsPerDay)
	var out []model.PricePoint
	for day := 0; day < days; day++ {
		for k := 0; k < pointsPerDay; k++ {
			out = append(out, model.PricePoint{
				Timestamp: start + int64(day)*86400 + int64(k)*step,
				Price:     d(priceFor(day)),
				Volume:    decimal.NewNullDecimal(d(1000)),
			})
		}
	}
	return out
}

func pool(cat model.PairCategory, current float64, hist []model.PricePoint) model.PoolSnapshot {
	return model.PoolSnapshot{
		ID:           "pool-1",
		Network:      "arbitrum",
		PairCategory: cat,
		TVL:          d(5_000_000),
		Volume24h:    d(2_000_000),
		FeeTier:      3000,
		CurrentPrice: d(current),
		PriceHistory: hist,
	}
}

// --- Range classifier ---

func TestClassifyRange(t *testing.T) {
	tests := []struct {
		name         string
		lower, upper float64
		current      float64
		want         model.RangeType
	}{
		{"wide", 80, 125, 100, model.RangeDefensive},
		{"medium", 95, 110, 100, model.RangeOptimized},
		{"narrow", 98, 103, 100, model.RangeAggressive},
		{"exactly 20 is not defensive", 90, 110, 100, model.RangeOptimized},
		{"exactly 10 is not optimized", 95, 105, 100, model.RangeAggressive},
		{"zero price", 95, 105, 0, model.RangeAggressive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backtest.ClassifyRange(d(tt.lower), d(tt.upper), d(tt.current)))
		})
	}
}

// --- Validation ---

func TestRun_RejectsInvalidPeriod(t *testing.T) {
	sim := backtest.NewSimulator(lpmath.Estimator{}, lpmath.Estimator{}, backtest.WithClock(clock))
	_, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, nil),
		RangeLower: d(90), RangeUpper: d(110), Capital: d(1000), PeriodDays: 14,
	})
	assert.ErrorIs(t, err, backtest.ErrInvalidPeriod)
}

func TestRun_RejectsInvertedRange(t *testing.T) {
	sim := backtest.NewSimulator(lpmath.Estimator{}, lpmath.Estimator{}, backtest.WithClock(clock))
	_, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, nil),
		RangeLower: d(110), RangeUpper: d(110), Capital: d(1000), PeriodDays: 7,
	})
	assert.ErrorIs(t, err, backtest.ErrInvalidRange)
}

// --- Historical replay ---

func TestRun_PriceAboveRangeEarnsNoFees(t *testing.T) {
	sim := backtest.NewSimulator(lpmath.Estimator{}, lpmath.Estimator{}, backtest.WithClock(clock))
	hist := history(14, 4, func(int) float64 { return 150 })

	res, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, hist),
		RangeLower: d(90), RangeUpper: d(110), Capital: d(1000), PeriodDays: 7,
	})
	require.NoError(t, err)

	m := res.Metrics
	assert.Equal(t, model.MethodHistorical, res.Method)
	assert.Len(t, res.DailyData, 7)
	assert.True(t, m.TimeInRangePercent.IsZero(), "time in range: %s", m.TimeInRangePercent)
	assert.True(t, m.TotalFees.IsZero(), "fees: %s", m.TotalFees)
	assert.True(t, m.TotalIL.GreaterThan(decimal.Zero), "IL should be positive: %s", m.TotalIL)
	assert.True(t, m.NetPnL.Equal(m.TotalIL.Neg()), "net %s != -IL %s", m.NetPnL, m.TotalIL)
	assert.Equal(t, 0, m.Rebalances)

	// The whole loss lands on the first day; drawdown equals it.
	assert.True(t, res.DailyData[0].IL.Equal(m.TotalIL))
	for _, day := range res.DailyData[1:] {
		assert.True(t, day.IL.IsZero())
	}
	wantDD := m.TotalIL.Div(d(1000)).Mul(d(100))
	assert.True(t, m.MaxDrawdownPercent.Sub(wantDD).Abs().LessThan(d(0.0001)))
}

func TestRun_AlwaysInRangeAccruesFees(t *testing.T) {
	sim := backtest.NewSimulator(fixedFees{d(10)}, fixedIL{decimal.Zero}, backtest.WithClock(clock))
	hist := history(7, 3, func(int) float64 { return 100 })

	res, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, hist),
		RangeLower: d(90), RangeUpper: d(110), Capital: d(1000), PeriodDays: 7,
	})
	require.NoError(t, err)

	m := res.Metrics
	assert.True(t, m.TimeInRangePercent.Equal(d(100)))
	assert.True(t, m.TotalFees.Equal(d(70)))
	assert.True(t, m.NetPnL.Equal(d(70)))
	assert.True(t, m.NetPnLPercent.Equal(d(7)))
	assert.True(t, m.MaxDrawdownPercent.IsZero())
	assert.True(t, res.DailyData[6].CumulativeNetPnL.Equal(d(70)))
}

func TestRun_CountsRangeExits(t *testing.T) {
	sim := backtest.NewSimulator(fixedFees{d(10)}, fixedIL{decimal.Zero}, backtest.WithClock(clock))
	// in, out, in, out, in, out, in
	hist := history(7, 2, func(day int) float64 {
		if day%2 == 0 {
			return 100
		}
		return 150
	})

	res, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, hist),
		RangeLower: d(90), RangeUpper: d(110), Capital: d(1000), PeriodDays: 7,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Metrics.Rebalances)
	assert.True(t, res.Metrics.TotalFees.Equal(d(40)))
	// 4 of 7 days in range.
	want := decimal.NewFromInt(4).Div(decimal.NewFromInt(7)).Mul(d(100)).Round(backtest.Scale)
	assert.True(t, res.Metrics.TimeInRangePercent.Equal(want), "got %s", res.Metrics.TimeInRangePercent)
}

func TestRun_SkipsDaysWithoutData(t *testing.T) {
	sim := backtest.NewSimulator(fixedFees{d(10)}, fixedIL{decimal.Zero}, backtest.WithClock(clock))
	hist := history(7, 3, func(int) float64 { return 100 })
	hist = hist[:15] // first five days only

	res, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, hist),
		RangeLower: d(90), RangeUpper: d(110), Capital: d(1000), PeriodDays: 7,
	})
	require.NoError(t, err)

	assert.Len(t, res.DailyData, 5)
	assert.True(t, res.Metrics.TotalFees.Equal(d(50)))
	assert.True(t, res.Metrics.TimeInRangePercent.Equal(d(100)))
}

func TestRun_ILIsChangeInLevel(t *testing.T) {
	sim := backtest.NewSimulator(fixedFees{decimal.Zero}, lpmath.Estimator{}, backtest.WithClock(clock))
	// Moves away then back: IL accrues on both legs.
	prices := []float64{100, 120, 100, 100, 100, 100, 100}
	hist := history(7, 2, func(day int) float64 { return prices[day] })

	res, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, hist),
		RangeLower: d(80), RangeUpper: d(125), Capital: d(1000), PeriodDays: 7,
	})
	require.NoError(t, err)

	days := res.DailyData
	require.Len(t, days, 7)
	assert.True(t, days[0].IL.IsZero())
	assert.True(t, days[1].IL.GreaterThan(decimal.Zero))
	assert.True(t, days[2].IL.Equal(days[1].IL))
	assert.True(t, res.Metrics.TotalIL.Equal(days[1].IL.Mul(d(2))))
}

func TestRun_IgnoresHistoryBeforeWindow(t *testing.T) {
	sim := backtest.NewSimulator(fixedFees{d(10)}, fixedIL{decimal.Zero}, backtest.WithClock(clock))
	// 30 days of history but only 7 points in the last 7 days.
	old := history(30, 1, func(int) float64 { return 100 })

	res, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, old),
		RangeLower: d(90), RangeUpper: d(110), Capital: d(1000), PeriodDays: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MethodVolatility, res.Method)
}

// --- Volatility fallback ---

func TestRun_SparseHistoryUsesVolatility(t *testing.T) {
	sim := backtest.NewSimulator(fixedFees{d(10)}, fixedIL{d(-0.02)}, backtest.WithClock(clock))
	hist := history(7, 1, func(int) float64 { return 2000 })

	res, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 2000, hist),
		RangeLower: d(1600), RangeUpper: d(2400), Capital: d(1000), PeriodDays: 7,
	})
	require.NoError(t, err)

	m := res.Metrics
	assert.Equal(t, model.MethodVolatility, res.Method)
	assert.NotNil(t, res.DailyData)
	assert.Empty(t, res.DailyData)
	// width 40% / 3% × 10 clamps to 100.
	assert.True(t, m.TimeInRangePercent.Equal(d(100)))
	assert.True(t, m.TotalFees.Equal(d(70)))
	assert.True(t, m.TotalIL.Equal(d(20)))
	assert.True(t, m.NetPnL.Equal(d(50)))
	assert.True(t, m.MaxDrawdownPercent.Equal(d(2)))
	assert.Equal(t, 0, m.Rebalances)
}

func TestRun_VolatilityClampsTimeInRangeLow(t *testing.T) {
	sim := backtest.NewSimulator(fixedFees{d(1)}, fixedIL{decimal.Zero}, backtest.WithClock(clock))

	res, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryStableStable, 1, nil),
		RangeLower: d(0.99), RangeUpper: d(1.01), Capital: d(1000), PeriodDays: 30,
	})
	require.NoError(t, err)

	// width 2% / 0.5% × 10 = 40, clamped to 50.
	assert.True(t, res.Metrics.TimeInRangePercent.Equal(d(50)))
	assert.Equal(t, 2, res.Metrics.Rebalances)
	assert.True(t, res.Metrics.TotalFees.Equal(d(15)))
}

func TestRun_VolatilityWithRealEstimators(t *testing.T) {
	sim := backtest.NewSimulator(lpmath.Estimator{}, lpmath.Estimator{}, backtest.WithClock(clock))

	res, err := sim.Run(context.Background(), model.BacktestRequest{
		Pool:       pool(model.CategoryOther, 10, nil),
		RangeLower: d(8), RangeUpper: d(12), Capital: d(5000), PeriodDays: 30,
	})
	require.NoError(t, err)

	m := res.Metrics
	assert.True(t, m.TotalIL.GreaterThan(decimal.Zero))
	assert.True(t, m.MaxDrawdownPercent.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, m.TimeInRangePercent.GreaterThanOrEqual(d(50)))
	assert.True(t, m.TimeInRangePercent.LessThanOrEqual(d(100)))
}

// --- Properties ---

func TestRun_Idempotent(t *testing.T) {
	sim := backtest.NewSimulator(lpmath.Estimator{}, lpmath.Estimator{}, backtest.WithClock(clock))
	hist := history(30, 6, func(day int) float64 { return 95 + float64(day%9)*2 })
	req := model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, hist),
		RangeLower: d(92), RangeUpper: d(108), Capital: d(2500), PeriodDays: 30,
	}

	first, err := sim.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := sim.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	serial := backtest.NewSimulator(lpmath.Estimator{}, lpmath.Estimator{},
		backtest.WithClock(clock), backtest.WithConcurrency(1))
	third, err := serial.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestRun_MetricBounds(t *testing.T) {
	sim := backtest.NewSimulator(lpmath.Estimator{}, lpmath.Estimator{}, backtest.WithClock(clock))
	patterns := map[string]func(int) float64{
		"flat":     func(int) float64 { return 100 },
		"rising":   func(day int) float64 { return 80 + float64(day)*3 },
		"volatile": func(day int) float64 { return 100 + float64((day*37)%41) - 20 },
	}
	for name, fn := range patterns {
		t.Run(name, func(t *testing.T) {
			res, err := sim.Run(context.Background(), model.BacktestRequest{
				Pool:       pool(model.CategoryAltcoinStable, 100, history(30, 4, fn)),
				RangeLower: d(90), RangeUpper: d(110), Capital: d(1000), PeriodDays: 30,
			})
			require.NoError(t, err)
			m := res.Metrics
			assert.True(t, m.TimeInRangePercent.GreaterThanOrEqual(decimal.Zero))
			assert.True(t, m.TimeInRangePercent.LessThanOrEqual(d(100)))
			assert.True(t, m.MaxDrawdownPercent.GreaterThanOrEqual(decimal.Zero))
			assert.True(t, m.TotalFees.GreaterThanOrEqual(decimal.Zero))
			assert.True(t, m.TotalIL.GreaterThanOrEqual(decimal.Zero))
			assert.True(t, m.NetPnL.Equal(m.TotalFees.Sub(m.TotalIL)))
		})
	}
}

func TestRun_CancelledContext(t *testing.T) {
	sim := backtest.NewSimulator(lpmath.Estimator{}, lpmath.Estimator{}, backtest.WithClock(clock))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Run(ctx, model.BacktestRequest{
		Pool:       pool(model.CategoryBluechipStable, 100, history(7, 4, func(int) float64 { return 100 })),
		RangeLower: d(90), RangeUpper: d(110), Capital: d(1000), PeriodDays: 7,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Comparator ---

func result(netPct, dd float64) model.BacktestResult {
	return model.BacktestResult{Metrics: model.BacktestMetrics{
		NetPnLPercent:      d(netPct),
		MaxDrawdownPercent: d(dd),
	}}
}

func TestCompare_PicksBestRiskAdjusted(t *testing.T) {
	a := result(8, 4)
	b := result(6, 1)
	a.PoolID, b.PoolID = "a", "b"

	cmp, err := backtest.Compare([]model.BacktestResult{a, b})
	require.NoError(t, err)

	assert.Equal(t, "b", cmp.Best.PoolID)
	require.Len(t, cmp.Entries, 2)
	assert.True(t, cmp.Entries[0].RiskAdjustedReturn.Equal(d(2)))
	assert.True(t, cmp.Entries[1].RiskAdjustedReturn.Equal(d(6)))
	assert.Equal(t, backtest.VerdictExcellent, cmp.Entries[0].Recommendation)
	assert.Equal(t, backtest.VerdictExcellent, cmp.Entries[1].Recommendation)
}

func TestCompare_TieKeepsFirst(t *testing.T) {
	a := result(4, 2)
	b := result(2, 1)
	a.PoolID, b.PoolID = "a", "b"

	cmp, err := backtest.Compare([]model.BacktestResult{a, b})
	require.NoError(t, err)
	assert.Equal(t, "a", cmp.Best.PoolID)
}

func TestCompare_NoDrawdownUsesReturn(t *testing.T) {
	cmp, err := backtest.Compare([]model.BacktestResult{result(3, 0), result(-1, 0)})
	require.NoError(t, err)
	assert.True(t, cmp.Entries[0].RiskAdjustedReturn.Equal(d(3)))
	assert.Equal(t, backtest.VerdictModerate, cmp.Entries[0].Recommendation)
	assert.Equal(t, backtest.VerdictNotRecommended, cmp.Entries[1].Recommendation)
}

func TestCompare_Empty(t *testing.T) {
	_, err := backtest.Compare(nil)
	assert.ErrorIs(t, err, backtest.ErrNoResults)
}
