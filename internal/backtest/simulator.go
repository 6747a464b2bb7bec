// Package backtest simulates how a liquidity range would have performed
// over a recent period, either by replaying the pool's price history day by
// day or, when history is too sparse, from a category volatility estimate.
//
// All monetary values use shopspring/decimal. The simulator holds no
// mutable state between runs; each result is built fresh per call.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lpwatch/risk-engine/internal/metrics"
	"github.com/lpwatch/risk-engine/internal/model"
)

const (
	// MinHistoryPoints is the fewest in-period price points needed for a
	// historical replay. Below it the volatility estimate is used.
	MinHistoryPoints = 10

	secondsPerDay int64 = 86400
)

var (
	// ErrInvalidPeriod is returned when PeriodDays is not 7 or 30.
	ErrInvalidPeriod = errors.New("backtest: period must be 7 or 30 days")

	// ErrInvalidRange is returned when RangeLower >= RangeUpper.
	ErrInvalidRange = errors.New("backtest: range lower bound must be below upper bound")

	// Scale is the number of decimal places derived values are rounded to.
	Scale int32 = 8
)

// FeeEstimator projects one day of fee income for a position.
// Implementations must be safe for concurrent use.
type FeeEstimator interface {
	EstimateDailyFees(volume24h, tvl decimal.Decimal, feeTier int, capital, rangeWidthPct decimal.Decimal) decimal.Decimal
}

// ILEstimator returns the signed impermanent-loss fraction (<= 0) of a range
// position opened at entryPrice and valued at price.
// Implementations must be safe for concurrent use.
type ILEstimator interface {
	EstimateImpermanentLoss(entryPrice, price, lower, upper decimal.Decimal) decimal.Decimal
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock overrides the time source used to anchor the backtest window.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConcurrency caps the number of days evaluated in parallel.
func WithConcurrency(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.workers = n
		}
	}
}

// Simulator runs backtests against injected fee and IL estimators.
type Simulator struct {
	fees    FeeEstimator
	il      ILEstimator
	now     func() time.Time
	logger  *zap.Logger
	workers int
}

// NewSimulator creates a simulator using the given estimators.
func NewSimulator(fees FeeEstimator, il ILEstimator, opts ...Option) *Simulator {
	s := &Simulator{
		fees:    fees,
		il:      il,
		now:     time.Now,
		logger:  zap.NewNop(),
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// dayRaw holds the order-independent metrics of one day bucket.
type dayRaw struct {
	hasData  bool
	avgPrice decimal.Decimal
	volume   decimal.Decimal
	inRange  bool
	fees     decimal.Decimal
	ilLevel  decimal.Decimal
}

// Run backtests the requested range. With at least MinHistoryPoints price
// points inside the window it replays history day by day; otherwise it
// falls back to the volatility estimate.
func (s *Simulator) Run(ctx context.Context, req model.BacktestRequest) (model.BacktestResult, error) {
	if req.PeriodDays != 7 && req.PeriodDays != 30 {
		return model.BacktestResult{}, ErrInvalidPeriod
	}
	if req.RangeLower.GreaterThanOrEqual(req.RangeUpper) {
		return model.BacktestResult{}, ErrInvalidRange
	}

	timer := time.Now()
	end := s.now().Unix()
	start := end - int64(req.PeriodDays)*secondsPerDay

	var points []model.PricePoint
	for _, p := range req.Pool.PriceHistory {
		if p.Timestamp >= start {
			points = append(points, p)
		}
	}

	var (
		result model.BacktestResult
		err    error
	)
	if len(points) < MinHistoryPoints {
		s.logger.Debug("sparse price history, using volatility estimate",
			zap.String("pool_id", req.Pool.ID),
			zap.Int("points", len(points)),
		)
		result = s.runVolatility(req, start, end)
	} else {
		result, err = s.runHistorical(ctx, req, points, start, end)
		if err != nil {
			return model.BacktestResult{}, err
		}
	}

	metrics.BacktestsTotal.WithLabelValues(string(result.Method)).Inc()
	metrics.BacktestDuration.Observe(time.Since(timer).Seconds())
	return result, nil
}

func (s *Simulator) runHistorical(ctx context.Context, req model.BacktestRequest, points []model.PricePoint, start, end int64) (model.BacktestResult, error) {
	days := req.PeriodDays

	buckets := make([][]model.PricePoint, days)
	for _, p := range points {
		idx := (p.Timestamp - start) / secondsPerDay
		if idx < 0 || idx >= int64(days) {
			continue
		}
		buckets[idx] = append(buckets[idx], p)
	}

	raws := make([]dayRaw, days)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range buckets {
		if len(buckets[i]) == 0 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raws[i] = s.computeDay(req, buckets[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.BacktestResult{}, fmt.Errorf("backtest: %w", err)
	}

	var (
		cumFees, cumIL  decimal.Decimal
		prevLevel, peak decimal.Decimal
		maxDrawdown     decimal.Decimal
		daysWithData    int
		daysInRange     int
		rebalances      int
		prevInRange     bool
	)
	daily := make([]model.DailyMetric, 0, days)
	for i, r := range raws {
		if !r.hasData {
			continue
		}

		dayIL := r.ilLevel.Sub(prevLevel).Abs()
		prevLevel = r.ilLevel

		cumFees = cumFees.Add(r.fees)
		cumIL = cumIL.Add(dayIL)
		net := cumFees.Sub(cumIL)

		if net.GreaterThan(peak) {
			peak = net
		}
		if dd := peak.Sub(net); dd.GreaterThan(maxDrawdown) {
			maxDrawdown = dd
		}

		if daysWithData > 0 && prevInRange && !r.inRange {
			rebalances++
		}
		prevInRange = r.inRange
		daysWithData++
		if r.inRange {
			daysInRange++
		}

		daily = append(daily, model.DailyMetric{
			Date:             start + int64(i)*secondsPerDay,
			AvgPrice:         r.avgPrice,
			Volume:           r.volume,
			InRange:          r.inRange,
			Fees:             r.fees,
			IL:               dayIL,
			CumulativeFees:   cumFees,
			CumulativeIL:     cumIL,
			CumulativeNetPnL: net,
		})
	}

	timeInRange := decimal.Zero
	if daysWithData > 0 {
		timeInRange = decimal.NewFromInt(int64(daysInRange)).
			Div(decimal.NewFromInt(int64(daysWithData))).
			Mul(hundred).
			Round(Scale)
	}

	net := cumFees.Sub(cumIL)
	return model.BacktestResult{
		PoolID:     req.Pool.ID,
		RangeLower: req.RangeLower,
		RangeUpper: req.RangeUpper,
		RangeType:  ClassifyRange(req.RangeLower, req.RangeUpper, req.Pool.CurrentPrice),
		PeriodDays: days,
		StartTime:  time.Unix(start, 0).UTC(),
		EndTime:    time.Unix(end, 0).UTC(),
		Method:     model.MethodHistorical,
		Metrics: model.BacktestMetrics{
			TimeInRangePercent: timeInRange,
			TotalFees:          cumFees,
			TotalIL:            cumIL,
			NetPnL:             net,
			NetPnLPercent:      percentOf(net, req.Capital),
			MaxDrawdownPercent: percentOf(maxDrawdown, req.Capital),
			Rebalances:         rebalances,
		},
		DailyData: daily,
	}, nil
}

// computeDay derives one bucket's metrics. It depends only on its inputs.
func (s *Simulator) computeDay(req model.BacktestRequest, bucket []model.PricePoint) dayRaw {
	sum := decimal.Zero
	volume := decimal.Zero
	for _, p := range bucket {
		sum = sum.Add(p.Price)
		if p.Volume.Valid {
			volume = volume.Add(p.Volume.Decimal)
		}
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(bucket)))).Round(Scale)

	inRange := avg.GreaterThanOrEqual(req.RangeLower) && avg.LessThanOrEqual(req.RangeUpper)

	fees := decimal.Zero
	if inRange {
		width := RangeWidthPercent(req.RangeLower, req.RangeUpper, avg)
		fees = s.fees.EstimateDailyFees(req.Pool.Volume24h, req.Pool.TVL, req.Pool.FeeTier, req.Capital, width)
	}

	level := s.il.EstimateImpermanentLoss(req.Pool.CurrentPrice, avg, req.RangeLower, req.RangeUpper).
		Mul(req.Capital).
		Round(Scale)

	return dayRaw{
		hasData:  true,
		avgPrice: avg,
		volume:   volume,
		inRange:  inRange,
		fees:     fees,
		ilLevel:  level,
	}
}

// percentOf returns v / capital × 100, or zero when capital is not positive.
func percentOf(v, capital decimal.Decimal) decimal.Decimal {
	if capital.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return v.Div(capital).Mul(hundred).Round(Scale)
}
