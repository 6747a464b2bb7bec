package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RangeType classifies how aggressive a price range is relative to the
// current price.
type RangeType string

const (
	RangeDefensive  RangeType = "DEFENSIVE"
	RangeOptimized  RangeType = "OPTIMIZED"
	RangeAggressive RangeType = "AGGRESSIVE"
)

// BacktestMethod records which simulator produced a result.
type BacktestMethod string

const (
	MethodHistorical BacktestMethod = "historical"
	MethodVolatility BacktestMethod = "volatility"
)

// BacktestRequest asks how a range would have performed over a period.
type BacktestRequest struct {
	Pool       PoolSnapshot    `json:"pool"`
	RangeLower decimal.Decimal `json:"range_lower"`
	RangeUpper decimal.Decimal `json:"range_upper"`
	Capital    decimal.Decimal `json:"capital"`
	PeriodDays int             `json:"period_days"` // 7 or 30
}

// BacktestMetrics are the aggregate outcome of a backtest.
type BacktestMetrics struct {
	TimeInRangePercent decimal.Decimal `json:"time_in_range_percent"`
	TotalFees          decimal.Decimal `json:"total_fees"`
	TotalIL            decimal.Decimal `json:"total_il"`
	NetPnL             decimal.Decimal `json:"net_pnl"` // fees - IL
	NetPnLPercent      decimal.Decimal `json:"net_pnl_percent"`
	MaxDrawdownPercent decimal.Decimal `json:"max_drawdown_percent"`
	Rebalances         int             `json:"rebalances"`
}

// DailyMetric is one day of a historical backtest.
type DailyMetric struct {
	Date             int64           `json:"date"` // day bucket start, unix seconds
	AvgPrice         decimal.Decimal `json:"avg_price"`
	Volume           decimal.Decimal `json:"volume"`
	InRange          bool            `json:"in_range"`
	Fees             decimal.Decimal `json:"fees"`
	IL               decimal.Decimal `json:"il"`
	CumulativeFees   decimal.Decimal `json:"cumulative_fees"`
	CumulativeIL     decimal.Decimal `json:"cumulative_il"`
	CumulativeNetPnL decimal.Decimal `json:"cumulative_net_pnl"`
}

// BacktestResult is the full output of one backtest run.
type BacktestResult struct {
	PoolID     string          `json:"pool_id"`
	RangeLower decimal.Decimal `json:"range_lower"`
	RangeUpper decimal.Decimal `json:"range_upper"`
	RangeType  RangeType       `json:"range_type"`
	PeriodDays int             `json:"period_days"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	Method     BacktestMethod  `json:"method"`
	Metrics    BacktestMetrics `json:"metrics"`
	DailyData  []DailyMetric   `json:"daily_data"`
}
