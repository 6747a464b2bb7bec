package backtest

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/lpwatch/risk-engine/internal/model"
)

// ErrNoResults is returned when Compare is given nothing to compare.
var ErrNoResults = errors.New("backtest: no results to compare")

// Verdict labels.
const (
	VerdictExcellent      = "excellent"
	VerdictModerate       = "moderate positive"
	VerdictNotRecommended = "not recommended"
)

var excellentReturn = decimal.NewFromInt(5)

// ComparisonEntry pairs a result with its risk-adjusted score.
type ComparisonEntry struct {
	Result             model.BacktestResult `json:"result"`
	RiskAdjustedReturn decimal.Decimal      `json:"risk_adjusted_return"`
	Recommendation     string               `json:"recommendation"`
}

// Comparison is the outcome of comparing several backtests.
type Comparison struct {
	Best    model.BacktestResult `json:"best"`
	Entries []ComparisonEntry    `json:"entries"`
}

// Compare scores each result by net return per unit of drawdown and picks
// the highest. Ties keep the earliest result. Entries are in input order.
func Compare(results []model.BacktestResult) (Comparison, error) {
	if len(results) == 0 {
		return Comparison{}, ErrNoResults
	}

	entries := make([]ComparisonEntry, len(results))
	best := 0
	for i, r := range results {
		entries[i] = ComparisonEntry{
			Result:             r,
			RiskAdjustedReturn: RiskAdjustedReturn(r.Metrics),
			Recommendation:     verdict(r.Metrics.NetPnLPercent),
		}
		if entries[i].RiskAdjustedReturn.GreaterThan(entries[best].RiskAdjustedReturn) {
			best = i
		}
	}

	return Comparison{Best: results[best], Entries: entries}, nil
}

// RiskAdjustedReturn is NetPnLPercent / MaxDrawdownPercent, or the plain
// return when there was no drawdown.
func RiskAdjustedReturn(m model.BacktestMetrics) decimal.Decimal {
	if m.MaxDrawdownPercent.GreaterThan(decimal.Zero) {
		return m.NetPnLPercent.Div(m.MaxDrawdownPercent).Round(Scale)
	}
	return m.NetPnLPercent
}

func verdict(netPct decimal.Decimal) string {
	switch {
	case netPct.GreaterThan(excellentReturn):
		return VerdictExcellent
	case netPct.GreaterThan(decimal.Zero):
		return VerdictModerate
	default:
		return VerdictNotRecommended
	}
}
