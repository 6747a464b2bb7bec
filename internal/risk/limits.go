package risk

import (
	"github.com/shopspring/decimal"

	"github.com/lpwatch/risk-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// percentOf returns amount × pct / 100.
func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// capResult is the outcome of fitting working capital under one cap.
type capResult struct {
	capital   decimal.Decimal
	clamped   bool
	exhausted bool
}

// fitUnderCap narrows working so existing + working stays within limit.
// When nothing is left under the cap the capital is returned unchanged and
// exhausted is set.
func fitUnderCap(limit, existing, working decimal.Decimal) capResult {
	if existing.Add(working).LessThanOrEqual(limit) {
		return capResult{capital: working}
	}
	available := limit.Sub(existing)
	if available.LessThanOrEqual(decimal.Zero) {
		return capResult{capital: working, exhausted: true}
	}
	return capResult{capital: decimal.Min(working, available), clamped: true}
}

// exposureWhere sums the capital of active positions matching keep.
func exposureWhere(positions []model.PositionSnapshot, keep func(model.PositionSnapshot) bool) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.IsActive() && keep(p) {
			total = total.Add(p.Capital)
		}
	}
	return total
}

// usd formats an amount for messages.
func usd(v decimal.Decimal) string {
	return "$" + v.StringFixed(2)
}
