// Package model defines the core domain types shared across the risk engine.
// Monetary and price values are shopspring decimals, never float64.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PairCategory groups pools by the volatility profile of their pair.
type PairCategory string

const (
	CategoryStableStable   PairCategory = "stable-stable"
	CategoryBluechipStable PairCategory = "bluechip-stable"
	CategoryAltcoinStable  PairCategory = "altcoin-stable"
	CategoryOther          PairCategory = "other"
)

// IsVolatile reports whether positions in this category count toward the
// volatile exposure cap.
func (c PairCategory) IsVolatile() bool {
	return c == CategoryAltcoinStable || c == CategoryOther
}

// Valid reports whether c is one of the known categories.
func (c PairCategory) Valid() bool {
	switch c {
	case CategoryStableStable, CategoryBluechipStable, CategoryAltcoinStable, CategoryOther:
		return true
	}
	return false
}

// PricePoint is one observation in a pool's price history.
type PricePoint struct {
	Timestamp int64               `json:"timestamp"` // unix seconds
	Price     decimal.Decimal     `json:"price"`
	Volume    decimal.NullDecimal `json:"volume"`
}

// PoolSnapshot is the state of a liquidity pool at the time of a decision.
type PoolSnapshot struct {
	ID           string          `json:"id" db:"id"`
	Network      string          `json:"network" db:"network"`
	PairCategory PairCategory    `json:"pair_category" db:"pair_category"`
	TVL          decimal.Decimal `json:"tvl" db:"tvl"`
	Volume24h    decimal.Decimal `json:"volume_24h" db:"volume_24h"`
	FeeTier      int             `json:"fee_tier" db:"fee_tier"` // hundredths of a bip: 3000 = 0.30%
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	PriceHistory []PricePoint    `json:"price_history,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// NormalizeNetwork returns the canonical form of a network name, so
// "Ethereum" and " ethereum" share one exposure bucket.
func NormalizeNetwork(network string) string {
	return strings.ToLower(strings.TrimSpace(network))
}

// PositionStatus is the lifecycle state of a liquidity position.
type PositionStatus string

const (
	StatusActive    PositionStatus = "ACTIVE"
	StatusAttention PositionStatus = "ATTENTION"
	StatusCritical  PositionStatus = "CRITICAL"
	StatusClosed    PositionStatus = "CLOSED"
)

// PositionSnapshot is an open or closed liquidity position. Network and
// PairCategory are copied from the pool so exposure can be summed without
// pool lookups.
type PositionSnapshot struct {
	ID           string          `json:"id" db:"id"`
	PoolID       string          `json:"pool_id" db:"pool_id"`
	Network      string          `json:"network" db:"network"`
	PairCategory PairCategory    `json:"pair_category" db:"pair_category"`
	Capital      decimal.Decimal `json:"capital" db:"capital"`
	Status       PositionStatus  `json:"status" db:"status"`
}

// IsActive reports whether the position still holds capital.
func (p PositionSnapshot) IsActive() bool {
	return p.Status != StatusClosed
}

// RiskProfile selects how selective the opportunity filter is.
type RiskProfile string

const (
	ProfileDefensive  RiskProfile = "DEFENSIVE"
	ProfileNormal     RiskProfile = "NORMAL"
	ProfileAggressive RiskProfile = "AGGRESSIVE"
)

// Valid reports whether p is one of the known profiles.
func (p RiskProfile) Valid() bool {
	switch p {
	case ProfileDefensive, ProfileNormal, ProfileAggressive:
		return true
	}
	return false
}

// RiskSettings are the user's capital limits. Percentages are 0-100.
type RiskSettings struct {
	Bankroll             decimal.Decimal `json:"bankroll" db:"bankroll"`
	Profile              RiskProfile     `json:"profile" db:"profile"`
	MaxPercentPerPool    decimal.Decimal `json:"max_percent_per_pool" db:"max_percent_per_pool"`
	MaxPercentPerNetwork decimal.Decimal `json:"max_percent_per_network" db:"max_percent_per_network"`
	MaxPercentVolatile   decimal.Decimal `json:"max_percent_volatile" db:"max_percent_volatile"`
}

// RiskAssessment is the outcome of evaluating one proposed position.
// Invariant: Allowed implies AdjustedCapital is valid and positive and
// Errors is empty.
type RiskAssessment struct {
	Allowed         bool                `json:"allowed"`
	Warnings        []string            `json:"warnings"`
	Errors          []string            `json:"errors"`
	AdjustedCapital decimal.NullDecimal `json:"adjusted_capital"`
	Reason          string              `json:"reason,omitempty"`
}

// ConcentrationLevel is a qualitative portfolio concentration risk.
type ConcentrationLevel string

const (
	ConcentrationLow    ConcentrationLevel = "LOW"
	ConcentrationMedium ConcentrationLevel = "MEDIUM"
	ConcentrationHigh   ConcentrationLevel = "HIGH"
)

// Rank orders levels so escalation can be checked numerically.
func (l ConcentrationLevel) Rank() int {
	switch l {
	case ConcentrationMedium:
		return 1
	case ConcentrationHigh:
		return 2
	default:
		return 0
	}
}

// PortfolioRisk summarizes exposure across all active positions.
type PortfolioRisk struct {
	TotalExposure          decimal.Decimal                  `json:"total_exposure"`
	ExposureByNetwork      map[string]decimal.Decimal       `json:"exposure_by_network"`
	ExposureByPairCategory map[PairCategory]decimal.Decimal `json:"exposure_by_pair_category"`
	VolatileExposure       decimal.Decimal                  `json:"volatile_exposure"`
	ConcentrationRisk      ConcentrationLevel               `json:"concentration_risk"`
	Recommendations        []string                         `json:"recommendations"`
}

// Recommendation is an already-scored candidate opportunity produced
// upstream of the risk check.
type Recommendation struct {
	PoolID               string          `json:"pool_id"`
	Score                decimal.Decimal `json:"score"`
	Projected7dNetReturn decimal.Decimal `json:"projected_7d_net_return"`
}

// NoOpDecision tells the caller whether to open nothing this cycle.
type NoOpDecision struct {
	Abstain    bool   `json:"abstain"`
	Reason     string `json:"reason"`
	Qualifying int    `json:"qualifying"`
}

// DecisionType is the audit classification of a risk decision.
type DecisionType string

const (
	DecisionApproved DecisionType = "APPROVED"
	DecisionRejected DecisionType = "REJECTED"
	DecisionAdjusted DecisionType = "ADJUSTED"
)

// DecisionRecord is an immutable audit entry for one risk decision.
// Once created, these are never modified or deleted.
type DecisionRecord struct {
	ID              string              `json:"id" db:"id"`
	PoolID          string              `json:"pool_id" db:"pool_id"`
	Decision        DecisionType        `json:"decision" db:"decision"`
	OriginalCapital decimal.Decimal     `json:"original_capital" db:"original_capital"`
	FinalCapital    decimal.NullDecimal `json:"final_capital" db:"final_capital"`
	Reason          string              `json:"reason" db:"reason"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
}
