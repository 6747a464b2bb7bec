// Package risk decides whether proposed liquidity positions fit within the
// user's capital limits and summarizes portfolio-wide exposure.
//
// Every operation takes a RiskContext assembled once by the caller, so a
// single decision never sees settings and positions from different reads.
// All monetary values use shopspring/decimal.
package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lpwatch/risk-engine/internal/model"
)

var (
	// ErrNoSettings is returned by every operation that needs risk settings
	// when none are configured.
	ErrNoSettings = errors.New("risk: no risk settings configured")

	// ErrUnknownProfile is returned when no score threshold exists for the
	// configured profile.
	ErrUnknownProfile = errors.New("risk: unknown risk profile")
)

// Thresholds maps a risk profile to the minimum opportunity score it accepts.
type Thresholds map[model.RiskProfile]decimal.Decimal

// DefaultThresholds returns the standard profile score floors.
func DefaultThresholds() Thresholds {
	return Thresholds{
		model.ProfileDefensive:  decimal.NewFromInt(75),
		model.ProfileNormal:     decimal.NewFromInt(60),
		model.ProfileAggressive: decimal.NewFromInt(45),
	}
}

// For returns the threshold for p, falling back to the defaults for
// profiles the map does not override.
func (t Thresholds) For(p model.RiskProfile) (decimal.Decimal, bool) {
	if v, ok := t[p]; ok {
		return v, true
	}
	v, ok := DefaultThresholds()[p]
	return v, ok
}

// RiskContext is an immutable snapshot of everything a risk decision reads.
// Settings is nil when the user has not configured limits.
type RiskContext struct {
	Settings   *model.RiskSettings
	Positions  []model.PositionSnapshot
	Thresholds Thresholds
}

// ContextSource supplies the inputs of a RiskContext. GetSettings returns
// nil settings and no error when none are configured.
type ContextSource interface {
	GetSettings(ctx context.Context) (*model.RiskSettings, error)
	GetActivePositions(ctx context.Context) ([]model.PositionSnapshot, error)
}

// LoadContext reads settings and active positions once and freezes them
// into a RiskContext.
func LoadContext(ctx context.Context, src ContextSource, thresholds Thresholds) (RiskContext, error) {
	var (
		settings  *model.RiskSettings
		positions []model.PositionSnapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := src.GetSettings(gctx)
		if err != nil {
			return fmt.Errorf("load risk settings: %w", err)
		}
		settings = s
		return nil
	})
	g.Go(func() error {
		p, err := src.GetActivePositions(gctx)
		if err != nil {
			return fmt.Errorf("load active positions: %w", err)
		}
		positions = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return RiskContext{}, err
	}

	return NewContext(settings, positions, thresholds), nil
}

// NewContext builds a RiskContext from values already in hand. Settings
// and positions are copied; closed positions are dropped.
func NewContext(settings *model.RiskSettings, positions []model.PositionSnapshot, thresholds Thresholds) RiskContext {
	rc := RiskContext{Thresholds: thresholds}
	if settings != nil {
		s := *settings
		rc.Settings = &s
	}
	rc.Positions = make([]model.PositionSnapshot, 0, len(positions))
	for _, p := range positions {
		if p.IsActive() {
			rc.Positions = append(rc.Positions, p)
		}
	}
	return rc
}
