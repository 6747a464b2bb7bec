package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lpwatch/risk-engine/internal/metrics"
	"github.com/lpwatch/risk-engine/internal/model"
)

// AdviseNoOp tells the caller whether to open nothing this cycle. It
// abstains when no candidate reaches the profile's minimum score, or when
// every qualifying candidate projects a non-positive 7-day net return.
func AdviseNoOp(candidates []model.Recommendation, rc RiskContext) (model.NoOpDecision, error) {
	if rc.Settings == nil {
		return model.NoOpDecision{}, ErrNoSettings
	}
	profile := rc.Settings.Profile
	threshold, ok := rc.Thresholds.For(profile)
	if !ok {
		return model.NoOpDecision{}, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}

	qualifying := 0
	positive := 0
	for _, c := range candidates {
		if c.Score.LessThan(threshold) {
			continue
		}
		qualifying++
		if c.Projected7dNetReturn.GreaterThan(decimal.Zero) {
			positive++
		}
	}

	switch {
	case qualifying == 0:
		metrics.NoOpAbstentions.Inc()
		return model.NoOpDecision{
			Abstain: true,
			Reason:  fmt.Sprintf("no opportunity meets minimum score %s for %s profile", threshold, profile),
		}, nil
	case positive == 0:
		metrics.NoOpAbstentions.Inc()
		return model.NoOpDecision{
			Abstain:    true,
			Reason:     fmt.Sprintf("unfavorable market conditions: none of %d qualifying opportunities projects a positive 7-day net return", qualifying),
			Qualifying: qualifying,
		}, nil
	default:
		return model.NoOpDecision{Abstain: false, Reason: "", Qualifying: qualifying}, nil
	}
}
