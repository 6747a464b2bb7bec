package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lpwatch/risk-engine/internal/metrics"
	"github.com/lpwatch/risk-engine/internal/model"
)

var (
	networkHighPct   = decimal.NewFromInt(40)
	networkMediumPct = decimal.NewFromInt(30)
	deployedPct      = decimal.NewFromInt(80)
)

// AggregatePortfolio sums active exposure by network and pair category and
// rates concentration. The level only ever escalates, in this order:
//
//   - any network above 40% of bankroll: HIGH
//   - any network above 30% of bankroll: MEDIUM
//   - total above 80% of bankroll: MEDIUM
//   - volatile exposure above the volatile cap: HIGH
//
// Networks are checked in the order they first appear among the positions,
// so recommendations come out in a stable order.
func AggregatePortfolio(rc RiskContext) (model.PortfolioRisk, error) {
	if rc.Settings == nil {
		return model.PortfolioRisk{}, ErrNoSettings
	}
	settings := rc.Settings

	pr := model.PortfolioRisk{
		TotalExposure:          decimal.Zero,
		ExposureByNetwork:      make(map[string]decimal.Decimal),
		ExposureByPairCategory: make(map[model.PairCategory]decimal.Decimal),
		VolatileExposure:       decimal.Zero,
		ConcentrationRisk:      model.ConcentrationLow,
		Recommendations:        []string{},
	}

	var networkOrder []string
	for _, p := range rc.Positions {
		if !p.IsActive() {
			continue
		}
		network := model.NormalizeNetwork(p.Network)
		if _, seen := pr.ExposureByNetwork[network]; !seen {
			networkOrder = append(networkOrder, network)
		}
		pr.ExposureByNetwork[network] = pr.ExposureByNetwork[network].Add(p.Capital)
		pr.ExposureByPairCategory[p.PairCategory] = pr.ExposureByPairCategory[p.PairCategory].Add(p.Capital)
		pr.TotalExposure = pr.TotalExposure.Add(p.Capital)
		if p.PairCategory.IsVolatile() {
			pr.VolatileExposure = pr.VolatileExposure.Add(p.Capital)
		}
	}

	escalate := func(to model.ConcentrationLevel) {
		if to.Rank() > pr.ConcentrationRisk.Rank() {
			pr.ConcentrationRisk = to
		}
	}
	note := func(format string, args ...any) {
		pr.Recommendations = append(pr.Recommendations, fmt.Sprintf(format, args...))
	}

	highLimit := percentOf(settings.Bankroll, networkHighPct)
	mediumLimit := percentOf(settings.Bankroll, networkMediumPct)
	for _, network := range networkOrder {
		exposure := pr.ExposureByNetwork[network]
		switch {
		case exposure.GreaterThan(highLimit):
			escalate(model.ConcentrationHigh)
			note("network %s holds %s, over 40%% of bankroll: reduce exposure on this network",
				network, usd(exposure))
		case exposure.GreaterThan(mediumLimit):
			escalate(model.ConcentrationMedium)
			note("network %s holds %s, over 30%% of bankroll: consider spreading across networks",
				network, usd(exposure))
		}
	}

	if pr.TotalExposure.GreaterThan(percentOf(settings.Bankroll, deployedPct)) {
		escalate(model.ConcentrationMedium)
		note("%s deployed, over 80%% of bankroll: keep a reserve for new opportunities and gas",
			usd(pr.TotalExposure))
	}

	if len(pr.ExposureByPairCategory) == 1 && !pr.TotalExposure.IsZero() {
		for c := range pr.ExposureByPairCategory {
			note("all exposure is in %s pools: diversify across pair categories", c)
		}
	}

	volatileCap := percentOf(settings.Bankroll, settings.MaxPercentVolatile)
	if pr.VolatileExposure.GreaterThan(volatileCap) {
		escalate(model.ConcentrationHigh)
		note("volatile pair exposure %s exceeds the %s cap: reduce altcoin positions",
			usd(pr.VolatileExposure), usd(volatileCap))
	}

	metrics.ConcentrationLevel.Set(float64(pr.ConcentrationRisk.Rank()))
	return pr, nil
}
