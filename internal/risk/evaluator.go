package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lpwatch/risk-engine/internal/metrics"
	"github.com/lpwatch/risk-engine/internal/model"
)

const (
	// GasNetworkEthereum is the only network priced at mainnet gas.
	GasNetworkEthereum = "ethereum"

	msgNoSettings = "no settings"
)

var (
	// MinTVL is the pool TVL below which slippage is flagged.
	MinTVL = decimal.NewFromInt(100_000)

	// MinPositionCapital is the smallest position the evaluator allows.
	MinPositionCapital = decimal.NewFromInt(50)

	gasEthereum   = decimal.NewFromInt(50)
	gasOther      = decimal.NewFromInt(2)
	gasMultiplier = decimal.NewFromInt(10)
)

// DecisionRecorder receives an audit record for every evaluation.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, rec model.DecisionRecord) error
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithRecorder sets the audit sink. Without one, decisions are not recorded.
func WithRecorder(r DecisionRecorder) EvaluatorOption {
	return func(e *Evaluator) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source for record timestamps.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// WithIDGenerator overrides how record IDs are minted.
func WithIDGenerator(newID func() string) EvaluatorOption {
	return func(e *Evaluator) { e.newID = newID }
}

// Evaluator checks proposed positions against the user's capital limits.
type Evaluator struct {
	recorder DecisionRecorder
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether capital may be deployed into pool and how much.
// Each check can only narrow the working capital:
//
//  1. per-pool cap (clamp + warning)
//  2. per-network cap (clamp + warning, or error if already full)
//  3. volatile-category cap for altcoin-stable/other pools (same)
//  4. low TVL (warning)
//  5. minimum position size (error)
//  6. gas cost relative to capital (warning)
//
// With no settings the assessment is disallowed and ErrNoSettings is
// returned alongside it. Every outcome is handed to the recorder; recorder
// failures are logged and never change the result.
func (e *Evaluator) Evaluate(ctx context.Context, rc RiskContext, pool model.PoolSnapshot, capital decimal.Decimal) (model.RiskAssessment, error) {
	if rc.Settings == nil {
		a := model.RiskAssessment{
			Allowed:  false,
			Warnings: []string{},
			Errors:   []string{msgNoSettings},
			Reason:   msgNoSettings,
		}
		e.finish(ctx, pool.ID, capital, a)
		return a, ErrNoSettings
	}

	a := Assess(*rc.Settings, rc.Positions, pool, capital)
	e.finish(ctx, pool.ID, capital, a)
	return a, nil
}

// Assess is the pure decision behind Evaluate.
func Assess(settings model.RiskSettings, positions []model.PositionSnapshot, pool model.PoolSnapshot, capital decimal.Decimal) model.RiskAssessment {
	warnings := []string{}
	errs := []string{}
	working := capital

	// 1. Per-pool cap.
	poolCap := percentOf(settings.Bankroll, settings.MaxPercentPerPool)
	if working.GreaterThan(poolCap) {
		warnings = append(warnings, fmt.Sprintf(
			"capital reduced from %s to %s: per-pool limit is %s%% of bankroll",
			usd(working), usd(poolCap), settings.MaxPercentPerPool))
		working = poolCap
	}

	// 2. Per-network cap.
	networkCap := percentOf(settings.Bankroll, settings.MaxPercentPerNetwork)
	network := model.NormalizeNetwork(pool.Network)
	networkExposure := exposureWhere(positions, func(p model.PositionSnapshot) bool {
		return model.NormalizeNetwork(p.Network) == network
	})
	switch r := fitUnderCap(networkCap, networkExposure, working); {
	case r.exhausted:
		errs = append(errs, fmt.Sprintf(
			"network %s limit reached: %s already allocated of %s cap",
			pool.Network, usd(networkExposure), usd(networkCap)))
	case r.clamped:
		warnings = append(warnings, fmt.Sprintf(
			"capital reduced to %s: network %s has %s allocated of %s cap",
			usd(r.capital), pool.Network, usd(networkExposure), usd(networkCap)))
		working = r.capital
	}

	// 3. Volatile-category cap.
	if pool.PairCategory.IsVolatile() {
		volatileCap := percentOf(settings.Bankroll, settings.MaxPercentVolatile)
		volatileExposure := exposureWhere(positions, func(p model.PositionSnapshot) bool {
			return p.PairCategory.IsVolatile()
		})
		switch r := fitUnderCap(volatileCap, volatileExposure, working); {
		case r.exhausted:
			errs = append(errs, fmt.Sprintf(
				"volatile pair limit reached: %s already allocated of %s cap",
				usd(volatileExposure), usd(volatileCap)))
		case r.clamped:
			warnings = append(warnings, fmt.Sprintf(
				"capital reduced to %s: volatile pairs have %s allocated of %s cap",
				usd(r.capital), usd(volatileExposure), usd(volatileCap)))
			working = r.capital
		}
	}

	// 4. Liquidity.
	if pool.TVL.LessThan(MinTVL) {
		warnings = append(warnings, fmt.Sprintf(
			"pool TVL %s is below %s: high slippage risk", usd(pool.TVL), usd(MinTVL)))
	}

	// 5. Minimum size.
	if working.LessThan(MinPositionCapital) {
		errs = append(errs, fmt.Sprintf(
			"capital %s is below the %s minimum position size", usd(working), usd(MinPositionCapital)))
	}

	// 6. Gas.
	gas := EstimatedGas(pool.Network)
	if working.LessThan(gas.Mul(gasMultiplier)) {
		warnings = append(warnings, fmt.Sprintf(
			"estimated gas %s is more than 10%% of position capital %s", usd(gas), usd(working)))
	}

	a := model.RiskAssessment{Warnings: warnings, Errors: errs}
	if len(errs) == 0 && working.GreaterThan(decimal.Zero) {
		a.Allowed = true
		a.AdjustedCapital = decimal.NewNullDecimal(working)
		if working.Equal(capital) {
			a.Reason = fmt.Sprintf("approved: allocate %s", usd(working))
		} else {
			a.Reason = fmt.Sprintf("approved with adjustment: allocate %s of requested %s", usd(working), usd(capital))
		}
		return a
	}

	a.Reason = strings.Join(errs, "; ")
	return a
}

// EstimatedGas returns the assumed cost of opening a position on network.
func EstimatedGas(network string) decimal.Decimal {
	if model.NormalizeNetwork(network) == GasNetworkEthereum {
		return gasEthereum
	}
	return gasOther
}

// DecisionFor classifies an assessment for the audit log.
func DecisionFor(a model.RiskAssessment, requested decimal.Decimal) model.DecisionType {
	switch {
	case !a.Allowed:
		return model.DecisionRejected
	case a.AdjustedCapital.Decimal.Equal(requested):
		return model.DecisionApproved
	default:
		return model.DecisionAdjusted
	}
}

func (e *Evaluator) finish(ctx context.Context, poolID string, requested decimal.Decimal, a model.RiskAssessment) {
	decision := DecisionFor(a, requested)
	metrics.RiskDecisionsTotal.WithLabelValues(string(decision)).Inc()
	metrics.RiskWarningsTotal.Add(float64(len(a.Warnings)))

	if e.recorder == nil {
		return
	}

	rec := model.DecisionRecord{
		ID:              e.newID(),
		PoolID:          poolID,
		Decision:        decision,
		OriginalCapital: requested,
		FinalCapital:    a.AdjustedCapital,
		Reason:          a.Reason,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.recorder.RecordDecision(ctx, rec); err != nil {
		metrics.DecisionLogFailures.Inc()
		e.logger.Warn("record risk decision",
			zap.String("pool_id", poolID),
			zap.String("decision", string(decision)),
			zap.Error(err),
		)
	}
}
