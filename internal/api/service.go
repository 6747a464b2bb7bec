// Package api exposes the risk evaluator, portfolio aggregator, no-op
// advisor and backtester over HTTP.
//
// All monetary values use shopspring/decimal and travel as JSON strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lpwatch/risk-engine/internal/backtest"
	"github.com/lpwatch/risk-engine/internal/model"
	"github.com/lpwatch/risk-engine/internal/risk"
	"github.com/lpwatch/risk-engine/internal/store"
)

const secondsPerDay = 86400

// PriceHistory is an external source of pool price observations, merged
// into stored snapshots before a backtest.
type PriceHistory interface {
	GetSince(ctx context.Context, poolID string, since int64) ([]model.PricePoint, error)
	InsertBulk(ctx context.Context, poolID string, points []model.PricePoint) error
}

// BacktestJournal keeps a record of completed backtests.
type BacktestJournal interface {
	RecordBacktest(ctx context.Context, r model.BacktestResult) error
}

// DecisionLog lists recorded risk decisions, newest first.
type DecisionLog interface {
	ListDecisions(ctx context.Context, poolID string) ([]model.DecisionRecord, error)
}

// Option configures a Service.
type Option func(*Service)

// WithPriceHistory merges an external price history into backtests and
// mirrors pool history writes to it.
func WithPriceHistory(h PriceHistory) Option {
	return func(s *Service) { s.history = h }
}

// WithBacktestJournal records every successful backtest.
func WithBacktestJournal(j BacktestJournal) Option {
	return func(s *Service) { s.journal = j }
}

// WithDecisionLog reads decisions from log instead of the store, for
// deployments that write them elsewhere.
func WithDecisionLog(log DecisionLog) Option {
	return func(s *Service) { s.decisions = log }
}

// WithHub broadcasts pool, settings and backtest events.
func WithHub(h *WSHub) Option {
	return func(s *Service) { s.hub = h }
}

// WithThresholds overrides the no-op advisor score thresholds.
func WithThresholds(t risk.Thresholds) Option {
	return func(s *Service) { s.thresholds = t }
}

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source used for pool timestamps and history
// windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service handles risk and backtest requests.
type Service struct {
	store      store.Store
	evaluator  *risk.Evaluator
	simulator  *backtest.Simulator
	thresholds risk.Thresholds
	history    PriceHistory
	journal    BacktestJournal
	decisions  DecisionLog
	hub        *WSHub
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a new API service.
func NewService(st store.Store, ev *risk.Evaluator, sim *backtest.Simulator, opts ...Option) *Service {
	s := &Service{
		store:      st,
		evaluator:  ev,
		simulator:  sim,
		thresholds: risk.DefaultThresholds(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.decisions == nil {
		s.decisions = st
	}
	return s
}

// Mount registers the service's routes under /api/v1.
func (s *Service) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Post("/risk/evaluate", s.EvaluateRisk)
		r.Get("/risk/portfolio", s.GetPortfolioRisk)
		r.Post("/risk/noop", s.AdviseNoOp)
		r.Get("/risk/settings", s.GetSettings)
		r.Put("/risk/settings", s.PutSettings)

		r.Get("/positions", s.ListPositions)
		r.Put("/positions/{positionID}", s.PutPosition)

		r.Get("/pools/{poolID}", s.GetPool)
		r.Put("/pools/{poolID}", s.PutPool)

		r.Post("/backtests", s.RunBacktest)
		r.Post("/backtests/compare", s.CompareBacktests)

		r.Get("/decisions", s.ListDecisions)
	})
}

// --- Request types ---

// EvaluateRequest is the JSON body for POST /risk/evaluate. Either PoolID
// names a stored pool or Pool carries the snapshot inline.
type EvaluateRequest struct {
	PoolID  string              `json:"pool_id"`
	Pool    *model.PoolSnapshot `json:"pool,omitempty"`
	Capital decimal.Decimal     `json:"capital"`
}

// NoOpRequest is the JSON body for POST /risk/noop.
type NoOpRequest struct {
	Candidates []model.Recommendation `json:"candidates"`
}

// BacktestRequest is the JSON body for POST /backtests.
type BacktestRequest struct {
	PoolID     string              `json:"pool_id"`
	Pool       *model.PoolSnapshot `json:"pool,omitempty"`
	RangeLower decimal.Decimal     `json:"range_lower"`
	RangeUpper decimal.Decimal     `json:"range_upper"`
	Capital    decimal.Decimal     `json:"capital"`
	PeriodDays int                 `json:"period_days"`
}

// PriceRange is one candidate range in a comparison.
type PriceRange struct {
	Lower decimal.Decimal `json:"lower"`
	Upper decimal.Decimal `json:"upper"`
}

// CompareRequest is the JSON body for POST /backtests/compare. Every range
// is backtested against the same pool, capital and period.
type CompareRequest struct {
	PoolID     string              `json:"pool_id"`
	Pool       *model.PoolSnapshot `json:"pool,omitempty"`
	Capital    decimal.Decimal     `json:"capital"`
	PeriodDays int                 `json:"period_days"`
	Ranges     []PriceRange        `json:"ranges"`
}

// --- Risk handlers ---

// EvaluateRisk handles POST /api/v1/risk/evaluate. A missing settings row
// still yields a (rejected) assessment, so it is answered with 200.
func (s *Service) EvaluateRisk(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	pool, status, err := s.resolvePool(ctx, req.PoolID, req.Pool)
	if err != nil {
		writeError(w, err.Error(), status)
		return
	}

	rc, err := risk.LoadContext(ctx, s.store, s.thresholds)
	if err != nil {
		s.logger.Error("load risk context", zap.Error(err))
		writeError(w, "failed to load risk context", http.StatusInternalServerError)
		return
	}

	assessment, err := s.evaluator.Evaluate(ctx, rc, pool, req.Capital)
	if err != nil && !errors.Is(err, risk.ErrNoSettings) {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// GetPortfolioRisk handles GET /api/v1/risk/portfolio.
func (s *Service) GetPortfolioRisk(w http.ResponseWriter, r *http.Request) {
	rc, err := risk.LoadContext(r.Context(), s.store, s.thresholds)
	if err != nil {
		s.logger.Error("load risk context", zap.Error(err))
		writeError(w, "failed to load risk context", http.StatusInternalServerError)
		return
	}

	pr, err := risk.AggregatePortfolio(rc)
	if err != nil {
		writeRiskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// AdviseNoOp handles POST /api/v1/risk/noop.
func (s *Service) AdviseNoOp(w http.ResponseWriter, r *http.Request) {
	var req NoOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rc, err := risk.LoadContext(r.Context(), s.store, s.thresholds)
	if err != nil {
		s.logger.Error("load risk context", zap.Error(err))
		writeError(w, "failed to load risk context", http.StatusInternalServerError)
		return
	}

	decision, err := risk.AdviseNoOp(req.Candidates, rc)
	if err != nil {
		writeRiskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// GetSettings handles GET /api/v1/risk/settings.
func (s *Service) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	if settings == nil {
		writeError(w, "no settings", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// PutSettings handles PUT /api/v1/risk/settings.
func (s *Service) PutSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.RiskSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := validateSettings(settings); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	if err := s.store.SaveSettings(r.Context(), &settings); err != nil {
		s.logger.Error("save settings", zap.Error(err))
		writeError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	s.logger.Info("risk settings updated",
		zap.String("profile", string(settings.Profile)),
		zap.String("bankroll", settings.Bankroll.String()),
	)
	s.broadcast(Event{Type: EventSettingsUpdated})
	writeJSON(w, http.StatusOK, settings)
}

var hundred = decimal.NewFromInt(100)

func validateSettings(rs model.RiskSettings) string {
	if !rs.Bankroll.IsPositive() {
		return "bankroll must be positive"
	}
	if !rs.Profile.Valid() {
		return "profile must be DEFENSIVE, NORMAL or AGGRESSIVE"
	}
	for _, pct := range []decimal.Decimal{rs.MaxPercentPerPool, rs.MaxPercentPerNetwork, rs.MaxPercentVolatile} {
		if !pct.IsPositive() || pct.GreaterThan(hundred) {
			return "limit percentages must be within (0, 100]"
		}
	}
	return ""
}

// --- Position handlers ---

// ListPositions handles GET /api/v1/positions.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.GetActivePositions(r.Context())
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.PositionSnapshot{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// PutPosition handles PUT /api/v1/positions/{positionID}.
func (s *Service) PutPosition(w http.ResponseWriter, r *http.Request) {
	var p model.PositionSnapshot
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p.ID = chi.URLParam(r, "positionID")
	p.Network = model.NormalizeNetwork(p.Network)

	switch {
	case p.PoolID == "" || p.Network == "":
		writeError(w, "pool_id and network are required", http.StatusBadRequest)
		return
	case !p.PairCategory.Valid():
		writeError(w, "unknown pair_category", http.StatusBadRequest)
		return
	case p.Capital.IsNegative():
		writeError(w, "capital must not be negative", http.StatusBadRequest)
		return
	}
	if p.Status == "" {
		p.Status = model.StatusActive
	}

	if err := s.store.UpsertPosition(r.Context(), &p); err != nil {
		s.logger.Error("upsert position", zap.String("id", p.ID), zap.Error(err))
		writeError(w, "failed to save position", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Pool handlers ---

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.store.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "pool not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load pool", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// PutPool handles PUT /api/v1/pools/{poolID}. The snapshot replaces any
// stored one, price history included.
func (s *Service) PutPool(w http.ResponseWriter, r *http.Request) {
	var pool model.PoolSnapshot
	if err := json.NewDecoder(r.Body).Decode(&pool); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	pool.ID = chi.URLParam(r, "poolID")
	pool.Network = model.NormalizeNetwork(pool.Network)

	switch {
	case pool.Network == "":
		writeError(w, "network is required", http.StatusBadRequest)
		return
	case !pool.PairCategory.Valid():
		writeError(w, "unknown pair_category", http.StatusBadRequest)
		return
	case pool.FeeTier < 0:
		writeError(w, "fee_tier must not be negative", http.StatusBadRequest)
		return
	}
	pool.UpdatedAt = s.now().UTC()
	sort.SliceStable(pool.PriceHistory, func(i, j int) bool {
		return pool.PriceHistory[i].Timestamp < pool.PriceHistory[j].Timestamp
	})

	ctx := r.Context()
	if err := s.store.UpsertPool(ctx, &pool); err != nil {
		s.logger.Error("upsert pool", zap.String("id", pool.ID), zap.Error(err))
		writeError(w, "failed to save pool", http.StatusInternalServerError)
		return
	}
	if s.history != nil && len(pool.PriceHistory) > 0 {
		if err := s.history.InsertBulk(ctx, pool.ID, pool.PriceHistory); err != nil {
			s.logger.Warn("mirror price history", zap.String("pool_id", pool.ID), zap.Error(err))
		}
	}

	s.logger.Info("pool updated",
		zap.String("id", pool.ID),
		zap.String("network", pool.Network),
		zap.Int("history_points", len(pool.PriceHistory)),
	)
	s.broadcast(Event{Type: EventPoolUpdated, PoolID: pool.ID})
	writeJSON(w, http.StatusOK, pool)
}

// --- Backtest handlers ---

// RunBacktest handles POST /api/v1/backtests.
func (s *Service) RunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	pool, status, err := s.resolvePool(ctx, req.PoolID, req.Pool)
	if err != nil {
		writeError(w, err.Error(), status)
		return
	}
	pool = s.withHistory(ctx, pool, req.PeriodDays)

	result, err := s.runOne(ctx, model.BacktestRequest{
		Pool:       pool,
		RangeLower: req.RangeLower,
		RangeUpper: req.RangeUpper,
		Capital:    req.Capital,
		PeriodDays: req.PeriodDays,
	})
	if err != nil {
		writeBacktestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CompareBacktests handles POST /api/v1/backtests/compare.
func (s *Service) CompareBacktests(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Ranges) == 0 {
		writeError(w, "at least one range is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	pool, status, err := s.resolvePool(ctx, req.PoolID, req.Pool)
	if err != nil {
		writeError(w, err.Error(), status)
		return
	}
	pool = s.withHistory(ctx, pool, req.PeriodDays)

	results := make([]model.BacktestResult, 0, len(req.Ranges))
	for _, rg := range req.Ranges {
		result, err := s.runOne(ctx, model.BacktestRequest{
			Pool:       pool,
			RangeLower: rg.Lower,
			RangeUpper: rg.Upper,
			Capital:    req.Capital,
			PeriodDays: req.PeriodDays,
		})
		if err != nil {
			writeBacktestError(w, err)
			return
		}
		results = append(results, result)
	}

	cmp, err := backtest.Compare(results)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Service) runOne(ctx context.Context, req model.BacktestRequest) (model.BacktestResult, error) {
	result, err := s.simulator.Run(ctx, req)
	if err != nil {
		return model.BacktestResult{}, err
	}

	if s.journal != nil {
		if err := s.journal.RecordBacktest(ctx, result); err != nil {
			s.logger.Warn("journal backtest", zap.String("pool_id", result.PoolID), zap.Error(err))
		}
	}
	s.broadcast(Event{
		Type:      EventBacktest,
		PoolID:    result.PoolID,
		RangeType: string(result.RangeType),
		Method:    string(result.Method),
		NetPnL:    result.Metrics.NetPnL.String(),
	})
	return result, nil
}

// --- Decision log ---

// ListDecisions handles GET /api/v1/decisions?pool_id=<id>
func (s *Service) ListDecisions(w http.ResponseWriter, r *http.Request) {
	records, err := s.decisions.ListDecisions(r.Context(), r.URL.Query().Get("pool_id"))
	if err != nil {
		writeError(w, "failed to list decisions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Helpers ---

type requestError string

func (e requestError) Error() string { return string(e) }

// resolvePool returns the inline snapshot when given, otherwise the stored
// pool. The returned status is meaningful only with a non-nil error.
func (s *Service) resolvePool(ctx context.Context, id string, inline *model.PoolSnapshot) (model.PoolSnapshot, int, error) {
	if inline != nil {
		if inline.ID == "" {
			inline.ID = id
		}
		return *inline, 0, nil
	}
	if id == "" {
		return model.PoolSnapshot{}, http.StatusBadRequest, requestError("pool_id or pool is required")
	}

	pool, err := s.store.GetPool(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.PoolSnapshot{}, http.StatusNotFound, requestError("pool not found")
		}
		s.logger.Error("load pool", zap.String("id", id), zap.Error(err))
		return model.PoolSnapshot{}, http.StatusInternalServerError, requestError("failed to load pool")
	}
	return *pool, 0, nil
}

// withHistory merges the external price history for the backtest window
// into the pool. Failures leave the pool untouched.
func (s *Service) withHistory(ctx context.Context, pool model.PoolSnapshot, periodDays int) model.PoolSnapshot {
	if s.history == nil || periodDays <= 0 {
		return pool
	}
	since := s.now().Unix() - int64(periodDays)*secondsPerDay
	points, err := s.history.GetSince(ctx, pool.ID, since)
	if err != nil {
		s.logger.Warn("load price history", zap.String("pool_id", pool.ID), zap.Error(err))
		return pool
	}
	pool.PriceHistory = MergeHistory(pool.PriceHistory, points)
	return pool
}

// MergeHistory unions two price series by timestamp. Points in extra win
// on conflicts. The result is sorted by timestamp.
func MergeHistory(base, extra []model.PricePoint) []model.PricePoint {
	if len(extra) == 0 {
		return base
	}
	byTS := make(map[int64]model.PricePoint, len(base)+len(extra))
	for _, p := range base {
		byTS[p.Timestamp] = p
	}
	for _, p := range extra {
		byTS[p.Timestamp] = p
	}

	merged := make([]model.PricePoint, 0, len(byTS))
	for _, p := range byTS {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}

func (s *Service) broadcast(ev Event) {
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

func writeRiskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, risk.ErrNoSettings):
		writeError(w, "no settings", http.StatusConflict)
	case errors.Is(err, risk.ErrUnknownProfile):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeBacktestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backtest.ErrInvalidPeriod), errors.Is(err, backtest.ErrInvalidRange):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, "backtest cancelled", http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
