// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RiskDecisionsTotal counts evaluator outcomes, partitioned by decision.
	RiskDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lprisk_risk_decisions_total",
		Help: "Total number of position risk decisions",
	}, []string{"decision"})

	// RiskWarningsTotal counts warnings attached to assessments.
	RiskWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lprisk_risk_warnings_total",
		Help: "Warnings attached to risk assessments",
	})

	// ConcentrationLevel records the last computed portfolio concentration
	// (0 = LOW, 1 = MEDIUM, 2 = HIGH).
	ConcentrationLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lprisk_portfolio_concentration_level",
		Help: "Last computed portfolio concentration risk level",
	})

	// NoOpAbstentions counts cycles where the advisor recommended doing nothing.
	NoOpAbstentions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lprisk_noop_abstentions_total",
		Help: "Cycles where no opportunity qualified",
	})

	// BacktestsTotal counts backtest runs by method.
	BacktestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lprisk_backtests_total",
		Help: "Total number of backtests run",
	}, []string{"method"})

	// BacktestDuration tracks backtest run time.
	BacktestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lprisk_backtest_duration_seconds",
		Help:    "Backtest run duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// DecisionLogWrites counts decision records persisted by sink.
	DecisionLogWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lprisk_decision_log_writes_total",
		Help: "Decision records written to the audit sink",
	}, []string{"status"})

	// DecisionLogDropped counts decision records dropped because the buffer was full.
	DecisionLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lprisk_decision_log_dropped_total",
		Help: "Decision records dropped by a full audit buffer",
	})

	// DecisionLogFailures counts recorder errors seen by the evaluator.
	DecisionLogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lprisk_decision_log_failures_total",
		Help: "Decision recorder failures",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lprisk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// CacheLookups counts read-through cache hits and misses.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lprisk_cache_lookups_total",
		Help: "Read-through cache lookups",
	}, []string{"entity", "result"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lprisk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lprisk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
