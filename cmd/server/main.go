package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lpwatch/risk-engine/internal/api"
	"github.com/lpwatch/risk-engine/internal/audit"
	"github.com/lpwatch/risk-engine/internal/backtest"
	"github.com/lpwatch/risk-engine/internal/config"
	"github.com/lpwatch/risk-engine/internal/journal"
	"github.com/lpwatch/risk-engine/internal/log"
	"github.com/lpwatch/risk-engine/internal/lpmath"
	"github.com/lpwatch/risk-engine/internal/metrics"
	"github.com/lpwatch/risk-engine/internal/model"
	"github.com/lpwatch/risk-engine/internal/risk"
	"github.com/lpwatch/risk-engine/internal/store"
	"github.com/lpwatch/risk-engine/internal/store/clickhouse"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging, cfg.App.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("risk-engine exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("risk-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize store ---
	var (
		st store.Store
		pg *store.PostgresStore
	)
	if cfg.Database.DSN != "" {
		pool, err := store.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, pool.Close)
		if cfg.Database.Migrate {
			if err := store.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		pg = store.NewPostgresStore(pool)
		st = pg
		logger.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { _ = rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			logger.Info("Redis cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
		}
	} else {
		logger.Warn("database.dsn not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Optional SQLite journal ---
	var jrnl *journal.SQLite
	if cfg.Journal.Path != "" {
		j, err := journal.NewSQLite(cfg.Journal.Path)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, func() {
			if err := j.Close(); err != nil {
				logger.Warn("close journal", zap.Error(err))
			}
		})
		jrnl = j
		logger.Info("SQLite journal enabled", zap.String("path", cfg.Journal.Path))
	}

	// --- Decision log sink ---
	var (
		sink        audit.Sink
		decisionLog api.DecisionLog
	)
	switch cfg.DecisionLog.Driver {
	case config.DriverPostgres:
		if pg == nil {
			return errors.New("decision_log.driver postgres needs a database")
		}
		sink, decisionLog = pg, pg
	case config.DriverSQLite:
		if jrnl == nil {
			return errors.New("decision_log.driver sqlite needs journal.path")
		}
		sink, decisionLog = jrnl, jrnl
	default:
		sink, decisionLog = st, st
	}

	recorder := audit.NewAsyncRecorder(sink, cfg.DecisionLog.BufferSize, cfg.DecisionLog.WriteTimeout, logger.Named("audit"))
	go recorder.Run(context.Background())

	// --- WebSocket hub ---
	hub := api.NewWSHub(logger.Named("ws"))
	go hub.Run(ctx)

	// --- Risk engine ---
	evaluator := risk.NewEvaluator(
		risk.WithRecorder(audit.Tee(recorder, hub)),
		risk.WithLogger(logger.Named("risk")),
	)
	estimator := lpmath.Estimator{}
	simulator := backtest.NewSimulator(estimator, estimator,
		backtest.WithLogger(logger.Named("backtest")),
		backtest.WithConcurrency(cfg.Risk.BacktestConcurrency),
	)

	opts := []api.Option{
		api.WithHub(hub),
		api.WithLogger(logger.Named("api")),
		api.WithDecisionLog(decisionLog),
		api.WithThresholds(risk.Thresholds{
			model.ProfileDefensive:  cfg.Risk.Thresholds.Defensive,
			model.ProfileNormal:     cfg.Risk.Thresholds.Normal,
			model.ProfileAggressive: cfg.Risk.Thresholds.Aggressive,
		}),
	}
	if jrnl != nil {
		opts = append(opts, api.WithBacktestJournal(jrnl))
	}

	// --- Optional ClickHouse price history ---
	if cfg.ClickHouse.DSN != "" {
		conn, err := clickhouse.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, func() { _ = conn.Close() })
		history := clickhouse.NewPriceHistoryStore(conn)
		if err := history.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, api.WithPriceHistory(history))
		logger.Info("ClickHouse price history enabled")
	}

	svc := api.NewService(st, evaluator, simulator, opts...)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"risk-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	svc.Mount(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("risk-engine listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown: stop HTTP first so no new decisions arrive, then
	// drain the decision log.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down risk-engine")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	recorder.Close()
	select {
	case <-recorder.Done():
	case <-shutdownCtx.Done():
		logger.Warn("decision log not fully drained before shutdown deadline")
	}
	return nil
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
