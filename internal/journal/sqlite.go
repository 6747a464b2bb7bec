// Package journal keeps a local SQLite record of risk decisions and
// backtest runs for deployments without Postgres.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/lpwatch/risk-engine/internal/model"
	"github.com/lpwatch/risk-engine/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id               TEXT PRIMARY KEY,
	pool_id          TEXT NOT NULL,
	decision         TEXT NOT NULL,
	original_capital TEXT NOT NULL,
	final_capital    TEXT,
	reason           TEXT NOT NULL,
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_pool ON decisions (pool_id, created_at);

CREATE TABLE IF NOT EXISTS backtests (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	pool_id     TEXT NOT NULL,
	range_lower TEXT NOT NULL,
	range_upper TEXT NOT NULL,
	range_type  TEXT NOT NULL,
	period_days INTEGER NOT NULL,
	method      TEXT NOT NULL,
	start_time  INTEGER NOT NULL,
	end_time    INTEGER NOT NULL,
	metrics     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtests_pool ON backtests (pool_id);
`

// SQLite is a decision and backtest journal backed by a single file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the journal at path. Use ":memory:"
// for a throwaway journal.
func NewSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// InsertDecision appends a decision record. Reusing an ID yields
// store.ErrDuplicateKey.
func (j *SQLite) InsertDecision(ctx context.Context, rec *model.DecisionRecord) error {
	var final sql.NullString
	if rec.FinalCapital.Valid {
		final = sql.NullString{String: rec.FinalCapital.Decimal.String(), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO decisions
		(id, pool_id, decision, original_capital, final_capital, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PoolID, string(rec.Decision), rec.OriginalCapital.String(),
		final, rec.Reason, rec.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("decision %s: %w", rec.ID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ListDecisions returns records newest first. An empty poolID lists all.
func (j *SQLite) ListDecisions(ctx context.Context, poolID string) ([]model.DecisionRecord, error) {
	query := `SELECT id, pool_id, decision, original_capital, final_capital, reason, created_at
		FROM decisions`
	var args []any
	if poolID != "" {
		query += ` WHERE pool_id = ?`
		args = append(args, poolID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	result := make([]model.DecisionRecord, 0)
	for rows.Next() {
		var (
			rec      model.DecisionRecord
			decision string
			original string
			final    sql.NullString
			created  int64
		)
		if err := rows.Scan(&rec.ID, &rec.PoolID, &decision, &original, &final, &rec.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.Decision = model.DecisionType(decision)
		if rec.OriginalCapital, err = decimal.NewFromString(original); err != nil {
			return nil, fmt.Errorf("decision %s original_capital: %w", rec.ID, err)
		}
		if final.Valid {
			v, err := decimal.NewFromString(final.String)
			if err != nil {
				return nil, fmt.Errorf("decision %s final_capital: %w", rec.ID, err)
			}
			rec.FinalCapital = decimal.NewNullDecimal(v)
		}
		rec.CreatedAt = time.Unix(0, created).UTC()
		result = append(result, rec)
	}
	return result, rows.Err()
}

// RecordBacktest stores the summary of a backtest run. Daily data is not
// kept.
func (j *SQLite) RecordBacktest(ctx context.Context, r model.BacktestResult) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("encode backtest metrics: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO backtests
		(pool_id, range_lower, range_upper, range_type, period_days, method, start_time, end_time, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PoolID, r.RangeLower.String(), r.RangeUpper.String(), string(r.RangeType),
		r.PeriodDays, string(r.Method), r.StartTime.UTC().Unix(), r.EndTime.UTC().Unix(), string(metrics),
	)
	if err != nil {
		return fmt.Errorf("insert backtest: %w", err)
	}
	return nil
}

// ListBacktests returns stored runs for a pool in insertion order.
func (j *SQLite) ListBacktests(ctx context.Context, poolID string) ([]model.BacktestResult, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT pool_id, range_lower, range_upper, range_type, period_days, method, start_time, end_time, metrics
		FROM backtests WHERE pool_id = ? ORDER BY seq`, poolID)
	if err != nil {
		return nil, fmt.Errorf("list backtests: %w", err)
	}
	defer rows.Close()

	result := make([]model.BacktestResult, 0)
	for rows.Next() {
		var (
			r            model.BacktestResult
			lower, upper string
			rangeType    string
			method       string
			start, end   int64
			metrics      string
		)
		if err := rows.Scan(&r.PoolID, &lower, &upper, &rangeType, &r.PeriodDays, &method, &start, &end, &metrics); err != nil {
			return nil, fmt.Errorf("scan backtest: %w", err)
		}
		if r.RangeLower, err = decimal.NewFromString(lower); err != nil {
			return nil, fmt.Errorf("backtest range_lower: %w", err)
		}
		if r.RangeUpper, err = decimal.NewFromString(upper); err != nil {
			return nil, fmt.Errorf("backtest range_upper: %w", err)
		}
		if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
			return nil, fmt.Errorf("decode backtest metrics: %w", err)
		}
		r.RangeType = model.RangeType(rangeType)
		r.Method = model.BacktestMethod(method)
		r.StartTime = time.Unix(start, 0).UTC()
		r.EndTime = time.Unix(end, 0).UTC()
		result = append(result, r)
	}
	return result, rows.Err()
}

func (j *SQLite) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", path, err)
	}
	return nil
}
