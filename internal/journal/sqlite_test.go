package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpwatch/risk-engine/internal/model"
	"github.com/lpwatch/risk-engine/internal/store"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

func decision(id, pool string, at time.Time, final *decimal.Decimal) *model.DecisionRecord {
	rec := &model.DecisionRecord{
		ID:              id,
		PoolID:          pool,
		Decision:        model.DecisionRejected,
		OriginalCapital: decimal.RequireFromString("1500.25"),
		Reason:          "minimum position size is $50.00",
		CreatedAt:       at,
	}
	if final != nil {
		rec.Decision = model.DecisionAdjusted
		rec.FinalCapital = decimal.NewNullDecimal(*final)
	}
	return rec
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('decisions','backtests')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["decisions"])
	assert.True(t, found["backtests"])
}

func TestSQLiteDecisions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adjusted := decimal.RequireFromString("1000.12345678")

	require.NoError(t, j.InsertDecision(ctx, decision("d1", "pool-a", base, nil)))
	require.NoError(t, j.InsertDecision(ctx, decision("d2", "pool-b", base.Add(time.Minute), nil)))
	require.NoError(t, j.InsertDecision(ctx, decision("d3", "pool-a", base.Add(2*time.Minute), &adjusted)))

	got, err := j.ListDecisions(ctx, "pool-a")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "d3", got[0].ID)
	assert.Equal(t, model.DecisionAdjusted, got[0].Decision)
	require.True(t, got[0].FinalCapital.Valid)
	assert.True(t, got[0].FinalCapital.Decimal.Equal(adjusted))
	assert.True(t, got[0].OriginalCapital.Equal(decimal.RequireFromString("1500.25")))
	assert.Equal(t, base.Add(2*time.Minute), got[0].CreatedAt)

	assert.Equal(t, "d1", got[1].ID)
	assert.False(t, got[1].FinalCapital.Valid)

	all, err := j.ListDecisions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteDuplicateDecision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	rec := decision("dup", "pool-a", time.Now(), nil)

	require.NoError(t, j.InsertDecision(ctx, rec))
	err := j.InsertDecision(ctx, rec)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestSQLiteBacktests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)

	run := model.BacktestResult{
		PoolID:     "pool-a",
		RangeLower: decimal.RequireFromString("0.95"),
		RangeUpper: decimal.RequireFromString("1.05"),
		RangeType:  model.RangeAggressive,
		PeriodDays: 7,
		StartTime:  time.Date(2026, 1, 24, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		Method:     model.MethodHistorical,
		Metrics: model.BacktestMetrics{
			TimeInRangePercent: decimal.NewFromInt(80),
			TotalFees:          decimal.RequireFromString("12.5"),
			TotalIL:            decimal.RequireFromString("3.25"),
			NetPnL:             decimal.RequireFromString("9.25"),
			NetPnLPercent:      decimal.RequireFromString("0.925"),
			MaxDrawdownPercent: decimal.Zero,
			Rebalances:         1,
		},
	}
	require.NoError(t, j.RecordBacktest(ctx, run))

	got, err := j.ListBacktests(ctx, "pool-a")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, run.RangeType, got[0].RangeType)
	assert.Equal(t, run.Method, got[0].Method)
	assert.Equal(t, run.StartTime, got[0].StartTime)
	assert.True(t, got[0].RangeLower.Equal(run.RangeLower))
	assert.True(t, got[0].Metrics.NetPnL.Equal(run.Metrics.NetPnL))
	assert.Equal(t, 1, got[0].Metrics.Rebalances)
	assert.Empty(t, got[0].DailyData)

	none, err := j.ListBacktests(ctx, "pool-z")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteInMemory(t *testing.T) {
	t.Parallel()

	j, err := NewSQLite(":memory:")
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.InsertDecision(context.Background(), decision("m1", "p", time.Now(), nil)))
	got, err := j.ListDecisions(context.Background(), "p")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
