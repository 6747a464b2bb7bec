package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpwatch/risk-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// exerciseStore runs the behavior every Store implementation must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("settings absent", func(t *testing.T) {
		rs, err := s.GetSettings(ctx)
		require.NoError(t, err)
		assert.Nil(t, rs)
	})

	t.Run("settings round trip", func(t *testing.T) {
		require.NoError(t, s.SaveSettings(ctx, &model.RiskSettings{
			Bankroll:             d(10000),
			Profile:              model.ProfileNormal,
			MaxPercentPerPool:    d(10),
			MaxPercentPerNetwork: d(30),
			MaxPercentVolatile:   d(20),
		}))
		rs, err := s.GetSettings(ctx)
		require.NoError(t, err)
		require.NotNil(t, rs)
		assert.True(t, rs.Bankroll.Equal(d(10000)))
		assert.Equal(t, model.ProfileNormal, rs.Profile)
		assert.True(t, rs.MaxPercentVolatile.Equal(d(20)))
	})

	t.Run("active positions exclude closed and keep creation order", func(t *testing.T) {
		for _, p := range []model.PositionSnapshot{
			{ID: "p1", PoolID: "a", Network: "base", PairCategory: model.CategoryOther, Capital: d(100), Status: model.StatusActive},
			{ID: "p2", PoolID: "b", Network: "ethereum", PairCategory: model.CategoryStableStable, Capital: d(200), Status: model.StatusClosed},
			{ID: "p3", PoolID: "c", Network: "arbitrum", PairCategory: model.CategoryBluechipStable, Capital: d(300), Status: model.StatusCritical},
		} {
			require.NoError(t, s.UpsertPosition(ctx, &p))
		}

		active, err := s.GetActivePositions(ctx)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "p1", active[0].ID)
		assert.Equal(t, "p3", active[1].ID)

		closed := active[0]
		closed.Status = model.StatusClosed
		require.NoError(t, s.UpsertPosition(ctx, &closed))
		active, err = s.GetActivePositions(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "p3", active[0].ID)
	})

	t.Run("pool with history", func(t *testing.T) {
		pool := &model.PoolSnapshot{
			ID:           "pool-1",
			Network:      "ethereum",
			PairCategory: model.CategoryBluechipStable,
			TVL:          d(1_500_000),
			Volume24h:    d(300_000),
			FeeTier:      500,
			CurrentPrice: d(2000.5),
			UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			PriceHistory: []model.PricePoint{
				{Timestamp: 100, Price: d(1990), Volume: decimal.NewNullDecimal(d(12))},
				{Timestamp: 200, Price: d(2010)},
			},
		}
		require.NoError(t, s.UpsertPool(ctx, pool))

		got, err := s.GetPool(ctx, "pool-1")
		require.NoError(t, err)
		assert.Equal(t, 500, got.FeeTier)
		assert.True(t, got.CurrentPrice.Equal(d(2000.5)))
		require.Len(t, got.PriceHistory, 2)
		assert.True(t, got.PriceHistory[0].Volume.Valid)
		assert.False(t, got.PriceHistory[1].Volume.Valid)

		_, err = s.GetPool(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("decisions are append only", func(t *testing.T) {
		base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		first := &model.DecisionRecord{
			ID: "00000000-0000-0000-0000-000000000001", PoolID: "pool-1",
			Decision: model.DecisionAdjusted, OriginalCapital: d(2000),
			FinalCapital: decimal.NewNullDecimal(d(1000)), Reason: "clamped", CreatedAt: base,
		}
		second := &model.DecisionRecord{
			ID: "00000000-0000-0000-0000-000000000002", PoolID: "pool-2",
			Decision: model.DecisionRejected, OriginalCapital: d(500),
			Reason: "no headroom", CreatedAt: base.Add(time.Minute),
		}
		require.NoError(t, s.InsertDecision(ctx, first))
		require.NoError(t, s.InsertDecision(ctx, second))
		assert.ErrorIs(t, s.InsertDecision(ctx, first), ErrDuplicateKey)

		all, err := s.ListDecisions(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID, "newest first")
		assert.False(t, all[0].FinalCapital.Valid)

		forPool, err := s.ListDecisions(ctx, "pool-1")
		require.NoError(t, err)
		require.Len(t, forPool, 1)
		assert.True(t, forPool[0].FinalCapital.Decimal.Equal(d(1000)))
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_CopiesOnWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	pool := &model.PoolSnapshot{ID: "x", PriceHistory: []model.PricePoint{{Timestamp: 1, Price: d(1)}}}
	require.NoError(t, s.UpsertPool(ctx, pool))
	pool.PriceHistory[0].Price = d(99)

	got, err := s.GetPool(ctx, "x")
	require.NoError(t, err)
	assert.True(t, got.PriceHistory[0].Price.Equal(d(1)))
}
