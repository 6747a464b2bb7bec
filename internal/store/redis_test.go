package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lpwatch/risk-engine/internal/model"
)

// setupRedis starts a Redis container and returns a client for it.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestCachedStore(t *testing.T) {
	rdb := setupRedis(t)
	exerciseStore(t, NewCachedStore(NewMemoryStore(), rdb, time.Minute))
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, rdb.FlushDB(ctx).Err())

	primary := NewMemoryStore()
	cached := NewCachedStore(primary, rdb, time.Minute)

	pool := &model.PoolSnapshot{
		ID: "pool-1", Network: "base", PairCategory: model.CategoryStableStable,
		TVL: d(1_000_000), CurrentPrice: d(1),
	}
	require.NoError(t, cached.UpsertPool(ctx, pool))

	// Miss populates the cache.
	got, err := cached.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.True(t, got.TVL.Equal(d(1_000_000)))
	n, err := rdb.Exists(ctx, poolKey("pool-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A write that bypasses the cache is not seen until invalidation.
	behind := *pool
	behind.TVL = d(2_000_000)
	require.NoError(t, primary.UpsertPool(ctx, &behind))
	got, err = cached.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.True(t, got.TVL.Equal(d(1_000_000)), "expected cached value, got %s", got.TVL)

	// Writing through the cache invalidates the key.
	fresh := *pool
	fresh.TVL = d(3_000_000)
	require.NoError(t, cached.UpsertPool(ctx, &fresh))
	n, err = rdb.Exists(ctx, poolKey("pool-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err = cached.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.True(t, got.TVL.Equal(d(3_000_000)))

	// Missing pools are not cached.
	_, err = cached.GetPool(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	n, err = rdb.Exists(ctx, poolKey("missing")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCachedStore_SettingsInvalidatedOnSave(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, rdb.FlushDB(ctx).Err())

	cached := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	rs, err := cached.GetSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, rs)
	n, err := rdb.Exists(ctx, settingsKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "absent settings must not be cached")

	settings := &model.RiskSettings{
		Bankroll: d(10_000), Profile: model.ProfileNormal,
		MaxPercentPerPool: d(10), MaxPercentPerNetwork: d(30), MaxPercentVolatile: d(20),
	}
	require.NoError(t, cached.SaveSettings(ctx, settings))
	rs, err = cached.GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, rs)

	settings.Bankroll = d(20_000)
	require.NoError(t, cached.SaveSettings(ctx, settings))
	rs, err = cached.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, rs.Bankroll.Equal(d(20_000)))
}
