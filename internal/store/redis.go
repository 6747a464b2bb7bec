package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lpwatch/risk-engine/internal/metrics"
	"github.com/lpwatch/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveSettings(ctx context.Context, rs *model.RiskSettings) error {
	if err := s.primary.SaveSettings(ctx, rs); err != nil {
		return err
	}
	s.rdb.Del(ctx, settingsKey)
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.PositionSnapshot) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, activePositionsKey)
	return nil
}

func (s *CachedStore) UpsertPool(ctx context.Context, p *model.PoolSnapshot) error {
	if err := s.primary.UpsertPool(ctx, p); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, poolKey(p.ID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSettings(ctx context.Context) (*model.RiskSettings, error) {
	var rs model.RiskSettings
	if s.readCache(ctx, "settings", settingsKey, &rs) {
		return &rs, nil
	}

	settings, err := s.primary.GetSettings(ctx)
	if err != nil || settings == nil {
		return settings, err
	}
	s.writeCache(ctx, settingsKey, settings)
	return settings, nil
}

func (s *CachedStore) GetActivePositions(ctx context.Context) ([]model.PositionSnapshot, error) {
	var positions []model.PositionSnapshot
	if s.readCache(ctx, "positions", activePositionsKey, &positions) {
		return positions, nil
	}

	positions, err := s.primary.GetActivePositions(ctx)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, activePositionsKey, positions)
	return positions, nil
}

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.PoolSnapshot, error) {
	var p model.PoolSnapshot
	if s.readCache(ctx, "pool", poolKey(id), &p) {
		return &p, nil
	}

	pool, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, poolKey(id), pool)
	return pool, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertDecision(ctx context.Context, rec *model.DecisionRecord) error {
	return s.primary.InsertDecision(ctx, rec)
}

func (s *CachedStore) ListDecisions(ctx context.Context, poolID string) ([]model.DecisionRecord, error) {
	return s.primary.ListDecisions(ctx, poolID)
}

// --- Cache helpers ---

func (s *CachedStore) readCache(ctx context.Context, entity, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(data, dst) == nil {
		metrics.CacheLookups.WithLabelValues(entity, "hit").Inc()
		return true
	}
	metrics.CacheLookups.WithLabelValues(entity, "miss").Inc()
	return false
}

func (s *CachedStore) writeCache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const (
	settingsKey        = "lprisk:settings"
	activePositionsKey = "lprisk:positions:active"
)

func poolKey(id string) string { return fmt.Sprintf("lprisk:pool:%s", id) }
