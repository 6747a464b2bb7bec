package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/lpwatch/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	settings      *model.RiskSettings
	positions     map[string]model.PositionSnapshot
	positionOrder []string
	pools         map[string]*model.PoolSnapshot
	decisions     []model.DecisionRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]model.PositionSnapshot),
		pools:     make(map[string]*model.PoolSnapshot),
	}
}

func (s *MemoryStore) GetSettings(_ context.Context) (*model.RiskSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, nil
	}
	copy := *s.settings
	return &copy, nil
}

func (s *MemoryStore) SaveSettings(_ context.Context, settings *model.RiskSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *settings
	s.settings = &copy
	return nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		s.positionOrder = append(s.positionOrder, p.ID)
	}
	s.positions[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetActivePositions(_ context.Context) ([]model.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.PositionSnapshot, 0, len(s.positionOrder))
	for _, id := range s.positionOrder {
		p := s.positions[id]
		if p.IsActive() {
			positions = append(positions, p)
		}
	}
	return positions, nil
}

func (s *MemoryStore) UpsertPool(_ context.Context, pool *model.PoolSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *pool
	copy.PriceHistory = append([]model.PricePoint(nil), pool.PriceHistory...)
	s.pools[pool.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.PoolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	copy := *p
	copy.PriceHistory = append([]model.PricePoint(nil), p.PriceHistory...)
	return &copy, nil
}

func (s *MemoryStore) InsertDecision(_ context.Context, rec *model.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.decisions {
		if existing.ID == rec.ID {
			return fmt.Errorf("decision %s: %w", rec.ID, ErrDuplicateKey)
		}
	}
	s.decisions = append(s.decisions, *rec)
	return nil
}

func (s *MemoryStore) ListDecisions(_ context.Context, poolID string) ([]model.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.DecisionRecord, 0)
	for i := len(s.decisions) - 1; i >= 0; i-- {
		rec := s.decisions[i]
		if poolID == "" || rec.PoolID == poolID {
			result = append(result, rec)
		}
	}
	return result, nil
}
