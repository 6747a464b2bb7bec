// Package store defines the persistence interface for the risk engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/lpwatch/risk-engine/internal/model"
)

var (
	// ErrNotFound is returned when a pool lookup has no match.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateKey is returned when a decision record with the same ID
	// already exists. Decision records are append-only.
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Risk settings ---

	// GetSettings returns the saved risk settings, or nil with no error
	// when none have been configured yet.
	GetSettings(ctx context.Context) (*model.RiskSettings, error)

	// SaveSettings replaces the risk settings.
	SaveSettings(ctx context.Context, settings *model.RiskSettings) error

	// --- Positions ---

	// UpsertPosition creates or replaces a position by ID.
	UpsertPosition(ctx context.Context, p *model.PositionSnapshot) error

	// GetActivePositions returns every position whose status is not CLOSED,
	// in the order they were first created.
	GetActivePositions(ctx context.Context) ([]model.PositionSnapshot, error)

	// --- Pools ---

	// UpsertPool creates or replaces a pool snapshot and its price history.
	UpsertPool(ctx context.Context, pool *model.PoolSnapshot) error

	// GetPool retrieves a pool by ID with its price history.
	GetPool(ctx context.Context, id string) (*model.PoolSnapshot, error)

	// --- Immutable decision log ---

	// InsertDecision appends an immutable decision record.
	InsertDecision(ctx context.Context, rec *model.DecisionRecord) error

	// ListDecisions returns decision records, newest first. An empty poolID
	// lists every pool.
	ListDecisions(ctx context.Context, poolID string) ([]model.DecisionRecord, error)
}
