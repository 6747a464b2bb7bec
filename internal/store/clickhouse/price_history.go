package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lpwatch/risk-engine/internal/model"
)

const priceHistorySchema = `
	CREATE TABLE IF NOT EXISTS pool_prices (
		pool_id String,
		ts      UInt64,
		price   Decimal(38, 18),
		volume  Nullable(Decimal(38, 18))
	)
	ENGINE = ReplacingMergeTree
	ORDER BY (pool_id, ts)
`

// PriceHistoryStore reads and writes pool price points in ClickHouse.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// EnsureSchema creates the price table if it does not exist.
func (s *PriceHistoryStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, priceHistorySchema); err != nil {
		return fmt.Errorf("create pool_prices: %w", err)
	}
	return nil
}

// InsertBulk appends points for a pool. Re-inserting a timestamp replaces
// the earlier row on merge.
func (s *PriceHistoryStore) InsertBulk(ctx context.Context, poolID string, points []model.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO pool_prices (pool_id, ts, price, volume)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		var volume *decimal.Decimal
		if p.Volume.Valid {
			v := p.Volume.Decimal
			volume = &v
		}
		if err := batch.Append(poolID, uint64(p.Timestamp), p.Price, volume); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetSince returns a pool's points with ts >= since, oldest first.
func (s *PriceHistoryStore) GetSince(ctx context.Context, poolID string, since int64) ([]model.PricePoint, error) {
	if since < 0 {
		since = 0
	}
	query := `
		SELECT ts, price, volume
		FROM pool_prices FINAL
		WHERE pool_id = ? AND ts >= ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, poolID, uint64(since))
	if err != nil {
		return nil, fmt.Errorf("query pool prices: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// chRows is the subset of driver.Rows the scanner needs.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPricePoints(rows chRows) ([]model.PricePoint, error) {
	points := make([]model.PricePoint, 0)
	for rows.Next() {
		var ts uint64
		var price decimal.Decimal
		var volume *decimal.Decimal
		if err := rows.Scan(&ts, &price, &volume); err != nil {
			return nil, fmt.Errorf("scan pool price row: %w", err)
		}
		p := model.PricePoint{Timestamp: int64(ts), Price: price}
		if volume != nil {
			p.Volume = decimal.NewNullDecimal(*volume)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool price rows: %w", err)
	}
	return points, nil
}
