package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lpwatch/risk-engine/internal/model"
)

const pgErrUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres parses dsn, connects and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// --- Risk settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.RiskSettings, error) {
	var rs model.RiskSettings
	var bankroll, perPool, perNetwork, volatile string

	err := s.pool.QueryRow(ctx,
		`SELECT bankroll::TEXT, profile,
		        max_percent_per_pool::TEXT, max_percent_per_network::TEXT,
		        max_percent_volatile::TEXT
		 FROM risk_settings WHERE id = 1`).
		Scan(&bankroll, &rs.Profile, &perPool, &perNetwork, &volatile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get risk settings: %w", err)
	}

	rs.Bankroll, _ = decimal.NewFromString(bankroll)
	rs.MaxPercentPerPool, _ = decimal.NewFromString(perPool)
	rs.MaxPercentPerNetwork, _ = decimal.NewFromString(perNetwork)
	rs.MaxPercentVolatile, _ = decimal.NewFromString(volatile)
	return &rs, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, rs *model.RiskSettings) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_settings (id, bankroll, profile, max_percent_per_pool, max_percent_per_network, max_percent_volatile, updated_at)
		 VALUES (1, $1::NUMERIC, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, now())
		 ON CONFLICT (id) DO UPDATE SET
		     bankroll = EXCLUDED.bankroll,
		     profile = EXCLUDED.profile,
		     max_percent_per_pool = EXCLUDED.max_percent_per_pool,
		     max_percent_per_network = EXCLUDED.max_percent_per_network,
		     max_percent_volatile = EXCLUDED.max_percent_volatile,
		     updated_at = EXCLUDED.updated_at`,
		rs.Bankroll.String(), rs.Profile,
		rs.MaxPercentPerPool.String(), rs.MaxPercentPerNetwork.String(), rs.MaxPercentVolatile.String(),
	)
	if err != nil {
		return fmt.Errorf("save risk settings: %w", err)
	}
	return nil
}

// --- Positions ---

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.PositionSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, pool_id, network, pair_category, capital, status)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     pool_id = EXCLUDED.pool_id,
		     network = EXCLUDED.network,
		     pair_category = EXCLUDED.pair_category,
		     capital = EXCLUDED.capital,
		     status = EXCLUDED.status`,
		p.ID, p.PoolID, p.Network, p.PairCategory, p.Capital.String(), p.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetActivePositions(ctx context.Context) ([]model.PositionSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, network, pair_category, capital::TEXT, status
		 FROM positions
		 WHERE status <> 'CLOSED'
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query active positions: %w", err)
	}
	defer rows.Close()

	positions := make([]model.PositionSnapshot, 0)
	for rows.Next() {
		var p model.PositionSnapshot
		var capital string
		if err := rows.Scan(&p.ID, &p.PoolID, &p.Network, &p.PairCategory, &capital, &p.Status); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Capital, _ = decimal.NewFromString(capital)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// --- Pools ---

func (s *PostgresStore) UpsertPool(ctx context.Context, p *model.PoolSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert pool %s: %w", p.ID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO pools (id, network, pair_category, tvl, volume_24h, fee_tier, current_price, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7::NUMERIC, $8)
		 ON CONFLICT (id) DO UPDATE SET
		     network = EXCLUDED.network,
		     pair_category = EXCLUDED.pair_category,
		     tvl = EXCLUDED.tvl,
		     volume_24h = EXCLUDED.volume_24h,
		     fee_tier = EXCLUDED.fee_tier,
		     current_price = EXCLUDED.current_price,
		     updated_at = EXCLUDED.updated_at`,
		p.ID, p.Network, p.PairCategory,
		p.TVL.String(), p.Volume24h.String(), p.FeeTier, p.CurrentPrice.String(),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pool %s: %w", p.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM pool_price_points WHERE pool_id = $1`, p.ID); err != nil {
		return fmt.Errorf("clear price history %s: %w", p.ID, err)
	}

	if len(p.PriceHistory) > 0 {
		batch := &pgx.Batch{}
		for _, pt := range p.PriceHistory {
			var volume *string
			if pt.Volume.Valid {
				v := pt.Volume.Decimal.String()
				volume = &v
			}
			batch.Queue(
				`INSERT INTO pool_price_points (pool_id, ts, price, volume)
				 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
				 ON CONFLICT (pool_id, ts) DO UPDATE SET price = EXCLUDED.price, volume = EXCLUDED.volume`,
				p.ID, pt.Timestamp, pt.Price.String(), volume,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert price history %s: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.PoolSnapshot, error) {
	var p model.PoolSnapshot
	var tvl, volume, price string

	err := s.pool.QueryRow(ctx,
		`SELECT id, network, pair_category, tvl::TEXT, volume_24h::TEXT,
		        fee_tier, current_price::TEXT, updated_at
		 FROM pools WHERE id = $1`, id).
		Scan(&p.ID, &p.Network, &p.PairCategory, &tvl, &volume,
			&p.FeeTier, &price, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}

	p.TVL, _ = decimal.NewFromString(tvl)
	p.Volume24h, _ = decimal.NewFromString(volume)
	p.CurrentPrice, _ = decimal.NewFromString(price)

	rows, err := s.pool.Query(ctx,
		`SELECT ts, price::TEXT, volume::TEXT
		 FROM pool_price_points WHERE pool_id = $1 ORDER BY ts`, id)
	if err != nil {
		return nil, fmt.Errorf("query price history %s: %w", id, err)
	}
	defer rows.Close()

	p.PriceHistory, err = scanPricePoints(rows)
	if err != nil {
		return nil, fmt.Errorf("scan price history %s: %w", id, err)
	}
	return &p, nil
}

// --- Decision log ---

func (s *PostgresStore) InsertDecision(ctx context.Context, rec *model.DecisionRecord) error {
	var final *string
	if rec.FinalCapital.Valid {
		v := rec.FinalCapital.Decimal.String()
		final = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decision_log (id, pool_id, decision, original_capital, final_capital, reason, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		rec.ID, rec.PoolID, rec.Decision, rec.OriginalCapital.String(), final, rec.Reason, rec.CreatedAt,
	)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("decision %s: %w", rec.ID, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, poolID string) ([]model.DecisionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, decision, original_capital::TEXT, final_capital::TEXT, reason, created_at
		 FROM decision_log
		 WHERE $1 = '' OR pool_id = $1
		 ORDER BY created_at DESC, id`, poolID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPricePoints(rows pgxRows) ([]model.PricePoint, error) {
	points := make([]model.PricePoint, 0)
	for rows.Next() {
		var pt model.PricePoint
		var price string
		var volume *string
		if err := rows.Scan(&pt.Timestamp, &price, &volume); err != nil {
			return nil, err
		}
		pt.Price, _ = decimal.NewFromString(price)
		if volume != nil {
			if v, err := decimal.NewFromString(*volume); err == nil {
				pt.Volume = decimal.NewNullDecimal(v)
			}
		}
		points = append(points, pt)
	}
	return points, rows.Err()
}

func scanDecisions(rows pgxRows) ([]model.DecisionRecord, error) {
	records := make([]model.DecisionRecord, 0)
	for rows.Next() {
		var rec model.DecisionRecord
		var original string
		var final *string
		if err := rows.Scan(&rec.ID, &rec.PoolID, &rec.Decision, &original, &final, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.OriginalCapital, _ = decimal.NewFromString(original)
		if final != nil {
			if v, err := decimal.NewFromString(*final); err == nil {
				rec.FinalCapital = decimal.NewNullDecimal(v)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// isDuplicateKeyError reports whether err is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
