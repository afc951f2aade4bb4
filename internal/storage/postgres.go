package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"metal-price-alerts/internal/config"
)

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS price_history (
        id BIGSERIAL PRIMARY KEY,
        symbol TEXT NOT NULL,
        price DOUBLE PRECISION NOT NULL,
        price_open DOUBLE PRECISION,
        price_high DOUBLE PRECISION,
        price_low DOUBLE PRECISION,
        created_at BIGINT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_symbol_time ON price_history(symbol, created_at);
    CREATE TABLE IF NOT EXISTS alert_logs (
        id BIGSERIAL PRIMARY KEY,
        alert_type TEXT NOT NULL,
        symbol TEXT NOT NULL,
        last_sent_at BIGINT NOT NULL,
        UNIQUE (alert_type, symbol)
    );`

	pgInsertPriceSQL = `INSERT INTO price_history (
        symbol,
        price,
        price_open,
        price_high,
        price_low,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	pgRecentSQL = `SELECT symbol, price, price_open, price_high, price_low, created_at
    FROM price_history
    WHERE symbol = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`

	pgRecentBeforeSQL = `SELECT symbol, price, price_open, price_high, price_low, created_at
    FROM price_history
    WHERE symbol = $1
      AND created_at < $2
    ORDER BY created_at DESC, id DESC
    LIMIT $3;`

	pgRecentForSymbolsSQL = `SELECT symbol, price, price_open, price_high, price_low, created_at
    FROM price_history
    WHERE symbol = ANY($1)
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`

	pgBetweenSQL = `SELECT symbol, price, price_open, price_high, price_low, created_at
    FROM price_history
    WHERE symbol = $1
      AND created_at >= $2
      AND created_at < $3
    ORDER BY created_at, id;`

	pgRangeSQL = `SELECT MAX(price), MIN(price)
    FROM price_history
    WHERE symbol = $1
      AND created_at >= $2
      AND created_at < $3;`

	pgCountSQL = `SELECT COUNT(*) FROM price_history;`

	pgCooldownSQL = `SELECT last_sent_at FROM alert_logs WHERE alert_type = $1 AND symbol = $2;`

	pgRecordSentSQL = `INSERT INTO alert_logs (
        alert_type,
        symbol,
        last_sent_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (alert_type, symbol) DO UPDATE
    SET last_sent_at = EXCLUDED.last_sent_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PostgresStore implements Repository on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore wires a pgx pool into a store and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	store := &PostgresStore{pool: pool, now: time.Now}
	p, err := store.getPool()
	if err != nil {
		return nil, err
	}
	if _, err := p.Exec(ctx, pgSchemaSQL); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database reachability.
func (s *PostgresStore) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock takes a session-level advisory lock on a dedicated
// connection. The returned unlock releases both.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(unlockCtx, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Insert appends one sample to the ledger.
func (s *PostgresStore) Insert(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, pgInsertPriceSQL,
		sample.Symbol,
		sample.Price,
		sample.Open,
		sample.High,
		sample.Low,
		toMillis(sample.CapturedAt),
	)
	if execErr != nil {
		return fmt.Errorf("insert price sample: %w", execErr)
	}
	return nil
}

// Recent returns up to limit samples for symbol, most recent first.
func (s *PostgresStore) Recent(ctx context.Context, symbol string, limit int) ([]PriceSample, error) {
	return s.query(ctx, "list recent samples", limit, pgRecentSQL, symbol, limit)
}

// RecentBefore is Recent restricted to samples captured strictly before the given time.
func (s *PostgresStore) RecentBefore(ctx context.Context, symbol string, before time.Time, limit int) ([]PriceSample, error) {
	return s.query(ctx, "list recent samples before", limit, pgRecentBeforeSQL, symbol, toMillis(before), limit)
}

// RecentForSymbols returns the latest limit rows across the given symbols.
func (s *PostgresStore) RecentForSymbols(ctx context.Context, symbols []string, limit int) ([]PriceSample, error) {
	if len(symbols) == 0 {
		return []PriceSample{}, nil
	}
	return s.query(ctx, "list recent samples for symbols", limit, pgRecentForSymbolsSQL, symbols, limit)
}

// ListBetween lists samples for symbol within [from, to), oldest first.
func (s *PostgresStore) ListBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error) {
	return s.query(ctx, "list samples between", 0, pgBetweenSQL, symbol, toMillis(from), toMillis(to))
}

func (s *PostgresStore) query(ctx context.Context, op string, capacity int, sql string, args ...interface{}) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// TodayRange returns the max/min of today's business day, including the latest sample.
func (s *PostgresStore) TodayRange(ctx context.Context, symbol string) (DayRange, error) {
	now := s.now()
	return s.dayRange(ctx, symbol, DayStart(now), now.Add(time.Millisecond))
}

// DayRangeBefore returns the max/min of the business day containing before,
// considering only samples captured strictly earlier.
func (s *PostgresStore) DayRangeBefore(ctx context.Context, symbol string, before time.Time) (DayRange, error) {
	return s.dayRange(ctx, symbol, DayStart(before), before)
}

func (s *PostgresStore) dayRange(ctx context.Context, symbol string, from, to time.Time) (DayRange, error) {
	pool, err := s.getPool()
	if err != nil {
		return DayRange{}, err
	}
	var out DayRange
	if scanErr := pool.QueryRow(ctx, pgRangeSQL, symbol, toMillis(from), toMillis(to)).Scan(&out.Max, &out.Min); scanErr != nil {
		return DayRange{}, fmt.Errorf("query day range: %w", scanErr)
	}
	return out, nil
}

// CountSamples counts stored samples.
func (s *PostgresStore) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, pgCountSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// CheckCooldown reports whether an alert of kind for symbol may be sent now.
func (s *PostgresStore) CheckCooldown(ctx context.Context, kind, symbol string, window time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var lastSent int64
	scanErr := pool.QueryRow(ctx, pgCooldownSQL, kind, symbol).Scan(&lastSent)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return true, nil
	}
	if scanErr != nil {
		return false, fmt.Errorf("check cooldown: %w", scanErr)
	}
	return cooldownElapsed(s.now(), fromMillis(lastSent), window), nil
}

// RecordSent upserts the cooldown row for kind/symbol with the current time.
func (s *PostgresStore) RecordSent(ctx context.Context, kind, symbol string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, pgRecordSentSQL, kind, symbol, toMillis(s.now())); execErr != nil {
		return fmt.Errorf("record alert sent: %w", execErr)
	}
	return nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		sample    PriceSample
		createdAt int64
	)
	if err := rows.Scan(
		&sample.Symbol,
		&sample.Price,
		&sample.Open,
		&sample.High,
		&sample.Low,
		&createdAt,
	); err != nil {
		return PriceSample{}, err
	}
	sample.CapturedAt = fromMillis(createdAt)
	return sample, nil
}

var (
	_ Repository     = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
