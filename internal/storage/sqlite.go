package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS price_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	price REAL NOT NULL,
	price_open REAL,
	price_high REAL,
	price_low REAL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_symbol_time ON price_history(symbol, created_at);

CREATE TABLE IF NOT EXISTS alert_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_type TEXT NOT NULL,
	symbol TEXT NOT NULL,
	last_sent_at INTEGER NOT NULL,
	UNIQUE(alert_type, symbol)
);`

const (
	sqliteInsertPriceSQL = `INSERT INTO price_history (symbol, price, price_open, price_high, price_low, created_at)
    VALUES (?, ?, ?, ?, ?, ?);`

	sqliteRecentSQL = `SELECT symbol, price, price_open, price_high, price_low, created_at
    FROM price_history
    WHERE symbol = ?
    ORDER BY created_at DESC, id DESC
    LIMIT ?;`

	sqliteRecentBeforeSQL = `SELECT symbol, price, price_open, price_high, price_low, created_at
    FROM price_history
    WHERE symbol = ? AND created_at < ?
    ORDER BY created_at DESC, id DESC
    LIMIT ?;`

	sqliteBetweenSQL = `SELECT symbol, price, price_open, price_high, price_low, created_at
    FROM price_history
    WHERE symbol = ? AND created_at >= ? AND created_at < ?
    ORDER BY created_at, id;`

	sqliteRangeSQL = `SELECT MAX(price), MIN(price)
    FROM price_history
    WHERE symbol = ? AND created_at >= ? AND created_at < ?;`

	sqliteCountSQL = `SELECT COUNT(*) FROM price_history;`

	sqliteCooldownSQL = `SELECT last_sent_at FROM alert_logs WHERE alert_type = ? AND symbol = ?;`

	sqliteRecordSentSQL = `INSERT INTO alert_logs (alert_type, symbol, last_sent_at)
    VALUES (?, ?, ?)
    ON CONFLICT(alert_type, symbol) DO UPDATE SET last_sent_at = excluded.last_sent_at;`
)

// SQLiteStore implements Repository on a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path and ensures the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps WAL contention out of the picture
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// WithClock overrides the time source used for cooldowns and day ranges.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Ping checks database reachability.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	return s.db.PingContext(ctx)
}

// Insert appends one sample to the ledger.
func (s *SQLiteStore) Insert(ctx context.Context, sample PriceSample) error {
	_, err := s.db.ExecContext(ctx, sqliteInsertPriceSQL,
		sample.Symbol,
		sample.Price,
		nullableFloat(sample.Open),
		nullableFloat(sample.High),
		nullableFloat(sample.Low),
		toMillis(sample.CapturedAt),
	)
	if err != nil {
		return fmt.Errorf("insert price sample: %w", err)
	}
	return nil
}

// Recent returns up to limit samples for symbol, most recent first.
func (s *SQLiteStore) Recent(ctx context.Context, symbol string, limit int) ([]PriceSample, error) {
	rows, err := s.db.QueryContext(ctx, sqliteRecentSQL, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	return scanSQLRows(rows, limit)
}

// RecentBefore is Recent restricted to samples captured strictly before the given time.
func (s *SQLiteStore) RecentBefore(ctx context.Context, symbol string, before time.Time, limit int) ([]PriceSample, error) {
	rows, err := s.db.QueryContext(ctx, sqliteRecentBeforeSQL, symbol, toMillis(before), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent samples before: %w", err)
	}
	return scanSQLRows(rows, limit)
}

// RecentForSymbols returns the latest limit rows across the given symbols, most recent first.
func (s *SQLiteStore) RecentForSymbols(ctx context.Context, symbols []string, limit int) ([]PriceSample, error) {
	if len(symbols) == 0 {
		return []PriceSample{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	query := `SELECT symbol, price, price_open, price_high, price_low, created_at
    FROM price_history
    WHERE symbol IN (` + placeholders + `)
    ORDER BY created_at DESC, id DESC
    LIMIT ?;`

	args := make([]interface{}, 0, len(symbols)+1)
	for _, sym := range symbols {
		args = append(args, sym)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent samples for symbols: %w", err)
	}
	return scanSQLRows(rows, limit)
}

// ListBetween lists samples for symbol within [from, to), oldest first.
func (s *SQLiteStore) ListBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error) {
	rows, err := s.db.QueryContext(ctx, sqliteBetweenSQL, symbol, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("list samples between: %w", err)
	}
	return scanSQLRows(rows, 0)
}

// TodayRange returns the max/min of today's business day, including the latest sample.
func (s *SQLiteStore) TodayRange(ctx context.Context, symbol string) (DayRange, error) {
	now := s.now()
	return s.dayRange(ctx, symbol, DayStart(now), now.Add(time.Millisecond))
}

// DayRangeBefore returns the max/min of the business day containing before,
// considering only samples captured strictly earlier.
func (s *SQLiteStore) DayRangeBefore(ctx context.Context, symbol string, before time.Time) (DayRange, error) {
	return s.dayRange(ctx, symbol, DayStart(before), before)
}

func (s *SQLiteStore) dayRange(ctx context.Context, symbol string, from, to time.Time) (DayRange, error) {
	var high, low sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, sqliteRangeSQL, symbol, toMillis(from), toMillis(to)).Scan(&high, &low); err != nil {
		return DayRange{}, fmt.Errorf("query day range: %w", err)
	}
	return DayRange{Max: floatPtr(high), Min: floatPtr(low)}, nil
}

// CountSamples counts ledger rows.
func (s *SQLiteStore) CountSamples(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, sqliteCountSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

// CheckCooldown reports whether an alert of kind for symbol may be sent now.
func (s *SQLiteStore) CheckCooldown(ctx context.Context, kind, symbol string, window time.Duration) (bool, error) {
	var lastSent int64
	err := s.db.QueryRowContext(ctx, sqliteCooldownSQL, kind, symbol).Scan(&lastSent)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check cooldown: %w", err)
	}
	return cooldownElapsed(s.now(), fromMillis(lastSent), window), nil
}

// RecordSent upserts the cooldown row for kind/symbol with the current time.
func (s *SQLiteStore) RecordSent(ctx context.Context, kind, symbol string) error {
	if _, err := s.db.ExecContext(ctx, sqliteRecordSentSQL, kind, symbol, toMillis(s.now())); err != nil {
		return fmt.Errorf("record alert sent: %w", err)
	}
	return nil
}

func scanSQLRows(rows *sql.Rows, capacity int) ([]PriceSample, error) {
	defer rows.Close()

	samples := make([]PriceSample, 0, capacity)
	for rows.Next() {
		var (
			sample          PriceSample
			open, high, low sql.NullFloat64
			createdAt       int64
		)
		if err := rows.Scan(&sample.Symbol, &sample.Price, &open, &high, &low, &createdAt); err != nil {
			return nil, err
		}
		sample.Open = floatPtr(open)
		sample.High = floatPtr(high)
		sample.Low = floatPtr(low)
		sample.CapturedAt = fromMillis(createdAt)
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

var _ Repository = (*SQLiteStore)(nil)
