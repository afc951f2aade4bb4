package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConfigured indicates the storage handle was not initialised.
	ErrNotConfigured = errors.New("storage: database not configured")
	// ErrUnknownDriver is returned by Open for unsupported drivers.
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

// DefaultCooldown is the window used when callers pass a non-positive one.
const DefaultCooldown = 15 * time.Minute

// PriceStore is the append-only price ledger.
type PriceStore interface {
	Insert(ctx context.Context, sample PriceSample) error
	Recent(ctx context.Context, symbol string, limit int) ([]PriceSample, error)
	RecentBefore(ctx context.Context, symbol string, before time.Time, limit int) ([]PriceSample, error)
	RecentForSymbols(ctx context.Context, symbols []string, limit int) ([]PriceSample, error)
	ListBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error)
	TodayRange(ctx context.Context, symbol string) (DayRange, error)
	DayRangeBefore(ctx context.Context, symbol string, before time.Time) (DayRange, error)
	CountSamples(ctx context.Context) (int64, error)
}

// CooldownStore is the alert-cooldown ledger.
type CooldownStore interface {
	CheckCooldown(ctx context.Context, kind, symbol string, window time.Duration) (bool, error)
	RecordSent(ctx context.Context, kind, symbol string) error
}

// Repository aggregates both ledgers plus liveness helpers.
type Repository interface {
	PriceStore
	CooldownStore
	Ping(ctx context.Context) error
	Close()
}

// AdvisoryLocker guards a scan cycle across processes sharing one database.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// cooldownElapsed reports whether a send is permitted given the last delivery.
func cooldownElapsed(now, lastSent time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultCooldown
	}
	return now.Sub(lastSent) >= window
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
