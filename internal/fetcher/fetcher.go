package fetcher

import (
	"context"
)

// Quote is one decoded feed record. OHLC fields are nil when unknown.
type Quote struct {
	Symbol string
	Price  float64
	Open   *float64
	High   *float64
	Low    *float64
}

// RawSource retrieves the raw feed text.
type RawSource interface {
	FetchRaw(ctx context.Context) (string, error)
	ConsecutiveFailures() int
}
