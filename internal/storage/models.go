package storage

import (
	"time"
)

// BusinessZone is the fixed UTC+8 zone that defines a trading "day".
var BusinessZone = time.FixedZone("UTC+8", 8*60*60)

// PriceSample is one persisted quote. Rows are append-only.
type PriceSample struct {
	Symbol     string
	Price      float64
	Open       *float64
	High       *float64
	Low        *float64
	CapturedAt time.Time
}

// DayRange is the max/min price of a symbol within one business day.
// Both fields are nil when no sample falls into the window.
type DayRange struct {
	Max *float64
	Min *float64
}

// CooldownRecord tracks the last delivery of an alert kind for a symbol.
type CooldownRecord struct {
	Kind       string
	Symbol     string
	LastSentAt time.Time
}

// DayStart returns the start of the business day containing t.
func DayStart(t time.Time) time.Time {
	local := t.In(BusinessZone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, BusinessZone)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
