// Package stats summarises recent ledger rows per metal group for the read API.
package stats

import (
	"math"
	"strings"
	"time"

	"metal-price-alerts/internal/storage"
)

// HistoryPoints caps the down-sampled history of a group.
const HistoryPoints = 50

// Point is one history entry.
type Point struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Group holds the statistics of one metal group.
type Group struct {
	Current   float64            `json:"current"`
	Previous  float64            `json:"previous"`
	High      float64            `json:"high"`
	Low       float64            `json:"low"`
	Avg       float64            `json:"avg"`
	Timestamp time.Time          `json:"timestamp"`
	Latest    map[string]float64 `json:"latest"`
	History   []Point            `json:"history"`
}

// Summarize computes a group's statistics from samples ordered newest first.
// Samples whose symbol is not in symbols are ignored. An empty group reports
// zeros stamped with now.
func Summarize(samples []storage.PriceSample, symbols []string, includeHistory bool, now time.Time) Group {
	members := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		members[strings.ToLower(s)] = struct{}{}
	}

	picked := make([]storage.PriceSample, 0, len(samples))
	for _, s := range samples {
		if _, ok := members[strings.ToLower(s.Symbol)]; ok {
			picked = append(picked, s)
		}
	}

	group := Group{Latest: map[string]float64{}, History: []Point{}}
	if len(picked) == 0 {
		group.Timestamp = now.UTC()
		return group
	}

	group.Current = picked[0].Price
	group.Timestamp = picked[0].CapturedAt.UTC()
	if len(picked) > 1 {
		group.Previous = picked[1].Price
	}

	high, low, sum := math.Inf(-1), math.Inf(1), 0.0
	for _, s := range picked {
		high = math.Max(high, s.Price)
		low = math.Min(low, s.Price)
		sum += s.Price
		if _, seen := group.Latest[s.Symbol]; !seen {
			group.Latest[s.Symbol] = s.Price
		}
	}
	group.High = high
	group.Low = low
	group.Avg = sum / float64(len(picked))

	if includeHistory {
		oldestFirst := make([]storage.PriceSample, len(picked))
		for i, s := range picked {
			oldestFirst[len(picked)-1-i] = s
		}
		for _, s := range Downsample(oldestFirst, HistoryPoints) {
			group.History = append(group.History, Point{Value: s.Price, Timestamp: s.CapturedAt.UTC()})
		}
	}
	return group
}

// Downsample picks at most limit evenly spaced items, keeping the first and last.
func Downsample[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	if limit == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, limit)
	step := float64(len(items)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}
