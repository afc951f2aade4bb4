// Package analysis turns a freshly captured price into alert candidates.
package analysis

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"metal-price-alerts/internal/storage"
)

// Kind identifies the detector that produced a candidate.
type Kind string

const (
	KindFluctuation Kind = "fluctuation"
	KindPeak        Kind = "peak"
	KindValley      Kind = "valley"
	KindTrendUp     Kind = "trend_up"
	KindTrendDown   Kind = "trend_down"
)

// Candidate is an alert proposed by a detector. It lives for one analysis pass.
type Candidate struct {
	Kind    Kind
	Symbol  string
	Price   float64
	Message string
}

// History is the read side of the price ledger the detectors consult.
// Queries are bounded by the sample's capture time so the sample being
// analysed is never its own predecessor.
type History interface {
	RecentBefore(ctx context.Context, symbol string, before time.Time, limit int) ([]storage.PriceSample, error)
	DayRangeBefore(ctx context.Context, symbol string, before time.Time) (storage.DayRange, error)
}

// Detector inspects one sample. A detector lacking data returns nothing.
type Detector interface {
	Name() string
	Detect(ctx context.Context, sample storage.PriceSample, threshold float64) ([]Candidate, error)
}

// Engine runs every detector unconditionally and concatenates their output.
type Engine struct {
	detectors []Detector
	logger    zerolog.Logger
}

// NewEngine builds the engine with the fluctuation, peak/valley and trend detectors, in that order.
func NewEngine(history History, logger zerolog.Logger) *Engine {
	return NewEngineWith(logger,
		NewFluctuationDetector(history),
		NewPeakValleyDetector(history),
		NewTrendDetector(history),
	)
}

// NewEngineWith builds an engine from an explicit detector list.
func NewEngineWith(logger zerolog.Logger, detectors ...Detector) *Engine {
	return &Engine{
		detectors: detectors,
		logger:    logger.With().Str("component", "analysis").Logger(),
	}
}

// Analyze never fails; a detector whose query errors is logged and skipped.
func (e *Engine) Analyze(ctx context.Context, sample storage.PriceSample, threshold float64) []Candidate {
	candidates := make([]Candidate, 0)
	for _, d := range e.detectors {
		found, err := d.Detect(ctx, sample, threshold)
		if err != nil {
			e.logger.Error().Err(err).
				Str("detector", d.Name()).
				Str("symbol", sample.Symbol).
				Msg("detector abstained after query failure")
			continue
		}
		candidates = append(candidates, found...)
	}
	return candidates
}
