package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"metal-price-alerts/internal/storage"
)

// TrendLength is the number of points (current included) a trend must span.
const TrendLength = 5

// FluctuationDetector compares the price with the previous sample.
type FluctuationDetector struct {
	history History
}

// NewFluctuationDetector constructs the detector.
func NewFluctuationDetector(history History) *FluctuationDetector {
	return &FluctuationDetector{history: history}
}

// Name implements Detector.
func (d *FluctuationDetector) Name() string { return string(KindFluctuation) }

// Detect fires when |current - previous| >= threshold.
func (d *FluctuationDetector) Detect(ctx context.Context, sample storage.PriceSample, threshold float64) ([]Candidate, error) {
	prior, err := d.history.RecentBefore(ctx, sample.Symbol, sample.CapturedAt, 1)
	if err != nil {
		return nil, fmt.Errorf("load previous sample: %w", err)
	}
	if len(prior) == 0 {
		return nil, nil
	}

	previous := prior[0].Price
	change := sample.Price - previous
	if math.Abs(change) < threshold {
		return nil, nil
	}

	sign := ""
	if change > 0 {
		sign = "+"
	}
	return []Candidate{{
		Kind:   KindFluctuation,
		Symbol: sample.Symbol,
		Price:  sample.Price,
		Message: fmt.Sprintf("价格剧烈波动: %s%s (从 %s 到 %s)",
			sign, decimal.NewFromFloat(change).StringFixed(2), FormatPrice(previous), FormatPrice(sample.Price)),
	}}, nil
}

// PeakValleyDetector compares the price with the business day's prior range.
type PeakValleyDetector struct {
	history History
}

// NewPeakValleyDetector constructs the detector.
func NewPeakValleyDetector(history History) *PeakValleyDetector {
	return &PeakValleyDetector{history: history}
}

// Name implements Detector.
func (d *PeakValleyDetector) Name() string { return "peak_valley" }

// Detect fires Peak above the day's max and Valley below its min. The two
// checks are independent, so an inverted range (min > max) can yield both.
func (d *PeakValleyDetector) Detect(ctx context.Context, sample storage.PriceSample, _ float64) ([]Candidate, error) {
	rng, err := d.history.DayRangeBefore(ctx, sample.Symbol, sample.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("load day range: %w", err)
	}
	return peakValley(sample.Symbol, sample.Price, rng), nil
}

func peakValley(symbol string, price float64, rng storage.DayRange) []Candidate {
	var out []Candidate
	if rng.Max != nil && price > *rng.Max {
		out = append(out, Candidate{
			Kind:    KindPeak,
			Symbol:  symbol,
			Price:   price,
			Message: fmt.Sprintf("创日内新高: %s (前高: %s)", FormatPrice(price), FormatPrice(*rng.Max)),
		})
	}
	if rng.Min != nil && price < *rng.Min {
		out = append(out, Candidate{
			Kind:    KindValley,
			Symbol:  symbol,
			Price:   price,
			Message: fmt.Sprintf("创日内新低: %s (前低: %s)", FormatPrice(price), FormatPrice(*rng.Min)),
		})
	}
	return out
}

// TrendDetector looks for a strictly monotonic run over the last TrendLength points.
type TrendDetector struct {
	history History
}

// NewTrendDetector constructs the detector.
func NewTrendDetector(history History) *TrendDetector {
	return &TrendDetector{history: history}
}

// Name implements Detector.
func (d *TrendDetector) Name() string { return "trend" }

// Detect needs TrendLength-1 prior samples and abstains otherwise.
func (d *TrendDetector) Detect(ctx context.Context, sample storage.PriceSample, _ float64) ([]Candidate, error) {
	prior, err := d.history.RecentBefore(ctx, sample.Symbol, sample.CapturedAt, TrendLength-1)
	if err != nil {
		return nil, fmt.Errorf("load trend window: %w", err)
	}
	if len(prior) < TrendLength-1 {
		return nil, nil
	}

	seq := make([]float64, 0, TrendLength)
	seq = append(seq, sample.Price)
	for _, p := range prior {
		seq = append(seq, p.Price)
	}

	kind, ok := classifyTrend(seq)
	if !ok {
		return nil, nil
	}

	msg := fmt.Sprintf("持续上涨趋势 (连续%d次上涨)", len(seq))
	if kind == KindTrendDown {
		msg = fmt.Sprintf("持续下跌趋势 (连续%d次下跌)", len(seq))
	}
	return []Candidate{{Kind: kind, Symbol: sample.Symbol, Price: sample.Price, Message: msg}}, nil
}

// classifyTrend inspects seq laid out most-recent-first. It reports TrendUp
// when every element is strictly greater than the one before it in seq and
// TrendDown when every element is strictly less. Any tie breaks both.
func classifyTrend(seq []float64) (Kind, bool) {
	if len(seq) < 2 {
		return "", false
	}
	up, down := true, true
	for i := 1; i < len(seq); i++ {
		if !(seq[i] > seq[i-1]) {
			up = false
		}
		if !(seq[i] < seq[i-1]) {
			down = false
		}
	}
	switch {
	case up:
		return KindTrendUp, true
	case down:
		return KindTrendDown, true
	default:
		return "", false
	}
}

// FormatPrice renders a price with the shortest exact decimal representation.
func FormatPrice(v float64) string {
	return decimal.NewFromFloat(v).String()
}
