package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"metal-price-alerts/internal/analysis"
)

// CooldownStore is the cooldown ledger the gate consults.
type CooldownStore interface {
	CheckCooldown(ctx context.Context, kind, symbol string, window time.Duration) (bool, error)
	RecordSent(ctx context.Context, kind, symbol string) error
}

// Gate suppresses repeats of the same (kind, symbol) within a window.
type Gate struct {
	store  CooldownStore
	window time.Duration
	logger zerolog.Logger
}

// NewGate constructs a cooldown gate.
func NewGate(store CooldownStore, window time.Duration, logger zerolog.Logger) *Gate {
	return &Gate{
		store:  store,
		window: window,
		logger: logger.With().Str("component", "cooldown_gate").Logger(),
	}
}

// Filter keeps candidates whose cooldown has elapsed and stamps each as sent
// before it is handed to the notifier. A failed check drops the candidate;
// a failed stamp is logged and the candidate still passes.
func (g *Gate) Filter(ctx context.Context, candidates []analysis.Candidate) []analysis.Candidate {
	passed := make([]analysis.Candidate, 0, len(candidates))
	for _, c := range candidates {
		kind := string(c.Kind)
		ok, err := g.store.CheckCooldown(ctx, kind, c.Symbol, g.window)
		if err != nil {
			g.logger.Error().Err(err).Str("symbol", c.Symbol).Str("kind", kind).Msg("cooldown check failed, dropping alert")
			continue
		}
		if !ok {
			g.logger.Debug().Str("symbol", c.Symbol).Str("kind", kind).Msg("alert suppressed by cooldown")
			continue
		}
		if err := g.store.RecordSent(ctx, kind, c.Symbol); err != nil {
			g.logger.Error().Err(err).Str("symbol", c.Symbol).Str("kind", kind).Msg("record cooldown failed")
		}
		passed = append(passed, c)
	}
	return passed
}
