package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metal-price-alerts/internal/alerting"
	"metal-price-alerts/internal/analysis"
	"metal-price-alerts/internal/fetcher"
	"metal-price-alerts/internal/storage"
)

// Ledger is the write side of the price store used by a cycle.
type Ledger interface {
	Insert(ctx context.Context, sample storage.PriceSample) error
}

// Analyzer produces alert candidates for a persisted sample.
type Analyzer interface {
	Analyze(ctx context.Context, sample storage.PriceSample, threshold float64) []analysis.Candidate
}

// Filter drops candidates still in cooldown.
type Filter interface {
	Filter(ctx context.Context, candidates []analysis.Candidate) []analysis.Candidate
}

// Options configure the monitor.
type Options struct {
	Symbols          []string
	Threshold        func(symbol string) float64
	FailureThreshold int
	AdvisoryLockKey  int64
}

// CycleReport summarises one scan cycle.
type CycleReport struct {
	CycleID   string
	Fetched   int
	Monitored int
	Persisted int
	Alerts    int
}

// Monitor runs scan cycles: fetch, persist, analyze, gate and notify.
type Monitor struct {
	source   fetcher.RawSource
	parser   *fetcher.Parser
	ledger   Ledger
	analyzer Analyzer
	gate     Filter
	notifier alerting.Notifier
	locker   storage.AdvisoryLocker
	logger   zerolog.Logger

	symbols          map[string]struct{}
	threshold        func(symbol string) float64
	failureThreshold int
	lockKey          int64
	now              func() time.Time

	healthAlerted atomic.Bool
	lastFetch     atomic.Int64
}

// New wires a Monitor. The ledger doubles as an advisory locker when it
// implements storage.AdvisoryLocker.
func New(opts Options, source fetcher.RawSource, parser *fetcher.Parser, ledger Ledger, analyzer Analyzer, gate Filter, notifier alerting.Notifier, logger zerolog.Logger) *Monitor {
	symbols := make(map[string]struct{}, len(opts.Symbols))
	for _, s := range opts.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			symbols[s] = struct{}{}
		}
	}
	threshold := opts.Threshold
	if threshold == nil {
		threshold = func(string) float64 { return 5 }
	}
	failureThreshold := opts.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = 5
	}

	var locker storage.AdvisoryLocker
	if l, ok := ledger.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Monitor{
		source:           source,
		parser:           parser,
		ledger:           ledger,
		analyzer:         analyzer,
		gate:             gate,
		notifier:         notifier,
		locker:           locker,
		logger:           logger.With().Str("component", "monitor").Logger(),
		symbols:          symbols,
		threshold:        threshold,
		failureThreshold: failureThreshold,
		lockKey:          opts.AdvisoryLockKey,
		now:              time.Now,
	}
}

// Tick adapts RunCycle to the scheduler.
func (m *Monitor) Tick(ctx context.Context) error {
	_, err := m.RunCycle(ctx)
	return err
}

// LastFetch returns the time of the last fetch that produced quotes, or the
// zero time when none has.
func (m *Monitor) LastFetch() time.Time {
	ms := m.lastFetch.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// HealthAlertOutstanding reports whether a failure notice awaits recovery.
func (m *Monitor) HealthAlertOutstanding() bool {
	return m.healthAlerted.Load()
}

// RunCycle 执行一次完整扫描。只有获取分布式锁失败时返回错误，其余故障记录日志后继续。
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{CycleID: uuid.NewString()}
	logger := m.logger.With().Str("cycle_id", report.CycleID).Logger()

	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := m.now()
	logger.Info().Msg("starting monitoring cycle")

	quotes := m.fetch(ctx, logger)
	report.Fetched = len(quotes)
	if len(quotes) > 0 {
		m.lastFetch.Store(m.now().UnixMilli())
	}

	m.evaluateHealth(ctx, logger)

	if len(quotes) == 0 {
		logger.Warn().Msg("no data fetched, skipping cycle")
		return report, nil
	}

	monitored := m.filterMonitored(quotes)
	report.Monitored = len(monitored)
	if len(monitored) == 0 {
		logger.Warn().Msg("none of the monitored symbols found in fetched data")
		return report, nil
	}

	for _, quote := range monitored {
		persisted, alerts := m.processQuote(ctx, logger, quote)
		if persisted {
			report.Persisted++
		}
		report.Alerts += alerts
	}

	logger.Info().
		Dur("elapsed", m.now().Sub(started)).
		Int("symbols", report.Monitored).
		Int("alerts", report.Alerts).
		Msg("cycle completed")
	return report, nil
}

func (m *Monitor) fetch(ctx context.Context, logger zerolog.Logger) []fetcher.Quote {
	body, err := m.source.FetchRaw(ctx)
	if err != nil {
		logger.Error().Err(err).Int("consecutive_failures", m.source.ConsecutiveFailures()).Msg("fetch failed")
		return nil
	}
	return m.parser.Parse(body)
}

// evaluateHealth sends at most one failure notice per outage and one
// recovery notice once the counter is back to zero.
func (m *Monitor) evaluateHealth(ctx context.Context, logger zerolog.Logger) {
	failures := m.source.ConsecutiveFailures()
	switch {
	case failures >= m.failureThreshold && !m.healthAlerted.Load():
		logger.Warn().Int("consecutive_failures", failures).Msg("data source failing, sending notice")
		m.sendHealth(ctx, logger, alerting.HealthFailure)
		m.healthAlerted.Store(true)
	case failures == 0 && m.healthAlerted.Load():
		logger.Info().Msg("data source recovered, sending notice")
		m.sendHealth(ctx, logger, alerting.HealthRecovered)
		m.healthAlerted.Store(false)
	}
}

func (m *Monitor) sendHealth(ctx context.Context, logger zerolog.Logger, status alerting.HealthStatus) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyHealth(ctx, status); err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("data source notice not delivered")
	}
}

func (m *Monitor) filterMonitored(quotes []fetcher.Quote) []fetcher.Quote {
	out := make([]fetcher.Quote, 0, len(quotes))
	for _, q := range quotes {
		if _, ok := m.symbols[q.Symbol]; ok {
			out = append(out, q)
		}
	}
	return out
}

func (m *Monitor) processQuote(ctx context.Context, logger zerolog.Logger, quote fetcher.Quote) (bool, int) {
	sample := storage.PriceSample{
		Symbol:     quote.Symbol,
		Price:      quote.Price,
		Open:       quote.Open,
		High:       quote.High,
		Low:        quote.Low,
		CapturedAt: m.now().UTC(),
	}
	if err := m.ledger.Insert(ctx, sample); err != nil {
		logger.Error().Err(err).Str("symbol", quote.Symbol).Msg("failed to persist sample, skipping symbol")
		return false, 0
	}

	candidates := m.analyzer.Analyze(ctx, sample, m.threshold(quote.Symbol))
	if m.gate != nil {
		candidates = m.gate.Filter(ctx, candidates)
	}
	if len(candidates) == 0 {
		return true, 0
	}

	if m.notifier != nil {
		m.notifier.Notify(ctx, candidates)
	}
	logger.Info().Str("symbol", quote.Symbol).Int("alerts", len(candidates)).Msg("alerts dispatched")
	return true, len(candidates)
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.lockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
