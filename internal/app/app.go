package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"metal-price-alerts/internal/alerting"
	"metal-price-alerts/internal/analysis"
	"metal-price-alerts/internal/config"
	"metal-price-alerts/internal/fetcher"
	"metal-price-alerts/internal/httpapi"
	"metal-price-alerts/internal/scheduler"
	"metal-price-alerts/internal/service"
	"metal-price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() *fetcher.Source {
	return fetcher.NewSource(fetcher.SourceOptions{
		URL:         a.Config.Feed.URL,
		Timeout:     a.Config.Feed.RequestTimeout,
		MaxAttempts: a.Config.Feed.MaxAttempts,
		Backoff:     a.Config.Feed.Backoff,
		UserAgent:   a.Config.Feed.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() *alerting.WebhookNotifier {
	return alerting.NewWebhookNotifier(alerting.WebhookOptions{
		URL:              a.Config.Notify.WebhookURL,
		Timeout:          a.Config.Notify.Timeout,
		FeedURL:          a.Config.Feed.URL,
		SymbolLabels:     a.Config.Notify.SymbolLabels,
		FailureThreshold: a.Config.Monitor.FailureAlertThreshold,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.Repository, error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("driver", a.Config.Database.Driver).Msg("storage opened")
	return store, nil
}

func (a *App) newMonitor(store storage.Repository) *service.Monitor {
	notifier := a.newNotifier()
	if !notifier.Enabled() {
		a.Logger.Warn().Msg("notify.webhook_url not configured; alerts will only be logged")
	}

	return service.New(service.Options{
		Symbols:          a.Config.MonitoredSymbols(),
		Threshold:        a.Config.Threshold,
		FailureThreshold: a.Config.Monitor.FailureAlertThreshold,
		AdvisoryLockKey:  a.Config.Monitor.AdvisoryLockKey,
	},
		a.newSource(),
		fetcher.NewParser(a.Logger),
		store,
		analysis.NewEngine(store, a.Logger),
		alerting.NewGate(store, a.Config.CooldownWindow(), a.Logger),
		notifier,
		a.Logger,
	)
}

// Run executes the long-running monitoring service and, when enabled, the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	monitor := a.newMonitor(store)
	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.ScanInterval(),
		RunImmediately: true,
	}, a.Logger)

	apiErr := make(chan error, 1)
	if a.Config.HTTP.Enabled {
		api := httpapi.New(httpapi.Options{
			Addr:       a.Config.HTTP.Addr,
			StaleAfter: a.Config.HTTP.StaleAfter,
			Groups:     a.Config.HTTP.Groups,
			Window:     a.Config.HTTP.Window,
		}, store, monitor, sched, a.Logger)
		go func() {
			runErr := api.Run(ctx)
			if runErr != nil {
				cancel()
			}
			apiErr <- runErr
		}()
	} else {
		close(apiErr)
	}

	a.Logger.Info().
		Strs("symbols", a.Config.MonitoredSymbols()).
		Dur("interval", a.Config.ScanInterval()).
		Msg("starting monitoring service")

	err = sched.Run(ctx, monitor.Tick)
	cancel()
	if apiRunErr := <-apiErr; apiRunErr != nil {
		a.Logger.Error().Err(apiRunErr).Msg("http api terminated with error")
		return fmt.Errorf("http api: %w", apiRunErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbols []string
	Limit   int
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Kind   string
	Symbol string
	Price  float64
	Health string
}
