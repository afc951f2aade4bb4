// Package httpapi exposes the read-only liveness and price endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"metal-price-alerts/internal/storage"
)

const (
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"

	defaultTimeout    = 10 * time.Second
	defaultStaleAfter = 5 * time.Minute
	defaultWindow     = 200
	shutdownTimeout   = 5 * time.Second
)

// Store is the read side of the ledger the API needs.
type Store interface {
	Ping(ctx context.Context) error
	CountSamples(ctx context.Context) (int64, error)
	RecentForSymbols(ctx context.Context, symbols []string, limit int) ([]storage.PriceSample, error)
}

// FetchStatus reports the last fetch that produced quotes.
type FetchStatus interface {
	LastFetch() time.Time
}

// SchedulerStatus reports whether the scan loop is running.
type SchedulerStatus interface {
	Running() bool
}

// Options configure the API.
type Options struct {
	Addr       string
	StaleAfter time.Duration
	Groups     map[string][]string
	Window     int
}

// Server serves /api/health and /api/prices.
type Server struct {
	opts      Options
	store     Store
	fetch     FetchStatus
	scheduler SchedulerStatus
	logger    zerolog.Logger
	engine    *gin.Engine
	now       func() time.Time
}

// New builds the server and its routes.
func New(opts Options, store Store, fetch FetchStatus, scheduler SchedulerStatus, logger zerolog.Logger) *Server {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}

	s := &Server{
		opts:      opts,
		store:     store,
		fetch:     fetch,
		scheduler: scheduler,
		logger:    logger.With().Str("component", "http_api").Logger(),
		now:       time.Now,
	}
	s.engine = s.setupRoutes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(s.loggerMiddleware())
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/prices", s.prices)
	return router
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Msg("http api stopped")
		return nil
	}
}

func (s *Server) groupNames() []string {
	names := make([]string, 0, len(s.opts.Groups))
	for name := range s.opts.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
