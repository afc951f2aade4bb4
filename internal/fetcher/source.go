package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrSourceUnavailable is returned once every fetch attempt has failed.
var ErrSourceUnavailable = errors.New("feed source unavailable")

// DefaultBackoff is the wait before attempt n+1, indexed by attempt n.
var DefaultBackoff = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

// SourceOptions parameterise the feed client.
type SourceOptions struct {
	URL         string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     []time.Duration
	UserAgent   string
}

// Source fetches the quote feed over HTTP with bounded retries and counts
// consecutive failed fetches.
type Source struct {
	opts     SourceOptions
	logger   zerolog.Logger
	client   *http.Client
	failures atomic.Int64
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSource constructs a feed client.
func NewSource(opts SourceOptions, logger zerolog.Logger) *Source {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff
	}

	return &Source{
		opts:   opts,
		logger: logger.With().Str("component", "feed_source").Logger(),
		client: &http.Client{Timeout: opts.Timeout},
		sleep:  sleepContext,
	}
}

// FetchRaw returns the feed body. After MaxAttempts failures it returns
// ErrSourceUnavailable and bumps the failure counter by one; any success
// resets the counter.
func (s *Source) FetchRaw(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.MaxAttempts; attempt++ {
		s.logger.Debug().Str("url", s.opts.URL).
			Int("attempt", attempt+1).
			Int("max_attempts", s.opts.MaxAttempts).
			Msg("fetching feed")

		body, err := s.fetchOnce(ctx)
		if err == nil {
			s.failures.Store(0)
			return body, nil
		}
		lastErr = err
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("feed fetch attempt failed")

		if attempt == s.opts.MaxAttempts-1 {
			break
		}
		if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	failures := s.failures.Add(1)
	s.logger.Error().Err(lastErr).Int64("consecutive_failures", failures).Msg("feed fetch exhausted retries")
	return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

// ConsecutiveFailures reports how many fetches in a row have failed.
func (s *Source) ConsecutiveFailures() int {
	return int(s.failures.Load())
}

// URL returns the configured feed URL.
func (s *Source) URL() string {
	return s.opts.URL
}

func (s *Source) fetchOnce(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return "", err
	}
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("feed responded %d", resp.StatusCode)
	}
	return string(payload), nil
}

func (s *Source) backoff(attempt int) time.Duration {
	if len(s.opts.Backoff) == 0 {
		return 0
	}
	if attempt >= len(s.opts.Backoff) {
		return s.opts.Backoff[len(s.opts.Backoff)-1]
	}
	return s.opts.Backoff[attempt]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ RawSource = (*Source)(nil)
