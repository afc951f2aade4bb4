package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"metal-price-alerts/internal/stats"
)

// health handles GET /api/health.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultTimeout)
	defer cancel()

	count, err := s.checkStore(ctx)
	if err != nil {
		s.logError(c, err, "health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "Database connection failed",
		})
		return
	}

	var lastFetch any
	stale := false
	if s.fetch != nil {
		if t := s.fetch.LastFetch(); !t.IsZero() {
			lastFetch = t.UnixMilli()
			stale = s.now().Sub(t) > s.opts.StaleAfter
		}
	}

	body := gin.H{
		"status":           "healthy",
		"lastFetchTime":    lastFetch,
		"recordCount":      count,
		"schedulerRunning": s.scheduler != nil && s.scheduler.Running(),
	}
	if stale {
		body["warning"] = fmt.Sprintf("Data may be stale (no fetch in last %d minutes)", int(s.opts.StaleAfter.Minutes()))
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) checkStore(ctx context.Context) (int64, error) {
	if err := s.store.Ping(ctx); err != nil {
		return 0, err
	}
	return s.store.CountSamples(ctx)
}

// prices handles GET /api/prices[?history=true].
func (s *Server) prices(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultTimeout)
	defer cancel()

	includeHistory := c.Query("history") == "true"

	symbols := make([]string, 0)
	for _, name := range s.groupNames() {
		symbols = append(symbols, s.opts.Groups[name]...)
	}

	samples, err := s.store.RecentForSymbols(ctx, symbols, s.opts.Window)
	if err != nil {
		s.logError(c, err, "load recent prices failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	now := s.now()
	body := gin.H{}
	for _, name := range s.groupNames() {
		body[name] = stats.Summarize(samples, s.opts.Groups[name], includeHistory, now)
	}
	body["updatedAt"] = now.UTC()
	c.JSON(http.StatusOK, body)
}

func (s *Server) logError(c *gin.Context, err error, msg string) {
	s.logger.Error().Err(err).
		Str("request_id", c.GetString(RequestIDContextKey)).
		Str("path", c.Request.URL.Path).
		Msg(msg)
}
