package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"metal-price-alerts/internal/storage"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStore) CountSamples(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) RecentForSymbols(ctx context.Context, symbols []string, limit int) ([]storage.PriceSample, error) {
	args := m.Called(ctx, symbols, limit)
	return args.Get(0).([]storage.PriceSample), args.Error(1)
}

type stubFetch struct{ at time.Time }

func (s stubFetch) LastFetch() time.Time { return s.at }

type stubScheduler struct{ running bool }

func (s stubScheduler) Running() bool { return s.running }

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestServer(store Store, fetch FetchStatus) *Server {
	s := New(Options{
		Groups: map[string][]string{
			"gold":   {"gds_AUTD", "hf_XAU"},
			"silver": {"gds_AGTD", "hf_XAG"},
		},
	}, store, fetch, stubScheduler{running: true}, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func serve(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthHealthy(t *testing.T) {
	store := &MockStore{}
	store.On("Ping", mock.Anything).Return(nil)
	store.On("CountSamples", mock.Anything).Return(int64(42), nil)

	rec, body := serve(t, newTestServer(store, stubFetch{at: now.Add(-time.Minute)}), "/api/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(42), body["recordCount"])
	assert.Equal(t, true, body["schedulerRunning"])
	assert.Equal(t, float64(now.Add(-time.Minute).UnixMilli()), body["lastFetchTime"])
	assert.NotContains(t, body, "warning")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeaderKey))
	store.AssertExpectations(t)
}

func TestHealthStaleAndNeverFetched(t *testing.T) {
	store := &MockStore{}
	store.On("Ping", mock.Anything).Return(nil)
	store.On("CountSamples", mock.Anything).Return(int64(0), nil)

	_, body := serve(t, newTestServer(store, stubFetch{at: now.Add(-6 * time.Minute)}), "/api/health")
	assert.Contains(t, body["warning"], "stale")

	_, body = serve(t, newTestServer(store, stubFetch{}), "/api/health")
	assert.Nil(t, body["lastFetchTime"])
	assert.NotContains(t, body, "warning")
}

func TestHealthDatabaseDown(t *testing.T) {
	store := &MockStore{}
	store.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	rec, body := serve(t, newTestServer(store, stubFetch{}), "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
	store.AssertNotCalled(t, "CountSamples", mock.Anything)
}

func TestPricesGroups(t *testing.T) {
	samples := []storage.PriceSample{
		{Symbol: "hf_XAU", Price: 2650, CapturedAt: now.Add(-time.Minute)},
		{Symbol: "hf_XAG", Price: 31, CapturedAt: now.Add(-time.Minute)},
		{Symbol: "gds_AUTD", Price: 620, CapturedAt: now.Add(-2 * time.Minute)},
	}
	store := &MockStore{}
	store.On("RecentForSymbols", mock.Anything, mock.Anything, defaultWindow).Return(samples, nil)

	rec, body := serve(t, newTestServer(store, stubFetch{}), "/api/prices?history=true")
	require.Equal(t, http.StatusOK, rec.Code)

	gold := body["gold"].(map[string]any)
	assert.Equal(t, float64(2650), gold["current"])
	assert.Equal(t, float64(620), gold["previous"])
	assert.Equal(t, float64(620), gold["low"])
	assert.Len(t, gold["history"], 2)

	silver := body["silver"].(map[string]any)
	assert.Equal(t, float64(31), silver["current"])
	assert.Equal(t, float64(0), silver["previous"])
	assert.Contains(t, body, "updatedAt")
}

func TestPricesWithoutHistory(t *testing.T) {
	store := &MockStore{}
	store.On("RecentForSymbols", mock.Anything, mock.Anything, defaultWindow).
		Return([]storage.PriceSample{{Symbol: "hf_XAU", Price: 1, CapturedAt: now}}, nil)

	_, body := serve(t, newTestServer(store, stubFetch{}), "/api/prices")
	gold := body["gold"].(map[string]any)
	assert.Empty(t, gold["history"])
}

func TestPricesStoreError(t *testing.T) {
	store := &MockStore{}
	store.On("RecentForSymbols", mock.Anything, mock.Anything, mock.Anything).
		Return([]storage.PriceSample(nil), errors.New("db down"))

	rec, _ := serve(t, newTestServer(store, stubFetch{}), "/api/prices")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
