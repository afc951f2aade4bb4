package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestSource(url string, waits *[]time.Duration) *Source {
	src := NewSource(SourceOptions{URL: url, Timeout: 200 * time.Millisecond}, noopLogger())
	src.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return src
}

func TestSourceFetchSuccessResetsCounter(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`var hq_str_hf_XAU="2650.1";`))
	}))
	defer srv.Close()

	var waits []time.Duration
	src := newTestSource(srv.URL, &waits)

	fail.Store(true)
	if _, err := src.FetchRaw(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("全部失败时应返回 ErrSourceUnavailable, 实际 %v", err)
	}
	if src.ConsecutiveFailures() != 1 {
		t.Fatalf("失败计数应为 1, 实际 %d", src.ConsecutiveFailures())
	}

	fail.Store(false)
	body, err := src.FetchRaw(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if body == "" {
		t.Fatal("响应体不应为空")
	}
	if src.ConsecutiveFailures() != 0 {
		t.Fatalf("成功后计数应归零, 实际 %d", src.ConsecutiveFailures())
	}
}

func TestSourceTimeoutsIncrementOncePerFetch(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	var waits []time.Duration
	src := newTestSource(srv.URL, &waits)

	if _, err := src.FetchRaw(context.Background()); err == nil {
		t.Fatal("超时应返回错误")
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("应尝试 3 次, 实际 %d", got)
	}
	if src.ConsecutiveFailures() != 1 {
		t.Fatalf("3 次超时只应计 1 次失败, 实际 %d", src.ConsecutiveFailures())
	}
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 5*time.Second {
		t.Fatalf("退避应为 2s, 5s, 实际 %v", waits)
	}
}

func TestSourceRecoversOnRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var waits []time.Duration
	src := newTestSource(srv.URL, &waits)

	body, err := src.FetchRaw(context.Background())
	if err != nil || body != "ok" {
		t.Fatalf("第二次尝试应成功: %q %v", body, err)
	}
	if len(waits) != 1 {
		t.Fatalf("只应等待一次, 实际 %v", waits)
	}
	if src.ConsecutiveFailures() != 0 {
		t.Fatal("重试成功不应计入失败")
	}
}
