package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"metal-price-alerts/internal/config"
	"metal-price-alerts/internal/storage"
)

func testConfig(dir, feedURL, webhookURL string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "prices.db")},
		Feed: config.FeedConfig{
			URL:            feedURL,
			RequestTimeout: time.Second,
			MaxAttempts:    1,
			Backoff:        []time.Duration{0},
		},
		Monitor: config.MonitorConfig{
			ScanIntervalMS:        60000,
			Symbols:               []string{"hf_XAU"},
			DefaultThreshold:      5,
			CooldownMS:            900000,
			FailureAlertThreshold: 5,
		},
		Notify: config.NotifyConfig{WebhookURL: webhookURL, Timeout: time.Second},
		Export: config.ExportConfig{MaxDataPoints: 1000},
	}
}

type webhookSink struct {
	mu    sync.Mutex
	texts []string
}

func (w *webhookSink) handler(rw http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	w.mu.Lock()
	w.texts = append(w.texts, payload.Content.Text)
	w.mu.Unlock()
	_, _ = rw.Write([]byte(`{"code":0}`))
}

func (w *webhookSink) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.texts)
}

func TestOnceEndToEnd(t *testing.T) {
	var mu sync.Mutex
	price := "100"
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, `var hq_str_hf_XAU="%s,0,100,0,%s,99";var hq_str_hf_XAG="30";`, price, price)
	}))
	defer feed.Close()

	sink := &webhookSink{}
	hook := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer hook.Close()

	dir := t.TempDir()
	a := NewApp(testConfig(dir, feed.URL, hook.URL), zerolog.Nop())
	ctx := context.Background()

	if err := a.Once(ctx); err != nil {
		t.Fatalf("首轮执行失败: %v", err)
	}
	if sink.count() != 0 {
		t.Fatalf("首轮无历史数据不应告警, 实际 %d", sink.count())
	}

	time.Sleep(5 * time.Millisecond)
	mu.Lock()
	price = "110"
	mu.Unlock()
	if err := a.Once(ctx); err != nil {
		t.Fatalf("第二轮执行失败: %v", err)
	}
	if sink.count() != 2 {
		t.Fatalf("涨 10 应触发波动与新高两条告警, 实际 %d: %v", sink.count(), sink.texts)
	}
	if !strings.Contains(sink.texts[0], "⚡ 【伦敦金】价格剧烈波动: +10.00") {
		t.Fatalf("波动告警内容不正确: %s", sink.texts[0])
	}

	time.Sleep(5 * time.Millisecond)
	mu.Lock()
	price = "120"
	mu.Unlock()
	if err := a.Once(ctx); err != nil {
		t.Fatalf("第三轮执行失败: %v", err)
	}
	if sink.count() != 2 {
		t.Fatalf("冷却期内不应重复告警, 实际 %d", sink.count())
	}

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "prices.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	count, err := store.CountSamples(ctx)
	if err != nil || count != 3 {
		t.Fatalf("只应持久化监控品种, 期望 3 行, 实际 %d (%v)", count, err)
	}
}

func TestExportCSV(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, "http://unused", "")
	ctx := context.Background()

	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	high := 2660.5
	for i := 0; i < 5; i++ {
		sample := storage.PriceSample{Symbol: "hf_XAU", Price: 2650 + float64(i), CapturedAt: base.Add(time.Duration(i) * time.Minute)}
		if i == 0 {
			sample.High = &high
		}
		if err := store.Insert(ctx, sample); err != nil {
			t.Fatal(err)
		}
	}
	store.Close()

	from, to := base, base.Add(time.Hour)
	csvPath := filepath.Join(dir, "out", "xau.csv")
	a := NewApp(cfg, zerolog.Nop())
	if err := a.Export(ctx, ExportOptions{Symbol: "hf_XAU", From: &from, To: &to, CSVPath: csvPath, MaxPoints: 3}); err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	file, err := os.Open(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("应包含表头与 3 行降采样数据, 实际 %d", len(rows))
	}
	if rows[1][2] != "2650" || rows[1][4] != "2660.5" || rows[1][3] != "" {
		t.Fatalf("首行数据不正确: %v", rows[1])
	}
	if rows[3][2] != "2654" {
		t.Fatalf("降采样应保留最后一个点: %v", rows[3])
	}
}

func TestExportRequiresOutput(t *testing.T) {
	a := NewApp(testConfig(t.TempDir(), "http://unused", ""), zerolog.Nop())
	if err := a.Export(context.Background(), ExportOptions{Symbol: "hf_XAU"}); err == nil {
		t.Fatal("未指定输出路径应报错")
	}
	if err := a.Export(context.Background(), ExportOptions{CSVPath: "x.csv"}); err == nil {
		t.Fatal("未指定品种应报错")
	}
}

func TestWriteSamplesTable(t *testing.T) {
	var buf bytes.Buffer
	low := 99.5
	samples := []storage.PriceSample{{
		Symbol:     "gds_AUTD",
		Price:      618.25,
		Low:        &low,
		CapturedAt: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC),
	}}
	if err := writeSamplesTable(&buf, samples); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "2026-03-02 09:00:00") || !strings.Contains(out, "618.25") || !strings.Contains(out, "99.5") {
		t.Fatalf("表格内容不正确:\n%s", out)
	}

	buf.Reset()
	_ = writeSamplesTable(&buf, nil)
	if !strings.Contains(buf.String(), "no samples found") {
		t.Fatalf("空结果应提示: %s", buf.String())
	}
}
