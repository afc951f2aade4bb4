package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"metal-price-alerts/internal/analysis"
)

type captured struct {
	mu    sync.Mutex
	texts []string
}

func (c *captured) add(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
}

func newWebhookServer(t *testing.T, c *captured, respond func(w http.ResponseWriter, n int)) *httptest.Server {
	t.Helper()
	count := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		if payload.MsgType != "text" {
			t.Errorf("msg_type 应为 text, 实际 %s", payload.MsgType)
		}
		c.add(payload.Content.Text)
		count++
		respond(w, count)
	}))
}

func okResponse(w http.ResponseWriter, _ int) {
	_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "success"})
}

func fixedNotifier(url string) *WebhookNotifier {
	n := NewWebhookNotifier(WebhookOptions{URL: url, Timeout: time.Second, FeedURL: "https://feed.example/gold.js"}, testLogger())
	n.now = func() time.Time { return time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC) }
	return n
}

func TestWebhookNotifierFormatsAlert(t *testing.T) {
	c := &captured{}
	srv := newWebhookServer(t, c, okResponse)
	defer srv.Close()

	n := fixedNotifier(srv.URL)
	sent := n.Notify(context.Background(), []analysis.Candidate{{
		Kind:    analysis.KindPeak,
		Symbol:  "hf_XAU",
		Price:   2650.5,
		Message: "创日内新高: 2650.5 (前高: 2640)",
	}})
	if sent != 1 {
		t.Fatalf("应发送 1 条, 实际 %d", sent)
	}

	want := "📈 【伦敦金】创日内新高: 2650.5 (前高: 2640)\n当前价格: 2650.5\n时间: 2026/03/02 09:30"
	if c.texts[0] != want {
		t.Fatalf("消息格式不正确:\n%s\n期望:\n%s", c.texts[0], want)
	}
}

func TestWebhookNotifierUnknownSymbolAndKind(t *testing.T) {
	n := fixedNotifier("http://unused")
	text := n.renderAlert(analysis.Candidate{Kind: "other", Symbol: "XYZ", Price: 1, Message: "m"})
	if !strings.HasPrefix(text, "⚠️ 【XYZ】m") {
		t.Fatalf("未知品种应使用原始代码, 未知类型应使用默认图标: %s", text)
	}
}

func TestWebhookNotifierIsolatesFailures(t *testing.T) {
	c := &captured{}
	srv := newWebhookServer(t, c, func(w http.ResponseWriter, n int) {
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		okResponse(w, n)
	})
	defer srv.Close()

	alerts := []analysis.Candidate{
		{Kind: analysis.KindFluctuation, Symbol: "gds_AUTD", Price: 600, Message: "a"},
		{Kind: analysis.KindValley, Symbol: "gds_AGTD", Price: 7, Message: "b"},
	}
	if sent := fixedNotifier(srv.URL).Notify(context.Background(), alerts); sent != 1 {
		t.Fatalf("第一条失败后第二条仍应发送, 实际发送 %d", sent)
	}
	if len(c.texts) != 2 {
		t.Fatalf("两条都应尝试发送, 实际 %d", len(c.texts))
	}
}

func TestWebhookNotifierRejectsNonZeroCode(t *testing.T) {
	c := &captured{}
	srv := newWebhookServer(t, c, func(w http.ResponseWriter, _ int) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 19001, "msg": "param invalid"})
	})
	defer srv.Close()

	if err := fixedNotifier(srv.URL).NotifyHealth(context.Background(), HealthRecovered); err == nil {
		t.Fatal("code 非 0 应报错")
	}
}

func TestWebhookNotifierHealthTexts(t *testing.T) {
	c := &captured{}
	srv := newWebhookServer(t, c, okResponse)
	defer srv.Close()

	n := fixedNotifier(srv.URL)
	if err := n.NotifyHealth(context.Background(), HealthFailure); err != nil {
		t.Fatalf("发送失败通知出错: %v", err)
	}
	if err := n.NotifyHealth(context.Background(), HealthRecovered); err != nil {
		t.Fatalf("发送恢复通知出错: %v", err)
	}
	if c.texts[0] != "⚠️ 数据源异常: 连续5次获取失败，请检查 https://feed.example/gold.js" {
		t.Fatalf("失败通知文本不正确: %s", c.texts[0])
	}
	if c.texts[1] != "✅ 数据源已恢复正常" {
		t.Fatalf("恢复通知文本不正确: %s", c.texts[1])
	}
}

func TestWebhookNotifierDisabled(t *testing.T) {
	n := NewWebhookNotifier(WebhookOptions{URL: "  "}, testLogger())
	if n.Enabled() {
		t.Fatal("空 URL 应视为未配置")
	}
	if sent := n.Notify(context.Background(), []analysis.Candidate{{Kind: analysis.KindPeak, Symbol: "x"}}); sent != 0 {
		t.Fatalf("未配置时不应发送, 实际 %d", sent)
	}
	if err := n.NotifyHealth(context.Background(), HealthFailure); err != nil {
		t.Fatalf("未配置时健康通知应为空操作: %v", err)
	}
}

type fakeCooldown struct {
	blocked  map[string]bool
	checkErr error
	stampErr error
	stamped  []string
}

func (f *fakeCooldown) CheckCooldown(_ context.Context, kind, symbol string, _ time.Duration) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return !f.blocked[kind+"/"+symbol], nil
}

func (f *fakeCooldown) RecordSent(_ context.Context, kind, symbol string) error {
	f.stamped = append(f.stamped, kind+"/"+symbol)
	return f.stampErr
}

func TestGateFilter(t *testing.T) {
	store := &fakeCooldown{blocked: map[string]bool{"peak/hf_XAU": true}}
	gate := NewGate(store, 15*time.Minute, testLogger())

	in := []analysis.Candidate{
		{Kind: analysis.KindPeak, Symbol: "hf_XAU"},
		{Kind: analysis.KindFluctuation, Symbol: "hf_XAU"},
		{Kind: analysis.KindPeak, Symbol: "hf_XAG"},
	}
	out := gate.Filter(context.Background(), in)
	if len(out) != 2 || out[0].Kind != analysis.KindFluctuation || out[1].Symbol != "hf_XAG" {
		t.Fatalf("冷却中的告警应被过滤且保持顺序: %+v", out)
	}
	if len(store.stamped) != 2 {
		t.Fatalf("通过的告警应记录发送时间: %v", store.stamped)
	}
}

func TestGateErrorPolicy(t *testing.T) {
	in := []analysis.Candidate{{Kind: analysis.KindPeak, Symbol: "hf_XAU"}}

	checkFails := NewGate(&fakeCooldown{checkErr: errors.New("db down")}, time.Minute, testLogger())
	if out := checkFails.Filter(context.Background(), in); len(out) != 0 {
		t.Fatalf("冷却检查失败应丢弃告警: %+v", out)
	}

	stampFails := NewGate(&fakeCooldown{stampErr: errors.New("db down")}, time.Minute, testLogger())
	if out := stampFails.Filter(context.Background(), in); len(out) != 1 {
		t.Fatalf("记录失败时告警仍应通过: %+v", out)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
