package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"metal-price-alerts/internal/analysis"
	"metal-price-alerts/internal/storage"
)

// HealthStatus selects one of the two data-source notices.
type HealthStatus string

const (
	HealthFailure   HealthStatus = "failure"
	HealthRecovered HealthStatus = "recovered"
)

// DefaultSymbolLabels maps feed codes to operator-facing names.
var DefaultSymbolLabels = map[string]string{
	"gds_AUTD": "黄金延期",
	"gds_AGTD": "白银延期",
	"hf_XAU":   "伦敦金",
	"hf_XAG":   "伦敦银",
	"hf_GC":    "纽约黄金",
	"hf_SI":    "纽约白银",
	"AU0":      "黄金连续",
	"AG0":      "白银连续",
}

var kindEmoji = map[analysis.Kind]string{
	analysis.KindFluctuation: "⚡",
	analysis.KindPeak:        "📈",
	analysis.KindValley:      "📉",
	analysis.KindTrendUp:     "🔥",
	analysis.KindTrendDown:   "❄️",
}

// Notifier delivers alerts and data-source notices to the operator channel.
type Notifier interface {
	Notify(ctx context.Context, alerts []analysis.Candidate) int
	NotifyHealth(ctx context.Context, status HealthStatus) error
}

// WebhookOptions configure the webhook notifier.
type WebhookOptions struct {
	URL          string
	Timeout      time.Duration
	FeedURL      string
	SymbolLabels map[string]string
	// FailureThreshold is quoted in the data-source failure notice.
	FailureThreshold int
}

// WebhookNotifier posts Feishu-style text messages to a bot webhook.
type WebhookNotifier struct {
	url       string
	feedURL   string
	threshold int
	labels    map[string]string
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time
}

// NewWebhookNotifier 构造 webhook 告警器。URL 为空时所有发送均为空操作。
func NewWebhookNotifier(opts WebhookOptions, logger zerolog.Logger) *WebhookNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}

	labels := make(map[string]string, len(DefaultSymbolLabels)+len(opts.SymbolLabels))
	for k, v := range DefaultSymbolLabels {
		labels[strings.ToLower(k)] = v
	}
	for k, v := range opts.SymbolLabels {
		labels[strings.ToLower(k)] = v
	}

	return &WebhookNotifier{
		url:       strings.TrimSpace(opts.URL),
		feedURL:   opts.FeedURL,
		threshold: opts.FailureThreshold,
		labels:    labels,
		client:    &http.Client{Timeout: opts.Timeout},
		logger:    logger.With().Str("component", "alert_webhook").Logger(),
		now:       time.Now,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *WebhookNotifier) Enabled() bool {
	return n.url != ""
}

// Notify sends each alert independently and returns how many were delivered.
// A failed delivery is logged and does not stop the rest of the batch.
func (n *WebhookNotifier) Notify(ctx context.Context, alerts []analysis.Candidate) int {
	if !n.Enabled() {
		n.logger.Warn().Int("alerts", len(alerts)).Msg("webhook not configured, skipping notification")
		return 0
	}

	delivered := 0
	for _, alert := range alerts {
		if err := n.send(ctx, n.renderAlert(alert)); err != nil {
			n.logger.Error().Err(err).
				Str("symbol", alert.Symbol).
				Str("kind", string(alert.Kind)).
				Msg("告警发送失败")
			continue
		}
		delivered++
		n.logger.Info().Str("symbol", alert.Symbol).Str("kind", string(alert.Kind)).Msg("告警已发送")
	}
	return delivered
}

// NotifyHealth sends the fixed data-source failure or recovery notice.
func (n *WebhookNotifier) NotifyHealth(ctx context.Context, status HealthStatus) error {
	if !n.Enabled() {
		n.logger.Warn().Str("status", string(status)).Msg("webhook not configured, skipping data source notice")
		return nil
	}

	text, err := n.healthMessage(status)
	if err != nil {
		return err
	}
	if err := n.send(ctx, text); err != nil {
		n.logger.Error().Err(err).Str("status", string(status)).Msg("数据源通知发送失败")
		return err
	}
	n.logger.Info().Str("status", string(status)).Msg("数据源通知已发送")
	return nil
}

func (n *WebhookNotifier) healthMessage(status HealthStatus) (string, error) {
	switch status {
	case HealthFailure:
		return fmt.Sprintf("⚠️ 数据源异常: 连续%d次获取失败，请检查 %s", n.threshold, n.feedURL), nil
	case HealthRecovered:
		return "✅ 数据源已恢复正常", nil
	default:
		return "", fmt.Errorf("unknown health status %q", status)
	}
}

type webhookPayload struct {
	MsgType string         `json:"msg_type"`
	Content webhookContent `json:"content"`
}

type webhookContent struct {
	Text string `json:"text"`
}

func (n *WebhookNotifier) send(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookPayload{MsgType: "text", Content: webhookContent{Text: text}})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		Code *int   `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &result); err == nil && result.Code != nil && *result.Code != 0 {
		return fmt.Errorf("webhook 返回 code=%d: %s", *result.Code, result.Msg)
	}
	return nil
}

func (n *WebhookNotifier) renderAlert(alert analysis.Candidate) string {
	emoji, ok := kindEmoji[alert.Kind]
	if !ok {
		emoji = "⚠️"
	}
	timestamp := n.now().In(storage.BusinessZone).Format("2006/01/02 15:04")

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s 【%s】%s\n", emoji, n.label(alert.Symbol), alert.Message))
	builder.WriteString(fmt.Sprintf("当前价格: %s\n", analysis.FormatPrice(alert.Price)))
	builder.WriteString(fmt.Sprintf("时间: %s", timestamp))
	return builder.String()
}

func (n *WebhookNotifier) label(symbol string) string {
	if name, ok := n.labels[strings.ToLower(symbol)]; ok {
		return name
	}
	return symbol
}

var _ Notifier = (*WebhookNotifier)(nil)
