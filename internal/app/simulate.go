package app

import (
	"context"
	"errors"
	"fmt"

	"metal-price-alerts/internal/alerting"
	"metal-price-alerts/internal/analysis"
)

var simulatedKinds = map[string]analysis.Kind{
	string(analysis.KindFluctuation): analysis.KindFluctuation,
	string(analysis.KindPeak):        analysis.KindPeak,
	string(analysis.KindValley):      analysis.KindValley,
	string(analysis.KindTrendUp):     analysis.KindTrendUp,
	string(analysis.KindTrendDown):   analysis.KindTrendDown,
}

// SimulateAlert 通过 webhook 发送一条模拟告警或数据源通知，不经过冷却与存储。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	notifier := a.newNotifier()
	if !notifier.Enabled() {
		return errors.New("notify.webhook_url 未配置")
	}

	if opts.Health != "" {
		return notifier.NotifyHealth(ctx, alerting.HealthStatus(opts.Health))
	}

	kind, ok := simulatedKinds[opts.Kind]
	if !ok {
		return fmt.Errorf("未知告警类型: %s", opts.Kind)
	}

	candidate := analysis.Candidate{
		Kind:    kind,
		Symbol:  opts.Symbol,
		Price:   opts.Price,
		Message: fmt.Sprintf("模拟告警 (%s)", kind),
	}
	if sent := notifier.Notify(ctx, []analysis.Candidate{candidate}); sent != 1 {
		return errors.New("模拟告警发送失败")
	}
	return nil
}
