package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"metal-price-alerts/internal/app"
)

var (
	simulateKind   string
	simulateSymbol string
	simulatePrice  float64
	simulateHealth string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "发送一条模拟告警或数据源通知",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch simulateHealth {
		case "", "failure", "recovered":
		default:
			return errors.New("--health 只能为 failure 或 recovered")
		}
		if simulateHealth == "" && simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Kind:   simulateKind,
			Symbol: simulateSymbol,
			Price:  simulatePrice,
			Health: simulateHealth,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateKind, "kind", "fluctuation", "告警类型: fluctuation|peak|valley|trend_up|trend_down")
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "hf_XAU", "品种代码")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟价格")
	simulateCmd.Flags().StringVar(&simulateHealth, "health", "", "发送数据源通知而非告警: failure|recovered")
}
