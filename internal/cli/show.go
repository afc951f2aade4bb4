package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"metal-price-alerts/internal/app"
)

var (
	showLimit   int
	showSymbols []string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Symbols: showSymbols,
			Limit:   showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples to display")
	showCmd.Flags().StringSliceVar(&showSymbols, "symbol", nil, "Symbols to display (defaults to monitored symbols)")
}
