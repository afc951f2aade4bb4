package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"metal-price-alerts/internal/analysis"
	"metal-price-alerts/internal/storage"
)

// Show prints the most recent samples of the selected symbols.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	symbols := opts.Symbols
	if len(symbols) == 0 {
		symbols = a.Config.MonitoredSymbols()
	}

	samples, err := store.RecentForSymbols(ctx, symbols, opts.Limit)
	if err != nil {
		return err
	}
	return writeSamplesTable(os.Stdout, samples)
}

func writeSamplesTable(out io.Writer, samples []storage.PriceSample) error {
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC+8)\tSymbol\tPrice\tOpen\tHigh\tLow")
	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.CapturedAt.In(storage.BusinessZone).Format("2006-01-02 15:04:05"),
			sample.Symbol,
			analysis.FormatPrice(sample.Price),
			formatOptional(sample.Open),
			formatOptional(sample.High),
			formatOptional(sample.Low),
		)
	}
	return writer.Flush()
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return analysis.FormatPrice(*v)
}
