package app

import (
	"context"
	"fmt"
	"os"
)

// Once runs a single scan cycle against the configured store and feed.
func (a *App) Once(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := a.newMonitor(store).RunCycle(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "cycle %s: fetched=%d monitored=%d persisted=%d alerts=%d\n",
		report.CycleID, report.Fetched, report.Monitored, report.Persisted, report.Alerts)
	return nil
}
