package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/jingkaihe/skillman/pkg/presenter"
	"github.com/jingkaihe/skillman/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent install, remove and update operations",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := state.OpenDefault(ctx)
		exitOnError(err, "Failed to open the state store")
		err = runHistory(ctx, store, limit, outputFormat(cmd), os.Stdout)
		closeStore(ctx, store)
		exitOnError(err, "Failed to read history")
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Number of operations to show (0 for all)")
	addOutputFlag(historyCmd)
}

func runHistory(ctx context.Context, store *state.Store, limit int, format presenter.Format, out io.Writer) error {
	if limit < 0 {
		return errors.Errorf("--limit must not be negative, got %d", limit)
	}
	entries, err := store.History(ctx, limit)
	if err != nil {
		return err
	}

	if format != presenter.FormatTable {
		return presenter.Encode(out, format, entries)
	}
	if len(entries) == 0 {
		newPresenter(out).Info("No operations recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := "ok"
		if e.Failed() {
			status = "failed: " + *e.Error
		}
		rows = append(rows, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			e.Action,
			e.Key,
			e.Destination,
			status,
		})
	}
	table(out, []string{"time", "action", "key", "destination", "status"}, rows)
	return nil
}
