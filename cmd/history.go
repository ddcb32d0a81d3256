// cmd/history.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/observability"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/store"
)

// historySource is the read side of the fix history.
type historySource interface {
	Recent(ctx context.Context, limit int) ([]store.Entry, error)
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the latest fix attempts recorded in the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			url := cfg.Database().URL
			if url == "" {
				return errors.New("fix history is disabled; set database.url or MEALFIX_DATABASE_URL")
			}
			st, pool, err := store.Open(cmd.Context(), url, observability.GetLogger())
			if err != nil {
				return err
			}
			defer pool.Close()
			return runHistory(cmd.Context(), cmd.OutOrStdout(), st, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of attempts to show")
	return cmd
}

func runHistory(ctx context.Context, out io.Writer, src historySource, limit int) error {
	entries, err := src.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read fix history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No fix attempts recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tSEVERITY\tLEVEL\tTEST\tBRANCH\tDURATION")
	for _, e := range entries {
		level, branch := "-", "-"
		if e.Level > 0 {
			level = fmt.Sprint(e.Level)
		}
		if e.Branch != "" {
			branch = e.Branch
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04"), e.Status, e.Severity, level, e.TestName, branch, e.Duration.Round(time.Second))
	}
	return w.Flush()
}
