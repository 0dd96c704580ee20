package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the reconciliation run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		if cfg.Runlog.Path == "" {
			return eris.New("runs: run log is disabled (runlog.path is empty)")
		}
		if _, err := os.Stat(cfg.Runlog.Path); os.IsNotExist(err) {
			zap.L().Info("no runs recorded yet, run 'mirrorsync check' first")
			return nil
		}

		l, err := runlog.Open(ctx, cfg.Runlog.Path)
		if err != nil {
			return err
		}
		defer l.Close() //nolint:errcheck

		entries, err := l.ListAll(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(entries) == 0 {
			zap.L().Info("no runs recorded yet, run 'mirrorsync check' first")
			return nil
		}

		formatRunEntries(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max number of runs to display (0 for all)")
	rootCmd.AddCommand(runsCmd)
}

// formatRunEntries writes a tabular list of runs to out.
func formatRunEntries(out io.Writer, entries []runlog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODE\tDATASETS\tSTATUS\tSTARTED\tDURATION\tCHECKED\tISSUES\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t------\t-------\t--------\t-------\t------\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}

		checked, issues := "-", "-"
		if e.Summary != nil {
			checked = fmt.Sprintf("%d", e.Summary.Checked)
			issues = fmt.Sprintf("%d", e.Summary.Discrepancies)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(e.ID),
			e.Mode,
			strings.Join(e.Datasets, ","),
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			checked,
			issues,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
