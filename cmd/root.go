package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/config"
)

var cfg *config.Config

var (
	// errDiscrepancies marks a completed run that was not fully in sync. The
	// report has already been printed.
	errDiscrepancies = eris.New("discrepancies found")
	// errInterrupted marks a run stopped by SIGINT or SIGTERM.
	errInterrupted = eris.New("interrupted")
)

var rootCmd = &cobra.Command{
	Use:   "mirrorsync",
	Short: "Reconcile the CSV market data archive with its database mirror",
	Long: "Compares the per-symbol CSV archive against the market_data mirror, classifies every " +
		"discrepancy, and re-ingests series missing from the mirror through the migration tool.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil && !errors.Is(err, errDiscrepancies) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process status: 0 when everything is
// in sync, 130 when interrupted, 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errInterrupted), errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
