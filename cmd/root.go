// Package cmd defines and implements the CLI commands for the fiscalharvest executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fiscalharvest",
		Short: "Mirrors municipal fiscal documents into a local corpus.",
		Long: `fiscalharvest discovers the fiscal documents published by the configured
government portals, downloads what the local corpus is missing, unpacks
archives, and records every outcome in a JSON manifest so interrupted or
partially failed runs can be retried.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ., /etc/fiscalharvest, $HOME/.fiscalharvest)")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newRetryCmd())

	return cmd
}

// Execute runs the CLI under a signal-aware context and returns the process
// exit code. A run that completes with per-file failures still exits 0; the
// printed summary carries the counts. Only process-level failures exit 1.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fiscalharvest: %v\n", err)
		return 1
	}
	return 0
}
