package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/evidex/internal/config"
)

var (
	flagEnv        string
	flagLogLevel   string
	flagModelsWait time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "evidexctl",
	Short:        "evidex operator CLI",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `evidexctl runs the evidex image pipeline locally against the configured models
and database: vectorize or compare images, inspect model state, and import references.

Configuration is read from config/<env>.yaml, the same files the API server uses.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnv, "env", config.GetEnv(), "config environment (config/<env>.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().DurationVar(&flagModelsWait, "models-wait", 0,
		"max time to wait for models to load (0 uses models.wait_timeout_sec)")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
