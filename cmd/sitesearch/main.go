package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sitesearch/internal/app"
	"sitesearch/internal/auth"
	"sitesearch/internal/config"
	"sitesearch/internal/logger"
)

var (
	logLevelFlag string
	rootCmd      = &cobra.Command{
		Use:           "sitesearch",
		Short:         "Search index utilities for platform entities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// operator is the actor every command runs as.
var operator = auth.Actor{UserID: "cli", Name: "sitesearch-cli", Sysadmin: true}

func main() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (defaults to SITESEARCH_LOG_LEVEL)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withRuntime loads configuration, connects everything and runs fn.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *app.Runtime, log zerolog.Logger) error) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	log := logger.NewWithWriter(os.Stderr, "sitesearch-cli", level)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.Bootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn().Err(err).Msg("cleanup failed")
		}
	}()
	return fn(ctx, rt, log)
}
