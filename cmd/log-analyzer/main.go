// Package main provides the log-analyzer binary. It summarizes the latency
// of a load-simulator outcome log and renders a chart.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sfarrukhm/sentiment-mlops/internal/config"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "log-analyzer",
		Short: "Log analyzer - latency summary and chart for a load run",
		Long: `Log analyzer parses a load-simulator outcome log and reports min, avg,
p95 and max latency, result counts, and a chart of the latency trace with a
moving average.

Examples:
  log-analyzer                                   # logs/simulator.log
  log-analyzer --log-file run.log --window 20    # wider smoothing
  log-analyzer --format json --chart none        # machine readable only
  log-analyzer --history redis://localhost:6379  # compare with last run
  log-analyzer watch                             # re-analyze on change`,
		RunE:         runAnalyze,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("log-format", "", "operational log format (text, json)")
	rootCmd.PersistentFlags().String("history", "", "Redis URL of the summary history")
	addAnalyzeFlags(rootCmd)

	rootCmd.AddCommand(
		watchCmd(),
		historyCmd(),
		versionCmd(),
	)

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("log-analyzer %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

// loadConfig loads the layered configuration and builds the logger from
// the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFormat, _ := cmd.Flags().GetString("log-format")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if verbose {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if cmd.Flags().Changed("history") {
		cfg.History.RedisURL, _ = cmd.Flags().GetString("history")
	}

	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}
