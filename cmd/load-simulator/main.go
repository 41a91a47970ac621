// Package main provides the load-simulator binary. It sends batches of
// sentiment requests to an inference endpoint and logs one line per request.
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
		Use:   "load-simulator",
		Short: "Load simulator - batched traffic against a sentiment endpoint",
		Long: `Load simulator sends N requests to a sentiment inference endpoint in
batches of C concurrent requests and writes one log line per request.

Examples:
  load-simulator -n 200 -c 20                       # 10 batches of 20
  load-simulator run --url http://host:8000/predict # explicit target
  load-simulator -n 50 --quantize none --rps 10     # paced, no variant flag
  load-simulator stub --delay 50ms                  # local fake target`,
		RunE:         runSimulate,
		SilenceUsage: true,
	}

	// Global flags. -c is taken by --concurrency.
	rootCmd.PersistentFlags().String("config", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("log-format", "", "operational log format (text, json)")
	addRunFlags(rootCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch a load run (default command)",
		RunE:  runSimulate,
	}
	addRunFlags(runCmd)

	rootCmd.AddCommand(
		runCmd,
		stubCmd(),
		eventsCmd(),
		versionCmd(),
	)

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("load-simulator %s\n", version)
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

	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}
