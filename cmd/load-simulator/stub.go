package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sfarrukhm/sentiment-mlops/internal/metrics"
	"github.com/sfarrukhm/sentiment-mlops/internal/server"
)

func stubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve a fake sentiment endpoint for local runs",
		Long: `Serve /ping and /predict with a keyword classifier, an artificial
delay and optional failure injection and rate limiting.

Examples:
  load-simulator stub                                 # 127.0.0.1:8000, 20ms delay
  load-simulator stub --port 9000 --jitter 30ms       # randomized latency
  load-simulator stub --fail-rate 0.1 --rate-limit 50 # exercise error lines`,
		RunE: runStub,
	}

	cmd.Flags().String("host", "", "listen host")
	cmd.Flags().IntP("port", "p", 0, "listen port")
	cmd.Flags().Duration("delay", 0, "fixed delay per prediction")
	cmd.Flags().Duration("jitter", 0, "upper bound of extra random delay")
	cmd.Flags().Float64("rate-limit", 0, "per-client requests/sec (0 = unlimited)")
	cmd.Flags().Float64("fail-rate", 0, "fraction of predictions answered with 503")

	return cmd
}

func runStub(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Stub.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Stub.Port, _ = f.GetInt("port")
	}
	if f.Changed("delay") {
		cfg.Stub.Delay, _ = f.GetDuration("delay")
	}
	if f.Changed("jitter") {
		cfg.Stub.Jitter, _ = f.GetDuration("jitter")
	}
	if f.Changed("rate-limit") {
		cfg.Stub.RateLimit, _ = f.GetFloat64("rate-limit")
	}
	if f.Changed("fail-rate") {
		cfg.Stub.FailRate, _ = f.GetFloat64("fail-rate")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv := server.New(server.ConfigFromStub(cfg.Stub, version), log, metrics.New())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("Shutdown signal received")
		return srv.Stop(context.Background())
	}
}
