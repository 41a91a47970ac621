package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sfarrukhm/sentiment-mlops/internal/bus"
	"github.com/sfarrukhm/sentiment-mlops/internal/client"
	"github.com/sfarrukhm/sentiment-mlops/internal/config"
	"github.com/sfarrukhm/sentiment-mlops/internal/loadsim"
	"github.com/sfarrukhm/sentiment-mlops/internal/metrics"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/logger"
	"github.com/sfarrukhm/sentiment-mlops/internal/sink"
)

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntP("concurrency", "c", 1, "requests per batch (in-flight bound)")
	f.IntP("requests", "n", 1, "total number of requests")
	f.String("quantize", "true", "variant flag sent with each request (true, false, none)")
	f.String("url", "", "predict endpoint URL")
	f.String("method", "", "request method (GET, POST)")
	f.Duration("timeout", 0, "per-request timeout")
	f.Float64("rps", 0, "dispatch rate limit in requests/sec (0 = unlimited)")
	f.String("corpus", "", "corpus file, one text per line")
	f.String("log-file", "", "outcome log path")
	f.Bool("append", false, "append to the outcome log instead of truncating it")
	f.Bool("echo", true, "also print outcome lines to stdout (off with --json)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.String("bus", "", "event bus type (memory, kafka, none)")
	f.String("event-log", "", "append run events to this JSON lines file")
	f.Bool("ping", false, "check the target's /ping before dispatching")
	f.Bool("json", false, "print the run summary as JSON")
}

// applyRunFlags overrides configuration values with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	sim := &cfg.Simulator

	if f.Changed("concurrency") {
		sim.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("requests") {
		sim.Requests, _ = f.GetInt("requests")
	}
	if f.Changed("quantize") {
		sim.Quantize, _ = f.GetString("quantize")
	}
	if f.Changed("url") {
		sim.URL, _ = f.GetString("url")
	}
	if f.Changed("method") {
		sim.Method, _ = f.GetString("method")
	}
	if f.Changed("timeout") {
		sim.Timeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("rps") {
		sim.RateLimit, _ = f.GetFloat64("rps")
	}
	if f.Changed("corpus") {
		sim.CorpusFile, _ = f.GetString("corpus")
	}
	if f.Changed("log-file") {
		sim.LogFile, _ = f.GetString("log-file")
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("bus") {
		cfg.Bus.Type, _ = f.GetString("bus")
	}
	if f.Changed("event-log") {
		cfg.Bus.JournalPath, _ = f.GetString("event-log")
	}
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	appendLog, _ := cmd.Flags().GetBool("append")
	echo, _ := cmd.Flags().GetBool("echo")
	ping, _ := cmd.Flags().GetBool("ping")
	asJSON, _ := cmd.Flags().GetBool("json")

	sim := cfg.Simulator

	var quantize *bool
	if q, send, err := config.ParseQuantize(sim.Quantize); err != nil {
		return err
	} else if send {
		quantize = &q
	}

	corpus := loadsim.DefaultCorpus()
	if sim.CorpusFile != "" {
		if corpus, err = loadsim.LoadCorpus(sim.CorpusFile); err != nil {
			return err
		}
	}

	// SIGINT stops the run after the batch in flight.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := m.Serve(metricsCtx, cfg.Metrics.Addr, cfg.Metrics.Path, log); err != nil {
				log.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	eventBus, err := bus.Build(cfg.Bus, m, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Warn("Failed to close event bus", "error", err)
		}
	}()

	if err := metrics.NewEventSubscriber(m, eventBus).SubscribeToEvents(context.Background()); err != nil {
		log.Warn("Failed to subscribe metrics to events", "error", err)
	}

	ccfg := client.DefaultConfig()
	ccfg.URL = sim.URL
	ccfg.Method = sim.Method
	ccfg.Timeout = sim.Timeout
	ccfg.UserAgent = "load-simulator/" + version
	ccfg.MaxConnsPerHost = max(ccfg.MaxConnsPerHost, sim.Concurrency)
	ccfg.MaxIdleConns = max(ccfg.MaxIdleConns, sim.Concurrency)
	c := client.New(ccfg)
	defer c.CloseIdleConnections()

	if ping {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := c.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("target is not reachable: %w", err)
		}
		log.Info("Target reachable", "url", c.URL())
	}

	fileSink, err := sink.OpenFileSink(sink.FileSinkConfig{Path: sim.LogFile, Append: appendLog})
	if err != nil {
		return err
	}
	out := outcomeSink(fileSink, cmd.OutOrStdout(), echo && !asJSON)

	d, err := loadsim.New(loadsim.Config{
		URL:         c.URL(),
		Requests:    sim.Requests,
		Concurrency: sim.Concurrency,
		Corpus:      corpus,
		Quantize:    quantize,
		RateLimit:   sim.RateLimit,
		ExcerptLen:  sim.ExcerptLen,
	}, loadsim.Options{
		Client:   c,
		Sink:     out,
		Bus:      eventBus,
		Metrics:  m,
		Logger:   log.WithComponent("dispatcher"),
		Progress: progressLogger(log),
	})
	if err != nil {
		out.Close()
		return err
	}

	stats, err := d.Run(ctx)
	if cerr := out.Close(); cerr != nil {
		log.Error("Failed to flush outcome log", "path", sim.LogFile, "error", cerr)
	}
	if err != nil {
		return err
	}

	if asJSON {
		return writeStatsJSON(cmd.OutOrStdout(), stats, sim.LogFile)
	}
	return writeStats(cmd.ErrOrStderr(), stats, sim.LogFile)
}

// outcomeSink returns the file sink, teeing lines to stdout when echo is
// set. --json turns echo off so stdout carries only the summary document.
func outcomeSink(file sink.Sink, stdout io.Writer, echo bool) sink.Sink {
	if !echo {
		return file
	}
	return sink.Multi(file, sink.NewWriterSink(stdout))
}

func progressLogger(log *logger.Logger) func(loadsim.Progress) {
	return func(p loadsim.Progress) {
		log.Info("Batch done",
			"batch", fmt.Sprintf("%d/%d", p.Batch, p.Batches),
			"completed", fmt.Sprintf("%d/%d", p.Completed, p.Total),
			"failed", p.Failed,
		)
	}
}

func writeStats(w io.Writer, s *loadsim.RunStats, logPath string) error {
	status := "completed"
	if s.Canceled {
		status = "canceled"
	}
	_, err := fmt.Fprintf(w,
		"\nRun %s %s: %d requests in %d batches, %d ok, %d failed, %s (%.2f req/s)\nOutcome log: %s\n",
		s.RunID, status, s.Issued, s.Batches, s.Succeeded, s.Failed,
		s.Duration.Round(time.Millisecond), s.RPS(), logPath,
	)
	return err
}

func writeStatsJSON(w io.Writer, s *loadsim.RunStats, logPath string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*loadsim.RunStats
		RPS     float64 `json:"rps"`
		LogFile string  `json:"log_file"`
	}{s, s.RPS(), logPath})
}
