package main

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sfarrukhm/sentiment-mlops/internal/watch"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-analyze the log whenever it changes",
		Long: `Follow the outcome log while a run is writing it and re-print the
summary (and re-render the chart) after every burst of writes. Summaries
are compared with the stored history but not saved; run log-analyzer once
the run has finished to record it.`,
		RunE: runWatch,
	}
	addAnalyzeFlags(cmd)
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before re-analyzing")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyAnalyzeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	debounce, _ := cmd.Flags().GetDuration("debounce")

	p, cleanup, err := newPipeline(cmd, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	p.compareOnly = true

	w, err := watch.New(watch.Config{
		Path:     cfg.Analyzer.LogFile,
		Debounce: debounce,
		OnChange: func(ctx context.Context) error {
			p.out.Write([]byte("\n--- " + time.Now().Format("15:04:05") + " ---\n"))
			return p.run(ctx)
		},
		Logger: log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
