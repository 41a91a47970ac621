package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sfarrukhm/sentiment-mlops/internal/analyzer"
	"github.com/sfarrukhm/sentiment-mlops/internal/bus"
	"github.com/sfarrukhm/sentiment-mlops/internal/config"
	"github.com/sfarrukhm/sentiment-mlops/internal/history"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/logger"
	"github.com/sfarrukhm/sentiment-mlops/internal/report"
)

// eventSource tags events published by the analyzer.
const eventSource = "log-analyzer"

func addAnalyzeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-file", "", "outcome log to analyze")
	f.IntP("window", "w", 0, "moving average window")
	f.String("chart", "", `chart output path ("none" disables)`)
	f.String("format", "", "summary format (text, json)")
	f.Int("max-points", 0, "plotted points per series before downsampling")
	f.String("title", "", "chart title")
}

func applyAnalyzeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	a := &cfg.Analyzer

	if f.Changed("log-file") {
		a.LogFile, _ = f.GetString("log-file")
	}
	if f.Changed("window") {
		a.Window, _ = f.GetInt("window")
	}
	if f.Changed("chart") {
		a.ChartPath, _ = f.GetString("chart")
	}
	if f.Changed("format") {
		a.Format, _ = f.GetString("format")
	}
	if f.Changed("max-points") {
		a.MaxPoints, _ = f.GetInt("max-points")
	}
}

// summaryHistory is the part of *history.Store the pipeline uses.
type summaryHistory interface {
	Latest(ctx context.Context) (*history.Entry, error)
	Record(ctx context.Context, e history.Entry) (history.Comparison, error)
}

// pipeline runs one analysis: parse, summarize, print, chart, record.
type pipeline struct {
	cfg     config.AnalyzerConfig
	title   string
	out     io.Writer
	log     *logger.Logger
	history summaryHistory // nil disables comparison
	bus     bus.Bus        // nil disables events

	// compareOnly compares against the latest stored summary without
	// saving; watch mode re-runs on partial logs.
	compareOnly bool
}

// chartEnabled reports whether a chart should be written.
func (p *pipeline) chartEnabled() bool {
	path := strings.TrimSpace(p.cfg.ChartPath)
	return path != "" && !strings.EqualFold(path, "none")
}

// run analyzes the log once. An empty dataset prints "No data found" and
// is not an error.
func (p *pipeline) run(ctx context.Context) error {
	ds, err := analyzer.ParseFile(p.cfg.LogFile)
	if errors.IsNoData(err) {
		fmt.Fprintf(p.out, "No data found in %s\n", p.cfg.LogFile)
		return nil
	}
	if err != nil {
		return err
	}

	r := analyzer.Analyze(ds, p.cfg.Window)

	if p.cfg.Format == "json" {
		err = analyzer.WriteJSON(p.out, r)
	} else {
		err = analyzer.WriteText(p.out, r)
	}
	if err != nil {
		return err
	}

	if p.chartEnabled() {
		opts := report.DefaultOptions()
		opts.MaxPoints = p.cfg.MaxPoints
		if p.title != "" {
			opts.Title = p.title
		}
		if err := report.WriteFile(p.cfg.ChartPath, r, opts); err != nil {
			return fmt.Errorf("failed to write chart: %w", err)
		}
		p.log.Info("Chart written", "path", p.cfg.ChartPath, "points", len(r.Raw))
		if p.cfg.Format != "json" {
			fmt.Fprintf(p.out, "\nChart saved to %s\n", p.cfg.ChartPath)
		}
	}

	if p.history != nil {
		cmp, err := p.compare(ctx, history.NewEntry(p.cfg.LogFile, r.Summary))
		if err != nil {
			// History is optional; the analysis itself succeeded.
			p.log.WithError(err).Warn("Failed to record summary history")
		} else if p.cfg.Format != "json" {
			if err := history.WriteComparison(p.out, cmp); err != nil {
				return err
			}
		}
	}

	if p.bus != nil {
		event := bus.NewEvent(bus.TopicReportGenerated, eventSource, "", r.Summary)
		if err := p.bus.Publish(ctx, bus.TopicReportGenerated, event); err != nil {
			p.log.Debug("Failed to publish report event", "error", err.Error())
		}
	}

	return nil
}

func (p *pipeline) compare(ctx context.Context, e history.Entry) (history.Comparison, error) {
	if !p.compareOnly {
		return p.history.Record(ctx, e)
	}
	prev, err := p.history.Latest(ctx)
	if err != nil {
		return history.Comparison{}, err
	}
	return history.Compare(prev, e), nil
}

// newPipeline builds a pipeline from cfg. The returned cleanup closes the
// optional history store and bus.
func newPipeline(cmd *cobra.Command, cfg *config.Config, log *logger.Logger) (*pipeline, func(), error) {
	title, _ := cmd.Flags().GetString("title")

	p := &pipeline{
		cfg:   cfg.Analyzer,
		title: title,
		out:   os.Stdout,
		log:   log,
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.History.RedisURL != "" {
		store, err := history.NewStore(cfg.History.RedisURL, cfg.History.Key, cfg.History.Limit)
		if err != nil {
			// Analysis still runs without a baseline.
			log.WithError(err).Warn("Summary history unavailable")
		} else {
			p.history = store
			closers = append(closers, func() { store.Close() })
		}
	}

	// Events are only worth publishing when something outlives the process.
	if cfg.Bus.JournalPath != "" || cfg.Bus.Type == "kafka" {
		b, err := bus.Build(cfg.Bus, nil, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to create event bus: %w", err)
		}
		p.bus = b
		closers = append(closers, func() { b.Close() })
	}

	return p, cleanup, nil
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyAnalyzeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	p, cleanup, err := newPipeline(cmd, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	return p.run(cmd.Context())
}
