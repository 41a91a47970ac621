// Package loadsim drives batched, bounded-concurrency traffic against a
// sentiment endpoint and records one log line per request.
package loadsim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sfarrukhm/sentiment-mlops/internal/bus"
	"github.com/sfarrukhm/sentiment-mlops/internal/client"
	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
	appctx "github.com/sfarrukhm/sentiment-mlops/internal/pkg/context"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/logger"
	"github.com/sfarrukhm/sentiment-mlops/internal/sink"
)

// eventSource tags every event published by the dispatcher.
const eventSource = "load-simulator"

// Predictor performs one inference call.
type Predictor interface {
	Predict(ctx context.Context, req client.PredictRequest) (*client.Prediction, error)
}

// Recorder receives per-request measurements.
type Recorder interface {
	RequestStarted()
	RequestFinished(result, code string, latency time.Duration)
}

// Config holds the run parameters.
type Config struct {
	// URL identifies the target in events. Informational only.
	URL string

	// Requests is the total number of requests N.
	Requests int

	// Concurrency is the batch size C and the in-flight bound.
	Concurrency int

	// Corpus holds the candidate payloads.
	Corpus []string

	// Quantize is forwarded with every request when set.
	Quantize *bool

	// RateLimit caps dispatch in requests per second. 0 means unlimited.
	RateLimit float64

	// ExcerptLen is the width of the text column in log lines.
	ExcerptLen int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Requests < 1 {
		return errors.ValidationError("requests must be at least 1")
	}
	if c.Concurrency < 1 {
		return errors.ValidationError("concurrency must be at least 1")
	}
	if len(c.Corpus) == 0 {
		return errors.ValidationError("corpus is empty")
	}
	if c.RateLimit < 0 {
		return errors.ValidationError("rate limit cannot be negative")
	}
	return nil
}

// Batches returns the number of batches a run issues.
func (c Config) Batches() int {
	return (c.Requests + c.Concurrency - 1) / c.Concurrency
}

// Progress describes the run after a completed batch.
type Progress struct {
	Batch     int // 1-based
	Batches   int
	Completed int
	Total     int
	Failed    int
}

// Options are the collaborators of a Dispatcher. Client and Sink are required.
type Options struct {
	Client   Predictor
	Sink     sink.Sink
	Bus      bus.Bus
	Metrics  Recorder
	Logger   *logger.Logger
	Progress func(Progress)

	// Now stamps dispatch instants. Defaults to time.Now.
	Now func() time.Time

	// Rand picks payloads. Defaults to a randomly seeded source.
	Rand *rand.Rand
}

// State is the run-level state of a Dispatcher.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RunStats summarizes a finished run.
type RunStats struct {
	RunID     string         `json:"run_id"`
	Issued    int            `json:"issued"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Batches   int            `json:"batches"`
	Results   map[string]int `json:"results"`
	Started   time.Time      `json:"started"`
	Duration  time.Duration  `json:"duration"`
	Canceled  bool           `json:"canceled,omitempty"`

	// SinkErrors counts outcomes that could not be written.
	SinkErrors int `json:"sink_errors,omitempty"`
}

// RPS returns the achieved request rate.
func (s *RunStats) RPS() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Issued) / s.Duration.Seconds()
}

// Dispatcher issues a run of requests in barrier-separated batches.
type Dispatcher struct {
	cfg      Config
	client   Predictor
	sink     sink.Sink
	bus      bus.Bus
	metrics  Recorder
	log      *logger.Logger
	progress func(Progress)
	now      func() time.Time
	rng      *rand.Rand
	limiter  *rate.Limiter
	width    int

	state atomic.Int32
}

// New creates a dispatcher.
func New(cfg Config, opts Options) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Client == nil {
		return nil, errors.ValidationError("client is required")
	}
	if opts.Sink == nil {
		return nil, errors.ValidationError("sink is required")
	}

	d := &Dispatcher{
		cfg:      cfg,
		client:   opts.Client,
		sink:     opts.Sink,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		progress: opts.Progress,
		now:      opts.Now,
		rng:      opts.Rand,
		width:    cfg.ExcerptLen,
	}
	if d.bus == nil {
		d.bus = bus.NewNopBus()
	}
	if d.log == nil {
		d.log = logger.Discard()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if d.width < 1 {
		d.width = outcome.DefaultExcerptLen
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return d, nil
}

// State returns the current run state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Run issues all requests and returns once every one has resolved.
// Per-request failures are recorded as error lines and never fail the run.
// Canceling ctx stops the run at the next batch boundary; the batch in
// flight still completes and is recorded.
func (d *Dispatcher) Run(ctx context.Context) (*RunStats, error) {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, errors.New(errors.CodeUnavailable,
			fmt.Sprintf("dispatcher is %s", d.State()))
	}
	defer d.state.Store(int32(StateDone))

	stats := &RunStats{
		RunID:   uuid.NewString(),
		Results: make(map[string]int),
		Started: time.Now(),
	}
	ctx = appctx.WithRunID(ctx, stats.RunID)
	log := d.log.WithContext(ctx)
	total := d.cfg.Requests
	batches := d.cfg.Batches()

	d.publish(ctx, stats.RunID, bus.TopicRunStarted, bus.RunStarted{
		URL:         d.cfg.URL,
		Requests:    total,
		Concurrency: d.cfg.Concurrency,
		Batches:     batches,
	})
	log.Info("Run started",
		"requests", total,
		"concurrency", d.cfg.Concurrency,
		"batches", batches,
	)

	// Requests of a batch outlive a cancellation of the run.
	reqCtx := context.WithoutCancel(ctx)

	for b := 0; b < batches; b++ {
		if ctx.Err() != nil {
			stats.Canceled = true
			log.Warn("Run canceled", "completed", stats.Issued, "total", total)
			break
		}

		size := min(d.cfg.Concurrency, total-stats.Issued)
		bs := d.runBatch(reqCtx, stats.RunID, b, size)

		stats.Issued += size
		stats.Succeeded += bs.succeeded
		stats.Failed += bs.failed
		stats.SinkErrors += bs.sinkErrors
		stats.Batches++
		for label, n := range bs.results {
			stats.Results[label] += n
		}

		d.publish(ctx, stats.RunID, bus.TopicBatchCompleted, bus.BatchCompleted{
			Index:      b,
			Size:       size,
			Succeeded:  bs.succeeded,
			Failed:     bs.failed,
			Completed:  stats.Issued,
			Total:      total,
			StartedAt:  bs.started,
			FinishedAt: bs.finished,
		})
		if d.progress != nil {
			d.progress(Progress{
				Batch:     b + 1,
				Batches:   batches,
				Completed: stats.Issued,
				Total:     total,
				Failed:    stats.Failed,
			})
		}
		log.Debug("Batch completed",
			"batch", b+1,
			"size", size,
			"failed", bs.failed,
			"completed", stats.Issued,
		)
	}

	stats.Duration = time.Since(stats.Started)

	d.publish(ctx, stats.RunID, bus.TopicRunCompleted, bus.RunCompleted{
		Issued:     stats.Issued,
		Succeeded:  stats.Succeeded,
		Failed:     stats.Failed,
		Batches:    stats.Batches,
		DurationMs: outcome.DurationMs(stats.Duration),
		Canceled:   stats.Canceled,
	})
	log.Info("Run finished",
		"issued", stats.Issued,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"duration", stats.Duration.String(),
		"rps", fmt.Sprintf("%.2f", stats.RPS()),
	)

	return stats, nil
}

type batchStats struct {
	succeeded  int
	failed     int
	sinkErrors int
	results    map[string]int
	started    time.Time
	finished   time.Time
}

// runBatch issues size requests concurrently and waits for all of them.
func (d *Dispatcher) runBatch(ctx context.Context, runID string, index, size int) batchStats {
	// Payloads are picked up front; the random source is not goroutine safe.
	texts := make([]string, size)
	for i := range texts {
		texts[i] = d.cfg.Corpus[d.rng.IntN(len(d.cfg.Corpus))]
	}

	bs := batchStats{results: make(map[string]int), started: time.Now()}
	var mu sync.Mutex
	var g errgroup.Group

	for _, text := range texts {
		g.Go(func() error {
			o := d.dispatch(ctx, text)

			sinkErr := sink.Record(d.sink, o, d.width)
			if sinkErr != nil {
				d.log.Warn("Failed to record outcome", "error", sinkErr.Error())
			}

			code := ""
			if o.Failed() {
				code = errors.CodeOf(o.Err)
			}
			d.publish(ctx, runID, bus.TopicRequestCompleted, bus.RequestCompleted{
				Batch:     index,
				Result:    o.Result,
				LatencyMs: o.LatencyMs,
				ErrorCode: code,
			})

			mu.Lock()
			defer mu.Unlock()
			if o.Failed() {
				bs.failed++
			} else {
				bs.succeeded++
			}
			bs.results[o.Result]++
			if sinkErr != nil {
				bs.sinkErrors++
			}
			return nil
		})
	}

	// Barrier: the next batch starts only after every member resolved.
	_ = g.Wait()
	bs.finished = time.Now()
	return bs
}

// dispatch performs one request and converts its result to an outcome.
func (d *Dispatcher) dispatch(ctx context.Context, text string) outcome.RequestOutcome {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return outcome.Failure(d.now(), text, 0, errors.Wrap(errors.CodeRateLimited, "rate limiter", err))
		}
	}

	ts := d.now()
	if d.metrics != nil {
		d.metrics.RequestStarted()
	}
	start := time.Now()

	pred, err := d.client.Predict(ctx, client.PredictRequest{
		Text:     text,
		Quantize: d.cfg.Quantize,
	})
	latency := time.Since(start)

	var o outcome.RequestOutcome
	if err != nil {
		o = outcome.Failure(ts, text, latency, err)
	} else {
		o = outcome.Success(ts, text, pred.Sentiment, latency, pred.Quantized)
	}

	if d.metrics != nil {
		code := ""
		if err != nil {
			code = errors.CodeOf(err)
		}
		d.metrics.RequestFinished(o.Result, code, latency)
	}
	return o
}

// publish is best-effort: a bus failure never affects the run.
func (d *Dispatcher) publish(ctx context.Context, runID, topic string, payload any) {
	if err := d.bus.Publish(ctx, topic, bus.NewEvent(topic, eventSource, runID, payload)); err != nil {
		d.log.WithContext(ctx).Debug("Failed to publish event", "topic", topic, "error", err.Error())
	}
}
