// Package watch re-runs an action whenever a log file changes.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/logger"
)

// DefaultDebounce is the quiet period before a change is acted on.
const DefaultDebounce = 500 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// Path is the file to follow. It may not exist yet.
	Path string

	// Debounce collapses bursts of writes. Default: 500ms.
	Debounce time.Duration

	// OnChange runs once at start when the file exists and after every
	// debounced change. Errors are logged and do not stop the watcher.
	OnChange func(ctx context.Context) error

	Logger *logger.Logger
}

// Watcher follows a single file through its parent directory, so that
// truncation, rotation and late creation are all seen.
type Watcher struct {
	path     string
	dir      string
	debounce time.Duration
	onChange func(ctx context.Context) error
	log      *logger.Logger

	// Stats
	mu      sync.Mutex
	runs    int
	lastRun time.Time
	lastErr error

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for cfg.Path.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.ValidationError("watch path is required")
	}
	if cfg.OnChange == nil {
		return nil, errors.ValidationError("change handler is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "resolving watch path", err)
	}

	return &Watcher{
		path:     absPath,
		dir:      filepath.Dir(absPath),
		debounce: cfg.Debounce,
		onChange: cfg.OnChange,
		log:      cfg.Logger.WithComponent("watcher"),
		done:     make(chan struct{}),
	}, nil
}

// Run watches until ctx is canceled or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "creating file watcher", err)
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(w.dir); err != nil {
		return errors.Wrap(errors.CodeNotFound, "watching "+w.dir, err)
	}

	w.log.Info("Watching for changes", "path", w.path, "debounce", w.debounce.String())

	if _, err := os.Stat(w.path); err == nil {
		w.fire(ctx)
	} else {
		w.log.Info("Waiting for file to appear", "path", w.path)
	}

	// A nil channel blocks until the first relevant event arms the timer.
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			if _, err := os.Stat(w.path); err != nil {
				w.log.Debug("File gone, waiting", "path", w.path)
				continue
			}
			w.fire(ctx)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("Watcher error", "error", err)
		}
	}
}

// relevant reports whether event concerns the followed file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

func (w *Watcher) fire(ctx context.Context) {
	err := w.onChange(ctx)

	w.mu.Lock()
	w.runs++
	w.lastRun = time.Now()
	w.lastErr = err
	w.mu.Unlock()

	if err != nil {
		w.log.Warn("Change handler failed", "path", w.path, "error", err.Error())
	}
}

// Stop ends Run. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Stats returns how many times the handler ran, when it last ran and the
// error it last returned.
func (w *Watcher) Stats() (int, time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs, w.lastRun, w.lastErr
}
