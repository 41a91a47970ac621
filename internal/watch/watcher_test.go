package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

func startWatcher(t *testing.T, path string, onChange func(context.Context) error) *Watcher {
	t.Helper()
	w, err := New(Config{Path: path, Debounce: 50 * time.Millisecond, OnChange: onChange})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	t.Cleanup(func() {
		w.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return w
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{OnChange: func(context.Context) error { return nil }})
	assert.True(t, errors.IsValidation(err))

	_, err = New(Config{Path: "x.log"})
	assert.True(t, errors.IsValidation(err))

	w, err := New(Config{Path: "x.log", OnChange: func(context.Context) error { return nil }})
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.debounce)
	assert.True(t, filepath.IsAbs(w.path))
}

func TestWatcher_InitialRunAndChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulator.log")
	appendLine(t, path, "first")

	var calls atomic.Int32
	w := startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// A burst of writes collapses into one run
	for i := 0; i < 5; i++ {
		appendLine(t, path, "more")
	}
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())

	runs, last, lastErr := w.Stats()
	assert.Equal(t, 2, runs)
	assert.False(t, last.IsZero())
	assert.NoError(t, lastErr)
}

func TestWatcher_WaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.log")

	var calls atomic.Int32
	startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())

	appendLine(t, path, "hello")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simulator.log")
	appendLine(t, path, "first")

	var calls atomic.Int32
	startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	appendLine(t, filepath.Join(dir, "other.log"), "noise")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_HandlerErrorKeepsWatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulator.log")
	appendLine(t, path, "garbage")

	var calls atomic.Int32
	w := startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return errors.NoDataError(path)
	})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	appendLine(t, path, "still garbage")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	_, _, lastErr := w.Stats()
	assert.True(t, errors.IsNoData(lastErr))
}

func TestWatcher_ContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulator.log")
	w, err := New(Config{Path: path, OnChange: func(context.Context) error { return nil }})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := New(Config{
		Path:     filepath.Join(t.TempDir(), "nope", "simulator.log"),
		OnChange: func(context.Context) error { return nil },
	})
	require.NoError(t, err)
	assert.Error(t, w.Run(context.Background()))
}
