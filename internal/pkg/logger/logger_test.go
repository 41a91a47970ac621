package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	appctx "github.com/sfarrukhm/sentiment-mlops/internal/pkg/context"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug text", "debug", "text"},
		{"info json", "info", "json"},
		{"warn text", "warn", "text"},
		{"error json", "error", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level, tt.format)
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			if logger.Logger == nil {
				t.Fatal("New() returned logger with nil slog.Logger")
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	logger.WithContext(context.Background()).Info("no run")
	if strings.Contains(buf.String(), "run_id") {
		t.Errorf("unexpected run_id without context value: %s", buf.String())
	}

	buf.Reset()
	ctx := appctx.WithRunID(context.Background(), "run-123")
	logger.WithContext(ctx).Info("with run")
	if !strings.Contains(buf.String(), "run_id=run-123") {
		t.Errorf("expected run_id in output, got: %s", buf.String())
	}
}

func TestLogger_WithContextAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	ctx := appctx.WithRunID(context.Background(), "r1")
	logger.WithContext(ctx).WithComponent("dispatcher").Info("batch done")

	output := buf.String()
	if !strings.Contains(output, `"run_id":"r1"`) {
		t.Errorf("missing run_id: %s", output)
	}
	if !strings.Contains(output, `"component":"dispatcher"`) {
		t.Errorf("missing component: %s", output)
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	logger.WithError(errors.New("boom")).Warn("sink write failed")
	if !strings.Contains(buf.String(), "error=boom") {
		t.Errorf("missing error field: %s", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message should be written")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l == nil || l.Logger == nil {
		t.Fatal("Discard() returned nil logger")
	}
	l.WithComponent("sink").Error("dropped")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
