package context

import (
	"context"
	"testing"
)

func TestRunID(t *testing.T) {
	ctx := context.Background()
	if got := GetRunID(ctx); got != "" {
		t.Errorf("GetRunID(empty) = %q, want empty", got)
	}

	ctx = WithRunID(ctx, "run-42")
	if got := GetRunID(ctx); got != "run-42" {
		t.Errorf("GetRunID() = %q, want run-42", got)
	}

	// Survives derived contexts, including ones detached from cancellation.
	child, cancel := context.WithCancel(ctx)
	cancel()
	if got := GetRunID(context.WithoutCancel(child)); got != "run-42" {
		t.Errorf("GetRunID(detached) = %q, want run-42", got)
	}
}

func TestGetRunID_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), RunIDKey, 42)
	if got := GetRunID(ctx); got != "" {
		t.Errorf("GetRunID() = %q, want empty for non-string value", got)
	}
}
