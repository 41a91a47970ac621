package bus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestJournal(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "events", "run.jsonl")

	t.Run("Open creates directory", func(t *testing.T) {
		j, err := OpenJournal(path)
		if err != nil {
			t.Fatalf("OpenJournal failed: %v", err)
		}
		defer j.Close()

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Fatal("Journal file was not created")
		}
		if j.Path() != path {
			t.Errorf("Path() = %s", j.Path())
		}
	})

	t.Run("Open requires path", func(t *testing.T) {
		if _, err := OpenJournal(""); err == nil {
			t.Error("OpenJournal(\"\") should fail")
		}
	})

	t.Run("Append and ReadJournal", func(t *testing.T) {
		os.Remove(path)

		j, err := OpenJournal(path)
		if err != nil {
			t.Fatalf("OpenJournal failed: %v", err)
		}

		base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		tick := 0
		j.now = func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		}

		for i := 0; i < 5; i++ {
			if err := j.Append(TopicBatchCompleted, NewEvent(TopicBatchCompleted, "test", "run-1", BatchCompleted{Index: i})); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}
		if err := j.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		entries, err := ReadJournal(path, time.Time{}, 0)
		if err != nil {
			t.Fatalf("ReadJournal failed: %v", err)
		}
		if len(entries) != 5 {
			t.Fatalf("Expected 5 entries, got %d", len(entries))
		}
		if entries[0].Topic != TopicBatchCompleted || entries[0].Event.RunID != "run-1" {
			t.Errorf("unexpected entry: %+v", entries[0])
		}

		// Limit
		entries, err = ReadJournal(path, time.Time{}, 3)
		if err != nil {
			t.Fatalf("ReadJournal failed: %v", err)
		}
		if len(entries) != 3 {
			t.Errorf("Expected 3 entries (limit), got %d", len(entries))
		}

		// Since filter: entries recorded at +1s..+5s, keep those after +3s
		entries, err = ReadJournal(path, base.Add(3*time.Second), 0)
		if err != nil {
			t.Fatalf("ReadJournal failed: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("Expected 2 entries after cutoff, got %d", len(entries))
		}
	})

	t.Run("Append after Close fails", func(t *testing.T) {
		j, err := OpenJournal(path)
		if err != nil {
			t.Fatalf("OpenJournal failed: %v", err)
		}
		j.Close()

		if err := j.Append("t", Event{ID: "late"}); err == nil {
			t.Error("Append after Close should fail")
		}
		if err := j.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
	})

	t.Run("ReadJournal skips malformed lines and missing files", func(t *testing.T) {
		bad := filepath.Join(tempDir, "bad.jsonl")
		content := "not json\n" + `{"event":{"id":"ok"},"topic":"t","recorded_at":"2025-01-01T00:00:00Z"}` + "\n"
		if err := os.WriteFile(bad, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		entries, err := ReadJournal(bad, time.Time{}, 0)
		if err != nil {
			t.Fatalf("ReadJournal failed: %v", err)
		}
		if len(entries) != 1 || entries[0].Event.ID != "ok" {
			t.Errorf("entries = %+v", entries)
		}

		entries, err = ReadJournal(filepath.Join(tempDir, "missing.jsonl"), time.Time{}, 0)
		if err != nil || len(entries) != 0 {
			t.Errorf("missing file: entries=%v err=%v", entries, err)
		}
	})
}

func TestJournal_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.jsonl")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Append(TopicRequestCompleted, NewEvent(TopicRequestCompleted, "test", "r", RequestCompleted{Result: "positive"}))
		}()
	}
	wg.Wait()
	j.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 20 {
		t.Errorf("Expected 20 lines, got %d", len(lines))
	}
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.jsonl")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		j.Append(TopicBatchCompleted, NewEvent(TopicBatchCompleted, "test", "run-r", BatchCompleted{Index: i}))
	}
	j.Close()

	target := NewMemoryBus()
	var count atomic.Int32
	target.Subscribe(context.Background(), TopicBatchCompleted, func(ctx context.Context, event Event) error {
		count.Add(1)
		return nil
	})

	n, err := Replay(context.Background(), path, target, time.Time{})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Replay() = %d, want 3", n)
	}

	// Close drains handlers
	target.Close()
	if count.Load() != 3 {
		t.Errorf("Expected 3 replayed events, got %d", count.Load())
	}
}

func TestJournaledBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journaled.jsonl")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}

	inner := NewMemoryBus()
	var delivered atomic.Int32
	b := NewJournaledBus(inner, j, nil)
	b.Subscribe(context.Background(), TopicRunStarted, func(ctx context.Context, event Event) error {
		delivered.Add(1)
		return nil
	})

	if err := b.Publish(context.Background(), TopicRunStarted, Event{ID: "pub-1", Type: TopicRunStarted}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if delivered.Load() != 1 {
		t.Errorf("delivered = %d, want 1", delivered.Load())
	}

	entries, err := ReadJournal(path, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ReadJournal failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.ID != "pub-1" {
		t.Errorf("entries = %+v", entries)
	}
}
