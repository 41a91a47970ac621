package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

// JournalEntry is one event persisted by a Journal.
type JournalEntry struct {
	Event      Event     `json:"event"`
	Topic      string    `json:"topic"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal persists run events to disk as JSON lines for later inspection
// or replay onto another bus.
type Journal struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	now     func() time.Time
}

// OpenJournal opens (or creates) a journal file in append mode.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.ValidationError("journal path is required")
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &Journal{
		path:    path,
		file:    file,
		encoder: json.NewEncoder(file),
		now:     time.Now,
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes an event to the journal.
func (j *Journal) Append(topic string, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New(errors.CodeInternal, "journal is closed")
	}

	entry := JournalEntry{
		Event:      event,
		Topic:      topic,
		RecordedAt: j.now(),
	}

	// Encoder writes one line per call, so concurrent appends never interleave.
	if err := j.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}

	syncErr := j.file.Sync()
	closeErr := j.file.Close()
	j.file = nil
	j.encoder = nil

	if syncErr != nil {
		return fmt.Errorf("failed to sync journal: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close journal: %w", closeErr)
	}
	return nil
}

// ReadJournal reads entries recorded after since from the journal at path.
// If limit > 0, at most that many entries are returned.
// Malformed lines are skipped. A missing file yields no entries.
func ReadJournal(path string, since time.Time, limit int) ([]JournalEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []JournalEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)

	// Increase buffer size for potentially large events
	const maxScanTokenSize = 1024 * 1024 // 1MB
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}

		if entry.RecordedAt.After(since) {
			entries = append(entries, entry)

			if limit > 0 && len(entries) >= limit {
				break
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}

	return entries, nil
}

// Replay publishes journal entries recorded after since to target, in order.
// It returns the number of events published.
func Replay(ctx context.Context, path string, target Bus, since time.Time) (int, error) {
	entries, err := ReadJournal(path, since, 0)
	if err != nil {
		return 0, err
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := target.Publish(ctx, entry.Topic, entry.Event); err != nil {
			return i, fmt.Errorf("failed to replay event %s: %w", entry.Event.ID, err)
		}
	}

	return len(entries), nil
}
