// Package history keeps analyzer summaries in Redis so a run can be
// compared against the ones before it.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sfarrukhm/sentiment-mlops/internal/analyzer"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

// DefaultKey is the sorted set holding the summaries.
const DefaultKey = "senti:history"

// DefaultLimit is the number of summaries kept.
const DefaultLimit = 50

// Entry is one stored summary.
type Entry struct {
	ID         string           `json:"id"`
	Source     string           `json:"source"`
	RecordedAt time.Time        `json:"recorded_at"`
	Summary    analyzer.Summary `json:"summary"`
}

// NewEntry stamps a summary with a fresh ID and the current time.
func NewEntry(source string, s analyzer.Summary) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Source:     source,
		RecordedAt: time.Now(),
		Summary:    s,
	}
}

// Store provides Redis-backed persistence for summaries.
type Store struct {
	client *redis.Client
	key    string
	limit  int
}

// NewStore connects to the Redis server at url.
// Returns error if connection fails.
func NewStore(url, key string, limit int) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "parsing redis URL", err)
	}

	client := redis.NewClient(opts)

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "connecting to redis", err)
	}

	if key == "" {
		key = DefaultKey
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Store{
		client: client,
		key:    key,
		limit:  limit,
	}, nil
}

// Save stores an entry and trims the set to the configured limit.
// Entries are scored by their recording time.
func (s *Store) Save(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(e.RecordedAt.UnixMilli()),
		Member: string(data),
	})
	// Keep only the newest limit entries
	pipe.ZRemRangeByRank(ctx, s.key, 0, int64(-s.limit-1))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving entry: %w", err)
	}
	return nil
}

// List returns up to n entries, newest first. n <= 0 returns all of them.
func (s *Store) List(ctx context.Context, n int) ([]Entry, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}

	members, err := s.client.ZRevRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			// Skip invalid entries
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Latest returns the newest entry, or nil when the history is empty.
func (s *Store) Latest(ctx context.Context) (*Entry, error) {
	entries, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Record saves e and returns its comparison against the previous newest
// entry. The comparison has no Previous when e is the first entry.
func (s *Store) Record(ctx context.Context, e Entry) (Comparison, error) {
	prev, err := s.Latest(ctx)
	if err != nil {
		return Comparison{}, err
	}
	if err := s.Save(ctx, e); err != nil {
		return Comparison{}, err
	}
	return Compare(prev, e), nil
}

// Clear deletes the whole history.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Comparison relates a summary to the one recorded before it.
type Comparison struct {
	Current  Entry  `json:"current"`
	Previous *Entry `json:"previous,omitempty"`

	// Deltas are current minus previous, zero without a previous entry.
	CountDelta int     `json:"count_delta"`
	AvgDeltaMs float64 `json:"avg_delta_ms"`
	P95DeltaMs float64 `json:"p95_delta_ms"`
	MaxDeltaMs float64 `json:"max_delta_ms"`
}

// Compare builds the comparison of cur against prev (which may be nil).
func Compare(prev *Entry, cur Entry) Comparison {
	c := Comparison{Current: cur, Previous: prev}
	if prev == nil {
		return c
	}
	c.CountDelta = cur.Summary.Count - prev.Summary.Count
	c.AvgDeltaMs = cur.Summary.AvgMs - prev.Summary.AvgMs
	c.P95DeltaMs = cur.Summary.P95Ms - prev.Summary.P95Ms
	c.MaxDeltaMs = cur.Summary.MaxMs - prev.Summary.MaxMs
	return c
}

// WriteComparison prints c in the style of the text summary.
func WriteComparison(w io.Writer, c Comparison) error {
	if c.Previous == nil {
		_, err := fmt.Fprintln(w, "\nNo previous run recorded.")
		return err
	}
	_, err := fmt.Fprintf(w,
		"\n=== Compared to %s ===\nRequests: %+d\nAvg latency: %+.2f ms\nP95 latency: %+.2f ms\nMax latency: %+.2f ms\n",
		c.Previous.RecordedAt.Format("2006-01-02 15:04:05"),
		c.CountDelta, c.AvgDeltaMs, c.P95DeltaMs, c.MaxDeltaMs,
	)
	return err
}

// WriteList prints entries one per line.
func WriteList(w io.Writer, entries []Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No history recorded.")
		return err
	}
	for _, e := range entries {
		s := e.Summary
		if _, err := fmt.Fprintf(w, "%s  n=%-6d avg=%8.2fms p95=%8.2fms max=%8.2fms pos=%d neg=%d  %s\n",
			e.RecordedAt.Format("2006-01-02 15:04:05"),
			s.Count, s.AvgMs, s.P95Ms, s.MaxMs, s.Positive(), s.Negative(), e.Source,
		); err != nil {
			return err
		}
	}
	return nil
}
