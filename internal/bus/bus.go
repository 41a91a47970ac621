// Package bus provides event bus implementations for dispatch run events.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "loadsim.batch.completed").
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (unix millis).
	Timestamp int64 `json:"timestamp"`

	// RunID links events of one dispatch run.
	RunID string `json:"run_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(eventType, source, runID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		RunID:     runID,
		Payload:   payload,
	}
}

// Topics for different event types.
const (
	// Dispatcher topics.
	TopicRunStarted       = "loadsim.run.started"
	TopicBatchCompleted   = "loadsim.batch.completed"
	TopicRequestCompleted = "loadsim.request.completed"
	TopicRunCompleted     = "loadsim.run.completed"

	// Analyzer topics.
	TopicReportGenerated = "analyzer.report.generated"
)

// RunStarted is the payload of TopicRunStarted.
type RunStarted struct {
	URL         string `json:"url"`
	Requests    int    `json:"requests"`
	Concurrency int    `json:"concurrency"`
	Batches     int    `json:"batches"`
}

// BatchCompleted is the payload of TopicBatchCompleted.
type BatchCompleted struct {
	Index      int       `json:"index"`
	Size       int       `json:"size"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Completed  int       `json:"completed"`
	Total      int       `json:"total"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RequestCompleted is the payload of TopicRequestCompleted.
type RequestCompleted struct {
	Batch     int     `json:"batch"`
	Result    string  `json:"result"`
	LatencyMs float64 `json:"latency_ms"`
	ErrorCode string  `json:"error_code,omitempty"`
}

// RunCompleted is the payload of TopicRunCompleted.
type RunCompleted struct {
	Issued     int     `json:"issued"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Batches    int     `json:"batches"`
	DurationMs float64 `json:"duration_ms"`
	Canceled   bool    `json:"canceled,omitempty"`
}

// nopBus discards everything.
type nopBus struct{}

// NewNopBus returns a bus that drops all events.
func NewNopBus() Bus {
	return nopBus{}
}

func (nopBus) Publish(context.Context, string, Event) error   { return nil }
func (nopBus) Subscribe(context.Context, string, Handler) error { return nil }
func (nopBus) Close() error                                     { return nil }
