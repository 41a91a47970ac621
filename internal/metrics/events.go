package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sfarrukhm/sentiment-mlops/internal/bus"
)

// EventSubscriber subscribes to the event bus and updates batch and run
// metrics. Per-request metrics are recorded directly by the dispatcher.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
	}
}

// SubscribeToEvents subscribes to all relevant events and updates metrics.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	if err := es.bus.Subscribe(ctx, bus.TopicBatchCompleted, es.handleBatchCompleted); err != nil {
		return err
	}
	if err := es.bus.Subscribe(ctx, bus.TopicRunCompleted, es.handleRunCompleted); err != nil {
		return err
	}
	if err := es.bus.Subscribe(ctx, bus.TopicReportGenerated, es.handleReportGenerated); err != nil {
		return err
	}
	return nil
}

func (es *EventSubscriber) handleBatchCompleted(ctx context.Context, event bus.Event) error {
	var p bus.BatchCompleted
	if err := decodePayload(event.Payload, &p); err != nil {
		return err
	}
	es.metrics.RecordBatch(p.FinishedAt.Sub(p.StartedAt), p.Failed)
	return nil
}

func (es *EventSubscriber) handleRunCompleted(ctx context.Context, event bus.Event) error {
	var p bus.RunCompleted
	if err := decodePayload(event.Payload, &p); err != nil {
		return err
	}
	es.metrics.RecordRun(msToDuration(p.DurationMs), p.Canceled)
	return nil
}

func (es *EventSubscriber) handleReportGenerated(ctx context.Context, event bus.Event) error {
	es.metrics.ReportsTotal.Inc()
	return nil
}

// decodePayload fills dst from an event payload. In-process buses deliver
// the typed struct; Kafka delivers a generic map after JSON decoding.
func decodePayload[T any](payload any, dst *T) error {
	switch v := payload.(type) {
	case T:
		*dst = v
		return nil
	case *T:
		if v == nil {
			return fmt.Errorf("nil %T payload", dst)
		}
		*dst = *v
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
