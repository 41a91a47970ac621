package bus

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per publish. It is satisfied by
// *metrics.Metrics; declaring it here keeps bus free of a metrics import.
type MetricsRecorder interface {
	RecordBusPublish(topic string, latency time.Duration, err error)
}

// InstrumentedBus times every publish on the wrapped bus. Per-request
// events are published from dispatch goroutines, so a slow broker shows up
// here before it shows up as batch latency.
type InstrumentedBus struct {
	inner Bus
	rec   MetricsRecorder
}

// NewInstrumentedBus wraps inner. A nil rec records nothing.
func NewInstrumentedBus(inner Bus, rec MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{inner: inner, rec: rec}
}

func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)
	if b.rec != nil {
		b.rec.RecordBusPublish(topic, time.Since(start), err)
	}
	return err
}

func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}
