package bus

import (
	"context"

	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/logger"
)

// JournaledBus wraps another Bus and appends every published event to a Journal.
type JournaledBus struct {
	inner   Bus
	journal *Journal
	log     *logger.Logger
}

// NewJournaledBus creates a bus that journals events before publishing them.
// The journal is closed together with the bus.
func NewJournaledBus(inner Bus, journal *Journal, log *logger.Logger) *JournaledBus {
	if log == nil {
		log = logger.Discard()
	}
	return &JournaledBus{
		inner:   inner,
		journal: journal,
		log:     log,
	}
}

// Publish journals the event and then delegates to the inner bus.
func (b *JournaledBus) Publish(ctx context.Context, topic string, event Event) error {
	// Best-effort: a journal failure never blocks delivery
	if err := b.journal.Append(topic, event); err != nil {
		b.log.Warn("Failed to journal event",
			"topic", topic,
			"error", err.Error(),
		)
	}

	return b.inner.Publish(ctx, topic, event)
}

// Subscribe delegates to the inner bus.
func (b *JournaledBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the inner bus, then the journal.
func (b *JournaledBus) Close() error {
	err := b.inner.Close()

	if jerr := b.journal.Close(); jerr != nil {
		b.log.Warn("Failed to close event journal",
			"error", jerr.Error(),
		)
	}

	return err
}
