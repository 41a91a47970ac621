package bus

import (
	"fmt"
	"strings"

	"github.com/sfarrukhm/sentiment-mlops/internal/config"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryBusWithLogger(log), nil

	case "none":
		return NewNopBus(), nil

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "sentiment-loadsim"
		}

		return NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "sentiment-loadsim",
			Logger:        log,
		})

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}
}

// Build creates the configured bus, journaled when cfg.JournalPath is set
// and instrumented when rec is non-nil.
func Build(cfg config.BusConfig, rec MetricsRecorder, log *logger.Logger) (Bus, error) {
	b, err := NewBus(cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.JournalPath != "" {
		j, err := OpenJournal(cfg.JournalPath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b = NewJournaledBus(b, j, log)
	}

	if rec != nil {
		b = NewInstrumentedBus(b, rec)
	}
	return b, nil
}
