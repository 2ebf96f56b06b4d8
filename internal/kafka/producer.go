package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/prisoners-dilemma/internal/config"
	"github.com/prisoners-dilemma/internal/domain"
)

// EventProducer publishes match events to Kafka
type EventProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewEventProducer connects a synchronous producer to the configured brokers
func NewEventProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*EventProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewEventProducerFromSyncProducer(producer, cfg.EventsTopic, logger), nil
}

// NewEventProducerFromSyncProducer wraps an existing producer
func NewEventProducerFromSyncProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *EventProducer {
	return &EventProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// PublishMatchEvent sends the event keyed by match, keeping one match's
// events in order on a single partition.
func (p *EventProducer) PublishMatchEvent(_ context.Context, event domain.MatchEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.MatchID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("sending event: %w", err)
	}

	p.logger.Debug("match event published",
		"type", event.Type,
		"match_id", event.MatchID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close flushes and closes the producer
func (p *EventProducer) Close() error {
	return p.producer.Close()
}
