// Package events publishes domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer used by Producer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends keyed JSON events.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Producer writes JSON-encoded events to one Kafka topic.
type Producer struct {
	writer Writer
	logger *slog.Logger
}

// NewKafkaProducer connects a writer to brokers for topic.
func NewKafkaProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	return NewKafkaProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, logger)
}

// NewKafkaProducerWithWriter wraps an existing writer.
func NewKafkaProducerWithWriter(w Writer, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{writer: w, logger: logger}
}

// Publish encodes value and writes it under key. Messages with the same key
// land on the same partition.
func (p *Producer) Publish(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("platform/events: marshal %s: %w", key, err)
	}
	msg := kafka.Message{Key: []byte(key), Value: payload, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("platform/events: write %s: %w", key, err)
	}
	p.logger.Debug("event published", slog.String("key", key), slog.Int("bytes", len(payload)))
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Discard is a Publisher that drops every event. It is used when no broker
// is configured.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, string, any) error { return nil }
