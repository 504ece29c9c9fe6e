package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/observability"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards lifecycle events keyed by ride id so a ride's
// events stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher builds an async writer: WriteMessages only enqueues, and
// delivery failures are reported through the completion callback.
func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				observability.EventsPublishedTotal.WithLabelValues("failed").Add(float64(len(msgs)))
				log.Warn("kafka_publish_failed", "topic", topic, "count", len(msgs), "error", err)
				return
			}
			observability.EventsPublishedTotal.WithLabelValues("delivered").Add(float64(len(msgs)))
		},
	}
	return &KafkaPublisher{writer: w}
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w MessageWriter) *KafkaPublisher { return &KafkaPublisher{writer: w} }

func (k *KafkaPublisher) Publish(ctx context.Context, e models.LifecycleEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.RideID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Decode parses a message produced by Publish.
func Decode(m kafka.Message) (models.LifecycleEvent, error) {
	var e models.LifecycleEvent
	err := json.Unmarshal(m.Value, &e)
	return e, err
}
