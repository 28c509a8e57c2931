// Package events streams created messages to Kafka for downstream
// consumers. Only ciphertext leaves the process.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/eldtechnologies/cipherroom/internal/metrics"
	"github.com/eldtechnologies/cipherroom/internal/models"
)

// writer is the subset of *kafka.Writer used here.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each created message to a topic, keyed by room so
// that a room's messages stay ordered within a partition.
type KafkaPublisher struct {
	w      writer
	logger zerolog.Logger
	now    func() time.Time
}

// NewKafkaPublisher creates an asynchronous publisher. Delivery failures
// are logged and counted; Publish never blocks message creation.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	logger = logger.With().Str("component", "events").Str("topic", topic).Logger()
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				metrics.EventPublishFailures.Add(float64(len(msgs)))
				logger.Error().Err(err).Int("count", len(msgs)).Msg("event delivery failed")
				return
			}
			metrics.EventsPublished.Add(float64(len(msgs)))
		},
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w writer, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, logger: logger, now: time.Now}
}

// Publish enqueues msg.
func (p *KafkaPublisher) Publish(msg models.Message) {
	value, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).Uint64("id", msg.ID).Msg("encoding event")
		return
	}

	err = p.w.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(msg.Room),
		Value: value,
		Time:  p.now(),
	})
	if err != nil {
		metrics.EventPublishFailures.Inc()
		p.logger.Error().
			Err(err).
			Str("room", msg.Room).
			Uint64("id", msg.ID).
			Msg("event publish failed")
	}
}

// Close flushes pending events.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
