// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer decodes them via a pluggable MessageHandler callback.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Message is the consumer-side view of a Kafka record.
type Message struct {
	Key   []byte
	Type  string
	Value []byte
}

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})

	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. Messages whose handler fails are logged and left uncommitted.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		m := Message{Key: msg.Key, Value: msg.Value}
		for _, h := range msg.Headers {
			if h.Key == typeHeader {
				m.Type = string(h.Value)
			}
		}
		if err := c.handler(ctx, m); err != nil {
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"type", m.Type,
				"error", err,
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
