package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string

	// MaxAttempts bounds how often a failing message is handled before its
	// offset is committed anyway. Zero means 3.
	MaxAttempts  int
	RetryBackoff time.Duration
}

// MessageHandler processes one message
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Consumer reads one topic in a consumer group and commits offsets explicitly,
// so a record is acknowledged only once its handler has finished with it.
type Consumer struct {
	reader  *kafka.Reader
	cfg     ConsumerConfig
	log     *logger.Logger
	backoff func(attempt int) time.Duration
}

// NewConsumer creates a group consumer starting from the oldest retained record
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})

	return &Consumer{
		reader: reader,
		cfg:    cfg,
		log:    logger.Get().With("component", "kafka_consumer", "topic", cfg.Topic, "group_id", cfg.GroupID),
		backoff: func(attempt int) time.Duration {
			return cfg.RetryBackoff * time.Duration(1<<(attempt-1))
		},
	}
}

// Consume handles messages until ctx is cancelled. A message whose handler keeps
// failing is logged and committed after MaxAttempts so the partition keeps moving.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.log.Info("Starting consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumer stopped")
				return ctx.Err()
			}
			c.log.Errorw("Failed to fetch message", "error", err)
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Errorw("Giving up on message",
				"key", string(msg.Key),
				"partition", msg.Partition,
				"offset", msg.Offset,
				"attempts", c.cfg.MaxAttempts,
				"error", err,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Errorw("Failed to commit offset", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		if errors.Is(err, errors.ErrInvalidInput) || attempt == c.cfg.MaxAttempts {
			break
		}

		wait := c.backoff(attempt)
		c.log.Warnw("Handler failed, retrying", "offset", msg.Offset, "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

// Close closes the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
