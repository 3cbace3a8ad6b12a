// Package consumers holds the Kafka consumers of the audit topic.
package consumers

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	kafkago "github.com/segmentio/kafka-go"

	"ideaflow/internal/adapters/kafka"
	"ideaflow/internal/domain/audit"
	"ideaflow/internal/events"
	"ideaflow/internal/metrics"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// MessageSource is the slice of the Kafka consumer the consumers need
type MessageSource interface {
	Consume(ctx context.Context, handler kafka.MessageHandler) error
	Close() error
}

// AuditArchive buffers records and writes them in batches
type AuditArchive interface {
	audit.Sink
	Flush(ctx context.Context) error
}

// AuditArchiveConsumer copies the audit topic into the ClickHouse archive
type AuditArchiveConsumer struct {
	source  MessageSource
	archive AuditArchive
	log     *logger.Logger

	flushInterval time.Duration
	statsInterval time.Duration

	received  atomic.Int64
	archived  atomic.Int64
	malformed atomic.Int64
	started   time.Time
}

// NewAuditArchiveConsumer creates the consumer
func NewAuditArchiveConsumer(source MessageSource, archive AuditArchive) *AuditArchiveConsumer {
	return &AuditArchiveConsumer{
		source:        source,
		archive:       archive,
		log:           logger.Get().With("component", "audit_archive_consumer"),
		flushInterval: 5 * time.Second,
		statsInterval: time.Minute,
	}
}

// Start consumes until ctx is cancelled, then flushes and closes
func (c *AuditArchiveConsumer) Start(ctx context.Context) error {
	c.started = time.Now()

	stop := startBatchLoop(ctx, BatchConsumerConfig{
		ConsumerName:  kafka.GroupAuditArchive,
		FlushInterval: c.flushInterval,
		StatsInterval: c.statsInterval,
		Logger:        c.log,
	}, c.source, c)
	defer stop()

	if err := c.source.Consume(ctx, c.handleMessage); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// handleMessage decodes one record and buffers it. A payload that cannot be
// decoded is counted and skipped so one bad message cannot stall the partition.
func (c *AuditArchiveConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	c.received.Add(1)

	rec, err := events.DecodeAuditRecord(msg.Value)
	if err != nil {
		c.malformed.Add(1)
		metrics.RecordKafkaMessage(kafka.GroupAuditArchive, "skipped")
		c.log.Warnw("Skipping malformed audit record", "offset", msg.Offset, "error", err)
		return nil
	}

	if err := c.archive.Emit(ctx, rec); err != nil {
		metrics.RecordKafkaMessage(kafka.GroupAuditArchive, "error")
		return errors.Wrap(err, "buffer audit record")
	}
	c.archived.Add(1)
	metrics.RecordKafkaMessage(kafka.GroupAuditArchive, "success")
	return nil
}

// FlushBatch implements BatchConsumer
func (c *AuditArchiveConsumer) FlushBatch(ctx context.Context) error {
	return c.archive.Flush(ctx)
}

// LogStats implements BatchConsumer
func (c *AuditArchiveConsumer) LogStats(final bool) {
	msg := "Audit archive stats"
	if final {
		msg = "Audit archive final stats"
	}
	c.log.Infow(msg,
		"received", humanize.Comma(c.received.Load()),
		"archived", humanize.Comma(c.archived.Load()),
		"malformed", c.malformed.Load(),
		"up_since", humanize.Time(c.started),
	)
}
