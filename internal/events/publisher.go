// Package events publishes workflow audit records to Kafka.
package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"ideaflow/internal/domain/audit"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// BatchPublisher is the slice of the Kafka producer the publisher needs
type BatchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []kafka.Message) error
}

// Compile-time check
var _ audit.Sink = (*AuditPublisher)(nil)

// AuditPublisher is the Audit Sink backed by a Kafka topic.
// Records are keyed by entity id so one entity's history stays ordered.
type AuditPublisher struct {
	producer BatchPublisher
	topic    string
	log      *logger.Logger
}

// NewAuditPublisher creates a publisher writing to topic
func NewAuditPublisher(producer BatchPublisher, topic string) *AuditPublisher {
	return &AuditPublisher{
		producer: producer,
		topic:    topic,
		log:      logger.Get().With("component", "audit_publisher"),
	}
}

// Emit publishes records in one batch
func (p *AuditPublisher) Emit(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		data, err := EncodeAuditRecord(rec)
		if err != nil {
			return err
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(rec.EntityID.String()),
			Value: data,
			Headers: []kafka.Header{
				{Key: HeaderActionType, Value: []byte(rec.ActionType)},
			},
		})
	}

	if err := p.producer.PublishBatch(ctx, p.topic, messages); err != nil {
		return errors.Wrap(err, "publish audit records")
	}
	p.log.Debugw("Audit records published", "count", len(records), "topic", p.topic)
	return nil
}

// EncodeAuditRecord serializes a record for the wire, replacing invalid UTF-8 in free text
func EncodeAuditRecord(rec audit.Record) ([]byte, error) {
	rec.ActorName = SanitizeUTF8(rec.ActorName)
	if rec.Metadata.Reason != nil {
		reason := SanitizeUTF8(*rec.Metadata.Reason)
		rec.Metadata.Reason = &reason
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "marshal audit record")
	}
	return data, nil
}

// DecodeAuditRecord parses a record published by EncodeAuditRecord
func DecodeAuditRecord(data []byte) (audit.Record, error) {
	var rec audit.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return audit.Record{}, errors.Wrap(err, "unmarshal audit record")
	}
	return rec, nil
}
