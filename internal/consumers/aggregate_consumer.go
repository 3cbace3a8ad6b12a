package consumers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"ideaflow/internal/adapters/kafka"
	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/events"
	"ideaflow/internal/metrics"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// IdeaReconciler re-derives an idea's aggregate stage from its tracks
type IdeaReconciler interface {
	RecomputeAggregate(ctx context.Context, ideaID uuid.UUID) (*idea.TradeIdea, bool, error)
}

// PairReconciler re-derives a pair's aggregate stage from its tracks
type PairReconciler interface {
	RecomputeAggregate(ctx context.Context, pairID uuid.UUID) (*pair.PairTrade, bool, error)
}

// AggregateConsumer reconciles aggregate stages after every recorded decision.
// The decision command already resolves inside its transaction; this consumer
// repairs ideas whose tracks were changed by another writer in between.
type AggregateConsumer struct {
	source  MessageSource
	ideas   IdeaReconciler
	pairs   PairReconciler
	limiter *rate.Limiter
	log     *logger.Logger
}

// AggregateOption configures an AggregateConsumer
type AggregateOption func(*AggregateConsumer)

// WithRecomputeLimit caps recomputes per second. A replay of the topic
// otherwise turns into a burst of transactions against postgres.
func WithRecomputeLimit(perSecond float64, burst int) AggregateOption {
	return func(c *AggregateConsumer) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// NewAggregateConsumer creates the consumer. Recomputes are unthrottled unless
// WithRecomputeLimit is given.
func NewAggregateConsumer(source MessageSource, ideas IdeaReconciler, pairs PairReconciler, opts ...AggregateOption) *AggregateConsumer {
	c := &AggregateConsumer{
		source:  source,
		ideas:   ideas,
		pairs:   pairs,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     logger.Get().With("component", "aggregate_consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes until ctx is cancelled
func (c *AggregateConsumer) Start(ctx context.Context) error {
	c.log.Info("Starting aggregate consumer")
	defer func() {
		if err := c.source.Close(); err != nil {
			c.log.Errorw("Failed to close Kafka consumer", "error", err)
		}
	}()

	err := c.source.Consume(ctx, c.handleMessage)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *AggregateConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	action := events.ActionType(msg)
	if action != audit.ActionDecisionRecorded && action != audit.ActionPairDecisionRecord {
		metrics.RecordKafkaMessage(kafka.GroupAggregate, "skipped")
		return nil
	}

	rec, err := events.DecodeAuditRecord(msg.Value)
	if err != nil {
		metrics.RecordKafkaMessage(kafka.GroupAggregate, "skipped")
		c.log.Warnw("Skipping malformed decision record", "offset", msg.Offset, "error", err)
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait failed")
	}

	if err := c.reconcile(ctx, rec); err != nil {
		metrics.RecordKafkaMessage(kafka.GroupAggregate, "error")
		return err
	}
	metrics.RecordKafkaMessage(kafka.GroupAggregate, "success")
	return nil
}

func (c *AggregateConsumer) reconcile(ctx context.Context, rec audit.Record) error {
	switch rec.ActionType {
	case audit.ActionDecisionRecorded:
		ideaID, err := changedID(rec, "trade_idea_id")
		if err != nil {
			return err
		}
		t, changed, err := c.ideas.RecomputeAggregate(ctx, ideaID)
		if err != nil {
			return errors.Wrapf(err, "recompute idea %s", ideaID)
		}
		if changed {
			c.log.Infow("Idea aggregate repaired", "trade_idea_id", ideaID, "stage", t.Stage)
		}
	case audit.ActionPairDecisionRecord:
		pairID, err := changedID(rec, "pair_trade_id")
		if err != nil {
			return err
		}
		p, changed, err := c.pairs.RecomputeAggregate(ctx, pairID)
		if err != nil {
			return errors.Wrapf(err, "recompute pair %s", pairID)
		}
		if changed {
			c.log.Infow("Pair aggregate repaired", "pair_trade_id", pairID, "stage", p.Stage)
		}
	}
	return nil
}

// changedID reads a uuid out of the changed fields; after a JSON round trip it is a string
func changedID(rec audit.Record, field string) (uuid.UUID, error) {
	v, ok := rec.ChangedFields[field]
	if !ok {
		return uuid.Nil, errors.NewValidationError(field, "missing from decision record", rec.ID)
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, errors.NewValidationError(field, "not a uuid", v)
	}
	return id, nil
}
