package clickhouse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"ideaflow/internal/domain/audit"
	"ideaflow/pkg/clickhouse"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Compile-time check
var _ audit.Sink = (*AuditRepository)(nil)

// AuditRepository archives audit records in ClickHouse.
// Writes are buffered by a batch writer; reads serve entity history.
type AuditRepository struct {
	conn        driver.Conn
	batchWriter *clickhouse.BatchWriter[audit.Record]
}

// NewAuditRepository creates the archive with its batch writer
func NewAuditRepository(conn driver.Conn) *AuditRepository {
	repo := &AuditRepository{conn: conn}
	repo.batchWriter = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[audit.Record]{
		FlushFunc:    repo.flushBatch,
		TableName:    "audit_events",
		MaxBatchSize: 500,
		MaxAge:       5 * time.Second,
	})
	return repo
}

// Start begins the background flush loop
func (r *AuditRepository) Start(ctx context.Context) {
	r.batchWriter.Start(ctx)
}

// Stop flushes what is buffered and stops the writer
func (r *AuditRepository) Stop(ctx context.Context) error {
	return r.batchWriter.Stop(ctx)
}

// Flush writes buffered records now
func (r *AuditRepository) Flush(ctx context.Context) error {
	return r.batchWriter.Flush(ctx)
}

// Emit buffers records for the next batch
func (r *AuditRepository) Emit(ctx context.Context, records ...audit.Record) error {
	for _, rec := range records {
		if err := r.batchWriter.Add(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

const insertAudit = `
	INSERT INTO audit_events (
		id, entity_type, entity_id, actor_id, actor_name,
		action_type, action_category, from_state, to_state,
		changed_fields, metadata, occurred_at
	)`

func (r *AuditRepository) flushBatch(ctx context.Context, batch []audit.Record) error {
	if len(batch) == 0 {
		return nil
	}
	log := logger.Get().With("component", "audit_archive")

	stmt, err := r.conn.PrepareBatch(ctx, insertAudit)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	for _, rec := range batch {
		changed, err := json.Marshal(rec.ChangedFields)
		if err != nil {
			log.Warnw("Skipping audit record with unencodable fields", "id", rec.ID, "error", err)
			continue
		}
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			log.Warnw("Skipping audit record with unencodable metadata", "id", rec.ID, "error", err)
			continue
		}
		if err := stmt.Append(
			rec.ID, string(rec.EntityType), rec.EntityID, rec.ActorID, rec.ActorName,
			rec.ActionType, string(rec.ActionCategory), rec.FromState, rec.ToState,
			string(changed), string(meta), rec.OccurredAt,
		); err != nil {
			return errors.Wrap(err, "failed to append audit record")
		}
	}

	if err := stmt.Send(); err != nil {
		return errors.Wrap(err, "failed to send audit batch")
	}
	return nil
}

type auditRow struct {
	ID             uuid.UUID `ch:"id"`
	EntityType     string    `ch:"entity_type"`
	EntityID       uuid.UUID `ch:"entity_id"`
	ActorID        uuid.UUID `ch:"actor_id"`
	ActorName      string    `ch:"actor_name"`
	ActionType     string    `ch:"action_type"`
	ActionCategory string    `ch:"action_category"`
	FromState      string    `ch:"from_state"`
	ToState        string    `ch:"to_state"`
	ChangedFields  string    `ch:"changed_fields"`
	Metadata       string    `ch:"metadata"`
	OccurredAt     time.Time `ch:"occurred_at"`
}

// History returns the newest records of one entity, newest first
func (r *AuditRepository) History(ctx context.Context, entityType audit.EntityType, entityID uuid.UUID, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []auditRow
	err := r.conn.Select(ctx, &rows, `
		SELECT id, entity_type, entity_id, actor_id, actor_name,
		       action_type, action_category, from_state, to_state,
		       changed_fields, metadata, occurred_at
		FROM audit_events
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`,
		string(entityType), entityID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit history")
	}

	out := make([]audit.Record, 0, len(rows))
	for _, row := range rows {
		rec := audit.Record{
			ID:             row.ID,
			EntityType:     audit.EntityType(row.EntityType),
			EntityID:       row.EntityID,
			ActorID:        row.ActorID,
			ActorName:      row.ActorName,
			ActionType:     row.ActionType,
			ActionCategory: audit.Category(row.ActionCategory),
			FromState:      row.FromState,
			ToState:        row.ToState,
			OccurredAt:     row.OccurredAt,
		}
		if row.ChangedFields != "" {
			if err := json.Unmarshal([]byte(row.ChangedFields), &rec.ChangedFields); err != nil {
				return nil, errors.Wrap(err, "decode changed_fields")
			}
		}
		if row.Metadata != "" {
			if err := json.Unmarshal([]byte(row.Metadata), &rec.Metadata); err != nil {
				return nil, errors.Wrap(err, "decode metadata")
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
