package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/pkg/errors"
)

// Compile-time check
var _ pair.Repository = (*PairRepository)(nil)

// PairRepository implements pair.Repository using sqlx
type PairRepository struct {
	db DBTX
}

// NewPairRepository creates a new pair trade repository
func NewPairRepository(db DBTX) *PairRepository {
	return &PairRepository{db: db}
}

const pairColumns = `
	id, name, rationale, urgency, stage,
	long_leg_id, short_leg_id,
	previous_state, deferred_until,
	visibility_tier, created_by, stage_changed_at, version, created_at, updated_at`

type pairRow struct {
	ID             uuid.UUID  `db:"id"`
	Name           string     `db:"name"`
	Rationale      string     `db:"rationale"`
	Urgency        string     `db:"urgency"`
	Stage          string     `db:"stage"`
	LongLegID      uuid.UUID  `db:"long_leg_id"`
	ShortLegID     uuid.UUID  `db:"short_leg_id"`
	PreviousState  []byte     `db:"previous_state"`
	DeferredUntil  *time.Time `db:"deferred_until"`
	VisibilityTier string     `db:"visibility_tier"`
	CreatedBy      uuid.UUID  `db:"created_by"`
	StageChangedAt time.Time  `db:"stage_changed_at"`
	Version        int64      `db:"version"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r pairRow) toDomain() (*pair.PairTrade, error) {
	prev, err := fromJSONB[idea.PreviousState](r.PreviousState)
	if err != nil {
		return nil, errors.Wrap(err, "decode previous_state")
	}
	return &pair.PairTrade{
		ID:             r.ID,
		Name:           r.Name,
		Rationale:      r.Rationale,
		Urgency:        idea.Urgency(r.Urgency),
		Stage:          idea.Stage(r.Stage),
		LongLegID:      r.LongLegID,
		ShortLegID:     r.ShortLegID,
		PreviousState:  prev,
		DeferredUntil:  r.DeferredUntil,
		VisibilityTier: idea.VisibilityTier(r.VisibilityTier),
		CreatedBy:      r.CreatedBy,
		StageChangedAt: r.StageChangedAt,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// Create inserts a new pair trade
func (r *PairRepository) Create(ctx context.Context, p *pair.PairTrade) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.VisibilityTier == "" {
		p.VisibilityTier = idea.TierActive
	}
	prev, err := jsonb(p.PreviousState)
	if err != nil {
		return errors.Wrap(err, "encode previous_state")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pair_trades (`+pairColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)`,
		p.ID, p.Name, p.Rationale, p.Urgency, p.Stage,
		p.LongLegID, p.ShortLegID,
		prev, p.DeferredUntil,
		p.VisibilityTier, p.CreatedBy, p.StageChangedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create pair trade")
	}
	p.Version = 1
	return nil
}

// GetByID retrieves a pair trade
func (r *PairRepository) GetByID(ctx context.Context, id uuid.UUID) (*pair.PairTrade, error) {
	return r.get(ctx, `SELECT`+pairColumns+` FROM pair_trades WHERE id = $1`, id)
}

// GetForUpdate retrieves a pair trade and locks its row
func (r *PairRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*pair.PairTrade, error) {
	return r.get(ctx, `SELECT`+pairColumns+` FROM pair_trades WHERE id = $1 FOR UPDATE`, id)
}

func (r *PairRepository) get(ctx context.Context, query string, id uuid.UUID) (*pair.PairTrade, error) {
	var row pairRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "pair trade %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pair trade")
	}
	return row.toDomain()
}

// ListByIDs retrieves several pair trades
func (r *PairRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*pair.PairTrade, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []pairRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT`+pairColumns+` FROM pair_trades WHERE id = ANY($1::uuid[]) ORDER BY created_at, id`,
		uuidArray(ids))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pair trades")
	}
	out := make([]*pair.PairTrade, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Update writes the pair when its version still matches
func (r *PairRepository) Update(ctx context.Context, p *pair.PairTrade) error {
	prev, err := jsonb(p.PreviousState)
	if err != nil {
		return errors.Wrap(err, "encode previous_state")
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE pair_trades SET
			name = $3,
			rationale = $4,
			urgency = $5,
			stage = $6,
			previous_state = $7,
			deferred_until = $8,
			visibility_tier = $9,
			updated_at = $10,
			stage_changed_at = $11,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		p.ID, p.Version,
		p.Name, p.Rationale, p.Urgency, p.Stage,
		prev, p.DeferredUntil, p.VisibilityTier, p.UpdatedAt, p.StageChangedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update pair trade")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update pair trade")
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, p.ID); err != nil {
			return err
		}
		return errors.Wrapf(errors.ErrConflict, "pair trade %s changed concurrently", p.ID)
	}
	p.Version++
	return nil
}
