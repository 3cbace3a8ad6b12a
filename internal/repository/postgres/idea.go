package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"ideaflow/internal/domain/idea"
	"ideaflow/pkg/errors"
)

// Compile-time check
var _ idea.Repository = (*IdeaRepository)(nil)

// IdeaRepository implements idea.Repository using sqlx
type IdeaRepository struct {
	db DBTX
}

// NewIdeaRepository creates a new trade idea repository
func NewIdeaRepository(db DBTX) *IdeaRepository {
	return &IdeaRepository{db: db}
}

const ideaColumns = `
	id, asset_id, action, urgency, stage,
	primary_portfolio_id, pair_id, leg_type,
	rationale, created_by, assigned_to, collaborators,
	previous_state, deferred_until,
	visibility_tier, sharing_visibility, trashed_at, trashed_by,
	stage_changed_at, version, created_at, updated_at`

type ideaRow struct {
	ID                 uuid.UUID      `db:"id"`
	AssetID            string         `db:"asset_id"`
	Action             string         `db:"action"`
	Urgency            string         `db:"urgency"`
	Stage              string         `db:"stage"`
	PrimaryPortfolioID *uuid.UUID     `db:"primary_portfolio_id"`
	PairID             *uuid.UUID     `db:"pair_id"`
	LegType            *string        `db:"leg_type"`
	Rationale          string         `db:"rationale"`
	CreatedBy          uuid.UUID      `db:"created_by"`
	AssignedTo         *uuid.UUID     `db:"assigned_to"`
	Collaborators      pq.StringArray `db:"collaborators"`
	PreviousState      []byte         `db:"previous_state"`
	DeferredUntil      *time.Time     `db:"deferred_until"`
	VisibilityTier     string         `db:"visibility_tier"`
	SharingVisibility  string         `db:"sharing_visibility"`
	TrashedAt          *time.Time     `db:"trashed_at"`
	TrashedBy          *uuid.UUID     `db:"trashed_by"`
	StageChangedAt     time.Time      `db:"stage_changed_at"`
	Version            int64          `db:"version"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r ideaRow) toDomain() (*idea.TradeIdea, error) {
	collaborators, err := parseUUIDArray(r.Collaborators)
	if err != nil {
		return nil, errors.Wrap(err, "decode collaborators")
	}
	prev, err := fromJSONB[idea.PreviousState](r.PreviousState)
	if err != nil {
		return nil, errors.Wrap(err, "decode previous_state")
	}
	t := &idea.TradeIdea{
		ID:                 r.ID,
		AssetID:            r.AssetID,
		Action:             idea.Action(r.Action),
		Urgency:            idea.Urgency(r.Urgency),
		Stage:              idea.Stage(r.Stage),
		PrimaryPortfolioID: r.PrimaryPortfolioID,
		PairID:             r.PairID,
		Rationale:          r.Rationale,
		CreatedBy:          r.CreatedBy,
		AssignedTo:         r.AssignedTo,
		Collaborators:      collaborators,
		PreviousState:      prev,
		DeferredUntil:      r.DeferredUntil,
		VisibilityTier:     idea.VisibilityTier(r.VisibilityTier),
		SharingVisibility:  idea.SharingVisibility(r.SharingVisibility),
		TrashedAt:          r.TrashedAt,
		TrashedBy:          r.TrashedBy,
		StageChangedAt:     r.StageChangedAt,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.LegType != nil {
		lt := idea.LegType(*r.LegType)
		t.LegType = &lt
	}
	return t, nil
}

func legTypeValue(lt *idea.LegType) *string {
	if lt == nil {
		return nil
	}
	s := string(*lt)
	return &s
}

// Create inserts a new idea at version 1
func (r *IdeaRepository) Create(ctx context.Context, t *idea.TradeIdea) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.VisibilityTier == "" {
		t.VisibilityTier = idea.TierActive
	}
	prev, err := jsonb(t.PreviousState)
	if err != nil {
		return errors.Wrap(err, "encode previous_state")
	}

	query := `
		INSERT INTO trade_ideas (` + ideaColumns + `
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14,
			$15, $16, $17, $18,
			$19, 1, $20, $21
		)`

	_, err = r.db.ExecContext(ctx, query,
		t.ID, t.AssetID, t.Action, t.Urgency, t.Stage,
		t.PrimaryPortfolioID, t.PairID, legTypeValue(t.LegType),
		t.Rationale, t.CreatedBy, t.AssignedTo, uuidArray(t.Collaborators),
		prev, t.DeferredUntil,
		t.VisibilityTier, t.SharingVisibility, t.TrashedAt, t.TrashedBy,
		t.StageChangedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create trade idea")
	}
	t.Version = 1
	return nil
}

// GetByID retrieves an idea regardless of visibility tier
func (r *IdeaRepository) GetByID(ctx context.Context, id uuid.UUID) (*idea.TradeIdea, error) {
	return r.get(ctx, `SELECT`+ideaColumns+` FROM trade_ideas WHERE id = $1`, id)
}

// GetForUpdate retrieves an idea with a row lock held until the transaction ends
func (r *IdeaRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*idea.TradeIdea, error) {
	return r.get(ctx, `SELECT`+ideaColumns+` FROM trade_ideas WHERE id = $1 FOR UPDATE`, id)
}

func (r *IdeaRepository) get(ctx context.Context, query string, id uuid.UUID) (*idea.TradeIdea, error) {
	var row ideaRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "trade idea %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get trade idea")
	}
	return row.toDomain()
}

// Query lists ideas matching the filter, oldest first
func (r *IdeaRepository) Query(ctx context.Context, f idea.Filter) ([]*idea.TradeIdea, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch {
	case f.OnlyTrashed:
		where = append(where, "visibility_tier = "+arg(idea.TierTrashed))
	case !f.IncludeTrashed:
		where = append(where, "visibility_tier = "+arg(idea.TierActive))
	}
	if len(f.IDs) > 0 {
		where = append(where, "id = ANY("+arg(uuidArray(f.IDs))+"::uuid[])")
	}
	if len(f.Stages) > 0 {
		stages := make(pq.StringArray, 0, len(f.Stages))
		hasDeleted := false
		for _, s := range f.Stages {
			if s == idea.StageDeleted {
				hasDeleted = true
				continue
			}
			stages = append(stages, string(s))
		}
		cond := "(visibility_tier = 'active' AND stage = ANY(" + arg(stages) + "))"
		if hasDeleted {
			cond = "(" + cond + " OR visibility_tier = 'trashed')"
		}
		where = append(where, cond)
	}
	if f.PairID != nil {
		where = append(where, "pair_id = "+arg(*f.PairID))
	}
	if f.PortfolioID != nil {
		p := arg(*f.PortfolioID)
		where = append(where, "(primary_portfolio_id = "+p+
			" OR EXISTS (SELECT 1 FROM trade_idea_portfolios l WHERE l.trade_idea_id = trade_ideas.id AND l.portfolio_id = "+p+"))")
	}

	query := `SELECT` + ideaColumns + ` FROM trade_ideas`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	return r.list(ctx, query, args...)
}

// ListDeferredDue lists active deferred ideas due on or before the given date
func (r *IdeaRepository) ListDeferredDue(ctx context.Context, onOrBefore time.Time) ([]*idea.TradeIdea, error) {
	query := `SELECT` + ideaColumns + `
		FROM trade_ideas
		WHERE stage = 'deferred'
		  AND visibility_tier = 'active'
		  AND deferred_until IS NOT NULL
		  AND deferred_until <= $1
		ORDER BY deferred_until, id`
	return r.list(ctx, query, onOrBefore)
}

func (r *IdeaRepository) list(ctx context.Context, query string, args ...interface{}) ([]*idea.TradeIdea, error) {
	var rows []ideaRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query trade ideas")
	}
	out := make([]*idea.TradeIdea, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Update writes every mutable column when the version still matches
func (r *IdeaRepository) Update(ctx context.Context, t *idea.TradeIdea) error {
	prev, err := jsonb(t.PreviousState)
	if err != nil {
		return errors.Wrap(err, "encode previous_state")
	}

	query := `
		UPDATE trade_ideas SET
			urgency = $3,
			stage = $4,
			primary_portfolio_id = $5,
			pair_id = $6,
			leg_type = $7,
			rationale = $8,
			assigned_to = $9,
			collaborators = $10,
			previous_state = $11,
			deferred_until = $12,
			visibility_tier = $13,
			sharing_visibility = $14,
			trashed_at = $15,
			trashed_by = $16,
			updated_at = $17,
			stage_changed_at = $18,
			version = version + 1
		WHERE id = $1 AND version = $2`

	res, err := r.db.ExecContext(ctx, query,
		t.ID, t.Version,
		t.Urgency, t.Stage, t.PrimaryPortfolioID, t.PairID, legTypeValue(t.LegType),
		t.Rationale, t.AssignedTo, uuidArray(t.Collaborators),
		prev, t.DeferredUntil,
		t.VisibilityTier, t.SharingVisibility, t.TrashedAt, t.TrashedBy,
		t.UpdatedAt, t.StageChangedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update trade idea")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update trade idea")
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, t.ID); err != nil {
			return err
		}
		return errors.Wrapf(errors.ErrConflict, "trade idea %s changed concurrently", t.ID)
	}
	t.Version++
	return nil
}

// Compile-time check
var _ idea.LinkRepository = (*LinkRepository)(nil)

// LinkRepository implements idea.LinkRepository using sqlx
type LinkRepository struct {
	db DBTX
}

// NewLinkRepository creates a new idea-portfolio link repository
func NewLinkRepository(db DBTX) *LinkRepository {
	return &LinkRepository{db: db}
}

// Add links an idea to a portfolio
func (r *LinkRepository) Add(ctx context.Context, l *idea.Link) error {
	query := `
		INSERT INTO trade_idea_portfolios (trade_idea_id, portfolio_id, linked_by, created_at)
		VALUES (:trade_idea_id, :portfolio_id, :linked_by, :created_at)
		ON CONFLICT (trade_idea_id, portfolio_id) DO NOTHING`

	_, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"trade_idea_id": l.TradeIdeaID,
		"portfolio_id":  l.PortfolioID,
		"linked_by":     l.LinkedBy,
		"created_at":    l.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "failed to link portfolio")
	}
	return nil
}

// Remove unlinks an idea from a portfolio
func (r *LinkRepository) Remove(ctx context.Context, ideaID, portfolioID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM trade_idea_portfolios WHERE trade_idea_id = $1 AND portfolio_id = $2`,
		ideaID, portfolioID)
	if err != nil {
		return errors.Wrap(err, "failed to unlink portfolio")
	}
	return nil
}

// PortfolioIDs returns the portfolios an idea is linked to
func (r *LinkRepository) PortfolioIDs(ctx context.Context, ideaID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids,
		`SELECT portfolio_id FROM trade_idea_portfolios WHERE trade_idea_id = $1 ORDER BY created_at, portfolio_id`,
		ideaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list linked portfolios")
	}
	return ids, nil
}

type linkRow struct {
	TradeIdeaID uuid.UUID `db:"trade_idea_id"`
	PortfolioID uuid.UUID `db:"portfolio_id"`
	LinkedBy    uuid.UUID `db:"linked_by"`
	CreatedAt   time.Time `db:"created_at"`
}

// ListByIdeas returns all links of the given ideas
func (r *LinkRepository) ListByIdeas(ctx context.Context, ideaIDs []uuid.UUID) ([]*idea.Link, error) {
	if len(ideaIDs) == 0 {
		return nil, nil
	}
	var rows []linkRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT trade_idea_id, portfolio_id, linked_by, created_at
		FROM trade_idea_portfolios
		WHERE trade_idea_id = ANY($1::uuid[])
		ORDER BY created_at, portfolio_id`,
		uuidArray(ideaIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list links")
	}
	out := make([]*idea.Link, 0, len(rows))
	for _, row := range rows {
		out = append(out, &idea.Link{
			TradeIdeaID: row.TradeIdeaID,
			PortfolioID: row.PortfolioID,
			LinkedBy:    row.LinkedBy,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}
