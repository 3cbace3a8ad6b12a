package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ideaflow/internal/domain/proposal"
	"ideaflow/pkg/errors"
)

// Compile-time check
var _ proposal.Repository = (*ProposalRepository)(nil)

// ProposalRepository implements proposal.Repository using sqlx
type ProposalRepository struct {
	db DBTX
}

// NewProposalRepository creates a new proposal repository
func NewProposalRepository(db DBTX) *ProposalRepository {
	return &ProposalRepository{db: db}
}

const proposalColumns = `
	id, trade_idea_id, portfolio_id, actor_id,
	sizing_mode, input_value, resolved_weight, shares,
	notes, is_active, proposal_type, pair_trade_id,
	created_at, updated_at`

type proposalRow struct {
	ID             uuid.UUID           `db:"id"`
	TradeIdeaID    uuid.UUID           `db:"trade_idea_id"`
	PortfolioID    uuid.UUID           `db:"portfolio_id"`
	ActorID        uuid.UUID           `db:"actor_id"`
	SizingMode     string              `db:"sizing_mode"`
	InputValue     decimal.Decimal     `db:"input_value"`
	ResolvedWeight decimal.NullDecimal `db:"resolved_weight"`
	Shares         decimal.NullDecimal `db:"shares"`
	Notes          *string             `db:"notes"`
	IsActive       bool                `db:"is_active"`
	ProposalType   string              `db:"proposal_type"`
	PairTradeID    *uuid.UUID          `db:"pair_trade_id"`
	CreatedAt      time.Time           `db:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at"`
}

func nullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func (r proposalRow) toDomain() *proposal.Proposal {
	return &proposal.Proposal{
		ID:             r.ID,
		TradeIdeaID:    r.TradeIdeaID,
		PortfolioID:    r.PortfolioID,
		ActorID:        r.ActorID,
		SizingMode:     proposal.SizingMode(r.SizingMode),
		InputValue:     r.InputValue,
		ResolvedWeight: nullDecimal(r.ResolvedWeight),
		Shares:         nullDecimal(r.Shares),
		Notes:          r.Notes,
		IsActive:       r.IsActive,
		ProposalType:   proposal.Type(r.ProposalType),
		PairTradeID:    r.PairTradeID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// Upsert replaces the active proposal for the key or inserts one.
// The partial unique index on active keys makes the statement race free.
func (r *ProposalRepository) Upsert(ctx context.Context, p *proposal.Proposal) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.IsActive = true

	query := `
		INSERT INTO proposals (` + proposalColumns + `
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, TRUE, $10, $11,
			$12, $13
		)
		ON CONFLICT (trade_idea_id, portfolio_id, actor_id) WHERE is_active
		DO UPDATE SET
			sizing_mode = EXCLUDED.sizing_mode,
			input_value = EXCLUDED.input_value,
			resolved_weight = EXCLUDED.resolved_weight,
			shares = EXCLUDED.shares,
			notes = EXCLUDED.notes,
			proposal_type = EXCLUDED.proposal_type,
			pair_trade_id = EXCLUDED.pair_trade_id,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0) AS inserted`

	var out struct {
		ID        uuid.UUID `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		Inserted  bool      `db:"inserted"`
	}
	err := r.db.GetContext(ctx, &out, query,
		p.ID, p.TradeIdeaID, p.PortfolioID, p.ActorID,
		p.SizingMode, p.InputValue, toNullDecimal(p.ResolvedWeight), toNullDecimal(p.Shares),
		p.Notes, p.ProposalType, p.PairTradeID,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to upsert proposal")
	}
	p.ID = out.ID
	p.CreatedAt = out.CreatedAt
	return out.Inserted, nil
}

// GetByID retrieves a proposal
func (r *ProposalRepository) GetByID(ctx context.Context, id uuid.UUID) (*proposal.Proposal, error) {
	var row proposalRow
	err := r.db.GetContext(ctx, &row, `SELECT`+proposalColumns+` FROM proposals WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "proposal %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get proposal")
	}
	return row.toDomain(), nil
}

// GetActiveByKey retrieves the active proposal for a key
func (r *ProposalRepository) GetActiveByKey(ctx context.Context, key proposal.Key) (*proposal.Proposal, error) {
	var row proposalRow
	err := r.db.GetContext(ctx, &row, `SELECT`+proposalColumns+`
		FROM proposals
		WHERE trade_idea_id = $1 AND portfolio_id = $2 AND actor_id = $3 AND is_active`,
		key.TradeIdeaID, key.PortfolioID, key.ActorID)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "active proposal for idea %s portfolio %s", key.TradeIdeaID, key.PortfolioID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get active proposal")
	}
	return row.toDomain(), nil
}

// ListByIdea lists proposals of an idea, newest first
func (r *ProposalRepository) ListByIdea(ctx context.Context, ideaID uuid.UUID, includeInactive bool) ([]*proposal.Proposal, error) {
	return r.list(ctx, `SELECT`+proposalColumns+`
		FROM proposals
		WHERE trade_idea_id = $1 AND (is_active OR $2)
		ORDER BY updated_at DESC, id`,
		ideaID, includeInactive)
}

// ListActiveByIdeas lists active proposals of several ideas
func (r *ProposalRepository) ListActiveByIdeas(ctx context.Context, ideaIDs []uuid.UUID) ([]*proposal.Proposal, error) {
	if len(ideaIDs) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT`+proposalColumns+`
		FROM proposals
		WHERE trade_idea_id = ANY($1::uuid[]) AND is_active
		ORDER BY created_at, id`,
		uuidArray(ideaIDs))
}

// ListActiveByPair lists active leg proposals of a pair in one portfolio
func (r *ProposalRepository) ListActiveByPair(ctx context.Context, pairID, portfolioID uuid.UUID) ([]*proposal.Proposal, error) {
	return r.list(ctx, `SELECT`+proposalColumns+`
		FROM proposals
		WHERE pair_trade_id = $1 AND portfolio_id = $2 AND is_active
		ORDER BY created_at, id`,
		pairID, portfolioID)
}

func (r *ProposalRepository) list(ctx context.Context, query string, args ...interface{}) ([]*proposal.Proposal, error) {
	var rows []proposalRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list proposals")
	}
	out := make([]*proposal.Proposal, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// SetPairTrade stamps or clears the pair grouping on an idea's active proposals
func (r *ProposalRepository) SetPairTrade(ctx context.Context, ideaID uuid.UUID, pairID *uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE proposals SET pair_trade_id = $2 WHERE trade_idea_id = $1 AND is_active`,
		ideaID, pairID)
	if err != nil {
		return errors.Wrap(err, "failed to set pair trade on proposals")
	}
	return nil
}

// Deactivate marks a proposal inactive
func (r *ProposalRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE proposals SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate proposal")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "proposal %s", id)
	}
	return nil
}
