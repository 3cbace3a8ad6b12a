package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ideaflow/internal/domain/portfolio"
	"ideaflow/pkg/errors"
)

// Compile-time checks
var (
	_ portfolio.MembershipRepository = (*MembershipRepository)(nil)
	_ portfolio.HoldingsProvider     = (*HoldingsRepository)(nil)
)

// MembershipRepository implements portfolio.MembershipRepository using sqlx
type MembershipRepository struct {
	db DBTX
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db DBTX) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// Upsert creates or changes a membership
func (r *MembershipRepository) Upsert(ctx context.Context, m *portfolio.Membership) error {
	if !m.Role.Valid() {
		return errors.NewValidationError("role", "unknown role", m.Role)
	}
	query := `
		INSERT INTO portfolio_memberships (portfolio_id, actor_id, role, created_at)
		VALUES (:portfolio_id, :actor_id, :role, :created_at)
		ON CONFLICT (portfolio_id, actor_id) DO UPDATE SET role = EXCLUDED.role`

	_, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"portfolio_id": m.PortfolioID,
		"actor_id":     m.ActorID,
		"role":         string(m.Role),
		"created_at":   m.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "failed to upsert membership")
	}
	return nil
}

// Roles returns the actor's role in each of the given portfolios
func (r *MembershipRepository) Roles(ctx context.Context, actorID uuid.UUID, portfolioIDs []uuid.UUID) (map[uuid.UUID]portfolio.Role, error) {
	roles := make(map[uuid.UUID]portfolio.Role, len(portfolioIDs))
	if len(portfolioIDs) == 0 {
		return roles, nil
	}

	var rows []struct {
		PortfolioID uuid.UUID `db:"portfolio_id"`
		Role        string    `db:"role"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT portfolio_id, role
		FROM portfolio_memberships
		WHERE actor_id = $1 AND portfolio_id = ANY($2::uuid[])`,
		actorID, uuidArray(portfolioIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load roles")
	}
	for _, row := range rows {
		roles[row.PortfolioID] = portfolio.Role(row.Role)
	}
	return roles, nil
}

// HoldingsRepository reads current and benchmark weights
type HoldingsRepository struct {
	db DBTX
}

// NewHoldingsRepository creates a new holdings repository
func NewHoldingsRepository(db DBTX) *HoldingsRepository {
	return &HoldingsRepository{db: db}
}

// Holding returns the asset's weights in the portfolio.
// An asset the portfolio does not hold has a zero current weight and no benchmark.
func (r *HoldingsRepository) Holding(ctx context.Context, assetID string, portfolioID uuid.UUID) (*portfolio.Holding, error) {
	var row struct {
		Current   decimal.Decimal     `db:"current_weight"`
		Benchmark decimal.NullDecimal `db:"benchmark_weight"`
		AsOf      time.Time           `db:"as_of"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT current_weight, benchmark_weight, as_of
		FROM portfolio_holdings
		WHERE portfolio_id = $1 AND asset_id = $2`,
		portfolioID, assetID)
	if err == sql.ErrNoRows {
		return &portfolio.Holding{AssetID: assetID, PortfolioID: portfolioID}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get holding")
	}
	return &portfolio.Holding{
		AssetID:     assetID,
		PortfolioID: portfolioID,
		Current:     row.Current,
		Benchmark:   nullDecimal(row.Benchmark),
		AsOf:        row.AsOf,
	}, nil
}

// Upsert stores a holding snapshot
func (r *HoldingsRepository) Upsert(ctx context.Context, h *portfolio.Holding) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolio_holdings (portfolio_id, asset_id, current_weight, benchmark_weight, as_of)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (portfolio_id, asset_id) DO UPDATE SET
			current_weight = EXCLUDED.current_weight,
			benchmark_weight = EXCLUDED.benchmark_weight,
			as_of = EXCLUDED.as_of`,
		h.PortfolioID, h.AssetID, h.Current, toNullDecimal(h.Benchmark), h.AsOf)
	if err != nil {
		return errors.Wrap(err, "failed to upsert holding")
	}
	return nil
}
