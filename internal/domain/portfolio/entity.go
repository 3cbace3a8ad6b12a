package portfolio

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is an actor's relationship to a portfolio
type Role string

const (
	// RoleManager holds decision authority over the portfolio
	RoleManager Role = "pm"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleManager || r == RoleAnalyst || r == RoleViewer
}

// CanDecide reports whether the role carries decision authority
func (r Role) CanDecide() bool {
	return r == RoleManager
}

// Membership links an actor to a portfolio with a role
type Membership struct {
	PortfolioID uuid.UUID
	ActorID     uuid.UUID
	Role        Role
	CreatedAt   time.Time
}

// MembershipRepository reads and maintains portfolio memberships
type MembershipRepository interface {
	// Upsert creates or changes a membership
	Upsert(ctx context.Context, m *Membership) error

	// Roles returns the actor's role in each of the given portfolios it belongs to
	Roles(ctx context.Context, actorID uuid.UUID, portfolioIDs []uuid.UUID) (map[uuid.UUID]Role, error)
}

// Holding is the current and benchmark weight of an asset in a portfolio.
// Current is zero when the portfolio does not hold the asset; Benchmark is nil when
// the portfolio has no benchmark weight for it.
type Holding struct {
	AssetID     string
	PortfolioID uuid.UUID
	Current     decimal.Decimal
	Benchmark   *decimal.Decimal
	AsOf        time.Time
}

// HoldingsProvider answers weight lookups for sizing
type HoldingsProvider interface {
	Holding(ctx context.Context, assetID string, portfolioID uuid.UUID) (*Holding, error)
}
