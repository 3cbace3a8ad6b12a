package proposal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Proposal is one actor's sizing recommendation for one idea in one portfolio
type Proposal struct {
	ID          uuid.UUID
	TradeIdeaID uuid.UUID
	PortfolioID uuid.UUID
	ActorID     uuid.UUID

	SizingMode     SizingMode
	InputValue     decimal.Decimal
	ResolvedWeight *decimal.Decimal
	Shares         *decimal.Decimal

	Notes        *string
	IsActive     bool
	ProposalType Type

	// PairTradeID groups leg proposals so a pair is decided as one set
	PairTradeID *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Type says who originated the proposal
type Type string

const (
	TypeAnalyst     Type = "analyst"
	TypePMInitiated Type = "pm_initiated"
)

// Key is the uniqueness key of an active proposal
type Key struct {
	TradeIdeaID uuid.UUID
	PortfolioID uuid.UUID
	ActorID     uuid.UUID
}

// Key returns the proposal's uniqueness key
func (p *Proposal) Key() Key {
	return Key{TradeIdeaID: p.TradeIdeaID, PortfolioID: p.PortfolioID, ActorID: p.ActorID}
}

// Sizing rebuilds the tagged sizing variant
func (p *Proposal) Sizing() (Sizing, error) {
	return NewSizing(p.SizingMode, p.InputValue)
}
