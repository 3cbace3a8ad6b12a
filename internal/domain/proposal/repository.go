package proposal

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines operations for proposal persistence.
// Proposals are never deleted, only deactivated.
type Repository interface {
	// Upsert atomically replaces the active proposal with the same key or inserts a new one.
	// On replace the stored row keeps its id and created_at; p is updated in place.
	Upsert(ctx context.Context, p *Proposal) (created bool, err error)

	// GetByID retrieves a proposal
	GetByID(ctx context.Context, id uuid.UUID) (*Proposal, error)

	// GetActiveByKey retrieves the active proposal for a key
	GetActiveByKey(ctx context.Context, key Key) (*Proposal, error)

	// ListByIdea lists proposals of an idea, newest first
	ListByIdea(ctx context.Context, ideaID uuid.UUID, includeInactive bool) ([]*Proposal, error)

	// ListActiveByIdeas lists active proposals of several ideas
	ListActiveByIdeas(ctx context.Context, ideaIDs []uuid.UUID) ([]*Proposal, error)

	// ListActiveByPair lists active leg proposals of a pair in one portfolio
	ListActiveByPair(ctx context.Context, pairID, portfolioID uuid.UUID) ([]*Proposal, error)

	// SetPairTrade stamps or clears the pair grouping of an idea's active proposals
	SetPairTrade(ctx context.Context, ideaID uuid.UUID, pairID *uuid.UUID) error

	// Deactivate marks a proposal inactive; deactivating twice is a no-op
	Deactivate(ctx context.Context, id uuid.UUID) error
}
