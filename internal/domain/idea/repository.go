package idea

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows idea queries. Trashed ideas are excluded unless IncludeTrashed is set.
type Filter struct {
	IDs            []uuid.UUID
	Stages         []Stage
	PortfolioID    *uuid.UUID
	PairID         *uuid.UUID
	IncludeTrashed bool
	OnlyTrashed    bool
}

// Repository defines operations for trade idea persistence
type Repository interface {
	// Create inserts a new idea
	Create(ctx context.Context, idea *TradeIdea) error

	// GetByID retrieves an idea regardless of visibility tier
	GetByID(ctx context.Context, id uuid.UUID) (*TradeIdea, error)

	// GetForUpdate retrieves an idea and locks it until the surrounding transaction ends
	GetForUpdate(ctx context.Context, id uuid.UUID) (*TradeIdea, error)

	// Query lists ideas matching the filter
	Query(ctx context.Context, filter Filter) ([]*TradeIdea, error)

	// ListDeferredDue lists deferred ideas whose deferred_until is on or before the date
	ListDeferredDue(ctx context.Context, onOrBefore time.Time) ([]*TradeIdea, error)

	// Update writes the idea if its version still matches, then bumps the version.
	// A version mismatch returns ErrConflict.
	Update(ctx context.Context, idea *TradeIdea) error
}

// Link attaches an idea to a portfolio (a "lab")
type Link struct {
	TradeIdeaID uuid.UUID
	PortfolioID uuid.UUID
	LinkedBy    uuid.UUID
	CreatedAt   time.Time
}

// LinkRepository manages idea-to-portfolio linkage
type LinkRepository interface {
	// Add links an idea to a portfolio; linking twice is a no-op
	Add(ctx context.Context, link *Link) error

	// Remove unlinks an idea from a portfolio
	Remove(ctx context.Context, ideaID, portfolioID uuid.UUID) error

	// PortfolioIDs returns the portfolios an idea is linked to
	PortfolioIDs(ctx context.Context, ideaID uuid.UUID) ([]uuid.UUID, error)

	// ListByIdeas returns all links of the given ideas
	ListByIdeas(ctx context.Context, ideaIDs []uuid.UUID) ([]*Link, error)
}
