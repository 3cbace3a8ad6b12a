package track

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines operations for portfolio track persistence
type Repository interface {
	// Upsert atomically writes the track keyed on (subject, portfolio).
	// An existing row keeps its id and created_at; t is updated in place.
	Upsert(ctx context.Context, t *PortfolioTrack) error

	// Get retrieves the track of a subject in a portfolio
	Get(ctx context.Context, subject Subject, portfolioID uuid.UUID) (*PortfolioTrack, error)

	// ListBySubject lists all tracks of a subject
	ListBySubject(ctx context.Context, subject Subject) ([]*PortfolioTrack, error)

	// ListBySubjects lists tracks of several subjects
	ListBySubjects(ctx context.Context, subjects []Subject) ([]*PortfolioTrack, error)
}
