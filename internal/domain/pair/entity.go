package pair

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/domain/idea"
)

// PairTrade binds a long and a short leg that move and decide together.
// Its Stage is authoritative over the legs' own stage fields.
type PairTrade struct {
	ID        uuid.UUID
	Name      string
	Rationale string
	Urgency   idea.Urgency
	Stage     idea.Stage

	LongLegID  uuid.UUID
	ShortLegID uuid.UUID

	// Deferral bookkeeping mirrors TradeIdea
	PreviousState *idea.PreviousState
	DeferredUntil *time.Time

	VisibilityTier idea.VisibilityTier
	CreatedBy      uuid.UUID
	StageChangedAt time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LegIDs returns both leg ids, long first
func (p *PairTrade) LegIDs() []uuid.UUID {
	return []uuid.UUID{p.LongLegID, p.ShortLegID}
}

// IsActive reports whether the pair has not been dissolved
func (p *PairTrade) IsActive() bool {
	return p.VisibilityTier != idea.TierTrashed
}

// SetStage writes the pair stage and keeps the deferral invariants
func (p *PairTrade) SetStage(to idea.Stage, now time.Time) {
	if to != idea.StageDeferred {
		p.PreviousState = nil
		p.DeferredUntil = nil
	}
	p.Stage = to
	p.StageChangedAt = now
	p.UpdatedAt = now
}

// Defer moves the pair into deferred, remembering where it came from
func (p *PairTrade) Defer(until *time.Time, now time.Time) {
	p.PreviousState = &idea.PreviousState{Stage: p.Stage, CapturedAt: now}
	if until != nil {
		d := idea.CalendarDate(*until)
		p.DeferredUntil = &d
	} else {
		p.DeferredUntil = nil
	}
	p.Stage = idea.StageDeferred
	p.StageChangedAt = now
	p.UpdatedAt = now
}

// ResurfaceStage is the column a deferred pair returns to
func (p *PairTrade) ResurfaceStage() idea.Stage {
	if p.PreviousState != nil && p.PreviousState.Stage.Valid() && p.PreviousState.Stage != idea.StageDeferred {
		return p.PreviousState.Stage
	}
	return idea.StageIdea
}

// MirrorOnto copies the pair's stage and deferral bookkeeping onto a leg
func (p *PairTrade) MirrorOnto(leg *idea.TradeIdea, now time.Time) {
	if leg.Stage != p.Stage {
		leg.StageChangedAt = now
	}
	leg.Stage = p.Stage
	leg.PreviousState = nil
	if p.PreviousState != nil {
		ps := *p.PreviousState
		leg.PreviousState = &ps
	}
	leg.DeferredUntil = nil
	if p.DeferredUntil != nil {
		d := *p.DeferredUntil
		leg.DeferredUntil = &d
	}
	leg.UpdatedAt = now
}

// Repository defines operations for pair trade persistence
type Repository interface {
	Create(ctx context.Context, p *PairTrade) error
	GetByID(ctx context.Context, id uuid.UUID) (*PairTrade, error)
	// GetForUpdate retrieves the pair and locks it until the transaction ends
	GetForUpdate(ctx context.Context, id uuid.UUID) (*PairTrade, error)
	// ListByIDs retrieves several pairs
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*PairTrade, error)
	// Update writes the pair if its version still matches, otherwise ErrConflict
	Update(ctx context.Context, p *PairTrade) error
}
