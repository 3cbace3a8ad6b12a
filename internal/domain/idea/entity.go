package idea

import (
	"time"

	"github.com/google/uuid"
)

// TradeIdea is one proposed change to a position moving through the pipeline
type TradeIdea struct {
	ID      uuid.UUID
	AssetID string
	Action  Action
	Urgency Urgency

	// Stage is the stored stage. While the idea is trashed it keeps the stage it had
	// before deletion; EffectiveStage reports StageDeleted.
	Stage Stage

	PrimaryPortfolioID *uuid.UUID
	PairID             *uuid.UUID
	LegType            *LegType

	Rationale     string
	CreatedBy     uuid.UUID
	AssignedTo    *uuid.UUID
	Collaborators []uuid.UUID

	// Deferral bookkeeping: both set iff Stage == StageDeferred
	PreviousState *PreviousState
	DeferredUntil *time.Time

	VisibilityTier    VisibilityTier
	SharingVisibility SharingVisibility
	TrashedAt         *time.Time
	TrashedBy         *uuid.UUID

	// StageChangedAt is the last time Stage was written, by a move or a resolution.
	// Trash, linkage and assignment leave it alone.
	StageChangedAt time.Time

	// Version is bumped on every write and guards optimistic updates
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PreviousState is the snapshot taken when an idea is deferred
type PreviousState struct {
	Stage      Stage     `json:"stage"`
	CapturedAt time.Time `json:"captured_at"`
}

// Action is the kind of position change
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionAdd  Action = "add"
	ActionTrim Action = "trim"
)

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionAdd || a == ActionTrim
}

// Urgency of an idea
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

func (u Urgency) Valid() bool {
	return u == UrgencyLow || u == UrgencyMedium || u == UrgencyHigh || u == UrgencyUrgent
}

// LegType is the side of a pair-trade leg
type LegType string

const (
	LegLong  LegType = "long"
	LegShort LegType = "short"
)

// VisibilityTier implements soft delete orthogonally to Stage
type VisibilityTier string

const (
	TierActive  VisibilityTier = "active"
	TierTrashed VisibilityTier = "trashed"
)

// SharingVisibility controls who sees an idea
type SharingVisibility string

const (
	SharingPrivate   SharingVisibility = "private"
	SharingPortfolio SharingVisibility = "portfolio"
)

func (s SharingVisibility) Valid() bool {
	return s == SharingPrivate || s == SharingPortfolio
}

// EffectiveStage is the stage shown to callers
func (t *TradeIdea) EffectiveStage() Stage {
	if t.IsTrashed() {
		return StageDeleted
	}
	return t.Stage
}

// IsTrashed reports whether the idea is soft-deleted
func (t *TradeIdea) IsTrashed() bool {
	return t.VisibilityTier == TierTrashed
}

// IsPaired reports whether the idea is a leg of a pair trade
func (t *TradeIdea) IsPaired() bool {
	return t.PairID != nil
}

// SetStage writes a new stage and keeps the deferral invariants
func (t *TradeIdea) SetStage(to Stage, now time.Time) {
	if to != StageDeferred {
		t.PreviousState = nil
		t.DeferredUntil = nil
	}
	t.Stage = to
	t.StageChangedAt = now
	t.UpdatedAt = now
}

// Defer moves the idea into deferred, remembering where it came from.
// until is reduced to its calendar date at UTC midnight.
func (t *TradeIdea) Defer(until *time.Time, now time.Time) {
	t.PreviousState = &PreviousState{Stage: t.Stage, CapturedAt: now}
	if until != nil {
		d := CalendarDate(*until)
		t.DeferredUntil = &d
	} else {
		t.DeferredUntil = nil
	}
	t.Stage = StageDeferred
	t.StageChangedAt = now
	t.UpdatedAt = now
}

// ResurfaceStage is the column a deferred idea returns to
func (t *TradeIdea) ResurfaceStage() Stage {
	if t.PreviousState != nil && t.PreviousState.Stage.Valid() && t.PreviousState.Stage != StageDeferred {
		return t.PreviousState.Stage
	}
	return StageIdea
}

// Trash soft-deletes the idea keeping its stage for restore
func (t *TradeIdea) Trash(actorID uuid.UUID, now time.Time) {
	t.VisibilityTier = TierTrashed
	t.TrashedAt = &now
	t.TrashedBy = &actorID
	t.UpdatedAt = now
}

// Restore brings a trashed idea back with its preserved stage
func (t *TradeIdea) Restore(now time.Time) {
	t.VisibilityTier = TierActive
	t.TrashedAt = nil
	t.TrashedBy = nil
	t.UpdatedAt = now
}

// CalendarDate returns midnight UTC of t's calendar date in t's own location
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
