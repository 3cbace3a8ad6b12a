package track

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubjectType says what a track decides on
type SubjectType string

const (
	SubjectIdea SubjectType = "idea"
	SubjectPair SubjectType = "pair"
)

// Subject identifies the idea or pair trade a track belongs to
type Subject struct {
	Type SubjectType
	ID   uuid.UUID
}

// IdeaSubject builds a subject for a single idea
func IdeaSubject(id uuid.UUID) Subject { return Subject{Type: SubjectIdea, ID: id} }

// PairSubject builds a subject for a pair trade
func PairSubject(id uuid.UUID) Subject { return Subject{Type: SubjectPair, ID: id} }

// Outcome of a portfolio decision
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeDeferred Outcome = "deferred"
)

// Action is what a portfolio manager does with a proposal
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionDefer  Action = "defer"
)

func (a Action) Valid() bool {
	return a == ActionAccept || a == ActionReject || a == ActionDefer
}

// Outcome maps the action onto the outcome it records
func (a Action) Outcome() Outcome {
	switch a {
	case ActionAccept:
		return OutcomeAccepted
	case ActionReject:
		return OutcomeRejected
	default:
		return OutcomeDeferred
	}
}

// PortfolioTrack is the decision record of one subject within one portfolio.
// Re-decision overwrites the outcome; there is no terminal lock.
type PortfolioTrack struct {
	ID          uuid.UUID
	Subject     Subject
	PortfolioID uuid.UUID

	Outcome        *Outcome
	AcceptedWeight *decimal.Decimal
	AcceptedShares *decimal.Decimal
	// LegWeights holds per-leg accepted weights of a pair decision, keyed by leg idea id
	LegWeights    map[uuid.UUID]decimal.Decimal
	DeferredUntil *time.Time

	ProposalID     *uuid.UUID
	DecidedBy      *uuid.UUID
	DecidedAt      *time.Time
	DecisionReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDecided reports whether the track has an outcome
func (t *PortfolioTrack) IsDecided() bool {
	return t != nil && t.Outcome != nil
}

// OutcomeString returns the outcome or "" when undecided
func (t *PortfolioTrack) OutcomeString() string {
	if !t.IsDecided() {
		return ""
	}
	return string(*t.Outcome)
}

// Decision is everything a decision writes onto a track
type Decision struct {
	Action         Action
	ProposalID     *uuid.UUID
	AcceptedWeight *decimal.Decimal
	AcceptedShares *decimal.Decimal
	LegWeights     map[uuid.UUID]decimal.Decimal
	DeferredUntil  *time.Time
	Reason         *string
	DecidedBy      uuid.UUID
}

// Apply records a decision. Fields belonging to other outcomes are cleared so
// accepted weights exist only on accepted tracks and deferral dates only on deferred ones.
func (t *PortfolioTrack) Apply(d Decision, now time.Time) {
	outcome := d.Action.Outcome()
	t.Outcome = &outcome
	t.ProposalID = d.ProposalID
	t.DecisionReason = d.Reason
	t.DecidedBy = &d.DecidedBy
	t.DecidedAt = &now
	t.UpdatedAt = now

	t.AcceptedWeight, t.AcceptedShares, t.LegWeights, t.DeferredUntil = nil, nil, nil, nil
	switch d.Action {
	case ActionAccept:
		t.AcceptedWeight = d.AcceptedWeight
		t.AcceptedShares = d.AcceptedShares
		t.LegWeights = d.LegWeights
	case ActionDefer:
		t.DeferredUntil = d.DeferredUntil
	}
}
