package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActionContext is the command envelope carried by every command.
// Only ActorID and ActorRole take part in authorization; the rest is attribution.
type ActionContext struct {
	ActorID    uuid.UUID `json:"actor_id"`
	ActorName  string    `json:"actor_name"`
	ActorEmail string    `json:"actor_email"`
	ActorRole  string    `json:"actor_role"`
	RequestID  string    `json:"request_id"`
	UISource   string    `json:"ui_source"`
}

// EntityType names the audited entity
type EntityType string

const (
	EntityTradeIdea EntityType = "trade_idea"
	EntityProposal  EntityType = "proposal"
	EntityTrack     EntityType = "portfolio_track"
	EntityPairTrade EntityType = "pair_trade"
)

// Category groups action types
type Category string

const (
	CategoryLifecycle Category = "lifecycle"
	CategoryStage     Category = "stage"
	CategoryProposal  Category = "proposal"
	CategoryDecision  Category = "decision"
	CategoryPair      Category = "pair"
	CategoryLinkage   Category = "linkage"
)

// Action types emitted by the workflow
const (
	ActionIdeaCreated        = "idea.created"
	ActionStageChanged       = "idea.stage_changed"
	ActionAggregateResolved  = "idea.aggregate_resolved"
	ActionIdeaDeferred       = "idea.deferred"
	ActionResurfaceAcked     = "idea.resurface_acknowledged"
	ActionIdeaTrashed        = "idea.trashed"
	ActionIdeaRestored       = "idea.restored"
	ActionPortfolioLinked    = "idea.portfolio_linked"
	ActionPortfolioUnlinked  = "idea.portfolio_unlinked"
	ActionIdeaAssigned       = "idea.assigned"
	ActionCollaboratorAdded  = "idea.collaborator_added"
	ActionProposalSubmitted  = "proposal.submitted"
	ActionProposalReplaced   = "proposal.replaced"
	ActionProposalWithdrawn  = "proposal.withdrawn"
	ActionDecisionRecorded   = "track.decision_recorded"
	ActionPairGrouped        = "pair.grouped"
	ActionPairStageChanged   = "pair.stage_changed"
	ActionPairResolved       = "pair.aggregate_resolved"
	ActionPairDissolved      = "pair.dissolved"
	ActionPairDecisionRecord = "pair.decision_recorded"
)

// Metadata carries attribution that is not part of the state change
type Metadata struct {
	UISource  string         `json:"ui_source"`
	RequestID string         `json:"request_id,omitempty"`
	Reason    *string        `json:"reason,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Record is one append-only audit event
type Record struct {
	ID             uuid.UUID      `json:"id"`
	EntityType     EntityType     `json:"entity_type"`
	EntityID       uuid.UUID      `json:"entity_id"`
	ActorID        uuid.UUID      `json:"actor_id"`
	ActorName      string         `json:"actor_name"`
	ActionType     string         `json:"action_type"`
	ActionCategory Category       `json:"action_category"`
	FromState      string         `json:"from_state"`
	ToState        string         `json:"to_state"`
	ChangedFields  map[string]any `json:"changed_fields"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       Metadata       `json:"metadata"`
}

// NewRecord starts a record attributed to the command envelope
func NewRecord(actx ActionContext, entityType EntityType, entityID uuid.UUID, actionType string, category Category, now time.Time) Record {
	return Record{
		ID:             uuid.New(),
		EntityType:     entityType,
		EntityID:       entityID,
		ActorID:        actx.ActorID,
		ActorName:      actx.ActorName,
		ActionType:     actionType,
		ActionCategory: category,
		ChangedFields:  map[string]any{},
		OccurredAt:     now.UTC(),
		Metadata: Metadata{
			UISource:  actx.UISource,
			RequestID: actx.RequestID,
		},
	}
}

// Transition sets from/to state
func (r Record) Transition(from, to string) Record {
	r.FromState = from
	r.ToState = to
	return r
}

// Changed adds a changed field
func (r Record) Changed(field string, value any) Record {
	if r.ChangedFields == nil {
		r.ChangedFields = map[string]any{}
	}
	r.ChangedFields[field] = value
	return r
}

// WithReason attaches the user supplied reason
func (r Record) WithReason(reason *string) Record {
	r.Metadata.Reason = reason
	return r
}

// Sink receives audit records
type Sink interface {
	Emit(ctx context.Context, records ...Record) error
}

type ctxKey struct{}

// WithActionContext stores the envelope on the context for downstream attribution
func WithActionContext(ctx context.Context, actx ActionContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, actx)
}

// FromContext returns the envelope stored by WithActionContext
func FromContext(ctx context.Context) (ActionContext, bool) {
	actx, ok := ctx.Value(ctxKey{}).(ActionContext)
	return actx, ok
}
