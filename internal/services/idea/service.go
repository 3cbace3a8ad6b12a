package idea

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/track"
	"ideaflow/internal/services/workflow"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Service runs the stage graph commands of single trade ideas.
// Pair legs are rejected here with ErrPairedLeg; their stage lives on the pair.
type Service struct {
	gw       gateway.Gateway
	notifier *workflow.Notifier
	now      workflow.Clock
	log      *logger.Logger
}

// Option configures the service
type Option func(*Service)

// WithClock overrides the wall clock
func WithClock(clock workflow.Clock) Option {
	return func(s *Service) { s.now = clock }
}

// NewService creates a new idea service
func NewService(gw gateway.Gateway, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		gw:       gw,
		notifier: workflow.NewNotifier(sink),
		now:      workflow.SystemClock,
		log:      logger.Get().With("component", "idea_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams contains parameters for creating a trade idea
type CreateParams struct {
	AssetID            string
	Action             idea.Action
	Urgency            idea.Urgency
	Rationale          string
	PrimaryPortfolioID *uuid.UUID
	AssignedTo         *uuid.UUID
	Collaborators      []uuid.UUID
	Sharing            idea.SharingVisibility
}

func (p *CreateParams) validate() error {
	p.AssetID = strings.TrimSpace(p.AssetID)
	if p.AssetID == "" {
		return errors.NewValidationError("asset_id", "asset is required", p.AssetID)
	}
	if !p.Action.Valid() {
		return errors.NewValidationError("action", "unknown action", p.Action)
	}
	if p.Urgency == "" {
		p.Urgency = idea.UrgencyMedium
	}
	if !p.Urgency.Valid() {
		return errors.NewValidationError("urgency", "unknown urgency", p.Urgency)
	}
	if p.Sharing == "" {
		p.Sharing = idea.SharingPrivate
	}
	if !p.Sharing.Valid() {
		return errors.NewValidationError("sharing_visibility", "unknown sharing visibility", p.Sharing)
	}
	return nil
}

// CreateIdea creates an idea in the idea stage and links its primary portfolio
func (s *Service) CreateIdea(ctx context.Context, params CreateParams, actx audit.ActionContext) (_ *idea.TradeIdea, err error) {
	defer workflow.Observe("create_idea", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}
	if err = params.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	t := &idea.TradeIdea{
		ID:                 uuid.New(),
		AssetID:            params.AssetID,
		Action:             params.Action,
		Urgency:            params.Urgency,
		Stage:              idea.StageIdea,
		PrimaryPortfolioID: params.PrimaryPortfolioID,
		Rationale:          params.Rationale,
		CreatedBy:          actx.ActorID,
		AssignedTo:         params.AssignedTo,
		Collaborators:      dedupe(params.Collaborators),
		VisibilityTier:     idea.TierActive,
		SharingVisibility:  params.Sharing,
		StageChangedAt:     now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		if t.PrimaryPortfolioID != nil {
			if err := workflow.RequireRelationship(ctx, repos, actx.ActorID, []uuid.UUID{*t.PrimaryPortfolioID}); err != nil {
				return err
			}
		}
		if err := repos.Ideas().Create(ctx, t); err != nil {
			return errors.Wrap(err, "failed to create idea")
		}
		if t.PrimaryPortfolioID != nil {
			link := &idea.Link{TradeIdeaID: t.ID, PortfolioID: *t.PrimaryPortfolioID, LinkedBy: actx.ActorID, CreatedAt: now}
			if err := repos.Links().Add(ctx, link); err != nil {
				return errors.Wrap(err, "failed to link primary portfolio")
			}
		}
		return nil
	})
	if err != nil {
		workflow.LogFailure(s.log, "create_idea", err, "asset_id", params.AssetID, "actor_id", actx.ActorID)
		return nil, err
	}

	s.notifier.Emit(ctx, audit.NewRecord(actx, audit.EntityTradeIdea, t.ID, audit.ActionIdeaCreated, audit.CategoryLifecycle, now).
		Transition("", string(idea.StageIdea)).
		Changed("asset_id", t.AssetID).
		Changed("action", t.Action).
		Changed("urgency", t.Urgency))

	s.log.Infow("Trade idea created",
		"idea_id", t.ID,
		"asset_id", t.AssetID,
		"action", t.Action,
		"actor_id", actx.ActorID,
	)
	return t, nil
}

// Get retrieves an idea regardless of visibility tier
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*idea.TradeIdea, error) {
	return s.gw.Ideas().GetByID(ctx, id)
}

// List lists ideas; trashed ideas only appear when the filter asks for them
func (s *Service) List(ctx context.Context, filter idea.Filter) ([]*idea.TradeIdea, error) {
	return s.gw.Ideas().Query(ctx, filter)
}

// MoveResult is the outcome of MoveStage
type MoveResult struct {
	Idea *idea.TradeIdea
	// ProposalRequired is set when a move into deciding was held back
	// because the idea has no active sizing proposal yet. Nothing was written.
	ProposalRequired bool
	Changed          bool
}

// MoveStage moves an idea along one edge of the stage graph.
// Moving into deleted trashes the idea; moving a trashed idea to idea reopens it.
func (s *Service) MoveStage(ctx context.Context, ideaID uuid.UUID, target idea.Stage, actx audit.ActionContext) (_ *MoveResult, err error) {
	defer workflow.Observe("move_stage", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, errors.NewValidationError("stage", "unknown stage", target)
	}

	now := s.now()
	res := &MoveResult{}
	var rec audit.Record

	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		t, err := repos.Ideas().GetForUpdate(ctx, ideaID)
		if err != nil {
			return err
		}
		res.Idea = t

		if err := workflow.RequireUnpaired(t); err != nil {
			return err
		}
		from := t.EffectiveStage()
		if err := idea.DefaultGraph.Validate(from, target); err != nil {
			return err
		}
		if err := workflow.AuthorizeMove(ctx, repos, t, target, actx.ActorID); err != nil {
			return err
		}

		action := audit.ActionStageChanged
		switch {
		case target == idea.StageDeleted:
			t.Trash(actx.ActorID, now)
			action = audit.ActionIdeaTrashed
		case from == idea.StageDeleted:
			t.Restore(now)
			t.SetStage(target, now)
			action = audit.ActionIdeaRestored
		case target == idea.StageDeciding:
			active, err := repos.Proposals().ListByIdea(ctx, t.ID, false)
			if err != nil {
				return errors.Wrap(err, "load proposals")
			}
			if len(active) == 0 {
				res.ProposalRequired = true
				return nil
			}
			if from == idea.StageDeciding {
				return nil
			}
			t.SetStage(target, now)
		case target == idea.StageDeferred:
			t.Defer(nil, now)
			action = audit.ActionIdeaDeferred
		default:
			t.SetStage(target, now)
		}

		if err := repos.Ideas().Update(ctx, t); err != nil {
			return errors.Wrap(err, "failed to update idea")
		}
		res.Changed = true
		rec = audit.NewRecord(actx, audit.EntityTradeIdea, t.ID, action, audit.CategoryStage, now).
			Transition(string(from), string(t.EffectiveStage()))
		return nil
	})
	if err != nil {
		workflow.LogFailure(s.log, "move_stage", err, "idea_id", ideaID, "target", target, "actor_id", actx.ActorID)
		return nil, err
	}
	if !res.Changed {
		return res, nil
	}

	s.notifier.Emit(ctx, rec)
	s.log.Infow("Trade idea moved",
		"idea_id", ideaID,
		"from", rec.FromState,
		"to", rec.ToState,
		"actor_id", actx.ActorID,
	)
	return res, nil
}

// Restore brings a trashed idea back into the stage it had when it was trashed
func (s *Service) Restore(ctx context.Context, ideaID uuid.UUID, actx audit.ActionContext) (_ *idea.TradeIdea, err error) {
	defer workflow.Observe("restore_idea", time.Now(), &err)

	return s.mutate(ctx, "restore_idea", ideaID, actx, func(ctx context.Context, repos gateway.Repositories, t *idea.TradeIdea, now time.Time) (*audit.Record, error) {
		if !t.IsTrashed() {
			return nil, errors.Wrapf(errors.ErrInvalidTransition, "idea %s is not in the trash", t.ID)
		}
		if err := workflow.RequireOwner(t, actx.ActorID); err != nil {
			return nil, err
		}
		t.Restore(now)
		rec := audit.NewRecord(actx, audit.EntityTradeIdea, t.ID, audit.ActionIdeaRestored, audit.CategoryLifecycle, now).
			Transition(string(idea.StageDeleted), string(t.Stage))
		return &rec, nil
	})
}

// LinkPortfolio adds the idea to a portfolio's lab
func (s *Service) LinkPortfolio(ctx context.Context, ideaID, portfolioID uuid.UUID, actx audit.ActionContext) (_ *idea.TradeIdea, err error) {
	defer workflow.Observe("link_portfolio", time.Now(), &err)

	return s.mutate(ctx, "link_portfolio", ideaID, actx, func(ctx context.Context, repos gateway.Repositories, t *idea.TradeIdea, now time.Time) (*audit.Record, error) {
		if err := guardLinkage(t, actx.ActorID); err != nil {
			return nil, err
		}
		link := &idea.Link{TradeIdeaID: t.ID, PortfolioID: portfolioID, LinkedBy: actx.ActorID, CreatedAt: now}
		if err := repos.Links().Add(ctx, link); err != nil {
			return nil, errors.Wrap(err, "failed to link portfolio")
		}
		t.UpdatedAt = now
		rec := audit.NewRecord(actx, audit.EntityTradeIdea, t.ID, audit.ActionPortfolioLinked, audit.CategoryLinkage, now).
			Changed("portfolio_id", portfolioID)
		return &rec, nil
	})
}

// UnlinkPortfolio removes the idea from a portfolio's lab.
// A portfolio that already decided cannot be unlinked; its pending proposals are deactivated.
// Dropping the last undecided portfolio resolves the aggregate stage.
func (s *Service) UnlinkPortfolio(ctx context.Context, ideaID, portfolioID uuid.UUID, actx audit.ActionContext) (_ *idea.TradeIdea, err error) {
	defer workflow.Observe("unlink_portfolio", time.Now(), &err)

	return s.mutate(ctx, "unlink_portfolio", ideaID, actx, func(ctx context.Context, repos gateway.Repositories, t *idea.TradeIdea, now time.Time) (*audit.Record, error) {
		if err := guardLinkage(t, actx.ActorID); err != nil {
			return nil, err
		}
		subject := track.IdeaSubject(t.ID)
		tr, err := repos.Tracks().Get(ctx, subject, portfolioID)
		switch {
		case err == nil && tr.IsDecided():
			return nil, errors.Wrapf(errors.ErrForbidden, "portfolio %s already decided on idea %s", portfolioID, t.ID)
		case err != nil && !errors.Is(err, errors.ErrNotFound):
			return nil, errors.Wrap(err, "load track")
		}

		active, err := repos.Proposals().ListByIdea(ctx, t.ID, false)
		if err != nil {
			return nil, errors.Wrap(err, "load proposals")
		}
		for _, p := range active {
			if p.PortfolioID != portfolioID {
				continue
			}
			if err := repos.Proposals().Deactivate(ctx, p.ID); err != nil {
				return nil, errors.Wrap(err, "deactivate proposal")
			}
		}
		if err := repos.Links().Remove(ctx, t.ID, portfolioID); err != nil {
			return nil, errors.Wrap(err, "failed to unlink portfolio")
		}
		if t.PrimaryPortfolioID != nil && *t.PrimaryPortfolioID == portfolioID {
			t.PrimaryPortfolioID = nil
		}

		rec := audit.NewRecord(actx, audit.EntityTradeIdea, t.ID, audit.ActionPortfolioUnlinked, audit.CategoryLinkage, now).
			Changed("portfolio_id", portfolioID)

		next, ok, err := workflow.Resolve(ctx, repos, subject, t.ID, t.Stage)
		if err != nil {
			return nil, err
		}
		if ok {
			rec = rec.Transition(string(t.Stage), string(next))
			t.SetStage(next, now)
		}
		t.UpdatedAt = now
		return &rec, nil
	})
}

// Assign sets the idea's assignee
func (s *Service) Assign(ctx context.Context, ideaID, assignee uuid.UUID, actx audit.ActionContext) (_ *idea.TradeIdea, err error) {
	defer workflow.Observe("assign_idea", time.Now(), &err)

	return s.mutate(ctx, "assign_idea", ideaID, actx, func(ctx context.Context, repos gateway.Repositories, t *idea.TradeIdea, now time.Time) (*audit.Record, error) {
		if err := workflow.RequireVisible(t); err != nil {
			return nil, err
		}
		if err := workflow.RequireOwner(t, actx.ActorID); err != nil {
			return nil, err
		}
		if assignee == uuid.Nil {
			return nil, errors.NewValidationError("assigned_to", "assignee is required", assignee)
		}
		t.AssignedTo = &assignee
		t.UpdatedAt = now
		rec := audit.NewRecord(actx, audit.EntityTradeIdea, t.ID, audit.ActionIdeaAssigned, audit.CategoryLifecycle, now).
			Changed("assigned_to", assignee)
		return &rec, nil
	})
}

// AddCollaborator grants an actor global-stage move rights on the idea
func (s *Service) AddCollaborator(ctx context.Context, ideaID, collaborator uuid.UUID, actx audit.ActionContext) (_ *idea.TradeIdea, err error) {
	defer workflow.Observe("add_collaborator", time.Now(), &err)

	return s.mutate(ctx, "add_collaborator", ideaID, actx, func(ctx context.Context, repos gateway.Repositories, t *idea.TradeIdea, now time.Time) (*audit.Record, error) {
		if err := workflow.RequireVisible(t); err != nil {
			return nil, err
		}
		if err := workflow.RequireOwner(t, actx.ActorID); err != nil {
			return nil, err
		}
		if collaborator == uuid.Nil {
			return nil, errors.NewValidationError("collaborator", "collaborator is required", collaborator)
		}
		if slices.Contains(t.Collaborators, collaborator) {
			return nil, nil
		}
		t.Collaborators = append(t.Collaborators, collaborator)
		t.UpdatedAt = now
		rec := audit.NewRecord(actx, audit.EntityTradeIdea, t.ID, audit.ActionCollaboratorAdded, audit.CategoryLifecycle, now).
			Changed("collaborator", collaborator)
		return &rec, nil
	})
}

type mutation func(ctx context.Context, repos gateway.Repositories, t *idea.TradeIdea, now time.Time) (*audit.Record, error)

// mutate locks the idea, applies fn and writes the idea back when fn produced a record.
// A nil record means nothing changed.
func (s *Service) mutate(ctx context.Context, command string, ideaID uuid.UUID, actx audit.ActionContext, fn mutation) (*idea.TradeIdea, error) {
	if err := workflow.RequireActor(actx); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		out *idea.TradeIdea
		rec *audit.Record
	)
	err := s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		t, err := repos.Ideas().GetForUpdate(ctx, ideaID)
		if err != nil {
			return err
		}
		out = t
		if rec, err = fn(ctx, repos, t, now); err != nil || rec == nil {
			return err
		}
		return errors.Wrap(repos.Ideas().Update(ctx, t), "failed to update idea")
	})
	if err != nil {
		workflow.LogFailure(s.log, command, err, "idea_id", ideaID, "actor_id", actx.ActorID)
		return nil, err
	}
	if rec != nil {
		s.notifier.Emit(ctx, *rec)
		s.log.Infow("Trade idea updated", "command", command, "idea_id", ideaID, "actor_id", actx.ActorID)
	}
	return out, nil
}

func guardLinkage(t *idea.TradeIdea, actorID uuid.UUID) error {
	if err := workflow.RequireUnpaired(t); err != nil {
		return err
	}
	if err := workflow.RequireVisible(t); err != nil {
		return err
	}
	return workflow.RequireOwner(t, actorID)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != uuid.Nil && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
