package decision

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
	"ideaflow/internal/metrics"
	"ideaflow/internal/services/workflow"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Service records portfolio decisions on single ideas and resolves the idea's aggregate stage.
// The track write and the aggregate recompute share one transaction.
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

// NewService creates a new decision service
func NewService(gw gateway.Gateway, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		gw:       gw,
		notifier: workflow.NewNotifier(sink),
		now:      workflow.SystemClock,
		log:      logger.Get().With("component", "decision_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DecideParams contains the decision and its options
type DecideParams struct {
	Action track.Action
	// OverrideWeight replaces the proposal's resolved weight on accept
	OverrideWeight *decimal.Decimal
	// OverrideShares replaces the proposal's shares on accept
	OverrideShares *decimal.Decimal
	// DeferUntil is reduced to its calendar date
	DeferUntil *time.Time
	Reason     *string
}

// DecideResult is the written track and the idea after aggregate resolution
type DecideResult struct {
	Track *track.PortfolioTrack
	Idea  *idea.TradeIdea
	// PreviousOutcome is "" for a first decision
	PreviousOutcome string
	// Resolved is set when the idea's aggregate stage changed
	Resolved bool
}

// Decide records accept, reject or defer for the proposal's portfolio.
// Re-deciding a track overwrites it; the audit record keeps the previous outcome.
func (s *Service) Decide(ctx context.Context, proposalID uuid.UUID, params DecideParams, actx audit.ActionContext) (_ *DecideResult, err error) {
	defer workflow.Observe("decide", time.Now(), &err)
	defer func() {
		if err != nil {
			workflow.LogFailure(s.log, "decide", err, "proposal_id", proposalID, "action", params.Action, "actor_id", actx.ActorID)
		}
	}()

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}
	if !params.Action.Valid() {
		return nil, errors.NewValidationError("action", "unknown decision", params.Action)
	}

	now := s.now()
	res := &DecideResult{}
	var fromStage idea.Stage

	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, err := repos.Proposals().GetByID(ctx, proposalID)
		if err != nil {
			return err
		}
		if p.PairTradeID != nil {
			return errors.Wrapf(errors.ErrPairedLeg, "proposal %s belongs to pair %s", p.ID, *p.PairTradeID)
		}
		t, err := repos.Ideas().GetForUpdate(ctx, p.TradeIdeaID)
		if err != nil {
			return err
		}
		if err := workflow.RequireUnpaired(t); err != nil {
			return err
		}
		if err := workflow.RequireVisible(t); err != nil {
			return err
		}
		if !p.IsActive {
			return errors.Wrapf(errors.ErrForbidden, "proposal %s is no longer active", p.ID)
		}
		if err := portfolio.NewAccess(repos.Memberships()).RequireDecisionAuthority(ctx, actx.ActorID, p.PortfolioID); err != nil {
			return err
		}

		d, err := buildDecision(p, params, actx.ActorID)
		if err != nil {
			return err
		}

		subject := track.IdeaSubject(t.ID)
		tr, err := workflow.LoadTrack(ctx, repos, subject, p.PortfolioID, now)
		if err != nil {
			return err
		}
		res.PreviousOutcome = tr.OutcomeString()
		tr.Apply(d, now)
		if err := repos.Tracks().Upsert(ctx, tr); err != nil {
			return errors.Wrap(err, "failed to write track")
		}
		if params.Action == track.ActionReject {
			if err := repos.Proposals().Deactivate(ctx, p.ID); err != nil {
				return errors.Wrap(err, "failed to deactivate rejected proposal")
			}
		}
		res.Track = tr
		res.Idea = t

		next, ok, err := workflow.Resolve(ctx, repos, subject, t.ID, t.Stage)
		if err != nil || !ok {
			return err
		}
		fromStage = t.Stage
		t.SetStage(next, now)
		if err := repos.Ideas().Update(ctx, t); err != nil {
			return errors.Wrap(err, "failed to resolve idea stage")
		}
		res.Resolved = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	tr, t := res.Track, res.Idea
	metrics.Decisions.WithLabelValues(string(params.Action), string(track.SubjectIdea)).Inc()

	records := []audit.Record{decisionRecord(actx, tr, res.PreviousOutcome, now).
		Changed("trade_idea_id", t.ID).
		Changed("proposal_id", proposalID)}
	if res.Resolved {
		metrics.AggregateTransitions.WithLabelValues(string(t.Stage)).Inc()
		records = append(records, audit.NewRecord(actx, audit.EntityTradeIdea, t.ID, audit.ActionAggregateResolved, audit.CategoryStage, now).
			Transition(string(fromStage), string(t.Stage)).
			Changed("portfolio_id", tr.PortfolioID))
	}
	s.notifier.Emit(ctx, records...)

	s.log.Infow("Decision recorded",
		"idea_id", t.ID,
		"portfolio_id", tr.PortfolioID,
		"proposal_id", proposalID,
		"outcome", tr.OutcomeString(),
		"previous_outcome", res.PreviousOutcome,
		"stage", t.Stage,
		"actor_id", actx.ActorID,
	)
	return res, nil
}

func buildDecision(p *proposal.Proposal, params DecideParams, actorID uuid.UUID) (track.Decision, error) {
	d := track.Decision{
		Action:     params.Action,
		ProposalID: &p.ID,
		Reason:     params.Reason,
		DecidedBy:  actorID,
	}
	switch params.Action {
	case track.ActionAccept:
		weight := p.ResolvedWeight
		if params.OverrideWeight != nil {
			weight = params.OverrideWeight
		}
		if weight == nil {
			return d, errors.NewValidationError("accepted_weight", "proposal has no resolved weight and no override was given", nil)
		}
		shares := p.Shares
		if params.OverrideShares != nil {
			shares = params.OverrideShares
		}
		d.AcceptedWeight = weight
		d.AcceptedShares = shares
	case track.ActionDefer:
		if params.DeferUntil != nil {
			day := idea.CalendarDate(*params.DeferUntil)
			d.DeferredUntil = &day
		}
	}
	return d, nil
}

// decisionRecord is the audit record of a track write; fromState is the previous outcome
func decisionRecord(actx audit.ActionContext, tr *track.PortfolioTrack, previous string, now time.Time) audit.Record {
	rec := audit.NewRecord(actx, audit.EntityTrack, tr.ID, audit.ActionDecisionRecorded, audit.CategoryDecision, now).
		Transition(previous, tr.OutcomeString()).
		Changed("subject_type", tr.Subject.Type).
		Changed("subject_id", tr.Subject.ID).
		Changed("portfolio_id", tr.PortfolioID).
		WithReason(tr.DecisionReason)
	if tr.AcceptedWeight != nil {
		rec = rec.Changed("accepted_weight", tr.AcceptedWeight.String())
	}
	if tr.AcceptedShares != nil {
		rec = rec.Changed("accepted_shares", tr.AcceptedShares.String())
	}
	if tr.DeferredUntil != nil {
		rec = rec.Changed("deferred_until", tr.DeferredUntil.Format(time.DateOnly))
	}
	return rec
}

// RecomputeAggregate re-derives the idea's aggregate stage from persisted tracks.
// It is idempotent and leaves pair legs and trashed ideas alone, as well as ideas
// whose stage was moved after their newest decision.
func (s *Service) RecomputeAggregate(ctx context.Context, ideaID uuid.UUID) (_ *idea.TradeIdea, changed bool, err error) {
	defer workflow.Observe("recompute_aggregate", time.Now(), &err)

	now := s.now()
	var (
		out  *idea.TradeIdea
		from idea.Stage
	)
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		t, err := repos.Ideas().GetForUpdate(ctx, ideaID)
		if err != nil {
			return err
		}
		out = t
		if t.IsPaired() || t.IsTrashed() {
			return nil
		}
		next, ok, err := workflow.Reconcile(ctx, repos, track.IdeaSubject(t.ID), t.ID, t.Stage, t.StageChangedAt)
		if err != nil || !ok {
			return err
		}
		from = t.Stage
		t.SetStage(next, now)
		changed = true
		return errors.Wrap(repos.Ideas().Update(ctx, t), "failed to resolve idea stage")
	})
	if err != nil {
		workflow.LogFailure(s.log, "recompute_aggregate", err, "idea_id", ideaID)
		return nil, false, err
	}
	if !changed {
		return out, false, nil
	}

	metrics.AggregateTransitions.WithLabelValues(string(out.Stage)).Inc()
	s.notifier.Emit(ctx, audit.NewRecord(workflow.SystemActor("aggregate-recompute"), audit.EntityTradeIdea, out.ID,
		audit.ActionAggregateResolved, audit.CategoryStage, now).
		Transition(string(from), string(out.Stage)))
	s.log.Infow("Aggregate stage reconciled", "idea_id", out.ID, "from", from, "to", out.Stage)
	return out, true, nil
}

// ListTracks returns the idea's per-portfolio tracks
func (s *Service) ListTracks(ctx context.Context, ideaID uuid.UUID) ([]*track.PortfolioTrack, error) {
	return s.gw.Tracks().ListBySubject(ctx, track.IdeaSubject(ideaID))
}
