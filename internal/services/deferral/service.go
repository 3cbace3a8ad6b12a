// Package deferral parks trade ideas until a calendar date and surfaces them again.
// A due idea is only listed; its stage changes when someone acknowledges it.
package deferral

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/services/workflow"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Service is the deferral scheduler
type Service struct {
	gw       gateway.Gateway
	notifier *workflow.Notifier
	now      workflow.Clock
	loc      *time.Location
	log      *logger.Logger
}

// Option configures the service
type Option func(*Service)

// WithClock overrides the wall clock
func WithClock(clock workflow.Clock) Option {
	return func(s *Service) { s.now = clock }
}

// WithLocation sets the calendar that decides which local day it is
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewService creates a new deferral service; the calendar defaults to UTC
func NewService(gw gateway.Gateway, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		gw:       gw,
		notifier: workflow.NewNotifier(sink),
		now:      workflow.SystemClock,
		loc:      time.UTC,
		log:      logger.Get().With("component", "deferral_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready compares calendar dates only: the local date of now against the
// UTC date of the stored deferral instant. A nil date never resurfaces.
func Ready(deferredUntil *time.Time, now time.Time, loc *time.Location) bool {
	if deferredUntil == nil {
		return false
	}
	today := idea.CalendarDate(now.In(loc))
	due := idea.CalendarDate(deferredUntil.UTC())
	return !today.Before(due)
}

// IsReadyToResurface reports whether a deferred idea is due
func (s *Service) IsReadyToResurface(t *idea.TradeIdea) bool {
	return t.Stage == idea.StageDeferred && !t.IsTrashed() && Ready(t.DeferredUntil, s.now(), s.loc)
}

func (s *Service) pairReady(p *pair.PairTrade) bool {
	return p.Stage == idea.StageDeferred && p.IsActive() && Ready(p.DeferredUntil, s.now(), s.loc)
}

// DeferParams contains parameters for deferring an idea
type DeferParams struct {
	// Until is optional; without it the idea stays deferred until moved manually
	Until  *time.Time
	Reason *string
}

// Defer moves a deciding idea into deferred, remembering its column
func (s *Service) Defer(ctx context.Context, ideaID uuid.UUID, params DeferParams, actx audit.ActionContext) (_ *idea.TradeIdea, err error) {
	defer workflow.Observe("defer_idea", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}

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
		if err := workflow.RequireUnpaired(t); err != nil {
			return err
		}
		if err := workflow.RequireVisible(t); err != nil {
			return err
		}
		if err := idea.DefaultGraph.Validate(t.Stage, idea.StageDeferred); err != nil {
			return err
		}
		if err := workflow.AuthorizeMove(ctx, repos, t, idea.StageDeferred, actx.ActorID); err != nil {
			return err
		}
		from = t.Stage
		t.Defer(params.Until, now)
		out = t
		return errors.Wrap(repos.Ideas().Update(ctx, t), "failed to defer idea")
	})
	if err != nil {
		workflow.LogFailure(s.log, "defer_idea", err, "idea_id", ideaID, "actor_id", actx.ActorID)
		return nil, err
	}

	rec := audit.NewRecord(actx, audit.EntityTradeIdea, out.ID, audit.ActionIdeaDeferred, audit.CategoryStage, now).
		Transition(string(from), string(idea.StageDeferred)).
		WithReason(params.Reason)
	if out.DeferredUntil != nil {
		rec = rec.Changed("deferred_until", out.DeferredUntil.Format(time.DateOnly))
	}
	s.notifier.Emit(ctx, rec)
	s.log.Infow("Trade idea deferred", "idea_id", out.ID, "from", from, "deferred_until", out.DeferredUntil, "actor_id", actx.ActorID)
	return out, nil
}

// Resurfaced is one due item: a single idea, or a pair shown once for both legs
type Resurfaced struct {
	IdeaID uuid.UUID
	// PairID is set for pairs; IdeaID is then the long leg
	PairID        *uuid.UUID
	Column        idea.Stage
	DeferredUntil time.Time
}

// ListResurfaced lists due ideas in their original column without changing them
func (s *Service) ListResurfaced(ctx context.Context) ([]Resurfaced, error) {
	endOfToday := idea.CalendarDate(s.now().In(s.loc)).AddDate(0, 0, 1).Add(-time.Nanosecond)
	due, err := s.gw.Ideas().ListDeferredDue(ctx, endOfToday)
	if err != nil {
		return nil, errors.Wrap(err, "list deferred ideas")
	}

	var (
		out     []Resurfaced
		pairIDs []uuid.UUID
		seen    = make(map[uuid.UUID]bool)
	)
	for _, t := range due {
		if t.IsPaired() {
			if !seen[*t.PairID] {
				seen[*t.PairID] = true
				pairIDs = append(pairIDs, *t.PairID)
			}
			continue
		}
		if s.IsReadyToResurface(t) {
			out = append(out, Resurfaced{IdeaID: t.ID, Column: t.ResurfaceStage(), DeferredUntil: *t.DeferredUntil})
		}
	}

	if len(pairIDs) > 0 {
		pairs, err := s.gw.Pairs().ListByIDs(ctx, pairIDs)
		if err != nil {
			return nil, errors.Wrap(err, "load pairs")
		}
		for _, p := range pairs {
			if !s.pairReady(p) {
				continue
			}
			id := p.ID
			out = append(out, Resurfaced{IdeaID: p.LongLegID, PairID: &id, Column: p.ResurfaceStage(), DeferredUntil: *p.DeferredUntil})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].DeferredUntil.Before(out[j].DeferredUntil) })
	return out, nil
}

// NextResurface returns the earliest deferral date that is not yet due, or nil
func (s *Service) NextResurface(ctx context.Context) (*time.Time, error) {
	deferred, err := s.gw.Ideas().Query(ctx, idea.Filter{Stages: []idea.Stage{idea.StageDeferred}})
	if err != nil {
		return nil, errors.Wrap(err, "list deferred ideas")
	}
	now := s.now()
	var next *time.Time
	for _, t := range deferred {
		if t.DeferredUntil == nil || Ready(t.DeferredUntil, now, s.loc) {
			continue
		}
		if next == nil || t.DeferredUntil.Before(*next) {
			d := *t.DeferredUntil
			next = &d
		}
	}
	return next, nil
}

// AcknowledgeResurfaced returns a due idea to its original column
func (s *Service) AcknowledgeResurfaced(ctx context.Context, ideaID uuid.UUID, actx audit.ActionContext) (_ *idea.TradeIdea, err error) {
	defer workflow.Observe("acknowledge_resurfaced", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}

	now := s.now()
	var out *idea.TradeIdea
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		t, err := repos.Ideas().GetForUpdate(ctx, ideaID)
		if err != nil {
			return err
		}
		if err := workflow.RequireUnpaired(t); err != nil {
			return err
		}
		if err := workflow.RequireVisible(t); err != nil {
			return err
		}
		if t.Stage != idea.StageDeferred {
			return errors.Wrapf(errors.ErrInvalidTransition, "idea %s is %s, not deferred", t.ID, t.Stage)
		}
		if !s.IsReadyToResurface(t) {
			return errors.Wrapf(errors.ErrForbidden, "idea %s is not due to resurface", t.ID)
		}
		target := t.ResurfaceStage()
		if err := workflow.AuthorizeMove(ctx, repos, t, target, actx.ActorID); err != nil {
			return err
		}
		t.SetStage(target, now)
		out = t
		return errors.Wrap(repos.Ideas().Update(ctx, t), "failed to resurface idea")
	})
	if err != nil {
		workflow.LogFailure(s.log, "acknowledge_resurfaced", err, "idea_id", ideaID, "actor_id", actx.ActorID)
		return nil, err
	}

	s.notifier.Emit(ctx, audit.NewRecord(actx, audit.EntityTradeIdea, out.ID, audit.ActionResurfaceAcked, audit.CategoryStage, now).
		Transition(string(idea.StageDeferred), string(out.Stage)))
	s.log.Infow("Resurfaced idea acknowledged", "idea_id", out.ID, "stage", out.Stage, "actor_id", actx.ActorID)
	return out, nil
}

// AcknowledgePairResurfaced returns a due pair and both legs to the pair's original column
func (s *Service) AcknowledgePairResurfaced(ctx context.Context, pairID uuid.UUID, actx audit.ActionContext) (_ *pair.PairTrade, err error) {
	defer workflow.Observe("acknowledge_pair_resurfaced", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}

	now := s.now()
	var out *pair.PairTrade
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, err := repos.Pairs().GetForUpdate(ctx, pairID)
		if err != nil {
			return err
		}
		if !p.IsActive() {
			return errors.Wrapf(errors.ErrInvalidPair, "pair %s is dissolved", p.ID)
		}
		if p.Stage != idea.StageDeferred {
			return errors.Wrapf(errors.ErrInvalidTransition, "pair %s is %s, not deferred", p.ID, p.Stage)
		}
		if !s.pairReady(p) {
			return errors.Wrapf(errors.ErrForbidden, "pair %s is not due to resurface", p.ID)
		}
		legs, err := workflow.LoadLegs(ctx, repos, p)
		if err != nil {
			return err
		}
		target := p.ResurfaceStage()
		if err := workflow.AuthorizePairMove(ctx, repos, p, legs, target, actx.ActorID); err != nil {
			return err
		}
		p.SetStage(target, now)
		if err := repos.Pairs().Update(ctx, p); err != nil {
			return errors.Wrap(err, "failed to resurface pair")
		}
		out = p
		return workflow.SyncLegs(ctx, repos, p, legs, now)
	})
	if err != nil {
		workflow.LogFailure(s.log, "acknowledge_pair_resurfaced", err, "pair_id", pairID, "actor_id", actx.ActorID)
		return nil, err
	}

	s.notifier.Emit(ctx, audit.NewRecord(actx, audit.EntityPairTrade, out.ID, audit.ActionResurfaceAcked, audit.CategoryStage, now).
		Transition(string(idea.StageDeferred), string(out.Stage)))
	s.log.Infow("Resurfaced pair acknowledged", "pair_id", out.ID, "stage", out.Stage, "actor_id", actx.ActorID)
	return out, nil
}
