// Package pairtrade coordinates pair trades: a long and a short leg that move,
// defer and get decided as one unit. The pair's stage is authoritative and is
// mirrored onto both legs in the same transaction.
package pairtrade

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/track"
	"ideaflow/internal/services/workflow"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Service is the pair trade coordinator
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

// NewService creates a new pair trade service
func NewService(gw gateway.Gateway, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		gw:       gw,
		notifier: workflow.NewNotifier(sink),
		now:      workflow.SystemClock,
		log:      logger.Get().With("component", "pairtrade_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GroupParams contains parameters for grouping two ideas into a pair
type GroupParams struct {
	LongLegID  uuid.UUID
	ShortLegID uuid.UUID
	// Name defaults to "LONG/SHORT" built from the legs' assets
	Name      string
	Rationale string
	Urgency   idea.Urgency
}

// GroupLegs creates a pair trade over two open, unpaired and undecided ideas
// linked to exactly the same portfolios. The pair starts in the earlier of the legs' stages.
func (s *Service) GroupLegs(ctx context.Context, params GroupParams, actx audit.ActionContext) (_ *pair.PairTrade, err error) {
	defer workflow.Observe("group_legs", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}
	if params.LongLegID == uuid.Nil || params.ShortLegID == uuid.Nil {
		return nil, errors.NewValidationError("legs", "both legs are required", nil)
	}
	if params.LongLegID == params.ShortLegID {
		return nil, errors.Wrap(errors.ErrInvalidPair, "an idea cannot be paired with itself")
	}
	if params.Urgency == "" {
		params.Urgency = idea.UrgencyMedium
	}
	if !params.Urgency.Valid() {
		return nil, errors.NewValidationError("urgency", "unknown urgency", params.Urgency)
	}

	now := s.now()
	var out *pair.PairTrade
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		long, err := repos.Ideas().GetForUpdate(ctx, params.LongLegID)
		if err != nil {
			return err
		}
		short, err := repos.Ideas().GetForUpdate(ctx, params.ShortLegID)
		if err != nil {
			return err
		}
		legs := []*idea.TradeIdea{long, short}

		for _, leg := range legs {
			switch {
			case leg.IsPaired():
				return errors.Wrapf(errors.ErrInvalidPair, "idea %s already belongs to pair %s", leg.ID, *leg.PairID)
			case leg.IsTrashed():
				return errors.Wrapf(errors.ErrInvalidPair, "idea %s is in the trash", leg.ID)
			case !leg.Stage.IsOpen():
				return errors.Wrapf(errors.ErrInvalidPair, "idea %s is %s", leg.ID, leg.Stage)
			}
			if err := workflow.RequireOwner(leg, actx.ActorID); err != nil {
				return err
			}
		}

		if err := sameLinkage(ctx, repos, long.ID, short.ID); err != nil {
			return err
		}
		tracks, err := repos.Tracks().ListBySubjects(ctx, []track.Subject{track.IdeaSubject(long.ID), track.IdeaSubject(short.ID)})
		if err != nil {
			return errors.Wrap(err, "load tracks")
		}
		for _, tr := range tracks {
			if tr.IsDecided() {
				return errors.Wrapf(errors.ErrInvalidPair, "idea %s already has a decision in portfolio %s", tr.Subject.ID, tr.PortfolioID)
			}
		}

		stage := long.Stage
		if short.Stage.Rank() < stage.Rank() {
			stage = short.Stage
		}
		name := strings.TrimSpace(params.Name)
		if name == "" {
			name = long.AssetID + "/" + short.AssetID
		}
		p := &pair.PairTrade{
			ID:             uuid.New(),
			Name:           name,
			Rationale:      params.Rationale,
			Urgency:        params.Urgency,
			Stage:          stage,
			LongLegID:      long.ID,
			ShortLegID:     short.ID,
			VisibilityTier: idea.TierActive,
			CreatedBy:      actx.ActorID,
			StageChangedAt: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := repos.Pairs().Create(ctx, p); err != nil {
			return errors.Wrap(err, "failed to create pair trade")
		}

		longType, shortType := idea.LegLong, idea.LegShort
		long.PairID, long.LegType = &p.ID, &longType
		short.PairID, short.LegType = &p.ID, &shortType
		if err := workflow.SyncLegs(ctx, repos, p, legs, now); err != nil {
			return err
		}
		for _, leg := range legs {
			if err := repos.Proposals().SetPairTrade(ctx, leg.ID, &p.ID); err != nil {
				return errors.Wrap(err, "group leg proposals")
			}
		}
		out = p
		return nil
	})
	if err != nil {
		workflow.LogFailure(s.log, "group_legs", err, "long_leg_id", params.LongLegID, "short_leg_id", params.ShortLegID, "actor_id", actx.ActorID)
		return nil, err
	}

	s.notifier.Emit(ctx, audit.NewRecord(actx, audit.EntityPairTrade, out.ID, audit.ActionPairGrouped, audit.CategoryPair, now).
		Transition("", string(out.Stage)).
		Changed("long_leg_id", out.LongLegID).
		Changed("short_leg_id", out.ShortLegID).
		Changed("name", out.Name))
	s.log.Infow("Pair trade grouped",
		"pair_id", out.ID,
		"long_leg_id", out.LongLegID,
		"short_leg_id", out.ShortLegID,
		"stage", out.Stage,
		"actor_id", actx.ActorID,
	)
	return out, nil
}

func sameLinkage(ctx context.Context, repos gateway.Repositories, longID, shortID uuid.UUID) error {
	longLinks, err := repos.Links().PortfolioIDs(ctx, longID)
	if err != nil {
		return errors.Wrap(err, "load linked portfolios")
	}
	shortLinks, err := repos.Links().PortfolioIDs(ctx, shortID)
	if err != nil {
		return errors.Wrap(err, "load linked portfolios")
	}
	if len(longLinks) == 0 {
		return errors.Wrap(errors.ErrInvalidPair, "legs are not linked to any portfolio")
	}
	if len(longLinks) != len(shortLinks) {
		return errors.Wrap(errors.ErrInvalidPair, "legs are linked to different portfolios")
	}
	for _, pid := range longLinks {
		if !slices.Contains(shortLinks, pid) {
			return errors.Wrapf(errors.ErrInvalidPair, "portfolio %s is linked to one leg only", pid)
		}
	}
	return nil
}

// Get returns a pair trade
func (s *Service) Get(ctx context.Context, pairID uuid.UUID) (*pair.PairTrade, error) {
	return s.gw.Pairs().GetByID(ctx, pairID)
}

// MoveResult is the outcome of MoveStage
type MoveResult struct {
	Pair *pair.PairTrade
	// ProposalRequired is set when a move into deciding was held back because no
	// portfolio has active proposals for both legs. Nothing was written.
	ProposalRequired bool
	Changed          bool
}

// MoveStage moves the pair, and with it both legs, along one edge of the stage graph
func (s *Service) MoveStage(ctx context.Context, pairID uuid.UUID, target idea.Stage, actx audit.ActionContext) (_ *MoveResult, err error) {
	defer workflow.Observe("move_pair_stage", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, errors.NewValidationError("stage", "unknown stage", target)
	}
	if target == idea.StageDeleted {
		return nil, errors.Wrap(errors.ErrInvalidPair, "dissolve the pair before trashing its legs")
	}

	now := s.now()
	res := &MoveResult{}
	var from idea.Stage

	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, legs, err := loadActive(ctx, repos, pairID)
		if err != nil {
			return err
		}
		res.Pair = p
		if err := idea.DefaultGraph.Validate(p.Stage, target); err != nil {
			return err
		}
		if err := workflow.AuthorizePairMove(ctx, repos, p, legs, target, actx.ActorID); err != nil {
			return err
		}

		from = p.Stage
		switch target {
		case idea.StageDeciding:
			sized, err := hasSizedPortfolio(ctx, repos, p)
			if err != nil {
				return err
			}
			if !sized {
				res.ProposalRequired = true
				return nil
			}
			if from == idea.StageDeciding {
				return nil
			}
			p.SetStage(target, now)
		case idea.StageDeferred:
			p.Defer(nil, now)
		default:
			p.SetStage(target, now)
		}

		if err := repos.Pairs().Update(ctx, p); err != nil {
			return errors.Wrap(err, "failed to update pair trade")
		}
		res.Changed = true
		return workflow.SyncLegs(ctx, repos, p, legs, now)
	})
	if err != nil {
		workflow.LogFailure(s.log, "move_pair_stage", err, "pair_id", pairID, "target", target, "actor_id", actx.ActorID)
		return nil, err
	}
	if !res.Changed {
		return res, nil
	}

	s.notifier.Emit(ctx, audit.NewRecord(actx, audit.EntityPairTrade, pairID, audit.ActionPairStageChanged, audit.CategoryStage, now).
		Transition(string(from), string(res.Pair.Stage)))
	s.log.Infow("Pair trade moved", "pair_id", pairID, "from", from, "to", res.Pair.Stage, "actor_id", actx.ActorID)
	return res, nil
}

// hasSizedPortfolio reports whether some linked portfolio has active proposals for both legs
func hasSizedPortfolio(ctx context.Context, repos gateway.Repositories, p *pair.PairTrade) (bool, error) {
	linked, err := repos.Links().PortfolioIDs(ctx, p.LongLegID)
	if err != nil {
		return false, errors.Wrap(err, "load linked portfolios")
	}
	for _, pid := range linked {
		props, err := repos.Proposals().ListActiveByPair(ctx, p.ID, pid)
		if err != nil {
			return false, errors.Wrap(err, "load pair proposals")
		}
		var long, short bool
		for _, pr := range props {
			long = long || pr.TradeIdeaID == p.LongLegID
			short = short || pr.TradeIdeaID == p.ShortLegID
		}
		if long && short {
			return true, nil
		}
	}
	return false, nil
}

// DeferParams contains parameters for deferring a pair
type DeferParams struct {
	Until  *time.Time
	Reason *string
}

// DeferPair moves a deciding pair and its legs into deferred
func (s *Service) DeferPair(ctx context.Context, pairID uuid.UUID, params DeferParams, actx audit.ActionContext) (_ *pair.PairTrade, err error) {
	defer workflow.Observe("defer_pair", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		out  *pair.PairTrade
		from idea.Stage
	)
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, legs, err := loadActive(ctx, repos, pairID)
		if err != nil {
			return err
		}
		if err := idea.DefaultGraph.Validate(p.Stage, idea.StageDeferred); err != nil {
			return err
		}
		if err := workflow.AuthorizePairMove(ctx, repos, p, legs, idea.StageDeferred, actx.ActorID); err != nil {
			return err
		}
		from = p.Stage
		p.Defer(params.Until, now)
		if err := repos.Pairs().Update(ctx, p); err != nil {
			return errors.Wrap(err, "failed to defer pair trade")
		}
		out = p
		return workflow.SyncLegs(ctx, repos, p, legs, now)
	})
	if err != nil {
		workflow.LogFailure(s.log, "defer_pair", err, "pair_id", pairID, "actor_id", actx.ActorID)
		return nil, err
	}

	rec := audit.NewRecord(actx, audit.EntityPairTrade, out.ID, audit.ActionPairStageChanged, audit.CategoryStage, now).
		Transition(string(from), string(idea.StageDeferred)).
		WithReason(params.Reason)
	if out.DeferredUntil != nil {
		rec = rec.Changed("deferred_until", out.DeferredUntil.Format(time.DateOnly))
	}
	s.notifier.Emit(ctx, rec)
	s.log.Infow("Pair trade deferred", "pair_id", out.ID, "deferred_until", out.DeferredUntil, "actor_id", actx.ActorID)
	return out, nil
}

// DissolvePair ungroups the legs of a pair that has no recorded decision.
// The legs keep the pair's stage and become independent ideas again.
func (s *Service) DissolvePair(ctx context.Context, pairID uuid.UUID, actx audit.ActionContext) (_ *pair.PairTrade, err error) {
	defer workflow.Observe("dissolve_pair", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}

	now := s.now()
	var out *pair.PairTrade
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, legs, err := loadActive(ctx, repos, pairID)
		if err != nil {
			return err
		}
		if err := workflow.RequirePairOwner(p, legs, actx.ActorID); err != nil {
			return err
		}
		tracks, err := repos.Tracks().ListBySubject(ctx, track.PairSubject(p.ID))
		if err != nil {
			return errors.Wrap(err, "load tracks")
		}
		for _, tr := range tracks {
			if tr.IsDecided() {
				return errors.Wrapf(errors.ErrForbidden, "pair %s has a decision in portfolio %s", p.ID, tr.PortfolioID)
			}
		}

		for _, leg := range legs {
			leg.PairID, leg.LegType = nil, nil
			leg.UpdatedAt = now
			if err := repos.Ideas().Update(ctx, leg); err != nil {
				return errors.Wrapf(err, "failed to release leg %s", leg.ID)
			}
			if err := repos.Proposals().SetPairTrade(ctx, leg.ID, nil); err != nil {
				return errors.Wrap(err, "ungroup leg proposals")
			}
		}
		p.VisibilityTier = idea.TierTrashed
		p.UpdatedAt = now
		out = p
		return errors.Wrap(repos.Pairs().Update(ctx, p), "failed to dissolve pair trade")
	})
	if err != nil {
		workflow.LogFailure(s.log, "dissolve_pair", err, "pair_id", pairID, "actor_id", actx.ActorID)
		return nil, err
	}

	s.notifier.Emit(ctx, audit.NewRecord(actx, audit.EntityPairTrade, out.ID, audit.ActionPairDissolved, audit.CategoryPair, now).
		Transition(string(out.Stage), string(idea.StageDeleted)).
		Changed("long_leg_id", out.LongLegID).
		Changed("short_leg_id", out.ShortLegID))
	s.log.Infow("Pair trade dissolved", "pair_id", out.ID, "actor_id", actx.ActorID)
	return out, nil
}

// LinkPortfolio links both legs to a portfolio
func (s *Service) LinkPortfolio(ctx context.Context, pairID, portfolioID uuid.UUID, actx audit.ActionContext) (_ *pair.PairTrade, err error) {
	defer workflow.Observe("link_pair_portfolio", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}
	if portfolioID == uuid.Nil {
		return nil, errors.NewValidationError("portfolio_id", "portfolio is required", portfolioID)
	}

	now := s.now()
	var out *pair.PairTrade
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, legs, err := loadActive(ctx, repos, pairID)
		if err != nil {
			return err
		}
		if err := workflow.RequirePairOwner(p, legs, actx.ActorID); err != nil {
			return err
		}
		for _, leg := range legs {
			link := &idea.Link{TradeIdeaID: leg.ID, PortfolioID: portfolioID, LinkedBy: actx.ActorID, CreatedAt: now}
			if err := repos.Links().Add(ctx, link); err != nil {
				return errors.Wrap(err, "failed to link portfolio")
			}
		}
		out = p
		return nil
	})
	if err != nil {
		workflow.LogFailure(s.log, "link_pair_portfolio", err, "pair_id", pairID, "portfolio_id", portfolioID, "actor_id", actx.ActorID)
		return nil, err
	}

	s.notifier.Emit(ctx, audit.NewRecord(actx, audit.EntityPairTrade, out.ID, audit.ActionPortfolioLinked, audit.CategoryLinkage, now).
		Changed("portfolio_id", portfolioID))
	s.log.Infow("Pair trade linked", "pair_id", out.ID, "portfolio_id", portfolioID, "actor_id", actx.ActorID)
	return out, nil
}

// UnlinkPortfolio unlinks both legs from a portfolio that has not decided on the pair.
// The portfolio's pending leg proposals are deactivated and the aggregate is re-resolved.
func (s *Service) UnlinkPortfolio(ctx context.Context, pairID, portfolioID uuid.UUID, actx audit.ActionContext) (_ *pair.PairTrade, err error) {
	defer workflow.Observe("unlink_pair_portfolio", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		out      *pair.PairTrade
		from     idea.Stage
		resolved bool
	)
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, legs, err := loadActive(ctx, repos, pairID)
		if err != nil {
			return err
		}
		out = p
		if err := workflow.RequirePairOwner(p, legs, actx.ActorID); err != nil {
			return err
		}
		subject := track.PairSubject(p.ID)
		tr, err := workflow.LoadTrack(ctx, repos, subject, portfolioID, now)
		if err != nil {
			return err
		}
		if tr.IsDecided() {
			return errors.Wrapf(errors.ErrForbidden, "portfolio %s already decided on pair %s", portfolioID, p.ID)
		}

		props, err := repos.Proposals().ListActiveByPair(ctx, p.ID, portfolioID)
		if err != nil {
			return errors.Wrap(err, "load pair proposals")
		}
		for _, pr := range props {
			if err := repos.Proposals().Deactivate(ctx, pr.ID); err != nil {
				return errors.Wrap(err, "deactivate proposal")
			}
		}
		for _, leg := range legs {
			if err := repos.Links().Remove(ctx, leg.ID, portfolioID); err != nil {
				return errors.Wrap(err, "failed to unlink portfolio")
			}
		}

		next, ok, err := workflow.Resolve(ctx, repos, subject, p.LongLegID, p.Stage)
		if err != nil {
			return err
		}
		if ok {
			from = p.Stage
			p.SetStage(next, now)
			if err := repos.Pairs().Update(ctx, p); err != nil {
				return errors.Wrap(err, "failed to resolve pair stage")
			}
			resolved = true
		}

		for _, leg := range legs {
			if leg.PrimaryPortfolioID != nil && *leg.PrimaryPortfolioID == portfolioID {
				leg.PrimaryPortfolioID = nil
			}
			p.MirrorOnto(leg, now)
			if err := repos.Ideas().Update(ctx, leg); err != nil {
				return errors.Wrapf(err, "failed to update leg %s", leg.ID)
			}
		}
		return nil
	})
	if err != nil {
		workflow.LogFailure(s.log, "unlink_pair_portfolio", err, "pair_id", pairID, "portfolio_id", portfolioID, "actor_id", actx.ActorID)
		return nil, err
	}

	rec := audit.NewRecord(actx, audit.EntityPairTrade, out.ID, audit.ActionPortfolioUnlinked, audit.CategoryLinkage, now).
		Changed("portfolio_id", portfolioID)
	if resolved {
		rec = rec.Transition(string(from), string(out.Stage))
	}
	s.notifier.Emit(ctx, rec)
	s.log.Infow("Pair trade unlinked", "pair_id", out.ID, "portfolio_id", portfolioID, "actor_id", actx.ActorID)
	return out, nil
}

// loadActive locks an undissolved pair and its legs
func loadActive(ctx context.Context, repos gateway.Repositories, pairID uuid.UUID) (*pair.PairTrade, []*idea.TradeIdea, error) {
	p, err := repos.Pairs().GetForUpdate(ctx, pairID)
	if err != nil {
		return nil, nil, err
	}
	if !p.IsActive() {
		return nil, nil, errors.Wrapf(errors.ErrInvalidPair, "pair %s is dissolved", p.ID)
	}
	legs, err := workflow.LoadLegs(ctx, repos, p)
	if err != nil {
		return nil, nil, err
	}
	return p, legs, nil
}
