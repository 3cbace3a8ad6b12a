package pairtrade

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
	"ideaflow/internal/metrics"
	"ideaflow/internal/services/workflow"
	"ideaflow/pkg/errors"
)

// DecideParams contains a decision on a pair within one portfolio
type DecideParams struct {
	PortfolioID uuid.UUID
	Action      track.Action
	// LongProposalID and ShortProposalID pick leg proposals; the latest active one is used otherwise
	LongProposalID  *uuid.UUID
	ShortProposalID *uuid.UUID
	// LegWeights overrides accepted weights, keyed by leg idea id
	LegWeights map[uuid.UUID]decimal.Decimal
	DeferUntil *time.Time
	Reason     *string
}

// DecideResult is the single pair track and the pair after aggregate resolution
type DecideResult struct {
	Track           *track.PortfolioTrack
	Pair            *pair.PairTrade
	PreviousOutcome string
	Resolved        bool
}

// Decide records one decision covering both legs, so a portfolio can never
// accept one leg and reject its offsetting leg.
func (s *Service) Decide(ctx context.Context, pairID uuid.UUID, params DecideParams, actx audit.ActionContext) (_ *DecideResult, err error) {
	defer workflow.Observe("decide_pair", time.Now(), &err)
	defer func() {
		if err != nil {
			workflow.LogFailure(s.log, "decide_pair", err, "pair_id", pairID, "portfolio_id", params.PortfolioID, "action", params.Action, "actor_id", actx.ActorID)
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
	var (
		from     idea.Stage
		legProps [2]*proposal.Proposal
	)

	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, legs, err := loadActive(ctx, repos, pairID)
		if err != nil {
			return err
		}
		res.Pair = p
		if err := portfolio.NewAccess(repos.Memberships()).RequireDecisionAuthority(ctx, actx.ActorID, params.PortfolioID); err != nil {
			return err
		}

		props, err := repos.Proposals().ListActiveByPair(ctx, p.ID, params.PortfolioID)
		if err != nil {
			return errors.Wrap(err, "load pair proposals")
		}
		if legProps[0], err = pick(props, p.LongLegID, params.LongProposalID); err != nil {
			return err
		}
		if legProps[1], err = pick(props, p.ShortLegID, params.ShortProposalID); err != nil {
			return err
		}

		d := track.Decision{
			Action:     params.Action,
			ProposalID: &legProps[0].ID,
			Reason:     params.Reason,
			DecidedBy:  actx.ActorID,
		}
		switch params.Action {
		case track.ActionAccept:
			weights, err := legWeights(legProps, params.LegWeights)
			if err != nil {
				return err
			}
			d.LegWeights = weights
		case track.ActionDefer:
			if params.DeferUntil != nil {
				day := idea.CalendarDate(*params.DeferUntil)
				d.DeferredUntil = &day
			}
		}

		subject := track.PairSubject(p.ID)
		tr, err := workflow.LoadTrack(ctx, repos, subject, params.PortfolioID, now)
		if err != nil {
			return err
		}
		res.PreviousOutcome = tr.OutcomeString()
		tr.Apply(d, now)
		if err := repos.Tracks().Upsert(ctx, tr); err != nil {
			return errors.Wrap(err, "failed to write pair track")
		}
		res.Track = tr

		if params.Action == track.ActionReject {
			for _, pr := range legProps {
				if err := repos.Proposals().Deactivate(ctx, pr.ID); err != nil {
					return errors.Wrap(err, "failed to deactivate rejected proposal")
				}
			}
		}

		next, ok, err := workflow.Resolve(ctx, repos, subject, p.LongLegID, p.Stage)
		if err != nil || !ok {
			return err
		}
		from = p.Stage
		p.SetStage(next, now)
		if err := repos.Pairs().Update(ctx, p); err != nil {
			return errors.Wrap(err, "failed to resolve pair stage")
		}
		res.Resolved = true
		return workflow.SyncLegs(ctx, repos, p, legs, now)
	})
	if err != nil {
		return nil, err
	}

	tr, p := res.Track, res.Pair
	metrics.Decisions.WithLabelValues(string(params.Action), string(track.SubjectPair)).Inc()

	rec := audit.NewRecord(actx, audit.EntityTrack, tr.ID, audit.ActionPairDecisionRecord, audit.CategoryDecision, now).
		Transition(res.PreviousOutcome, tr.OutcomeString()).
		Changed("pair_trade_id", p.ID).
		Changed("portfolio_id", tr.PortfolioID).
		Changed("long_proposal_id", legProps[0].ID).
		Changed("short_proposal_id", legProps[1].ID).
		WithReason(tr.DecisionReason)
	if len(tr.LegWeights) > 0 {
		weights := make(map[string]string, len(tr.LegWeights))
		for leg, w := range tr.LegWeights {
			weights[leg.String()] = w.String()
		}
		rec = rec.Changed("leg_weights", weights)
	}
	if tr.DeferredUntil != nil {
		rec = rec.Changed("deferred_until", tr.DeferredUntil.Format(time.DateOnly))
	}
	records := []audit.Record{rec}
	if res.Resolved {
		metrics.AggregateTransitions.WithLabelValues(string(p.Stage)).Inc()
		records = append(records, audit.NewRecord(actx, audit.EntityPairTrade, p.ID, audit.ActionPairResolved, audit.CategoryStage, now).
			Transition(string(from), string(p.Stage)).
			Changed("portfolio_id", tr.PortfolioID))
	}
	s.notifier.Emit(ctx, records...)

	s.log.Infow("Pair decision recorded",
		"pair_id", p.ID,
		"portfolio_id", tr.PortfolioID,
		"outcome", tr.OutcomeString(),
		"previous_outcome", res.PreviousOutcome,
		"stage", p.Stage,
		"actor_id", actx.ActorID,
	)
	return res, nil
}

// pick returns the requested proposal of a leg, or the leg's most recently updated one
func pick(props []*proposal.Proposal, legID uuid.UUID, want *uuid.UUID) (*proposal.Proposal, error) {
	var latest *proposal.Proposal
	for _, pr := range props {
		if pr.TradeIdeaID != legID {
			continue
		}
		if want != nil {
			if pr.ID == *want {
				return pr, nil
			}
			continue
		}
		if latest == nil || pr.UpdatedAt.After(latest.UpdatedAt) {
			latest = pr
		}
	}
	if latest == nil {
		return nil, errors.Wrapf(errors.ErrForbidden, "leg %s has no active proposal in this portfolio", legID)
	}
	return latest, nil
}

func legWeights(props [2]*proposal.Proposal, overrides map[uuid.UUID]decimal.Decimal) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal, 2)
	for _, pr := range props {
		if w, ok := overrides[pr.TradeIdeaID]; ok {
			out[pr.TradeIdeaID] = w
			continue
		}
		if pr.ResolvedWeight == nil {
			return nil, errors.NewValidationError("leg_weights", "leg proposal has no resolved weight and no override was given", pr.TradeIdeaID)
		}
		out[pr.TradeIdeaID] = *pr.ResolvedWeight
	}
	return out, nil
}

// RecomputeAggregate re-derives the pair's aggregate stage from its persisted tracks.
// A pair moved after its newest decision keeps its stage.
func (s *Service) RecomputeAggregate(ctx context.Context, pairID uuid.UUID) (_ *pair.PairTrade, changed bool, err error) {
	defer workflow.Observe("recompute_pair_aggregate", time.Now(), &err)

	now := s.now()
	var (
		out  *pair.PairTrade
		from idea.Stage
	)
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, err := repos.Pairs().GetForUpdate(ctx, pairID)
		if err != nil {
			return err
		}
		out = p
		if !p.IsActive() {
			return nil
		}
		next, ok, err := workflow.Reconcile(ctx, repos, track.PairSubject(p.ID), p.LongLegID, p.Stage, p.StageChangedAt)
		if err != nil || !ok {
			return err
		}
		legs, err := workflow.LoadLegs(ctx, repos, p)
		if err != nil {
			return err
		}
		from = p.Stage
		p.SetStage(next, now)
		if err := repos.Pairs().Update(ctx, p); err != nil {
			return errors.Wrap(err, "failed to resolve pair stage")
		}
		changed = true
		return workflow.SyncLegs(ctx, repos, p, legs, now)
	})
	if err != nil {
		workflow.LogFailure(s.log, "recompute_pair_aggregate", err, "pair_id", pairID)
		return nil, false, err
	}
	if !changed {
		return out, false, nil
	}

	metrics.AggregateTransitions.WithLabelValues(string(out.Stage)).Inc()
	s.notifier.Emit(ctx, audit.NewRecord(workflow.SystemActor("aggregate-recompute"), audit.EntityPairTrade, out.ID,
		audit.ActionPairResolved, audit.CategoryStage, now).
		Transition(string(from), string(out.Stage)))
	s.log.Infow("Pair aggregate reconciled", "pair_id", out.ID, "from", from, "to", out.Stage)
	return out, true, nil
}

// ListTracks returns the pair's per-portfolio tracks
func (s *Service) ListTracks(ctx context.Context, pairID uuid.UUID) ([]*track.PortfolioTrack, error) {
	return s.gw.Tracks().ListBySubject(ctx, track.PairSubject(pairID))
}
