package proposal

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
	"ideaflow/internal/services/workflow"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Service is the proposal ledger: sizing proposals per (idea, portfolio, actor)
type Service struct {
	gw       gateway.Gateway
	holdings portfolio.HoldingsProvider
	notifier *workflow.Notifier
	now      workflow.Clock
	log      *logger.Logger

	// advance moves an idea into deciding when its first proposal lands
	advance bool
}

// Option configures the service
type Option func(*Service)

// WithClock overrides the wall clock
func WithClock(clock workflow.Clock) Option {
	return func(s *Service) { s.now = clock }
}

// WithAdvanceOnProposal switches from the proposal overlay to advancing the idea's stage
func WithAdvanceOnProposal(advance bool) Option {
	return func(s *Service) { s.advance = advance }
}

// NewService creates a new proposal service
func NewService(gw gateway.Gateway, holdings portfolio.HoldingsProvider, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		gw:       gw,
		holdings: holdings,
		notifier: workflow.NewNotifier(sink),
		now:      workflow.SystemClock,
		log:      logger.Get().With("component", "proposal_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitParams contains parameters for submitting a sizing proposal
type SubmitParams struct {
	IdeaID      uuid.UUID
	PortfolioID uuid.UUID
	SizingMode  proposal.SizingMode
	InputValue  decimal.Decimal
	Shares      *decimal.Decimal
	Notes       *string
}

// SubmitResult is the stored proposal and what the submission did
type SubmitResult struct {
	Proposal *proposal.Proposal
	// Replaced is set when an earlier active proposal of the same key was overwritten
	Replaced bool
	// Advanced is set when the idea moved into deciding because of this proposal
	Advanced bool
}

// SubmitProposal resolves the sizing against portfolio weights and upserts the
// actor's active proposal for the idea and portfolio
func (s *Service) SubmitProposal(ctx context.Context, params SubmitParams, actx audit.ActionContext) (_ *SubmitResult, err error) {
	defer workflow.Observe("submit_proposal", time.Now(), &err)
	defer func() {
		if err != nil {
			workflow.LogFailure(s.log, "submit_proposal", err,
				"idea_id", params.IdeaID, "portfolio_id", params.PortfolioID, "actor_id", actx.ActorID)
		}
	}()

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}
	sizing, err := proposal.NewSizing(params.SizingMode, params.InputValue)
	if err != nil {
		return nil, err
	}

	t, err := s.gw.Ideas().GetByID(ctx, params.IdeaID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolve(ctx, sizing, t.AssetID, params.PortfolioID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res := &SubmitResult{}
	var stageRec *audit.Record

	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		t, err := repos.Ideas().GetForUpdate(ctx, params.IdeaID)
		if err != nil {
			return err
		}
		if err := workflow.RequireVisible(t); err != nil {
			return err
		}
		if t.Stage == idea.StageDeferred {
			return errors.Wrapf(errors.ErrForbidden, "idea %s is deferred", t.ID)
		}
		if err := requireLinked(ctx, repos, t.ID, params.PortfolioID); err != nil {
			return err
		}

		roles, err := repos.Memberships().Roles(ctx, actx.ActorID, []uuid.UUID{params.PortfolioID})
		if err != nil {
			return errors.Wrap(err, "load roles")
		}
		// no role in the portfolio proposes as an analyst
		role := roles[params.PortfolioID]

		p := &proposal.Proposal{
			TradeIdeaID:    t.ID,
			PortfolioID:    params.PortfolioID,
			ActorID:        actx.ActorID,
			SizingMode:     sizing.Mode(),
			InputValue:     sizing.Input(),
			ResolvedWeight: &resolved,
			Shares:         params.Shares,
			Notes:          params.Notes,
			IsActive:       true,
			ProposalType:   proposal.TypeAnalyst,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if role.CanDecide() {
			p.ProposalType = proposal.TypePMInitiated
		}
		if t.IsPaired() {
			pt, err := repos.Pairs().GetByID(ctx, *t.PairID)
			if err != nil {
				return errors.Wrap(err, "load pair trade")
			}
			if !pt.IsActive() {
				return errors.Wrapf(errors.ErrInvalidPair, "pair %s is dissolved", pt.ID)
			}
			p.PairTradeID = &pt.ID
		}

		created, err := repos.Proposals().Upsert(ctx, p)
		if err != nil {
			return errors.Wrap(err, "failed to upsert proposal")
		}
		res.Proposal = p
		res.Replaced = !created

		if s.advance && !t.IsPaired() && t.Stage != idea.StageDeciding && idea.DefaultGraph.HasEdge(t.Stage, idea.StageDeciding) {
			from := t.Stage
			t.SetStage(idea.StageDeciding, now)
			if err := repos.Ideas().Update(ctx, t); err != nil {
				return errors.Wrap(err, "failed to advance idea")
			}
			res.Advanced = true
			rec := audit.NewRecord(actx, audit.EntityTradeIdea, t.ID, audit.ActionStageChanged, audit.CategoryStage, now).
				Transition(string(from), string(idea.StageDeciding)).
				Changed("proposal_id", p.ID)
			stageRec = &rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := res.Proposal
	action := audit.ActionProposalSubmitted
	if res.Replaced {
		action = audit.ActionProposalReplaced
	}
	records := []audit.Record{
		audit.NewRecord(actx, audit.EntityProposal, p.ID, action, audit.CategoryProposal, now).
			Transition("", "active").
			Changed("trade_idea_id", p.TradeIdeaID).
			Changed("portfolio_id", p.PortfolioID).
			Changed("sizing_mode", p.SizingMode).
			Changed("input_value", p.InputValue.String()).
			Changed("resolved_weight", resolved.String()).
			Changed("proposal_type", p.ProposalType),
	}
	if stageRec != nil {
		records = append(records, *stageRec)
	}
	s.notifier.Emit(ctx, records...)

	s.log.Infow("Proposal submitted",
		"proposal_id", p.ID,
		"idea_id", p.TradeIdeaID,
		"portfolio_id", p.PortfolioID,
		"actor_id", actx.ActorID,
		"sizing_mode", p.SizingMode,
		"resolved_weight", resolved.String(),
		"replaced", res.Replaced,
	)
	return res, nil
}

// resolve looks up holdings only for modes that read them
func (s *Service) resolve(ctx context.Context, sizing proposal.Sizing, assetID string, portfolioID uuid.UUID) (decimal.Decimal, error) {
	var w proposal.Weights
	if sizing.NeedsWeights() {
		h, err := s.holdings.Holding(ctx, assetID, portfolioID)
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "load holding")
		}
		w = proposal.Weights{Current: h.Current, Benchmark: h.Benchmark}
	}
	resolved, err := sizing.Resolve(w)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "resolve %s for %s", sizing.Mode(), assetID)
	}
	return resolved, nil
}

// WithdrawProposal deactivates the actor's own proposal while its portfolio is undecided
func (s *Service) WithdrawProposal(ctx context.Context, proposalID uuid.UUID, actx audit.ActionContext) (_ *proposal.Proposal, err error) {
	defer workflow.Observe("withdraw_proposal", time.Now(), &err)

	if err = workflow.RequireActor(actx); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		out     *proposal.Proposal
		changed bool
	)
	err = s.gw.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		p, err := repos.Proposals().GetByID(ctx, proposalID)
		if err != nil {
			return err
		}
		out = p
		if p.ActorID != actx.ActorID {
			return errors.Wrapf(errors.ErrForbidden, "proposal %s belongs to another actor", p.ID)
		}
		if !p.IsActive {
			return nil
		}

		subject := track.IdeaSubject(p.TradeIdeaID)
		if p.PairTradeID != nil {
			subject = track.PairSubject(*p.PairTradeID)
		}
		tr, err := repos.Tracks().Get(ctx, subject, p.PortfolioID)
		switch {
		case err == nil && tr.IsDecided():
			return errors.Wrapf(errors.ErrForbidden, "portfolio %s already decided", p.PortfolioID)
		case err != nil && !errors.Is(err, errors.ErrNotFound):
			return errors.Wrap(err, "load track")
		}

		if err := repos.Proposals().Deactivate(ctx, p.ID); err != nil {
			return errors.Wrap(err, "failed to deactivate proposal")
		}
		p.IsActive = false
		p.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		workflow.LogFailure(s.log, "withdraw_proposal", err, "proposal_id", proposalID, "actor_id", actx.ActorID)
		return nil, err
	}

	if changed {
		s.notifier.Emit(ctx, audit.NewRecord(actx, audit.EntityProposal, out.ID, audit.ActionProposalWithdrawn, audit.CategoryProposal, now).
			Transition("active", "inactive").
			Changed("trade_idea_id", out.TradeIdeaID).
			Changed("portfolio_id", out.PortfolioID))
		s.log.Infow("Proposal withdrawn", "proposal_id", out.ID, "idea_id", out.TradeIdeaID, "actor_id", actx.ActorID)
	}
	return out, nil
}

// ListByIdea lists an idea's proposals, newest first
func (s *Service) ListByIdea(ctx context.Context, ideaID uuid.UUID, includeInactive bool) ([]*proposal.Proposal, error) {
	return s.gw.Proposals().ListByIdea(ctx, ideaID, includeInactive)
}

func requireLinked(ctx context.Context, repos gateway.Repositories, ideaID, portfolioID uuid.UUID) error {
	linked, err := repos.Links().PortfolioIDs(ctx, ideaID)
	if err != nil {
		return errors.Wrap(err, "load linked portfolios")
	}
	for _, id := range linked {
		if id == portfolioID {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrForbidden, "idea %s is not linked to portfolio %s", ideaID, portfolioID)
}
