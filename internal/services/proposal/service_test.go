package proposal

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
	"ideaflow/internal/testsupport"
	"ideaflow/pkg/errors"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string { return &s }

type fixture struct {
	w         *testsupport.Workflow
	svc       *Service
	portfolio uuid.UUID
	analyst   audit.ActionContext
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	w := testsupport.NewWorkflow(t)
	f := &fixture{w: w, portfolio: uuid.New()}
	f.svc = NewService(w.Store, w.Holdings, w.Audit, append([]Option{WithClock(w.Now)}, opts...)...)
	f.analyst = w.Analyst(t, "Ana", f.portfolio)
	return f
}

func (f *fixture) submit(t *testing.T, ideaID uuid.UUID, mode proposal.SizingMode, input string, actx audit.ActionContext) (*SubmitResult, error) {
	t.Helper()
	return f.svc.SubmitProposal(context.Background(), SubmitParams{
		IdeaID:      ideaID,
		PortfolioID: f.portfolio,
		SizingMode:  mode,
		InputValue:  d(input),
	}, actx)
}

func TestService_SubmitProposal_SizingArithmetic(t *testing.T) {
	tests := []struct {
		name  string
		mode  proposal.SizingMode
		input string
		want  string
	}{
		{"absolute weight", proposal.ModeAbsoluteWeight, "4.0", "4.0"},
		{"delta weight", proposal.ModeDeltaWeight, "0.5", "3.5"},
		{"active weight", proposal.ModeActiveWeight, "1.0", "3.0"},
		{"delta benchmark", proposal.ModeDeltaBenchmark, "0.5", "3.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio}, testsupport.WithAsset("MSFT"))
			f.w.SetHolding(f.portfolio, "MSFT", "3.0", strPtr("2.0"))

			res, err := f.submit(t, ti.ID, tt.mode, tt.input, f.analyst)
			require.NoError(t, err)

			require.NotNil(t, res.Proposal.ResolvedWeight)
			assert.True(t, d(tt.want).Equal(*res.Proposal.ResolvedWeight), "want %s got %s", tt.want, res.Proposal.ResolvedWeight)
			assert.Equal(t, tt.mode, res.Proposal.SizingMode)
			assert.Equal(t, proposal.TypeAnalyst, res.Proposal.ProposalType)
			assert.False(t, res.Replaced)
		})
	}
}

func TestService_SubmitProposal_BenchmarkUnavailable(t *testing.T) {
	f := newFixture(t)
	ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio}, testsupport.WithAsset("TSLA"))
	f.w.SetHolding(f.portfolio, "TSLA", "1.0", nil)

	for _, mode := range []proposal.SizingMode{proposal.ModeActiveWeight, proposal.ModeDeltaBenchmark} {
		_, err := f.submit(t, ti.ID, mode, "0.5", f.analyst)
		assert.ErrorIs(t, err, errors.ErrBenchmarkUnavailable)
	}

	active, err := f.w.Store.Proposals().ListByIdea(context.Background(), ti.ID, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, f.w.Audit.Records())

	res, err := f.submit(t, ti.ID, proposal.ModeDeltaWeight, "0.5", f.analyst)
	require.NoError(t, err, "delta weight needs no benchmark")
	assert.True(t, d("1.5").Equal(*res.Proposal.ResolvedWeight))
}

func TestService_SubmitProposal_UpsertReplaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio})

	first, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1.0", f.analyst)
	require.NoError(t, err)
	second, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1.75", f.analyst)
	require.NoError(t, err)

	assert.True(t, second.Replaced)
	assert.Equal(t, first.Proposal.ID, second.Proposal.ID)

	active, err := f.svc.ListByIdea(ctx, ti.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, d("1.75").Equal(*active[0].ResolvedWeight))

	// a second analyst gets their own row
	other := f.w.Analyst(t, "Ben", f.portfolio)
	_, err = f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "0.5", other)
	require.NoError(t, err)
	active, err = f.svc.ListByIdea(ctx, ti.ID, false)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	assert.Len(t, f.w.Audit.ByAction(audit.ActionProposalSubmitted), 2)
	assert.Len(t, f.w.Audit.ByAction(audit.ActionProposalReplaced), 1)
}

func TestService_SubmitProposal_ManagerIsPMInitiated(t *testing.T) {
	f := newFixture(t)
	ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio})
	pm := f.w.Manager(t, "Pat", f.portfolio)

	res, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "2.0", pm)
	require.NoError(t, err)
	assert.Equal(t, proposal.TypePMInitiated, res.Proposal.ProposalType)
}

func TestService_SubmitProposal_ActorWithoutRoleIsAnalyst(t *testing.T) {
	f := newFixture(t)
	ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio})
	guest := f.w.Actor("Zed")

	res, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1.5", guest)
	require.NoError(t, err)
	assert.Equal(t, proposal.TypeAnalyst, res.Proposal.ProposalType)
	assert.Equal(t, guest.ActorID, res.Proposal.ActorID)
	assert.True(t, res.Proposal.IsActive)
}

func TestService_SubmitProposal_Rejections(t *testing.T) {
	t.Run("portfolio not linked", func(t *testing.T) {
		f := newFixture(t)
		ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{uuid.New()})
		_, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1", f.analyst)
		assert.ErrorIs(t, err, errors.ErrForbidden)
	})

	t.Run("anonymous actor", func(t *testing.T) {
		f := newFixture(t)
		ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio})
		_, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1", audit.ActionContext{ActorName: "anon"})
		assert.ErrorIs(t, err, errors.ErrUnauthorized)
	})

	t.Run("trashed idea", func(t *testing.T) {
		f := newFixture(t)
		ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio}, func(ti *idea.TradeIdea) {
			ti.VisibilityTier = idea.TierTrashed
		})
		_, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1", f.analyst)
		assert.ErrorIs(t, err, errors.ErrForbidden)
	})

	t.Run("unknown mode", func(t *testing.T) {
		f := newFixture(t)
		ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio})
		_, err := f.submit(t, ti.ID, "percent_of_nav", "1", f.analyst)
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("stale idea", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.submit(t, uuid.New(), proposal.ModeAbsoluteWeight, "1", f.analyst)
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})
}

func TestService_SubmitProposal_StagePolicy(t *testing.T) {
	t.Run("overlay keeps the display stage", func(t *testing.T) {
		f := newFixture(t)
		ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio}, testsupport.InStage(idea.StageModeling))

		res, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1", f.analyst)
		require.NoError(t, err)
		assert.False(t, res.Advanced)
		assert.Equal(t, idea.StageModeling, f.w.ReloadIdea(t, ti.ID).Stage)
	})

	t.Run("advance moves modeling into deciding", func(t *testing.T) {
		f := newFixture(t, WithAdvanceOnProposal(true))
		ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio}, testsupport.InStage(idea.StageModeling))

		res, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1", f.analyst)
		require.NoError(t, err)
		assert.True(t, res.Advanced)
		assert.Equal(t, idea.StageDeciding, f.w.ReloadIdea(t, ti.ID).Stage)

		stage := f.w.Audit.ByAction(audit.ActionStageChanged)
		require.Len(t, stage, 1)
		assert.Equal(t, "modeling", stage[0].FromState)
	})

	t.Run("advance never skips pipeline edges", func(t *testing.T) {
		f := newFixture(t, WithAdvanceOnProposal(true))
		ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio}, testsupport.InStage(idea.StageIdea))

		res, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1", f.analyst)
		require.NoError(t, err)
		assert.False(t, res.Advanced)
		assert.Equal(t, idea.StageIdea, f.w.ReloadIdea(t, ti.ID).Stage)
	})
}

func TestService_SubmitProposal_PairLegIsGrouped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pairID := uuid.New()
	long, short := idea.LegLong, idea.LegShort
	longLeg := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio}, func(ti *idea.TradeIdea) { ti.PairID, ti.LegType = &pairID, &long })
	shortLeg := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio}, func(ti *idea.TradeIdea) { ti.PairID, ti.LegType = &pairID, &short })
	require.NoError(t, f.w.Store.Pairs().Create(ctx, &pair.PairTrade{
		ID: pairID, Name: "KO/PEP", Stage: idea.StageModeling, LongLegID: longLeg.ID, ShortLegID: shortLeg.ID,
	}))

	res, err := f.submit(t, longLeg.ID, proposal.ModeAbsoluteWeight, "1.5", f.analyst)
	require.NoError(t, err)
	require.NotNil(t, res.Proposal.PairTradeID)
	assert.Equal(t, pairID, *res.Proposal.PairTradeID)

	byPair, err := f.w.Store.Proposals().ListActiveByPair(ctx, pairID, f.portfolio)
	require.NoError(t, err)
	assert.Len(t, byPair, 1)
}

func TestService_WithdrawProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio})

	res, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1", f.analyst)
	require.NoError(t, err)
	id := res.Proposal.ID

	other := f.w.Analyst(t, "Ben", f.portfolio)
	_, err = f.svc.WithdrawProposal(ctx, id, other)
	assert.ErrorIs(t, err, errors.ErrForbidden, "only the author may withdraw")

	withdrawn, err := f.svc.WithdrawProposal(ctx, id, f.analyst)
	require.NoError(t, err)
	assert.False(t, withdrawn.IsActive)

	again, err := f.svc.WithdrawProposal(ctx, id, f.analyst)
	require.NoError(t, err)
	assert.False(t, again.IsActive)
	assert.Len(t, f.w.Audit.ByAction(audit.ActionProposalWithdrawn), 1)

	kept, err := f.svc.ListByIdea(ctx, ti.ID, true)
	require.NoError(t, err)
	assert.Len(t, kept, 1, "withdrawn proposals are retained")
}

func TestService_WithdrawProposal_AfterDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ti := f.w.SeedIdea(t, f.analyst, []uuid.UUID{f.portfolio})

	res, err := f.submit(t, ti.ID, proposal.ModeAbsoluteWeight, "1", f.analyst)
	require.NoError(t, err)

	tr := &track.PortfolioTrack{Subject: track.IdeaSubject(ti.ID), PortfolioID: f.portfolio}
	tr.Apply(track.Decision{Action: track.ActionDefer, DecidedBy: uuid.New()}, f.w.Now())
	require.NoError(t, f.w.Store.Tracks().Upsert(ctx, tr))

	_, err = f.svc.WithdrawProposal(ctx, res.Proposal.ID, f.analyst)
	assert.ErrorIs(t, err, errors.ErrForbidden)

	still, err := f.w.Store.Proposals().GetByID(ctx, res.Proposal.ID)
	require.NoError(t, err)
	assert.True(t, still.IsActive)
}
