package decision

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
	ideasvc "ideaflow/internal/services/idea"
	"ideaflow/internal/testsupport"
	"ideaflow/pkg/errors"
)

type fixture struct {
	w          *testsupport.Workflow
	svc        *Service
	portfolios []uuid.UUID
	analyst    audit.ActionContext
	pm         audit.ActionContext
	idea       *idea.TradeIdea
	proposals  map[uuid.UUID]*proposal.Proposal
}

// newFixture seeds an idea in deciding, linked to n portfolios, with one analyst proposal per portfolio
func newFixture(t *testing.T, n int, opts ...testsupport.IdeaOption) *fixture {
	w := testsupport.NewWorkflow(t)
	f := &fixture{w: w, proposals: make(map[uuid.UUID]*proposal.Proposal)}
	for i := 0; i < n; i++ {
		f.portfolios = append(f.portfolios, uuid.New())
	}
	f.svc = NewService(w.Store, w.Audit, WithClock(w.Now))
	f.analyst = w.Analyst(t, "Ana", f.portfolios...)
	f.pm = w.Manager(t, "Pat", f.portfolios...)
	f.idea = w.SeedIdea(t, f.analyst, f.portfolios, append([]testsupport.IdeaOption{testsupport.InStage(idea.StageDeciding)}, opts...)...)

	for i, pid := range f.portfolios {
		f.proposals[pid] = f.propose(t, pid, fmt.Sprintf("%d.5", i+1))
	}
	return f
}

func (f *fixture) propose(t *testing.T, portfolioID uuid.UUID, weight string) *proposal.Proposal {
	t.Helper()
	w := decimal.RequireFromString(weight)
	shares := decimal.NewFromInt(1200)
	p := &proposal.Proposal{
		TradeIdeaID:    f.idea.ID,
		PortfolioID:    portfolioID,
		ActorID:        f.analyst.ActorID,
		SizingMode:     proposal.ModeAbsoluteWeight,
		InputValue:     w,
		ResolvedWeight: &w,
		Shares:         &shares,
		ProposalType:   proposal.TypeAnalyst,
		CreatedAt:      f.w.Now(),
		UpdatedAt:      f.w.Now(),
	}
	_, err := f.w.Store.Proposals().Upsert(context.Background(), p)
	require.NoError(t, err)
	return p
}

func (f *fixture) decide(t *testing.T, portfolioID uuid.UUID, action track.Action) *DecideResult {
	t.Helper()
	res, err := f.svc.Decide(context.Background(), f.proposals[portfolioID].ID, DecideParams{Action: action}, f.pm)
	require.NoError(t, err)
	return res
}

func TestService_Decide_AggregateDerivation(t *testing.T) {
	t.Run("two accepted one rejected is approved", func(t *testing.T) {
		f := newFixture(t, 3)
		p := f.portfolios

		res := f.decide(t, p[0], track.ActionAccept)
		assert.False(t, res.Resolved)
		res = f.decide(t, p[1], track.ActionAccept)
		assert.False(t, res.Resolved)
		assert.Equal(t, idea.StageDeciding, f.w.ReloadIdea(t, f.idea.ID).Stage, "pending portfolio keeps the idea in deciding")

		res = f.decide(t, p[2], track.ActionReject)
		assert.True(t, res.Resolved)
		assert.Equal(t, idea.StageApproved, f.w.ReloadIdea(t, f.idea.ID).Stage)

		resolved := f.w.Audit.ByAction(audit.ActionAggregateResolved)
		require.Len(t, resolved, 1)
		assert.Equal(t, "deciding", resolved[0].FromState)
		assert.Equal(t, "approved", resolved[0].ToState)
		assert.Len(t, f.w.Audit.ByAction(audit.ActionDecisionRecorded), 3)
	})

	t.Run("all rejected is rejected", func(t *testing.T) {
		f := newFixture(t, 3)
		for _, pid := range f.portfolios {
			f.decide(t, pid, track.ActionReject)
		}
		assert.Equal(t, idea.StageRejected, f.w.ReloadIdea(t, f.idea.ID).Stage)
	})

	t.Run("deferrals settle without acceptance", func(t *testing.T) {
		f := newFixture(t, 2)
		f.decide(t, f.portfolios[0], track.ActionDefer)
		f.decide(t, f.portfolios[1], track.ActionReject)
		assert.Equal(t, idea.StageRejected, f.w.ReloadIdea(t, f.idea.ID).Stage)
	})

	t.Run("proposal overlay resolves from an earlier column", func(t *testing.T) {
		f := newFixture(t, 1, testsupport.InStage(idea.StageModeling))
		res := f.decide(t, f.portfolios[0], track.ActionAccept)
		assert.True(t, res.Resolved)
		assert.Equal(t, idea.StageApproved, res.Idea.Stage)
	})
}

func TestService_Decide_TrackContents(t *testing.T) {
	ctx := context.Background()

	t.Run("accept uses the resolved weight", func(t *testing.T) {
		f := newFixture(t, 1)
		res := f.decide(t, f.portfolios[0], track.ActionAccept)

		require.NotNil(t, res.Track.AcceptedWeight)
		assert.True(t, decimal.RequireFromString("1.5").Equal(*res.Track.AcceptedWeight))
		require.NotNil(t, res.Track.AcceptedShares)
		assert.True(t, decimal.NewFromInt(1200).Equal(*res.Track.AcceptedShares))
		assert.Equal(t, f.pm.ActorID, *res.Track.DecidedBy)
		assert.Equal(t, f.proposals[f.portfolios[0]].ID, *res.Track.ProposalID)
	})

	t.Run("accept with override", func(t *testing.T) {
		f := newFixture(t, 1)
		override := decimal.RequireFromString("0.75")
		res, err := f.svc.Decide(ctx, f.proposals[f.portfolios[0]].ID, DecideParams{
			Action:         track.ActionAccept,
			OverrideWeight: &override,
		}, f.pm)
		require.NoError(t, err)
		assert.True(t, override.Equal(*res.Track.AcceptedWeight))
	})

	t.Run("reject deactivates the proposal", func(t *testing.T) {
		f := newFixture(t, 2)
		reason := "liquidity too thin"
		pid := f.portfolios[0]
		res, err := f.svc.Decide(ctx, f.proposals[pid].ID, DecideParams{Action: track.ActionReject, Reason: &reason}, f.pm)
		require.NoError(t, err)
		assert.Nil(t, res.Track.AcceptedWeight)
		assert.Equal(t, reason, *res.Track.DecisionReason)

		p, err := f.w.Store.Proposals().GetByID(ctx, f.proposals[pid].ID)
		require.NoError(t, err)
		assert.False(t, p.IsActive)

		rec := f.w.Audit.ByAction(audit.ActionDecisionRecorded)
		require.Len(t, rec, 1)
		require.NotNil(t, rec[0].Metadata.Reason)
		assert.Equal(t, reason, *rec[0].Metadata.Reason)
	})

	t.Run("defer stores the calendar date", func(t *testing.T) {
		f := newFixture(t, 2)
		until := time.Date(2024, 3, 10, 17, 45, 0, 0, time.FixedZone("EST", -5*3600))
		res, err := f.svc.Decide(ctx, f.proposals[f.portfolios[0]].ID, DecideParams{Action: track.ActionDefer, DeferUntil: &until}, f.pm)
		require.NoError(t, err)

		require.NotNil(t, res.Track.DeferredUntil)
		assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), *res.Track.DeferredUntil)
		assert.Equal(t, track.OutcomeDeferred, *res.Track.Outcome)
	})
}

func TestService_Decide_RedecisionOverwrites(t *testing.T) {
	f := newFixture(t, 1)
	pid := f.portfolios[0]

	first := f.decide(t, pid, track.ActionAccept)
	assert.Equal(t, "", first.PreviousOutcome)
	assert.Equal(t, idea.StageApproved, f.w.ReloadIdea(t, f.idea.ID).Stage)

	second := f.decide(t, pid, track.ActionReject)
	assert.Equal(t, "accepted", second.PreviousOutcome)
	assert.Equal(t, first.Track.ID, second.Track.ID)
	assert.Nil(t, second.Track.AcceptedWeight, "accepted fields are cleared")
	assert.Equal(t, idea.StageRejected, f.w.ReloadIdea(t, f.idea.ID).Stage)

	tracks, err := f.svc.ListTracks(context.Background(), f.idea.ID)
	require.NoError(t, err)
	assert.Len(t, tracks, 1)

	recs := f.w.Audit.ByAction(audit.ActionDecisionRecorded)
	require.Len(t, recs, 2)
	assert.Equal(t, "accepted", recs[1].FromState)
	assert.Equal(t, "rejected", recs[1].ToState)
}

func TestService_Decide_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("actor without decision authority", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.Decide(ctx, f.proposals[f.portfolios[0]].ID, DecideParams{Action: track.ActionAccept}, f.analyst)
		assert.ErrorIs(t, err, errors.ErrUnauthorized)
	})

	t.Run("manager of another portfolio", func(t *testing.T) {
		f := newFixture(t, 1)
		other := f.w.Manager(t, "Other", uuid.New())
		_, err := f.svc.Decide(ctx, f.proposals[f.portfolios[0]].ID, DecideParams{Action: track.ActionAccept}, other)
		assert.ErrorIs(t, err, errors.ErrUnauthorized)
	})

	t.Run("unknown action", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.Decide(ctx, f.proposals[f.portfolios[0]].ID, DecideParams{Action: "approve"}, f.pm)
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("stale proposal", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.Decide(ctx, uuid.New(), DecideParams{Action: track.ActionAccept}, f.pm)
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("inactive proposal", func(t *testing.T) {
		f := newFixture(t, 1)
		id := f.proposals[f.portfolios[0]].ID
		require.NoError(t, f.w.Store.Proposals().Deactivate(ctx, id))
		_, err := f.svc.Decide(ctx, id, DecideParams{Action: track.ActionAccept}, f.pm)
		assert.ErrorIs(t, err, errors.ErrForbidden)
	})

	t.Run("paired leg", func(t *testing.T) {
		pairID := uuid.New()
		long := idea.LegLong
		f := newFixture(t, 1, func(ti *idea.TradeIdea) { ti.PairID, ti.LegType = &pairID, &long })
		_, err := f.svc.Decide(ctx, f.proposals[f.portfolios[0]].ID, DecideParams{Action: track.ActionAccept}, f.pm)
		assert.ErrorIs(t, err, errors.ErrPairedLeg)
		assert.ErrorIs(t, err, errors.ErrInvalidPair)
	})

	t.Run("accept without any weight", func(t *testing.T) {
		f := newFixture(t, 1)
		p := f.proposals[f.portfolios[0]]
		p.ResolvedWeight = nil
		_, err := f.w.Store.Proposals().Upsert(ctx, p)
		require.NoError(t, err)

		_, err = f.svc.Decide(ctx, p.ID, DecideParams{Action: track.ActionAccept}, f.pm)
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("failed decisions write nothing", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.Decide(ctx, f.proposals[f.portfolios[0]].ID, DecideParams{Action: track.ActionAccept}, f.analyst)
		require.Error(t, err)

		tracks, err := f.svc.ListTracks(ctx, f.idea.ID)
		require.NoError(t, err)
		assert.Empty(t, tracks)
		assert.Empty(t, f.w.Audit.Records())
	})
}

func TestService_Decide_AuditFailureKeepsDecision(t *testing.T) {
	f := newFixture(t, 1)
	f.w.Audit.FailWith(errors.New("broker down"))

	res := f.decide(t, f.portfolios[0], track.ActionAccept)
	assert.True(t, res.Resolved)
	assert.Equal(t, idea.StageApproved, f.w.ReloadIdea(t, f.idea.ID).Stage)
}

func TestService_RecomputeAggregate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	// tracks written by another writer after the idea last moved
	f.w.SetNow(f.w.Now().Add(time.Minute))

	for _, pid := range f.portfolios {
		tr := &track.PortfolioTrack{Subject: track.IdeaSubject(f.idea.ID), PortfolioID: pid}
		tr.Apply(track.Decision{Action: track.ActionAccept, DecidedBy: f.pm.ActorID}, f.w.Now())
		require.NoError(t, f.w.Store.Tracks().Upsert(ctx, tr))
	}

	ti, changed, err := f.svc.RecomputeAggregate(ctx, f.idea.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, idea.StageApproved, ti.Stage)

	_, changed, err = f.svc.RecomputeAggregate(ctx, f.idea.ID)
	require.NoError(t, err)
	assert.False(t, changed, "recompute is idempotent")

	recs := f.w.Audit.ByAction(audit.ActionAggregateResolved)
	require.Len(t, recs, 1)
	assert.Equal(t, "system", recs[0].ActorName)
}

func TestService_RecomputeAggregate_KeepsReopenedIdea(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	ideas := ideasvc.NewService(f.w.Store, f.w.Audit, ideasvc.WithClock(f.w.Now))

	res := f.decide(t, f.portfolios[0], track.ActionAccept)
	require.True(t, res.Resolved)
	require.Equal(t, idea.StageApproved, f.w.ReloadIdea(t, f.idea.ID).Stage)

	f.w.SetNow(f.w.Now().Add(time.Hour))
	_, err := ideas.MoveStage(ctx, f.idea.ID, idea.StageIdea, f.analyst)
	require.NoError(t, err)

	f.w.SetNow(f.w.Now().Add(time.Hour))
	ti, changed, err := f.svc.RecomputeAggregate(ctx, f.idea.ID)
	require.NoError(t, err)
	assert.False(t, changed, "a replayed decision does not undo the reopen")
	assert.Equal(t, idea.StageIdea, ti.Stage)
	assert.Equal(t, idea.StageIdea, f.w.ReloadIdea(t, f.idea.ID).Stage)
	assert.Empty(t, f.w.Audit.ByAction(audit.ActionAggregateResolved))

	// a new decision after the reopen resolves again
	res = f.decide(t, f.portfolios[0], track.ActionReject)
	assert.True(t, res.Resolved)
	assert.Equal(t, idea.StageRejected, f.w.ReloadIdea(t, f.idea.ID).Stage)
}

func TestService_RecomputeAggregate_LeavesPendingIdeas(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	f.decide(t, f.portfolios[0], track.ActionAccept)

	ti, changed, err := f.svc.RecomputeAggregate(ctx, f.idea.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, idea.StageDeciding, ti.Stage)
}
