package expression

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
	"ideaflow/internal/testsupport"
)

func decided(subject track.Subject, portfolioID uuid.UUID, action track.Action) *track.PortfolioTrack {
	tr := &track.PortfolioTrack{ID: uuid.New(), Subject: subject, PortfolioID: portfolioID}
	tr.Apply(track.Decision{Action: action, DecidedBy: uuid.New()}, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	return tr
}

func TestProject_SingleIdea(t *testing.T) {
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	ti := &idea.TradeIdea{ID: uuid.New(), Stage: idea.StageDeciding, VisibilityTier: idea.TierActive}

	snap := Snapshot{
		Ideas: []*idea.TradeIdea{ti},
		Links: []*idea.Link{
			{TradeIdeaID: ti.ID, PortfolioID: p1},
			{TradeIdeaID: ti.ID, PortfolioID: p2},
			{TradeIdeaID: ti.ID, PortfolioID: p3},
		},
		Proposals: []*proposal.Proposal{
			{ID: uuid.New(), TradeIdeaID: ti.ID, PortfolioID: p1, IsActive: true},
			{ID: uuid.New(), TradeIdeaID: ti.ID, PortfolioID: p1, IsActive: true},
			{ID: uuid.New(), TradeIdeaID: ti.ID, PortfolioID: p2, IsActive: true},
			{ID: uuid.New(), TradeIdeaID: ti.ID, PortfolioID: p3, IsActive: false},
		},
		Tracks: []*track.PortfolioTrack{
			decided(track.IdeaSubject(ti.ID), p2, track.ActionAccept),
			{ID: uuid.New(), Subject: track.IdeaSubject(ti.ID), PortfolioID: p1},
		},
	}

	out := Project(snap)
	require.Len(t, out, 1)
	sum := out[0]

	assert.Equal(t, 3, sum.LabCount)
	assert.Equal(t, 2, sum.ProposalCount, "inactive proposals and decided portfolios are not pending")
	assert.Equal(t, map[uuid.UUID]int{p1: 2}, sum.PortfolioProposalCounts)
	assert.Equal(t, TrackCounts{Total: 3, Committed: 1}, sum.Tracks)
	assert.True(t, sum.AwaitingDecision, "p1 has proposals and no decision")
	assert.True(t, sum.NeedsSizing, "p3 has neither")
	assert.Nil(t, sum.PairID)
}

func TestProject_DecidedPortfolioHasNoPendingProposals(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	ti := &idea.TradeIdea{ID: uuid.New(), Stage: idea.StageApproved, VisibilityTier: idea.TierActive}
	subject := track.IdeaSubject(ti.ID)

	out := Project(Snapshot{
		Ideas: []*idea.TradeIdea{ti},
		Links: []*idea.Link{
			{TradeIdeaID: ti.ID, PortfolioID: p1},
			{TradeIdeaID: ti.ID, PortfolioID: p2},
		},
		Proposals: []*proposal.Proposal{
			{ID: uuid.New(), TradeIdeaID: ti.ID, PortfolioID: p1, IsActive: true},
			{ID: uuid.New(), TradeIdeaID: ti.ID, PortfolioID: p2, IsActive: true},
		},
		Tracks: []*track.PortfolioTrack{
			decided(subject, p1, track.ActionAccept),
			decided(subject, p2, track.ActionAccept),
		},
	})
	require.Len(t, out, 1)
	assert.Zero(t, out[0].ProposalCount)
	assert.Empty(t, out[0].PortfolioProposalCounts)
	assert.False(t, out[0].AwaitingDecision)
	assert.False(t, out[0].NeedsSizing)
	assert.Equal(t, TrackCounts{Total: 2, Committed: 2}, out[0].Tracks)
}

func TestProject_TrashedIdeaShowsDeleted(t *testing.T) {
	ti := &idea.TradeIdea{ID: uuid.New(), Stage: idea.StageModeling, VisibilityTier: idea.TierTrashed}
	out := Project(Snapshot{Ideas: []*idea.TradeIdea{ti}})
	require.Len(t, out, 1)
	assert.Equal(t, idea.StageDeleted, out[0].Stage)
	assert.Zero(t, out[0].LabCount)
	assert.False(t, out[0].NeedsSizing)
}

func TestProject_PairLegsShareCounters(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	pt := &pair.PairTrade{ID: uuid.New(), LongLegID: uuid.New(), ShortLegID: uuid.New(), Stage: idea.StageDeciding, VisibilityTier: idea.TierActive}
	long := &idea.TradeIdea{ID: pt.LongLegID, Stage: idea.StageDeciding, PairID: &pt.ID}
	short := &idea.TradeIdea{ID: pt.ShortLegID, Stage: idea.StageDeciding, PairID: &pt.ID}

	snap := Snapshot{
		Ideas: []*idea.TradeIdea{long, short},
		Pairs: []*pair.PairTrade{pt},
		Links: []*idea.Link{
			{TradeIdeaID: long.ID, PortfolioID: p1},
			{TradeIdeaID: long.ID, PortfolioID: p2},
			{TradeIdeaID: short.ID, PortfolioID: p1},
			{TradeIdeaID: short.ID, PortfolioID: p2},
		},
		Proposals: []*proposal.Proposal{
			{TradeIdeaID: long.ID, PortfolioID: p1, IsActive: true, PairTradeID: &pt.ID},
			{TradeIdeaID: short.ID, PortfolioID: p1, IsActive: true, PairTradeID: &pt.ID},
		},
		Tracks: []*track.PortfolioTrack{
			decided(track.PairSubject(pt.ID), p2, track.ActionReject),
			// a stale leg-level track must not count for a paired idea
			decided(track.IdeaSubject(long.ID), p1, track.ActionAccept),
		},
	}

	out := Project(snap)
	require.Len(t, out, 2)
	for _, sum := range out {
		require.NotNil(t, sum.PairID)
		assert.Equal(t, pt.ID, *sum.PairID)
		assert.Equal(t, 2, sum.LabCount)
		assert.Equal(t, 2, sum.ProposalCount)
		assert.Equal(t, TrackCounts{Total: 2, Committed: 1}, sum.Tracks)
		assert.True(t, sum.AwaitingDecision)
		assert.False(t, sum.NeedsSizing)
	}
}

func TestProject_DissolvedPairFallsBackToLeg(t *testing.T) {
	p1 := uuid.New()
	pt := &pair.PairTrade{ID: uuid.New(), VisibilityTier: idea.TierTrashed}
	ti := &idea.TradeIdea{ID: uuid.New(), Stage: idea.StageIdea, PairID: &pt.ID}
	pt.LongLegID = ti.ID

	out := Project(Snapshot{
		Ideas: []*idea.TradeIdea{ti},
		Pairs: []*pair.PairTrade{pt},
		Links: []*idea.Link{{TradeIdeaID: ti.ID, PortfolioID: p1}},
	})
	require.Len(t, out, 1)
	assert.Nil(t, out[0].PairID)
	assert.Equal(t, 1, out[0].LabCount)
	assert.True(t, out[0].NeedsSizing)
}

func TestService_Summarize(t *testing.T) {
	ctx := context.Background()
	w := testsupport.NewWorkflow(t)
	svc := NewService(w.Store)

	p1, p2 := uuid.New(), uuid.New()
	owner := w.Analyst(t, "Ana", p1, p2)
	single := w.SeedIdea(t, owner, []uuid.UUID{p1, p2}, testsupport.InStage(idea.StageDeciding))
	w.SeedIdea(t, owner, []uuid.UUID{p1}, func(ti *idea.TradeIdea) { ti.VisibilityTier = idea.TierTrashed })

	_, err := w.Store.Proposals().Upsert(ctx, &proposal.Proposal{TradeIdeaID: single.ID, PortfolioID: p1, ActorID: owner.ActorID})
	require.NoError(t, err)
	tr := &track.PortfolioTrack{Subject: track.IdeaSubject(single.ID), PortfolioID: p1}
	tr.Apply(track.Decision{Action: track.ActionAccept, DecidedBy: owner.ActorID}, w.Now())
	require.NoError(t, w.Store.Tracks().Upsert(ctx, tr))

	out, err := svc.Summarize(ctx, idea.Filter{})
	require.NoError(t, err)
	require.Len(t, out, 1, "trashed ideas are excluded by default")
	assert.Equal(t, single.ID, out[0].IdeaID)
	assert.Equal(t, TrackCounts{Total: 2, Committed: 1}, out[0].Tracks)
	assert.Zero(t, out[0].ProposalCount, "p1 accepted its proposal")
	assert.True(t, out[0].NeedsSizing)
	assert.False(t, out[0].AwaitingDecision)

	byPortfolio, err := svc.Summarize(ctx, idea.Filter{PortfolioID: &p2})
	require.NoError(t, err)
	assert.Len(t, byPortfolio, 1)

	again, err := svc.SummarizeIdea(ctx, single.ID)
	require.NoError(t, err)
	assert.Equal(t, out[0], *again, "projection is recomputable")

	_, err = svc.SummarizeIdea(ctx, uuid.New())
	assert.Error(t, err)
}
