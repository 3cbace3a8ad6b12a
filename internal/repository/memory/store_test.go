package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
	"ideaflow/pkg/errors"
)

func newIdea(t *testing.T, s *Store) *idea.TradeIdea {
	t.Helper()
	ti := &idea.TradeIdea{
		AssetID:   "AAPL",
		Action:    idea.ActionBuy,
		Urgency:   idea.UrgencyMedium,
		Stage:     idea.StageIdea,
		CreatedBy: uuid.New(),
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Ideas().Create(context.Background(), ti))
	return ti
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ti := newIdea(t, s)

	err := s.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		got, err := repos.Ideas().GetForUpdate(ctx, ti.ID)
		require.NoError(t, err)
		got.SetStage(idea.StageWorkingOn, time.Now())
		require.NoError(t, repos.Ideas().Update(ctx, got))
		return errors.ErrInternal
	})
	require.ErrorIs(t, err, errors.ErrInternal)

	stored, err := s.Ideas().GetByID(ctx, ti.ID)
	require.NoError(t, err)
	assert.Equal(t, idea.StageIdea, stored.Stage)
	assert.Equal(t, int64(1), stored.Version)
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ti := newIdea(t, s)

	err := s.InTx(ctx, func(ctx context.Context, repos gateway.Repositories) error {
		got, err := repos.Ideas().GetForUpdate(ctx, ti.ID)
		if err != nil {
			return err
		}
		got.SetStage(idea.StageWorkingOn, time.Now())
		return repos.Ideas().Update(ctx, got)
	})
	require.NoError(t, err)

	stored, err := s.Ideas().GetByID(ctx, ti.ID)
	require.NoError(t, err)
	assert.Equal(t, idea.StageWorkingOn, stored.Stage)
	assert.Equal(t, int64(2), stored.Version)
}

func TestIdeaUpdate_StaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ti := newIdea(t, s)

	a, _ := s.Ideas().GetByID(ctx, ti.ID)
	b, _ := s.Ideas().GetByID(ctx, ti.ID)

	require.NoError(t, s.Ideas().Update(ctx, a))
	err := s.Ideas().Update(ctx, b)
	assert.ErrorIs(t, err, errors.ErrConflict)
}

func TestReturnedEntitiesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ti := newIdea(t, s)

	got, _ := s.Ideas().GetByID(ctx, ti.ID)
	got.Stage = idea.StageModeling

	again, _ := s.Ideas().GetByID(ctx, ti.ID)
	assert.Equal(t, idea.StageIdea, again.Stage)
}

func TestQuery_TrashedHiddenByDefault(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	kept := newIdea(t, s)
	gone := newIdea(t, s)

	g, _ := s.Ideas().GetByID(ctx, gone.ID)
	g.Trash(uuid.New(), time.Now())
	require.NoError(t, s.Ideas().Update(ctx, g))

	visible, err := s.Ideas().Query(ctx, idea.Filter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, kept.ID, visible[0].ID)

	trashed, err := s.Ideas().Query(ctx, idea.Filter{OnlyTrashed: true})
	require.NoError(t, err)
	require.Len(t, trashed, 1)
	assert.Equal(t, idea.StageDeleted, trashed[0].EffectiveStage())
}

func TestListDeferredDue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	due := newIdea(t, s)
	later := newIdea(t, s)

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	for ti, until := range map[uuid.UUID]time.Time{due.ID: day, later.ID: day.AddDate(0, 0, 1)} {
		got, _ := s.Ideas().GetByID(ctx, ti)
		got.Defer(&until, time.Now())
		require.NoError(t, s.Ideas().Update(ctx, got))
	}

	list, err := s.Ideas().ListDeferredDue(ctx, day)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)
}

func TestProposalUpsert_ReplacesActiveByKey(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ti := newIdea(t, s)
	portfolioID, actorID := uuid.New(), uuid.New()

	first := &proposal.Proposal{
		TradeIdeaID: ti.ID, PortfolioID: portfolioID, ActorID: actorID,
		SizingMode: proposal.ModeAbsoluteWeight, InputValue: decimal.NewFromInt(2),
		CreatedAt: time.Now(),
	}
	created, err := s.Proposals().Upsert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := &proposal.Proposal{
		TradeIdeaID: ti.ID, PortfolioID: portfolioID, ActorID: actorID,
		SizingMode: proposal.ModeAbsoluteWeight, InputValue: decimal.NewFromInt(3),
		CreatedAt: time.Now().Add(time.Minute),
	}
	created, err = s.Proposals().Upsert(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	active, err := s.Proposals().ListByIdea(ctx, ti.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, decimal.NewFromInt(3).Equal(active[0].InputValue))

	require.NoError(t, s.Proposals().Deactivate(ctx, first.ID))
	_, err = s.Proposals().GetActiveByKey(ctx, first.Key())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestTrackUpsert_KeyedBySubjectAndPortfolio(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	subject := track.IdeaSubject(uuid.New())
	portfolioID := uuid.New()

	tr := &track.PortfolioTrack{Subject: subject, PortfolioID: portfolioID, CreatedAt: time.Now()}
	tr.Apply(track.Decision{Action: track.ActionReject, DecidedBy: uuid.New()}, time.Now())
	require.NoError(t, s.Tracks().Upsert(ctx, tr))

	again := &track.PortfolioTrack{Subject: subject, PortfolioID: portfolioID}
	again.Apply(track.Decision{Action: track.ActionAccept, DecidedBy: uuid.New()}, time.Now())
	require.NoError(t, s.Tracks().Upsert(ctx, again))
	assert.Equal(t, tr.ID, again.ID)

	list, err := s.Tracks().ListBySubject(ctx, subject)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "accepted", list[0].OutcomeString())
}
