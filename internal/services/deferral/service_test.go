package deferral

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/testsupport"
	"ideaflow/pkg/errors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestReady_CalendarBoundary(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	until := date(2024, 3, 10)

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want bool
	}{
		{"day before in utc", time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC), time.UTC, false},
		{"same day in utc", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), time.UTC, true},
		{"after", time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC), time.UTC, true},
		// 04:30 UTC on the 10th is still the 9th in New York
		{"local date still the 9th", time.Date(2024, 3, 10, 4, 30, 0, 0, time.UTC), ny, false},
		{"local date the 10th", time.Date(2024, 3, 10, 5, 30, 0, 0, time.UTC), ny, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Ready(&until, tt.now, tt.loc))
		})
	}

	assert.False(t, Ready(nil, time.Now(), time.UTC), "no date never resurfaces")
}

type fixture struct {
	w         *testsupport.Workflow
	svc       *Service
	portfolio uuid.UUID
	owner     audit.ActionContext
	pm        audit.ActionContext
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	w := testsupport.NewWorkflow(t)
	f := &fixture{w: w, portfolio: uuid.New()}
	f.svc = NewService(w.Store, w.Audit, append([]Option{WithClock(w.Now)}, opts...)...)
	f.owner = w.Analyst(t, "Ana", f.portfolio)
	f.pm = w.Manager(t, "Pat", f.portfolio)
	return f
}

func (f *fixture) deferIdea(t *testing.T, until *time.Time) *idea.TradeIdea {
	t.Helper()
	ti := f.w.SeedIdea(t, f.owner, []uuid.UUID{f.portfolio}, testsupport.InStage(idea.StageDeciding))
	out, err := f.svc.Defer(context.Background(), ti.ID, DeferParams{Until: until}, f.pm)
	require.NoError(t, err)
	return out
}

func TestService_Defer(t *testing.T) {
	f := newFixture(t)
	until := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	reason := "wait for earnings"
	ti := f.w.SeedIdea(t, f.owner, []uuid.UUID{f.portfolio}, testsupport.InStage(idea.StageDeciding))

	out, err := f.svc.Defer(context.Background(), ti.ID, DeferParams{Until: &until, Reason: &reason}, f.pm)
	require.NoError(t, err)

	assert.Equal(t, idea.StageDeferred, out.Stage)
	require.NotNil(t, out.PreviousState)
	assert.Equal(t, idea.StageDeciding, out.PreviousState.Stage)
	assert.Equal(t, date(2024, 3, 10), *out.DeferredUntil)

	recs := f.w.Audit.ByAction(audit.ActionIdeaDeferred)
	require.Len(t, recs, 1)
	assert.Equal(t, "2024-03-10", recs[0].ChangedFields["deferred_until"])
	assert.Equal(t, reason, *recs[0].Metadata.Reason)
}

func TestService_Defer_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("only from deciding", func(t *testing.T) {
		f := newFixture(t)
		ti := f.w.SeedIdea(t, f.owner, []uuid.UUID{f.portfolio}, testsupport.InStage(idea.StageModeling))
		_, err := f.svc.Defer(ctx, ti.ID, DeferParams{}, f.pm)
		assert.ErrorIs(t, err, errors.ErrInvalidTransition)
		assert.Equal(t, idea.StageModeling, f.w.ReloadIdea(t, ti.ID).Stage)
	})

	t.Run("actor outside the linked portfolios", func(t *testing.T) {
		f := newFixture(t)
		ti := f.w.SeedIdea(t, f.owner, []uuid.UUID{f.portfolio}, testsupport.InStage(idea.StageDeciding))
		_, err := f.svc.Defer(ctx, ti.ID, DeferParams{}, f.w.Actor("Zed"))
		assert.ErrorIs(t, err, errors.ErrUnauthorized)
	})

	t.Run("pair leg", func(t *testing.T) {
		f := newFixture(t)
		pairID := uuid.New()
		ti := f.w.SeedIdea(t, f.owner, []uuid.UUID{f.portfolio}, testsupport.InStage(idea.StageDeciding),
			func(ti *idea.TradeIdea) { ti.PairID = &pairID })
		_, err := f.svc.Defer(ctx, ti.ID, DeferParams{}, f.pm)
		assert.ErrorIs(t, err, errors.ErrPairedLeg)
	})
}

func TestService_ListResurfaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	due := date(2024, 3, 10)
	later := date(2024, 4, 1)
	dueIdea := f.deferIdea(t, &due)
	f.deferIdea(t, &later)
	f.deferIdea(t, nil)

	f.w.SetNow(time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC))
	items, err := f.svc.ListResurfaced(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	f.w.SetNow(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	items, err = f.svc.ListResurfaced(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, dueIdea.ID, items[0].IdeaID)
	assert.Equal(t, idea.StageDeciding, items[0].Column)
	assert.Nil(t, items[0].PairID)

	assert.Equal(t, idea.StageDeferred, f.w.ReloadIdea(t, dueIdea.ID).Stage, "listing never mutates")

	next, err := f.svc.NextResurface(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, later, *next)
}

func TestService_AcknowledgeResurfaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := date(2024, 3, 10)
	ti := f.deferIdea(t, &due)

	_, err := f.svc.AcknowledgeResurfaced(ctx, ti.ID, f.pm)
	assert.ErrorIs(t, err, errors.ErrForbidden, "not due yet")

	f.w.SetNow(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	out, err := f.svc.AcknowledgeResurfaced(ctx, ti.ID, f.pm)
	require.NoError(t, err)
	assert.Equal(t, idea.StageDeciding, out.Stage)
	assert.Nil(t, out.DeferredUntil)
	assert.Nil(t, out.PreviousState)

	_, err = f.svc.AcknowledgeResurfaced(ctx, ti.ID, f.pm)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	recs := f.w.Audit.ByAction(audit.ActionResurfaceAcked)
	require.Len(t, recs, 1)
	assert.Equal(t, "deferred", recs[0].FromState)
	assert.Equal(t, "deciding", recs[0].ToState)
}

func TestService_AcknowledgeResurfaced_DefaultsToIdea(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := date(2024, 3, 1)
	ti := f.w.SeedIdea(t, f.owner, []uuid.UUID{f.portfolio}, func(ti *idea.TradeIdea) {
		ti.Stage = idea.StageDeferred
		ti.DeferredUntil = &due
	})

	out, err := f.svc.AcknowledgeResurfaced(ctx, ti.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, idea.StageIdea, out.Stage)
}

func TestService_PairResurfacing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pairID := uuid.New()
	due := date(2024, 3, 5)
	long, short := idea.LegLong, idea.LegShort
	p := &pair.PairTrade{
		ID:             pairID,
		Name:           "XOM/CVX",
		Stage:          idea.StageDeciding,
		VisibilityTier: idea.TierActive,
		CreatedBy:      f.owner.ActorID,
	}
	p.Defer(&due, f.w.Now())

	mirror := func(lt *idea.LegType) testsupport.IdeaOption {
		return func(ti *idea.TradeIdea) {
			ti.PairID, ti.LegType = &pairID, lt
			p.MirrorOnto(ti, f.w.Now())
		}
	}
	longLeg := f.w.SeedIdea(t, f.owner, []uuid.UUID{f.portfolio}, mirror(&long))
	shortLeg := f.w.SeedIdea(t, f.owner, []uuid.UUID{f.portfolio}, mirror(&short))
	p.LongLegID, p.ShortLegID = longLeg.ID, shortLeg.ID
	require.NoError(t, f.w.Store.Pairs().Create(ctx, p))

	f.w.SetNow(date(2024, 3, 6))
	items, err := f.svc.ListResurfaced(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1, "one item per pair")
	require.NotNil(t, items[0].PairID)
	assert.Equal(t, pairID, *items[0].PairID)
	assert.Equal(t, longLeg.ID, items[0].IdeaID)
	assert.Equal(t, idea.StageDeciding, items[0].Column)

	_, err = f.svc.AcknowledgeResurfaced(ctx, longLeg.ID, f.pm)
	assert.ErrorIs(t, err, errors.ErrPairedLeg)

	out, err := f.svc.AcknowledgePairResurfaced(ctx, pairID, f.pm)
	require.NoError(t, err)
	assert.Equal(t, idea.StageDeciding, out.Stage)
	assert.Nil(t, out.DeferredUntil)

	for _, id := range []uuid.UUID{longLeg.ID, shortLeg.ID} {
		leg := f.w.ReloadIdea(t, id)
		assert.Equal(t, idea.StageDeciding, leg.Stage)
		assert.Nil(t, leg.DeferredUntil)
	}
}
