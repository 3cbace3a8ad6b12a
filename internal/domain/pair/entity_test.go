package pair

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain/idea"
)

func TestPairTrade_DeferAndMirror(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	until := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)

	p := &PairTrade{ID: uuid.New(), Stage: idea.StageDeciding}
	p.Defer(&until, now)

	assert.Equal(t, idea.StageDeferred, p.Stage)
	require.NotNil(t, p.DeferredUntil)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), *p.DeferredUntil)
	assert.Equal(t, idea.StageDeciding, p.ResurfaceStage())

	leg := &idea.TradeIdea{Stage: idea.StageModeling}
	p.MirrorOnto(leg, now)
	assert.Equal(t, idea.StageDeferred, leg.Stage)
	assert.Equal(t, *p.DeferredUntil, *leg.DeferredUntil)
	assert.Equal(t, idea.StageDeciding, leg.ResurfaceStage())

	leg.DeferredUntil = nil
	assert.NotNil(t, p.DeferredUntil, "mirror copies, it does not alias")

	p.SetStage(idea.StageIdea, now)
	assert.Nil(t, p.PreviousState)
	assert.Nil(t, p.DeferredUntil)
	p.MirrorOnto(leg, now)
	assert.Nil(t, leg.PreviousState)
	assert.Equal(t, idea.StageIdea, leg.Stage)
}

func TestPairTrade_ResurfaceStageDefaultsToIdea(t *testing.T) {
	p := &PairTrade{Stage: idea.StageDeferred}
	assert.Equal(t, idea.StageIdea, p.ResurfaceStage())
	assert.True(t, p.IsActive())

	p.VisibilityTier = idea.TierTrashed
	assert.False(t, p.IsActive())
}
