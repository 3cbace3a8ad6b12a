package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/testsupport"
)

func TestAuditRepository_EmitAndHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	helper := testsupport.NewTestClickHouse(t)

	entityID := uuid.New()
	helper.RegisterTableCleanup(t, "audit_events", "entity_id = '"+entityID.String()+"'")

	repo := NewAuditRepository(helper.Client().Conn())
	ctx := context.Background()

	actx := audit.ActionContext{ActorID: uuid.New(), ActorName: "Dana", UISource: "board"}
	base := time.Now().UTC().Truncate(time.Millisecond)
	reason := "thesis confirmed"

	first := audit.NewRecord(actx, audit.EntityTradeIdea, entityID, audit.ActionStageChanged, audit.CategoryStage, base).
		Transition("idea", "working_on")
	second := audit.NewRecord(actx, audit.EntityTradeIdea, entityID, audit.ActionStageChanged, audit.CategoryStage, base.Add(time.Second)).
		Transition("working_on", "modeling").
		WithReason(&reason)

	require.NoError(t, repo.Emit(ctx, first, second))
	require.NoError(t, repo.Flush(ctx))

	history, err := repo.History(ctx, audit.EntityTradeIdea, entityID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "modeling", history[0].ToState)
	require.NotNil(t, history[0].Metadata.Reason)
	assert.Equal(t, reason, *history[0].Metadata.Reason)
	assert.Equal(t, "board", history[1].Metadata.UISource)
}
