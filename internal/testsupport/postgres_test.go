package testsupport

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSchemaIsRolledBack(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	helper := NewTestPostgres(t)
	ctx := context.Background()

	var inTx sql.NullString
	require.NoError(t, helper.Tx().QueryRowContext(ctx, "SELECT to_regclass('public.trade_ideas')").Scan(&inTx))
	assert.True(t, inTx.Valid, "schema visible inside the transaction")

	_, err := helper.Tx().ExecContext(ctx, "CREATE TABLE integration_tx_check(id SERIAL PRIMARY KEY)")
	require.NoError(t, err)

	helper.Rollback()

	var after sql.NullString
	require.NoError(t, helper.DB().QueryRowContext(ctx, "SELECT to_regclass('public.integration_tx_check')").Scan(&after))
	assert.False(t, after.Valid, "table rolled back")
}
