package testsupport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickHouseTempTableAndSchema(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	helper := NewTestClickHouse(t)
	ctx := context.Background()

	var exists uint8
	require.NoError(t, helper.Client().Conn().QueryRow(ctx, "EXISTS TABLE audit_events").Scan(&exists))
	assert.Equal(t, uint8(1), exists)

	table := helper.CreateTempTable(t, "id UInt64, value String")
	require.NoError(t, helper.Client().Exec(ctx, "INSERT INTO "+table+" (id, value) VALUES (1, 'abc')"))

	var count uint64
	require.NoError(t, helper.Client().Conn().QueryRow(ctx, "SELECT count() FROM "+table).Scan(&count))
	assert.Equal(t, uint64(1), count)
}
