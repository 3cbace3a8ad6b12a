package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ideaflow/internal/adapters/clickhouse"
	"ideaflow/internal/adapters/config"
	"ideaflow/migrations"
)

// ClickHouseTestHelper manages schema and cleanup for ClickHouse integration tests
type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewClickHouseTestHelper connects and applies the audit schema
func NewClickHouseTestHelper(t *testing.T, cfg config.ClickHouseConfig) *ClickHouseTestHelper {
	t.Helper()
	ctx := context.Background()

	client, err := clickhouse.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Migrate(ctx, migrations.ClickHouse()); err != nil {
		t.Fatalf("failed to migrate clickhouse: %v", err)
	}
	return &ClickHouseTestHelper{client: client}
}

// NewTestClickHouse creates a helper from the environment, skipping when it is not configured
func NewTestClickHouse(t *testing.T) *ClickHouseTestHelper {
	t.Helper()
	return NewClickHouseTestHelper(t, ClickHouseConfigFromEnv(t))
}

// CreateTempTable creates a throwaway MergeTree table dropped after the test
func (h *ClickHouseTestHelper) CreateTempTable(t *testing.T, schema string) string {
	t.Helper()

	table := fmt.Sprintf("tmp_test_%d", NextSequence())
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree() ORDER BY tuple()", table, schema)
	if err := h.client.Exec(context.Background(), query); err != nil {
		t.Fatalf("failed to create clickhouse table: %v", err)
	}

	t.Cleanup(func() {
		_ = h.client.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	})
	return table
}

// RegisterTableCleanup deletes rows matching condition once the test completes.
// Shared tables such as audit_events are never dropped.
func (h *ClickHouseTestHelper) RegisterTableCleanup(t *testing.T, table, condition string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.client.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, condition))
	})
}

// Client exposes the raw ClickHouse client for queries
func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}
