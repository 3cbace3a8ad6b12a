package testsupport

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"

	"ideaflow/internal/adapters/config"
	"ideaflow/internal/adapters/postgres"
	"ideaflow/migrations"
)

// PostgresTestHelper manages a transactional connection for integration tests.
// The schema is applied inside the transaction, so nothing outlives the test.
type PostgresTestHelper struct {
	client     *postgres.Client
	tx         *sqlx.Tx
	rolledBack bool
}

// NewPostgresTestHelper opens a connection, begins a transaction and migrates inside it
func NewPostgresTestHelper(t *testing.T, cfg config.PostgresConfig) *PostgresTestHelper {
	t.Helper()
	ctx := context.Background()

	client, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create postgres client: %v", err)
	}

	tx, err := client.DB().BeginTxx(ctx, nil)
	if err != nil {
		_ = client.Close()
		t.Fatalf("failed to start transaction: %v", err)
	}

	if err := postgres.ApplyMigrations(ctx, tx, migrations.Postgres()); err != nil {
		_ = tx.Rollback()
		_ = client.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	helper := &PostgresTestHelper{client: client, tx: tx}
	t.Cleanup(func() {
		helper.Rollback()
		_ = client.Close()
	})
	return helper
}

// NewTestPostgres creates a helper from the environment, skipping when it is not configured
func NewTestPostgres(t *testing.T) *PostgresTestHelper {
	t.Helper()
	return NewPostgresTestHelper(t, PostgresConfigFromEnv(t))
}

// Tx returns the active transaction for the test
func (h *PostgresTestHelper) Tx() *sqlx.Tx {
	return h.tx
}

// DB returns the underlying database handle
func (h *PostgresTestHelper) DB() *sqlx.DB {
	return h.client.DB()
}

// Rollback rolls back the transaction once
func (h *PostgresTestHelper) Rollback() {
	if h.rolledBack {
		return
	}
	_ = h.tx.Rollback()
	h.rolledBack = true
}

// Close is an alias for Rollback
func (h *PostgresTestHelper) Close() {
	h.Rollback()
}
