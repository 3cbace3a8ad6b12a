package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_HOST", "localhost")
	t.Setenv("POSTGRES_USER", "ideaflow")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "ideaflow")
	t.Setenv("CLICKHOUSE_HOST", "localhost")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("KAFKA_BROKERS", "localhost:9092,localhost:9093")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ideaflow", cfg.App.Name)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.Kafka.Brokers)
	assert.Equal(t, "workflow.audit", cfg.Kafka.AuditTopic)
	assert.Equal(t, "UTC", cfg.Workflow.Timezone)
	assert.False(t, cfg.Workflow.AdvanceOnProposal)
	assert.Equal(t, 15*time.Minute, cfg.Workers.DeferralSweepInterval)
	assert.Equal(t, "host=localhost port=5432 user=ideaflow password=secret dbname=ideaflow sslmode=disable", cfg.Postgres.DSN())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	require.NoError(t, os.Unsetenv("POSTGRES_HOST"))

	_, err := Load()
	assert.Error(t, err)
}

func TestWorkflowConfig_Location(t *testing.T) {
	loc, err := WorkflowConfig{Timezone: "America/New_York"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	_, err = WorkflowConfig{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}
