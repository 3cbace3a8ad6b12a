package testsupport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "localhost")
	t.Setenv("POSTGRES_USER", "user")
	t.Setenv("POSTGRES_PASSWORD", "pass")
	t.Setenv("POSTGRES_DB", "ideaflow_test")
	t.Setenv("POSTGRES_PORT", "5543")

	t.Setenv("CLICKHOUSE_HOST", "click")
	t.Setenv("CLICKHOUSE_DB", "audit")
	t.Setenv("CLICKHOUSE_PORT", "8123")

	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "not-a-number")

	pg := PostgresConfigFromEnv(t)
	assert.Equal(t, "localhost", pg.Host)
	assert.Equal(t, 5543, pg.Port)
	assert.Equal(t, "disable", pg.SSLMode)

	ch := ClickHouseConfigFromEnv(t)
	assert.Equal(t, "click", ch.Host)
	assert.Equal(t, 8123, ch.Port)
	assert.Equal(t, "default", ch.User)

	rd := RedisConfigFromEnv(t)
	assert.Equal(t, "redis", rd.Host)
	assert.Equal(t, 6380, rd.Port)
	assert.Equal(t, 0, rd.DB, "unparsable values fall back to the default")
}
