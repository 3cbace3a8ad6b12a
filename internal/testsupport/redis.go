package testsupport

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	"ideaflow/internal/adapters/config"
)

// NewRedisClient creates a redis client for integration tests and flushes its database around the test
func NewRedisClient(t *testing.T, cfg config.RedisConfig) *redis.Client {
	t.Helper()
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush redis before test: %v", err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

// NewTestRedis creates a client from the environment, skipping when it is not configured
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return NewRedisClient(t, RedisConfigFromEnv(t))
}
