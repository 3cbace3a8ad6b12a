package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	redisadapter "ideaflow/internal/adapters/redis"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/internal/testsupport"
)

type mockHoldings struct {
	mock.Mock
}

func (m *mockHoldings) Holding(ctx context.Context, assetID string, portfolioID uuid.UUID) (*portfolio.Holding, error) {
	args := m.Called(ctx, assetID, portfolioID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*portfolio.Holding), args.Error(1)
}

func TestCachedHoldings_ReadThrough(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redisadapter.Wrap(testsupport.NewTestRedis(t))

	portfolioID := uuid.New()
	bench := decimal.RequireFromString("2.0")
	source := new(mockHoldings)
	source.On("Holding", mock.Anything, "MSFT", portfolioID).Return(&portfolio.Holding{
		AssetID:     "MSFT",
		PortfolioID: portfolioID,
		Current:     decimal.RequireFromString("3.0"),
		Benchmark:   &bench,
		AsOf:        time.Now().UTC().Truncate(time.Second),
	}, nil).Once()

	cache := NewCachedHoldings(source, client, time.Minute)
	ctx := context.Background()

	first, err := cache.Holding(ctx, "MSFT", portfolioID)
	require.NoError(t, err)
	second, err := cache.Holding(ctx, "MSFT", portfolioID)
	require.NoError(t, err)

	assert.True(t, first.Current.Equal(second.Current))
	require.NotNil(t, second.Benchmark)
	assert.True(t, bench.Equal(*second.Benchmark))
	source.AssertNumberOfCalls(t, "Holding", 1)

	require.NoError(t, cache.Invalidate(ctx, "MSFT", portfolioID))
	source.On("Holding", mock.Anything, "MSFT", portfolioID).Return(&portfolio.Holding{
		AssetID: "MSFT", PortfolioID: portfolioID, Current: decimal.Zero,
	}, nil).Once()

	third, err := cache.Holding(ctx, "MSFT", portfolioID)
	require.NoError(t, err)
	assert.True(t, third.Current.IsZero())
	assert.Nil(t, third.Benchmark)
}
