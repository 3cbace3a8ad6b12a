// Package redis holds Redis-backed read caches.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	redisadapter "ideaflow/internal/adapters/redis"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Compile-time check
var _ portfolio.HoldingsProvider = (*CachedHoldings)(nil)

// cachedHolding is the cache payload; decimals travel as strings
type cachedHolding struct {
	Current   decimal.Decimal  `json:"current"`
	Benchmark *decimal.Decimal `json:"benchmark,omitempty"`
	AsOf      time.Time        `json:"as_of"`
}

// CachedHoldings is a read-through cache in front of a HoldingsProvider.
// Cache failures fall back to the source.
type CachedHoldings struct {
	source portfolio.HoldingsProvider
	client *redisadapter.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewCachedHoldings wraps source with a Redis cache
func NewCachedHoldings(source portfolio.HoldingsProvider, client *redisadapter.Client, ttl time.Duration) *CachedHoldings {
	return &CachedHoldings{
		source: source,
		client: client,
		ttl:    ttl,
		log:    logger.Get().With("component", "holdings_cache"),
	}
}

func holdingKey(assetID string, portfolioID uuid.UUID) string {
	return fmt.Sprintf("holding:%s:%s", portfolioID, assetID)
}

// Holding returns the cached holding or loads and caches it
func (c *CachedHoldings) Holding(ctx context.Context, assetID string, portfolioID uuid.UUID) (*portfolio.Holding, error) {
	key := holdingKey(assetID, portfolioID)

	var cached cachedHolding
	err := c.client.GetJSON(ctx, key, &cached)
	if err == nil {
		return &portfolio.Holding{
			AssetID:     assetID,
			PortfolioID: portfolioID,
			Current:     cached.Current,
			Benchmark:   cached.Benchmark,
			AsOf:        cached.AsOf,
		}, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		c.log.Warnw("holdings cache read failed", "key", key, "error", err)
	}

	h, err := c.source.Holding(ctx, assetID, portfolioID)
	if err != nil {
		return nil, err
	}

	payload := cachedHolding{Current: h.Current, Benchmark: h.Benchmark, AsOf: h.AsOf}
	if err := c.client.SetJSON(ctx, key, payload, c.ttl); err != nil {
		c.log.Warnw("holdings cache write failed", "key", key, "error", err)
	}
	return h, nil
}

// Invalidate drops a cached holding after the source changed
func (c *CachedHoldings) Invalidate(ctx context.Context, assetID string, portfolioID uuid.UUID) error {
	return c.client.Delete(ctx, holdingKey(assetID, portfolioID))
}
