package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddsync/oddsync/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with JSON-serialized canonical
// markets under per-identity keys. It sits in front of the canonical table
// for the read API; the table stays authoritative.
//
// Key schema: canonical:{source}:{logical_id}
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A zero
// ttl falls back to the default.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func canonicalKey(source domain.Source, logicalID string) string {
	return fmt.Sprintf("canonical:%s:%s", source, logicalID)
}

// Get returns the cached market and whether it was present.
func (mc *MarketCache) Get(ctx context.Context, source domain.Source, logicalID string) (domain.CanonicalMarket, bool, error) {
	data, err := mc.rdb.Get(ctx, canonicalKey(source, logicalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CanonicalMarket{}, false, nil
		}
		return domain.CanonicalMarket{}, false, fmt.Errorf("redis: get canonical %s/%s: %w", source, logicalID, err)
	}

	var m domain.CanonicalMarket
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.CanonicalMarket{}, false, fmt.Errorf("redis: decode canonical %s/%s: %w", source, logicalID, err)
	}
	return m, true, nil
}

// Set stores the market with the configured TTL.
func (mc *MarketCache) Set(ctx context.Context, m domain.CanonicalMarket) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal canonical %s/%s: %w", m.Source, m.LogicalID, err)
	}

	if err := mc.rdb.Set(ctx, canonicalKey(m.Source, m.LogicalID), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set canonical %s/%s: %w", m.Source, m.LogicalID, err)
	}
	return nil
}

// Invalidate drops the cached entry, if any.
func (mc *MarketCache) Invalidate(ctx context.Context, source domain.Source, logicalID string) error {
	if err := mc.rdb.Del(ctx, canonicalKey(source, logicalID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate canonical %s/%s: %w", source, logicalID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
