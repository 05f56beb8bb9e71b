package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyseer/polyseer/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with JSON-serialized markets, so
// the per-market expansion step does not refetch a market a recent run
// already saw. Keys are "market:{id}".
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(id int64) string { return "market:" + strconv.FormatInt(id, 10) }

// Set stores a market with a 5-minute TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.ID, err)
	}

	if err := mc.rdb.Set(ctx, marketKey(market.ID), data, marketTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a market by ID. It returns domain.ErrNotFound when the key
// does not exist.
func (mc *MarketCache) Get(ctx context.Context, id int64) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return market, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
