package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/polyseer/polyseer/internal/domain"
)

// CounterNonce implements domain.NonceSource with a Redis INCR counter
// shared across processes. Unlike a wall-clock nonce, two orders built in
// the same second still get distinct nonces, and the counter survives
// restarts.
type CounterNonce struct {
	rdb *redis.Client
	key string
}

// NewCounterNonce creates a CounterNonce. key scopes the counter, typically
// the wallet address, so multiple wallets sharing one Redis do not collide.
func NewCounterNonce(c *Client, key string) *CounterNonce {
	return &CounterNonce{
		rdb: c.Underlying(),
		key: "nonce:" + key,
	}
}

// Next atomically increments and returns the counter.
func (cn *CounterNonce) Next(ctx context.Context) (string, error) {
	n, err := cn.rdb.Incr(ctx, cn.key).Result()
	if err != nil {
		return "", fmt.Errorf("redis: next nonce: %w", err)
	}
	return strconv.FormatInt(n, 10), nil
}

// Compile-time interface check.
var _ domain.NonceSource = (*CounterNonce)(nil)
