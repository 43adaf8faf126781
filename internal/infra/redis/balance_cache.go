package redis

import (
	"context"
	"strconv"
	"time"
)

const balanceKey = "provider:balance"

// BalanceCache keeps the last known upstream account balance for the
// provider gate. Soft state with a short TTL; a miss degrades to one origin
// call.
type BalanceCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewBalanceCache(client RedisClient, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func (c *BalanceCache) Get(ctx context.Context) (float64, bool, error) {
	s, err := c.client.Get(ctx, balanceKey)
	if err != nil {
		if IsNil(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	bal, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, nil // treat garbage as a miss
	}
	return bal, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, balance float64) error {
	return c.client.Set(ctx, balanceKey, strconv.FormatFloat(balance, 'f', -1, 64), c.ttl)
}
