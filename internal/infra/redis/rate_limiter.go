package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter limiter shared across processes.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, window); err != nil {
			return false, err
		}
	}

	return count <= int64(limit), nil
}

// BroadcastThrottle enforces the global per-bot send budget (about 20
// messages per second) across every delivery task in the cluster.
type BroadcastThrottle struct {
	limiter *RateLimiter
	limit   int
}

func NewBroadcastThrottle(client RedisClient, messagesPerSecond int) *BroadcastThrottle {
	return &BroadcastThrottle{limiter: NewRateLimiter(client), limit: messagesPerSecond}
}

// Wait blocks until the current one-second window has budget left.
func (t *BroadcastThrottle) Wait(ctx context.Context) error {
	for {
		key := fmt.Sprintf("broadcast:rate:%d", time.Now().Unix())
		ok, err := t.limiter.Allow(ctx, key, t.limit, 2*time.Second)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
