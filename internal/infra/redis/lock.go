// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"
)

// Locker provides short-lived dedup locks, e.g. for the low-balance admin
// alert: the first acquirer within the TTL wins, everyone else skips the
// side effect. Soft state: losing Redis only means a repeated alert.
type Locker struct {
	cli RedisClient
}

func NewLocker(c RedisClient) *Locker {
	return &Locker{cli: c}
}

// AcquireOnce takes the lock if free; it expires on its own, there is no
// unlock.
func (l *Locker) AcquireOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.cli.SetNX(ctx, "lock:"+key, "1", ttl)
}
