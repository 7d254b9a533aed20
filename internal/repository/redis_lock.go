package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockRepo is a best-effort cross-instance lock backed by SET NX.
type LockRepo struct {
	redis *redis.Client
}

func NewLockRepo(redisClient *redis.Client) *LockRepo {
	return &LockRepo{redis: redisClient}
}

// Acquire reports whether the caller now holds key. The lock expires after ttl
// so a crashed holder cannot wedge it.
func (r *LockRepo) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.redis.SetNX(ctx, lockKey(key), "1", ttl).Result()
}

func (r *LockRepo) Release(ctx context.Context, key string) error {
	return r.redis.Del(ctx, lockKey(key)).Err()
}

func lockKey(key string) string {
	return "lock:" + key
}
