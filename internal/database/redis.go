package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps commands and the websocket hub's subscriptions on
// separate pools.
type RedisClients struct {
	Cache  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cacheOpt := *opt
	cacheOpt.ClientName = "practest-cache"
	cacheClient := redis.NewClient(&cacheOpt)

	subOpt := *opt
	subOpt.ClientName = "practest-events"
	subClient := redis.NewClient(&subOpt)

	clients := &RedisClients{Cache: cacheClient, PubSub: subClient}
	for name, c := range map[string]*redis.Client{"cache": cacheClient, "events": subClient} {
		if err := c.Ping(ctx).Err(); err != nil {
			clients.Close()
			return nil, fmt.Errorf("failed to ping Redis (%s): %w", name, err)
		}
	}
	return clients, nil
}

func (r *RedisClients) Close() error {
	return errors.Join(r.Cache.Close(), r.PubSub.Close())
}
