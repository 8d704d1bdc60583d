package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const dispatchPrefix = "tyrestock:dispatch:"

type RedisDispatchGuard struct {
	client *redis.Client
}

func NewRedisDispatchGuard(addr string, password string, db int) *RedisDispatchGuard {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisDispatchGuard{client: client}
}

func (g *RedisDispatchGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisDispatchGuard) Close() error {
	return g.client.Close()
}

// Acquire sets key only if absent. The first caller within ttl wins.
func (g *RedisDispatchGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, dispatchPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

var _ DispatchGuard = (*RedisDispatchGuard)(nil)
