package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache fronts read-heavy lookups, currently the product→promo-voucher index.
// A nil Cache is valid everywhere it is accepted; lookups then always miss.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Incr(ctx context.Context, key string) (int64, error)
	GenerateKey(parts ...string) string
}

type redisCache struct {
	client      *redis.Client
	serviceName string
}

func NewRedisCache(addr, serviceName string) Cache {
	return &redisCache{
		client:      redis.NewClient(&redis.Options{Addr: addr}),
		serviceName: serviceName,
	}
}

func (r *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *redisCache) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *redisCache) GenerateKey(parts ...string) string {
	return r.serviceName + ":" + strings.Join(parts, ":")
}
