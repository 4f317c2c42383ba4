package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// SetIfAbsent claims key for val; false means someone else holds it.
func SetIfAbsent(ctx context.Context, rdb *redis.Client, key, val string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, val, ttl).Result()
}
