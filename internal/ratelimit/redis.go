package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "auth:login:fail:"

// RedisLimiter shares counters across instances. INCR is atomic and the
// window TTL is only set by the first hit, so the window is fixed.
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewRedisLimiter connects to redisURL and verifies it with a ping.
func NewRedisLimiter(redisURL string, max int, w time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisLimiter{client: client, max: max, window: w}, nil
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (Result, error) {
	n, err := l.client.Get(ctx, keyPrefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return Result{Allowed: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if n < l.max {
		return Result{Allowed: true}, nil
	}
	ttl, err := l.client.PTTL(ctx, keyPrefix+key).Result()
	if err != nil {
		return Result{}, err
	}
	if ttl < 0 {
		ttl = l.window
	}
	return Result{Allowed: false, RetryAfter: ttl}, nil
}

func (l *RedisLimiter) Hit(ctx context.Context, key string) error {
	k := keyPrefix + key
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, k)
		p.ExpireNX(ctx, k, l.window)
		return nil
	})
	return err
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, keyPrefix+key).Err()
}

// Ping is used by the health endpoint.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
