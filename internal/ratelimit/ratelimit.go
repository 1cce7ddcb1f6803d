// Package ratelimit counts failed login attempts per key in fixed windows.
package ratelimit

import (
	"context"
	"os"
	"strconv"
	"time"
)

// Result of a Check. RetryAfter is only set when Allowed is false.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter blocks a key once it has recorded Max hits inside the current window.
type Limiter interface {
	Check(ctx context.Context, key string) (Result, error)
	Hit(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

type Config struct {
	RedisURL string
	Max      int
	Window   time.Duration
}

// ConfigFromEnv reads limiter config from environment variables
func ConfigFromEnv() Config {
	cfg := Config{RedisURL: os.Getenv("REDIS_URL"), Max: 5, Window: 15 * time.Minute}
	if v, err := strconv.Atoi(os.Getenv("LOGIN_MAX_ATTEMPTS")); err == nil && v > 0 {
		cfg.Max = v
	}
	if v, err := time.ParseDuration(os.Getenv("LOGIN_WINDOW")); err == nil && v > 0 {
		cfg.Window = v
	}
	return cfg
}
