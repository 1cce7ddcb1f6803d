package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps counters in process. Use it for a single instance or
// when Redis is not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string]*window
	now     func() time.Time
}

func NewMemoryLimiter(max int, w time.Duration) *MemoryLimiter {
	return &MemoryLimiter{max: max, window: w, entries: make(map[string]*window), now: time.Now}
}

// SetClock is for tests.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *MemoryLimiter) Check(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.live(key)
	if e == nil || e.count < l.max {
		return Result{Allowed: true}, nil
	}
	return Result{Allowed: false, RetryAfter: e.resetAt.Sub(l.now())}, nil
}

func (l *MemoryLimiter) Hit(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.live(key)
	if e == nil {
		e = &window{resetAt: l.now().Add(l.window)}
		l.entries[key] = e
	}
	e.count++
	return nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
	return nil
}

// live returns the entry for key, dropping it if its window has passed.
// Caller holds l.mu.
func (l *MemoryLimiter) live(key string) *window {
	e, ok := l.entries[key]
	if !ok {
		return nil
	}
	if !l.now().Before(e.resetAt) {
		delete(l.entries, key)
		return nil
	}
	return e
}
