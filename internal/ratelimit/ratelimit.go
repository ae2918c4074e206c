// Package ratelimit throttles poll creation per creator address.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLimit is the number of polls one address may create per window.
	DefaultLimit = 5
	// DefaultWindow is the rolling rate window.
	DefaultWindow = time.Minute
)

// Limiter reports whether an address may create another poll right now.
type Limiter interface {
	Allow(ctx context.Context, addr string) (bool, error)
}

// RedisLimiter is a fixed-window counter in Redis, one key per address.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

// Allow increments the address's window counter, starting the window on
// the first hit.
func (l *RedisLimiter) Allow(ctx context.Context, addr string) (bool, error) {
	key := "ratelimit:polls:" + addr
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit expire: %w", err)
		}
	}
	return n <= int64(l.limit), nil
}

// CreationCounter counts recent poll creations by one address.
type CreationCounter interface {
	CountRecentPollsByCreator(ctx context.Context, addr string, window time.Duration) (int, error)
}

// StoreLimiter enforces the window against the poll store's creation
// timestamps. Used when Redis is not configured.
type StoreLimiter struct {
	counter CreationCounter
	limit   int
	window  time.Duration
}

// NewStoreLimiter creates a store-backed limiter.
func NewStoreLimiter(counter CreationCounter, limit int, window time.Duration) *StoreLimiter {
	return &StoreLimiter{counter: counter, limit: limit, window: window}
}

// Allow checks how many polls the address created inside the window.
func (l *StoreLimiter) Allow(ctx context.Context, addr string) (bool, error) {
	n, err := l.counter.CountRecentPollsByCreator(ctx, addr, l.window)
	if err != nil {
		return false, err
	}
	return n < l.limit, nil
}
