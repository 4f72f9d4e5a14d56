// Package ratelimit implements fixed-window request limits.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (Decision, error)
}

// RedisLimiter counts hits per key and window with INCR. The first hit in
// a window sets the key's expiry, so windows clean themselves up.
type RedisLimiter struct {
	client *redis.Client
	Window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedis(client *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, Window: window, prefix: "ratelimit:", now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := l.now()
	windowStart := now.Truncate(l.Window)
	resetAt := windowStart.Add(l.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, windowStart.Unix())

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireAt(ctx, redisKey, resetAt.Add(time.Second))
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= limit, Remaining: remaining, ResetAt: resetAt}, nil
}

// Unlimited allows everything. Used when Redis is not configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string, int) (Decision, error) {
	return Decision{Allowed: true}, nil
}
