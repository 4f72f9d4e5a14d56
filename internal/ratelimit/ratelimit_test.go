package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, now time.Time) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(now)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedis(client, time.Minute)
	l.now = func() time.Time { return now }
	return l, mr
}

func TestRedisLimiterBlocksAfterLimit(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 30, 0, time.UTC)
	l, _ := newTestLimiter(t, now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "ai:1:2", 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "hit %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := l.Allow(ctx, "ai:1:2", 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 1, 0, 0, time.UTC), d.ResetAt)

	other, err := l.Allow(ctx, "ai:1:3", 3)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")
}

func TestRedisLimiterNewWindowResets(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 59, 0, time.UTC)
	l, _ := newTestLimiter(t, now)
	ctx := context.Background()

	_, err := l.Allow(ctx, "k", 1)
	require.NoError(t, err)
	d, err := l.Allow(ctx, "k", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	l.now = func() time.Time { return now.Add(2 * time.Second) }
	d, err = l.Allow(ctx, "k", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiterSetsExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l, mr := newTestLimiter(t, now)

	_, err := l.Allow(context.Background(), "k", 5)
	require.NoError(t, err)
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))
}

func TestZeroLimitDisables(t *testing.T) {
	l, _ := newTestLimiter(t, time.Now())
	d, err := l.Allow(context.Background(), "k", 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
