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

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	store, mr := setupRedisStore(t)
	clock := newFakeClock()
	l, err := New(store, 3, time.Minute, WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "session:abc")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3-(i+1), res.Remaining)
		clock.Advance(10 * time.Second)
	}

	res, err := l.Allow(ctx, "session:abc")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.RetryAfter)

	members, err := mr.ZMembers("ratelimit:session:abc")
	require.NoError(t, err)
	assert.Len(t, members, 3)
	assert.Greater(t, mr.TTL("ratelimit:session:abc"), time.Duration(0))

	// First hit leaves the window
	clock.Advance(31 * time.Second)
	res, err = l.Allow(ctx, "session:abc")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	_, err := store.Hit(context.Background(), "k", time.Now(), time.Minute, 1)
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	_ = client.Close()

	client, err = NewRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	_ = client.Close()

	_, err = NewRedisClient(context.Background(), "redis://%zz")
	assert.Error(t, err)
}
