package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and charges one key atomically.
// Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)

local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #first > 0 then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisStore shares sliding-window logs across instances through sorted sets
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. Keys are stored as prefix+key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// or rediss:// URL, or a bare host:port,
// and checks connectivity
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	var opts *redis.Options
	if len(url) > 8 && (url[:8] == "redis://" || url[:9] == "rediss://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Hit implements CounterStore
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Usage, error) {
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	raw, err := slidingWindowScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Usage{}, err
	}
	if len(raw) != 3 {
		return Usage{}, fmt.Errorf("unexpected script reply of length %d", len(raw))
	}

	usage := Usage{Allowed: raw[0] == 1, Count: int(raw[1])}
	if raw[2] > 0 {
		usage.Oldest = time.UnixMilli(raw[2])
	}
	return usage, nil
}
