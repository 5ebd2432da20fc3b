package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and takes one token atomically. It returns
// {allowed, remaining}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
local intervals = math.floor(elapsed / interval_ms)
if intervals > 0 then
	tokens = math.min(capacity, tokens + intervals)
	last_refill = last_refill + (intervals * interval_ms)
end

local allowed = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens }
`)

// RedisLimitStore is a LimitStore shared by every instance pointing at the
// same Redis.
type RedisLimitStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisLimitStore(client redis.Scripter, prefix string) *RedisLimitStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimitStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisLimitStore) Allow(ctx context.Context, key string, perMinute int) (bool, error) {
	interval := time.Minute / time.Duration(perMinute)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	vals, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + ":" + key},
		s.now().UnixMilli(),
		perMinute,
		interval.Milliseconds(),
		int64((2 * time.Minute).Seconds()),
	).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}

	return parseBucketResult(vals)
}

func parseBucketResult(vals any) (bool, error) {
	arr, ok := vals.([]any)
	if !ok || len(arr) != 2 {
		return false, fmt.Errorf("rate limit script: unexpected result %#v", vals)
	}

	switch v := arr[0].(type) {
	case int64:
		return v == 1, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false, fmt.Errorf("rate limit script: %w", err)
		}
		return n == 1, nil
	default:
		return false, fmt.Errorf("rate limit script: unexpected flag %#v", arr[0])
	}
}
