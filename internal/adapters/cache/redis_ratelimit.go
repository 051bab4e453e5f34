package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript executes prune, count and conditional insert as one
// atomic step. Doing this server-side is what keeps concurrent admissions
// bounded by the limit; separate round trips would race.
//
// KEYS[1] window member set. ARGV: now-ms, window-ms, limit, member.
// Returns {allowed, remaining, resetAtMs, retryAfterMs}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. windowStart)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return {1, limit - count - 1, now + window, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local resetAt = now + window
if oldest[2] then
  resetAt = tonumber(oldest[2]) + window
end
return {0, 0, resetAt, resetAt - now}
`)

// RedisRateLimitStore is the sliding-window counter over Redis sorted sets.
// Entries expire with the window, so the store self-heals without a cleanup
// pass. Every error is reported as domain.ErrStoreUnavailable; callers fail
// closed.
type RedisRateLimitStore struct {
	client *redis.Client
}

func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

func (s *RedisRateLimitStore) Check(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (ports.RateLimitDecision, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	raw, err := slidingWindowScript.Run(ctx, s.client,
		[]string{key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return ports.RateLimitDecision{}, fmt.Errorf("%w: rate limit check %q: %v", domain.ErrStoreUnavailable, key, err)
	}
	if len(raw) != 4 {
		return ports.RateLimitDecision{}, fmt.Errorf("%w: rate limit check %q: unexpected script reply", domain.ErrStoreUnavailable, key)
	}

	decision := ports.RateLimitDecision{
		Allowed:   raw[0] == 1,
		Limit:     limit,
		Remaining: int(raw[1]),
		ResetAt:   time.UnixMilli(raw[2]).UTC(),
	}
	if !decision.Allowed {
		decision.RetryAfter = ceilSeconds(time.Duration(raw[3]) * time.Millisecond)
	}
	return decision, nil
}

// ceilSeconds rounds up to the next whole second, minimum one.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
