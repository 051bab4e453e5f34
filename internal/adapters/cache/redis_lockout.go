package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/latchkey/auth-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// recordFailureScript performs increment-then-compare atomically per account.
// On reaching the threshold it arms the lockout timer and clears the counter
// in the same step, so concurrent failures can never double-trigger.
//
// KEYS[1] failure counter, KEYS[2] lockout marker.
// ARGV: threshold, counter-window-ms, lockout-ms.
// Returns {locked, failures}.
var recordFailureScript = redis.NewScript(`
local counterKey = KEYS[1]
local lockKey = KEYS[2]
local threshold = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local lockoutMs = tonumber(ARGV[3])

if redis.call('EXISTS', lockKey) == 1 then
  return {1, 0}
end

local count = redis.call('INCR', counterKey)
if count == 1 then
  redis.call('PEXPIRE', counterKey, windowMs)
end
if count >= threshold then
  redis.call('SET', lockKey, '1', 'PX', lockoutMs)
  redis.call('DEL', counterKey)
  return {1, count}
end
return {0, count}
`)

// RedisLockoutStore is the failure-counter plus lockout-timer state machine.
// Both keys carry their own TTL, so expired state clears itself without a
// cleanup pass. Errors map to domain.ErrStoreUnavailable; callers fail closed.
type RedisLockoutStore struct {
	client *redis.Client
}

func NewRedisLockoutStore(client *redis.Client) *RedisLockoutStore {
	return &RedisLockoutStore{client: client}
}

func failureKey(accountID string) string { return "failed_attempts:" + accountID }
func lockoutKey(accountID string) string { return "lockout:" + accountID }

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, accountID string, _ time.Time, threshold int, window, lockoutFor time.Duration) (bool, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	raw, err := recordFailureScript.Run(ctx, s.client,
		[]string{failureKey(accountID), lockoutKey(accountID)},
		threshold, window.Milliseconds(), lockoutFor.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("%w: record failure for %q: %v", domain.ErrStoreUnavailable, accountID, err)
	}
	if len(raw) != 2 {
		return false, 0, fmt.Errorf("%w: record failure for %q: unexpected script reply", domain.ErrStoreUnavailable, accountID)
	}
	return raw[0] == 1, int(raw[1]), nil
}

func (s *RedisLockoutStore) CheckLocked(ctx context.Context, accountID string) (bool, time.Duration, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	ttl, err := s.client.PTTL(ctx, lockoutKey(accountID)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: check lockout for %q: %v", domain.ErrStoreUnavailable, accountID, err)
	}
	// PTTL reports a negative duration for missing keys and keys without
	// expiry; either way there is no active lockout.
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

func (s *RedisLockoutStore) Reset(ctx context.Context, accountID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, failureKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: reset failures for %q: %v", domain.ErrStoreUnavailable, accountID, err)
	}
	return nil
}
