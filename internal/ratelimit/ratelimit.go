// Package ratelimit implements a per-collaborator token bucket, backed by
// Redis so the effective rate is shared across every worker process for a
// given stage rather than reset per process.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript atomically refills and consumes from a bucket stored as
// a Redis hash {tokens, last_refill_ms}. Returns 1 if a token was consumed,
// 0 if the caller must wait.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refillTokens = tonumber(ARGV[2])
local refillIntervalMs = tonumber(ARGV[3])
local nowMs = tonumber(ARGV[4])

local bucket = redis.call("HMGET", key, "tokens", "last_refill_ms")
local tokens = tonumber(bucket[1])
local lastRefill = tonumber(bucket[2])

if tokens == nil then
  tokens = capacity
  lastRefill = nowMs
end

local elapsed = nowMs - lastRefill
if elapsed > 0 then
  local refills = math.floor(elapsed / refillIntervalMs)
  if refills > 0 then
    tokens = math.min(capacity, tokens + refills * refillTokens)
    lastRefill = lastRefill + refills * refillIntervalMs
  end
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill_ms", lastRefill)
redis.call("PEXPIRE", key, refillIntervalMs * 2)

return allowed
`

// Limiter is a Redis-backed token bucket for one named collaborator.
type Limiter struct {
	client   *redis.Client
	key      string
	capacity int
	interval time.Duration
	script   *redis.Script
}

// New builds a Limiter that replenishes `tokens` every `interval`, shared
// under `name` across every process that constructs a Limiter with the same
// name against the same Redis instance.
func New(client *redis.Client, name string, tokens int, interval time.Duration) *Limiter {
	return &Limiter{
		client:   client,
		key:      fmt.Sprintf("ratelimit:%s", name),
		capacity: tokens,
		interval: interval,
		script:   redis.NewScript(tokenBucketScript),
	}
}

// Wait blocks until a token is available or ctx is cancelled, polling with
// a short backoff between attempts.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		allowed, err := l.tryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("rate limiter %s: %w", l.key, err)
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (l *Limiter) tryAcquire(ctx context.Context) (bool, error) {
	refillTokens := l.capacity
	nowMs := time.Now().UnixMilli()
	result, err := l.script.Run(ctx, l.client, []string{l.key},
		l.capacity, refillTokens, l.interval.Milliseconds(), nowMs).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
