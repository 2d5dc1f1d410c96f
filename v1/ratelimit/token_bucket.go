package ratelimit

import (
	"context"
	"math"
	"time"
)

// tokenBucketScript refills the bucket proportionally to the time
// elapsed since the last refill, capped at capacity, then grants the
// requested tokens only when enough are available. A denied request
// leaves the token count untouched. State is persisted with the
// refill timestamp rebased to now and an expiry long enough to outlive
// a full refill cycle.
const tokenBucketScript = `
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])
local state = redis.call("HMGET", KEYS[1], "tokens", "refilled_at")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then
	tokens = capacity
	last = now
end
local elapsed = now - last
if elapsed < 0 then
	elapsed = 0
end
tokens = tokens + elapsed / 1000 * rate
if tokens > capacity then
	tokens = capacity
end
local allowed = 0
if tokens >= requested then
	tokens = tokens - requested
	allowed = 1
end
redis.call("HSET", KEYS[1], "tokens", tokens, "refilled_at", now)
redis.call("PEXPIRE", KEYS[1], ttl)
local reset = now
if tokens < capacity then
	reset = now + math.ceil((capacity - tokens) / rate * 1000)
end
return {allowed, math.floor(tokens), reset}
`

// CheckTokenBucket grants requested tokens from key's bucket when
// available. The bucket holds at most capacity tokens and refills at
// refillPerSecond, so short bursts up to capacity are permitted while
// the long-run average rate stays bounded. A non-positive requested
// count defaults to one token.
func (l *Limiter) CheckTokenBucket(ctx context.Context, key string, capacity int, refillPerSecond float64, requested int) (Result, error) {
	if requested <= 0 {
		requested = 1
	}
	if refillPerSecond <= 0 {
		// A bucket that never refills is a configuration error; fall
		// back to one token per second rather than dividing by zero.
		refillPerSecond = 1
	}
	now := l.now().UnixMilli()
	// Twice a full refill cycle, floored at a minute, so idle state
	// survives between widely spaced checks.
	refillMs := float64(capacity) / refillPerSecond * 1000
	ttl := int64(math.Ceil(refillMs)) * 2
	if ttl < 60_000 {
		ttl = 60_000
	}

	res, err := l.client.Eval(ctx, tokenBucketScript,
		[]string{l.key("tb", key)},
		now, capacity, refillPerSecond, requested, ttl)
	if err != nil {
		return l.degrade("token_bucket", key, err)
	}
	vals, err := evalInts(res, 3)
	if err != nil {
		return l.degrade("token_bucket", key, err)
	}

	r := Result{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
		ResetAt:   time.UnixMilli(vals[2]),
	}
	l.record(r.Allowed)
	return r, nil
}
