package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// slidingWindowScript atomically prunes entries older than the window,
// counts what remains, records the current attempt and refreshes the
// key's expiry. Every attempt is recorded, allowed or not, so the
// window reflects offered load. The decision is made on the count
// before the new entry.
const slidingWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, now - window)
local count = redis.call("ZCARD", KEYS[1])
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local reset = now + window
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
if count < limit then
	return {1, limit - count - 1, reset}
end
return {0, 0, reset}
`

// CheckSlidingWindow bounds the request rate for key to limit per any
// rolling interval of length window, with no boundary-reset burst
// artifact. Each entry carries a fresh nonce so simultaneous attempts
// with identical timestamps are counted separately.
func (l *Limiter) CheckSlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := l.client.Eval(ctx, slidingWindowScript,
		[]string{l.key("sw", key)},
		now, window.Milliseconds(), limit, member)
	if err != nil {
		return l.degrade("sliding_window", key, err)
	}
	vals, err := evalInts(res, 3)
	if err != nil {
		return l.degrade("sliding_window", key, err)
	}

	r := Result{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
		ResetAt:   time.UnixMilli(vals[2]),
	}
	l.record(r.Allowed)
	return r, nil
}

// WindowUsage reports how many attempts are currently recorded in
// key's sliding window without recording a new one. Meant for
// dashboards and debugging; the prune and count are two round trips,
// so the number can be momentarily stale under concurrent checks.
func (l *Limiter) WindowUsage(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := l.now().UnixMilli()
	k := l.key("sw", key)
	if err := l.client.SortedSetRemoveByScore(ctx, k, 0, float64(now-window.Milliseconds())); err != nil {
		return 0, err
	}
	return l.client.SortedSetCount(ctx, k)
}
