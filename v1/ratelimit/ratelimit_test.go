package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-coord/v1/store"
)

// testClock is an injectable time source shared with miniredis so
// script time and server-side expiry advance together.
type testClock struct {
	mr   *miniredis.Miniredis
	base time.Time
	off  atomic.Int64
}

func (c *testClock) Now() time.Time {
	return c.base.Add(time.Duration(c.off.Load()))
}

func (c *testClock) Advance(d time.Duration) {
	c.off.Add(int64(d))
	c.mr.FastForward(d)
}

func newLimiter(t *testing.T, opts ...Option) (*Limiter, *testClock, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	clock := &testClock{mr: mr, base: time.Now()}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(store.NewRedis(rdb), opts...), clock, context.Background()
}

func TestSlidingWindowBoundsRate(t *testing.T) {
	l, _, ctx := newLimiter(t)

	for i := 0; i < 3; i++ {
		r, err := l.CheckSlidingWindow(ctx, "api", 3, time.Minute)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !r.Allowed {
			t.Fatalf("check %d denied under the limit", i)
		}
		if r.Remaining != 2-i {
			t.Fatalf("check %d remaining=%d, want %d", i, r.Remaining, 2-i)
		}
	}
	r, err := l.CheckSlidingWindow(ctx, "api", 3, time.Minute)
	if err != nil {
		t.Fatalf("check over limit: %v", err)
	}
	if r.Allowed || r.Remaining != 0 {
		t.Fatalf("fourth check allowed=%v remaining=%d", r.Allowed, r.Remaining)
	}
}

func TestSlidingWindowSlides(t *testing.T) {
	l, clock, ctx := newLimiter(t)

	for i := 0; i < 2; i++ {
		if r, _ := l.CheckSlidingWindow(ctx, "api", 2, time.Minute); !r.Allowed {
			t.Fatalf("check %d denied", i)
		}
	}
	if r, _ := l.CheckSlidingWindow(ctx, "api", 2, time.Minute); r.Allowed {
		t.Fatal("expected denial at limit")
	}

	// Half a window later the old entries are still inside the rolling
	// interval.
	clock.Advance(30 * time.Second)
	if r, _ := l.CheckSlidingWindow(ctx, "api", 2, time.Minute); r.Allowed {
		t.Fatal("expected denial mid-window")
	}

	// Once the full window has passed the earliest entries, capacity
	// returns.
	clock.Advance(61 * time.Second)
	r, err := l.CheckSlidingWindow(ctx, "api", 2, time.Minute)
	if err != nil {
		t.Fatalf("check after slide: %v", err)
	}
	if !r.Allowed {
		t.Fatal("expected allowance once the window slid past")
	}
}

func TestSlidingWindowCountsDeniedAttempts(t *testing.T) {
	l, clock, ctx := newLimiter(t)

	if r, _ := l.CheckSlidingWindow(ctx, "api", 1, time.Minute); !r.Allowed {
		t.Fatal("first check denied")
	}
	// Hammering while denied keeps refreshing the window with new
	// attempts; the reset horizon moves with the latest denial.
	clock.Advance(30 * time.Second)
	r1, _ := l.CheckSlidingWindow(ctx, "api", 1, time.Minute)
	if r1.Allowed {
		t.Fatal("expected denial")
	}
	clock.Advance(45 * time.Second)
	// The allowed entry slid out, but the denied attempt from 45s ago
	// is still inside the window and fills the limit.
	r2, _ := l.CheckSlidingWindow(ctx, "api", 1, time.Minute)
	if r2.Allowed {
		t.Fatal("denied attempts must count against the window")
	}
}

func TestSlidingWindowIsolatesKeys(t *testing.T) {
	l, _, ctx := newLimiter(t)

	if r, _ := l.CheckSlidingWindow(ctx, "a", 1, time.Minute); !r.Allowed {
		t.Fatal("key a denied")
	}
	if r, _ := l.CheckSlidingWindow(ctx, "a", 1, time.Minute); r.Allowed {
		t.Fatal("key a not at limit")
	}
	if r, _ := l.CheckSlidingWindow(ctx, "b", 1, time.Minute); !r.Allowed {
		t.Fatal("key b throttled by key a")
	}
}

func TestTokenBucketBurstThenRefill(t *testing.T) {
	l, clock, ctx := newLimiter(t)

	// A fresh bucket allows a burst up to capacity.
	for i := 0; i < 5; i++ {
		r, err := l.CheckTokenBucket(ctx, "job", 5, 1, 1)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !r.Allowed {
			t.Fatalf("burst check %d denied", i)
		}
		if r.Remaining != 4-i {
			t.Fatalf("check %d remaining=%d, want %d", i, r.Remaining, 4-i)
		}
	}
	if r, _ := l.CheckTokenBucket(ctx, "job", 5, 1, 1); r.Allowed {
		t.Fatal("empty bucket granted a token")
	}

	// At one token per second, three seconds buys three tokens.
	clock.Advance(3 * time.Second)
	r, err := l.CheckTokenBucket(ctx, "job", 5, 1, 3)
	if err != nil {
		t.Fatalf("check after refill: %v", err)
	}
	if !r.Allowed || r.Remaining != 0 {
		t.Fatalf("refill grant: allowed=%v remaining=%d", r.Allowed, r.Remaining)
	}
}

func TestTokenBucketDenialConservesTokens(t *testing.T) {
	l, _, ctx := newLimiter(t)

	if r, _ := l.CheckTokenBucket(ctx, "job", 5, 1, 3); !r.Allowed {
		t.Fatal("initial grant denied")
	}
	// Two tokens left; asking for three must fail without spending any.
	r, err := l.CheckTokenBucket(ctx, "job", 5, 1, 3)
	if err != nil {
		t.Fatalf("denied check: %v", err)
	}
	if r.Allowed {
		t.Fatal("grant exceeded balance")
	}
	if r.Remaining != 2 {
		t.Fatalf("denial changed balance, remaining=%d", r.Remaining)
	}
	// The two remaining tokens are still spendable.
	if r, _ := l.CheckTokenBucket(ctx, "job", 5, 1, 2); !r.Allowed {
		t.Fatal("conserved tokens not spendable")
	}
}

func TestTokenBucketRefillCapsAtCapacity(t *testing.T) {
	l, clock, ctx := newLimiter(t)

	if r, _ := l.CheckTokenBucket(ctx, "job", 3, 10, 1); !r.Allowed {
		t.Fatal("initial grant denied")
	}
	// Far longer than a full refill; the bucket must not exceed its
	// capacity.
	clock.Advance(time.Hour)
	r, err := l.CheckTokenBucket(ctx, "job", 3, 10, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !r.Allowed || r.Remaining != 2 {
		t.Fatalf("overfilled bucket: allowed=%v remaining=%d", r.Allowed, r.Remaining)
	}
}

// brokenClient fails every script execution.
type brokenClient struct {
	store.Client
}

var errDown = errors.New("store unreachable")

func (brokenClient) Eval(context.Context, string, []string, ...any) (any, error) {
	return nil, errDown
}

func TestLimiterFailsOpenByDefault(t *testing.T) {
	l := New(brokenClient{Client: store.NewNull()})
	ctx := context.Background()

	r, err := l.CheckSlidingWindow(ctx, "api", 1, time.Minute)
	if err != nil || !r.Allowed {
		t.Fatalf("fail-open sliding window: allowed=%v err=%v", r.Allowed, err)
	}
	r, err = l.CheckTokenBucket(ctx, "api", 1, 1, 1)
	if err != nil || !r.Allowed {
		t.Fatalf("fail-open token bucket: allowed=%v err=%v", r.Allowed, err)
	}
}

func TestLimiterFailClosed(t *testing.T) {
	l := New(brokenClient{Client: store.NewNull()}, WithFailClosed())
	ctx := context.Background()

	r, err := l.CheckSlidingWindow(ctx, "api", 1, time.Minute)
	if !errors.Is(err, errDown) || r.Allowed {
		t.Fatalf("fail-closed sliding window: allowed=%v err=%v", r.Allowed, err)
	}
	r, err = l.CheckTokenBucket(ctx, "api", 1, 1, 1)
	if !errors.Is(err, errDown) || r.Allowed {
		t.Fatalf("fail-closed token bucket: allowed=%v err=%v", r.Allowed, err)
	}
}

func TestWindowUsage(t *testing.T) {
	l, clock, ctx := newLimiter(t)

	if n, err := l.WindowUsage(ctx, "api", time.Minute); err != nil || n != 0 {
		t.Fatalf("empty window usage: n=%d err=%v", n, err)
	}
	for i := 0; i < 3; i++ {
		l.CheckSlidingWindow(ctx, "api", 10, time.Minute)
	}
	if n, err := l.WindowUsage(ctx, "api", time.Minute); err != nil || n != 3 {
		t.Fatalf("window usage: n=%d err=%v", n, err)
	}
	// Usage only observes; it never records an attempt.
	if n, _ := l.WindowUsage(ctx, "api", time.Minute); n != 3 {
		t.Fatalf("usage recorded an attempt, n=%d", n)
	}
	clock.Advance(30 * time.Second)
	l.CheckSlidingWindow(ctx, "api", 10, time.Minute)
	clock.Advance(45 * time.Second)
	// The first three attempts slid out of the window.
	if n, err := l.WindowUsage(ctx, "api", time.Minute); err != nil || n != 1 {
		t.Fatalf("usage after slide: n=%d err=%v", n, err)
	}
}

func TestLimiterStateExpires(t *testing.T) {
	l, clock, ctx := newLimiter(t)

	if r, _ := l.CheckSlidingWindow(ctx, "api", 1, time.Second); !r.Allowed {
		t.Fatal("first check denied")
	}
	// After the window's expiry the key is gone server-side and a fresh
	// window starts.
	clock.Advance(2 * time.Second)
	if r, _ := l.CheckSlidingWindow(ctx, "api", 1, time.Second); !r.Allowed {
		t.Fatal("expected fresh window after state expiry")
	}
}
