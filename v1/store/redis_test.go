package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisClient(t *testing.T) (*RedisClient, *miniredis.Miniredis, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedis(client), mr, context.Background()
}

func TestRedisGetSetDelete(t *testing.T) {
	c, _, ctx := newRedisClient(t)

	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(data) != "v" {
		t.Fatalf("get: %q ok=%v err=%v", data, ok, err)
	}
	n, err := c.Delete(ctx, "k", "absent")
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	// Deleting an absent key is not an error.
	if n, err := c.Delete(ctx, "k"); err != nil || n != 0 {
		t.Fatalf("delete absent: n=%d err=%v", n, err)
	}
}

func TestRedisGetWithTTL(t *testing.T) {
	c, mr, ctx := newRedisClient(t)

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, ttl, ok, err := c.GetWithTTL(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(data) != "v" {
		t.Fatalf("unexpected value %q", data)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, _, ok, err := c.GetWithTTL(ctx, "k"); err != nil || ok {
		t.Fatalf("expected expiry, ok=%v err=%v", ok, err)
	}
}

func TestRedisSetIfAbsent(t *testing.T) {
	c, _, ctx := newRedisClient(t)

	ok, err := c.SetIfAbsent(ctx, "k", []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first setnx: ok=%v err=%v", ok, err)
	}
	ok, err = c.SetIfAbsent(ctx, "k", []byte("b"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second setnx should fail, ok=%v err=%v", ok, err)
	}
	data, _, _ := c.Get(ctx, "k")
	if string(data) != "a" {
		t.Fatalf("value clobbered: %q", data)
	}
}

func TestRedisExistsIncrementExpire(t *testing.T) {
	c, mr, ctx := newRedisClient(t)

	if ok, _ := c.Exists(ctx, "n"); ok {
		t.Fatal("unexpected existence")
	}
	for i := int64(1); i <= 3; i++ {
		n, err := c.Increment(ctx, "n")
		if err != nil || n != i {
			t.Fatalf("incr: n=%d err=%v", n, err)
		}
	}
	if ok, _ := c.Exists(ctx, "n"); !ok {
		t.Fatal("expected existence after incr")
	}
	if ok, err := c.Expire(ctx, "n", time.Second); err != nil || !ok {
		t.Fatalf("expire: ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := c.Exists(ctx, "n"); ok {
		t.Fatal("expected expiry")
	}
}

func TestRedisExpireAtLeastNeverShortens(t *testing.T) {
	c, _, ctx := newRedisClient(t)

	if err := c.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, err := c.ExpireAtLeast(ctx, "k", time.Minute); err != nil || !ok {
		t.Fatalf("expire at least: ok=%v err=%v", ok, err)
	}
	_, ttl, _, err := c.GetWithTTL(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ttl < 59*time.Minute {
		t.Fatalf("ttl was shortened to %v", ttl)
	}
	if ok, err := c.ExpireAtLeast(ctx, "k", 2*time.Hour); err != nil || !ok {
		t.Fatalf("raise: ok=%v err=%v", ok, err)
	}
	_, ttl, _, _ = c.GetWithTTL(ctx, "k")
	if ttl <= time.Hour {
		t.Fatalf("ttl not raised: %v", ttl)
	}
}

func TestRedisSetOps(t *testing.T) {
	c, _, ctx := newRedisClient(t)

	if err := c.SetAdd(ctx, "tag", "a", "b"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	if err := c.SetAdd(ctx, "tag", "b", "c"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	members, err := c.SetMembers(ctx, "tag")
	if err != nil || len(members) != 3 {
		t.Fatalf("smembers: %v err=%v", members, err)
	}
}

func TestRedisSortedSetOps(t *testing.T) {
	c, _, ctx := newRedisClient(t)

	for i, m := range []string{"a", "b", "c"} {
		if err := c.SortedSetAdd(ctx, "z", float64(i), m); err != nil {
			t.Fatalf("zadd: %v", err)
		}
	}
	if n, err := c.SortedSetCount(ctx, "z"); err != nil || n != 3 {
		t.Fatalf("zcard: n=%d err=%v", n, err)
	}
	if err := c.SortedSetRemoveByScore(ctx, "z", 0, 1); err != nil {
		t.Fatalf("zremrangebyscore: %v", err)
	}
	if n, _ := c.SortedSetCount(ctx, "z"); n != 1 {
		t.Fatalf("expected 1 member, got %d", n)
	}
}

func TestRedisKeysPattern(t *testing.T) {
	c, _, ctx := newRedisClient(t)

	for _, k := range []string{"ns:a", "ns:b", "other:c"} {
		if err := c.Set(ctx, k, []byte("v"), 0); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	keys, err := c.Keys(ctx, "ns:*")
	if err != nil || len(keys) != 2 {
		t.Fatalf("keys: %v err=%v", keys, err)
	}
}

func TestRedisEvalAtomic(t *testing.T) {
	c, _, ctx := newRedisClient(t)

	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return 1
end
return 0
`
	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	res, err := c.Eval(ctx, script, []string{"k"}, "v")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if n, _ := res.(int64); n != 1 {
		t.Fatalf("expected 1, got %v", res)
	}
	// Repeat to exercise the cached script handle.
	res, err = c.Eval(ctx, script, []string{"k"}, "other")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if n, _ := res.(int64); n != 0 {
		t.Fatalf("expected 0, got %v", res)
	}
}

func TestRedisPubSub(t *testing.T) {
	c, _, ctx := newRedisClient(t)

	msgs, stop, err := c.Subscribe(ctx, "ch")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := c.Publish(ctx, "ch", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Channel != "ch" || string(msg.Payload) != "hello" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestRedisClosedConnection(t *testing.T) {
	c, mr, ctx := newRedisClient(t)
	mr.Close()

	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Fatal("expected error from closed store")
	}
}

func TestNullClientDegradedMode(t *testing.T) {
	c := NewNull()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("null store must always miss, ok=%v err=%v", ok, err)
	}
	// Exclusivity cannot be guaranteed without a store, so lock
	// acquisition must not pretend to succeed.
	if ok, err := c.SetIfAbsent(ctx, "k", []byte("v"), time.Minute); err != nil || ok {
		t.Fatalf("setnx: ok=%v err=%v", ok, err)
	}
	msgs, stop, err := c.Subscribe(ctx, "ch")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()
	if _, open := <-msgs; open {
		t.Fatal("null subscription must deliver nothing")
	}
}
