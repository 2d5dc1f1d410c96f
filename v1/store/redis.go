package store

import (
	"context"
	stdErrors "errors"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	coorderrors "github.com/mirkobrombin/go-coord/v1/errors"
)

const defaultOpTimeout = 5 * time.Second

var _ Client = (*RedisClient)(nil)

// RedisClient implements Client using a Redis backend. Every call is
// bounded by a fixed operation timeout; a timed-out call surfaces as
// coorderrors.ErrTimeout and is never retried here.
type RedisClient struct {
	client  *redis.Client
	timeout time.Duration

	scriptMu sync.Mutex
	scripts  map[string]*redis.Script
}

// RedisOption configures a RedisClient.
type RedisOption func(*RedisClient)

// WithTimeout sets the per-operation timeout for store calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(c *RedisClient) {
		c.timeout = d
	}
}

// NewRedis returns a RedisClient using the provided go-redis client.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisClient {
	c := &RedisClient{
		client:  client,
		timeout: defaultOpTimeout,
		scripts: make(map[string]*redis.Script),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisClient) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// mapErr translates go-redis failures into the store error taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return coorderrors.ErrTimeout
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return coorderrors.ErrConnectionClosed
	}
	return err
}

// Get implements Client.Get.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	data, err := c.client.Get(cctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapErr(err)
	}
	return data, true, nil
}

// GetWithTTL implements Client.GetWithTTL using a single pipelined
// round trip for the value and its remaining expiry.
func (c *RedisClient) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	pipe := c.client.Pipeline()
	getCmd := pipe.Get(cctx, key)
	ttlCmd := pipe.PTTL(cctx, key)
	if _, err := pipe.Exec(cctx); err != nil && err != redis.Nil {
		return nil, 0, false, mapErr(err)
	}
	data, err := getCmd.Bytes()
	if err == redis.Nil {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, mapErr(err)
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		// -1 means no expiry; report as zero.
		ttl = 0
	}
	return data, ttl, true, nil
}

// Set implements Client.Set.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	return mapErr(c.client.Set(cctx, key, value, ttl).Err())
}

// SetIfAbsent implements Client.SetIfAbsent.
func (c *RedisClient) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	ok, err := c.client.SetNX(cctx, key, value, ttl).Result()
	return ok, mapErr(err)
}

// Delete implements Client.Delete. Deleting absent keys is not an error.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	n, err := c.client.Del(cctx, keys...).Result()
	return int(n), mapErr(err)
}

// Exists implements Client.Exists.
func (c *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	n, err := c.client.Exists(cctx, key).Result()
	return n > 0, mapErr(err)
}

// Increment implements Client.Increment.
func (c *RedisClient) Increment(ctx context.Context, key string) (int64, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	n, err := c.client.Incr(cctx, key).Result()
	return n, mapErr(err)
}

// Expire implements Client.Expire.
func (c *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	ok, err := c.client.Expire(cctx, key, ttl).Result()
	return ok, mapErr(err)
}

// ExpireAtLeast implements Client.ExpireAtLeast via EXPIRE GT.
func (c *RedisClient) ExpireAtLeast(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	ok, err := c.client.ExpireGT(cctx, key, ttl).Result()
	if err != nil {
		return ok, mapErr(err)
	}
	if !ok {
		// GT reports false both for missing keys and for keys whose
		// expiry is already longer; distinguish via a plain existence
		// check so callers see "key exists" semantics.
		return c.Exists(ctx, key)
	}
	return true, nil
}

// Keys implements Client.Keys using SCAN to avoid blocking the store.
func (c *RedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.client.Scan(cctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, mapErr(err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

// SetAdd implements Client.SetAdd.
func (c *RedisClient) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return mapErr(c.client.SAdd(cctx, key, args...).Err())
}

// SetMembers implements Client.SetMembers.
func (c *RedisClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	members, err := c.client.SMembers(cctx, key).Result()
	return members, mapErr(err)
}

// SortedSetAdd implements Client.SortedSetAdd.
func (c *RedisClient) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	return mapErr(c.client.ZAdd(cctx, key, redis.Z{Score: score, Member: member}).Err())
}

// SortedSetRemoveByScore implements Client.SortedSetRemoveByScore.
func (c *RedisClient) SortedSetRemoveByScore(ctx context.Context, key string, min, max float64) error {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	return mapErr(c.client.ZRemRangeByScore(cctx, key,
		strconv.FormatFloat(min, 'f', -1, 64),
		strconv.FormatFloat(max, 'f', -1, 64)).Err())
}

// SortedSetCount implements Client.SortedSetCount.
func (c *RedisClient) SortedSetCount(ctx context.Context, key string) (int64, error) {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	n, err := c.client.ZCard(cctx, key).Result()
	return n, mapErr(err)
}

// Eval implements Client.Eval. Script handles are cached so repeated
// executions use EVALSHA after the first round trip.
func (c *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	c.scriptMu.Lock()
	s, ok := c.scripts[script]
	if !ok {
		s = redis.NewScript(script)
		c.scripts[script] = s
	}
	c.scriptMu.Unlock()

	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	res, err := s.Run(cctx, c.client, keys, args...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return res, mapErr(err)
}

// Publish implements Client.Publish.
func (c *RedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	return mapErr(c.client.Publish(cctx, channel, payload).Err())
}

// Subscribe implements Client.Subscribe. The subscription lives until
// stop is called or ctx is cancelled.
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	ps := c.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, mapErr(err)
	}

	out := make(chan Message, 16)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				default:
					// Slow consumer: drop rather than block; delivery
					// is best-effort and the store stays authoritative.
				}
			case <-done:
				return
			case <-ctx.Done():
				stop()
				return
			}
		}
	}()
	return out, stop, nil
}
