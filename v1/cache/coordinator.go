package cache

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	coorderrors "github.com/mirkobrombin/go-coord/v1/errors"
	"github.com/mirkobrombin/go-coord/v1/metrics"
	"github.com/mirkobrombin/go-coord/v1/notify"
	"github.com/mirkobrombin/go-coord/v1/store"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-coord/v1/cache")

// Config carries the coordinator's tunables. Every field is optional.
type Config struct {
	// Namespace prefixes every key written to the shared store. Clear
	// removes everything under it, so it must not enclose keys owned
	// by other components.
	Namespace string
	// DefaultTTL applies to Set calls that carry no explicit TTL.
	DefaultTTL time.Duration
	// MaxValueBytes is the serialized-value ceiling. Writes above it
	// fail closed with ErrValueTooLarge.
	MaxValueBytes int
	// Channel is the pub/sub channel invalidation events travel on.
	Channel string
}

// The default namespace roots of the cache, lock and rate-limit
// components are disjoint: Clear and pattern invalidation scan
// Namespace + ":*", so cache keys must never share a prefix with lock
// records or rate windows.
const (
	defaultNamespace     = "coord:cache"
	defaultTTL           = 5 * time.Minute
	defaultMaxValueBytes = 1 << 20
	defaultChannel       = "coord:invalidations"
)

func (c *Config) fill() {
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultTTL
	}
	if c.MaxValueBytes <= 0 {
		c.MaxValueBytes = defaultMaxValueBytes
	}
	if c.Channel == "" {
		c.Channel = defaultChannel
	}
}

// invalidation is the payload broadcast when a tag is invalidated. It
// carries the already-namespaced member keys so receivers can purge
// their local tiers without re-reading the (now deleted) tag index.
type invalidation struct {
	Tag  string   `json:"tag"`
	Keys []string `json:"keys"`
}

// Coordinator orchestrates read-through and write-through across the
// local tier and the shared store. The local tier is advisory:
// correctness never depends on it, and store failures on reads and
// writes degrade to misses and no-ops rather than propagating.
type Coordinator[T any] struct {
	client   store.Client
	local    LocalStore[T]
	notifier notify.Notifier
	codec    Codec
	cfg      Config

	hits   atomic.Uint64
	misses atomic.Uint64
	group  singleflight.Group

	traceEnabled bool
	unsubscribe  func()
}

// Option configures a Coordinator.
type Option[T any] func(*Coordinator[T])

// WithLocal attaches a local tier. Without one every read goes to the
// shared store.
func WithLocal[T any](l LocalStore[T]) Option[T] {
	return func(c *Coordinator[T]) {
		c.local = l
	}
}

// WithNotifier attaches the invalidation broadcast channel.
func WithNotifier[T any](n notify.Notifier) Option[T] {
	return func(c *Coordinator[T]) {
		c.notifier = n
	}
}

// WithCodec overrides the default JSON codec.
func WithCodec[T any](codec Codec) Option[T] {
	return func(c *Coordinator[T]) {
		c.codec = codec
	}
}

// WithTracing enables OpenTelemetry spans on coordinator operations.
func WithTracing[T any]() Option[T] {
	return func(c *Coordinator[T]) {
		c.traceEnabled = true
	}
}

// New returns a Coordinator bound to the given store client. When a
// notifier is attached, the coordinator subscribes to the invalidation
// channel so sibling processes' tag invalidations purge this process's
// local tier too.
func New[T any](client store.Client, cfg Config, opts ...Option[T]) *Coordinator[T] {
	cfg.fill()
	c := &Coordinator[T]{
		client: client,
		codec:  JSONCodec{},
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier != nil && c.local != nil {
		unsub, err := c.notifier.Subscribe(context.Background(), cfg.Channel, c.onInvalidation)
		if err != nil {
			slog.Warn("coord: invalidation subscribe failed, local tier runs unsynchronized",
				"channel", cfg.Channel, "error", err)
		} else {
			c.unsubscribe = unsub
		}
	}
	return c
}

// Close detaches the coordinator from the invalidation channel. It
// does not close the local tier or the store client; both belong to
// the caller.
func (c *Coordinator[T]) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

func (c *Coordinator[T]) key(k string) string {
	return c.cfg.Namespace + ":" + k
}

func (c *Coordinator[T]) tagKey(tag string) string {
	return c.cfg.Namespace + ":tag:" + tag
}

func (c *Coordinator[T]) onInvalidation(_ string, payload []byte) {
	var inv invalidation
	if err := json.Unmarshal(payload, &inv); err != nil {
		slog.Warn("coord: malformed invalidation event", "error", err)
		return
	}
	for _, k := range inv.Keys {
		c.local.Delete(k)
	}
}

type fetched[T any] struct {
	value T
	ok    bool
}

// Get returns the cached value for key. The local tier is consulted
// first; on a miss the shared store is queried and, on a remote hit,
// the local tier is populated with the remote TTL. Store failures
// degrade to a miss.
func (c *Coordinator[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, "Coordinator.Get")
		defer span.End()
	}
	metrics.GetCounter.Inc()

	nk := c.key(key)
	if c.local != nil {
		if v, ok := c.local.Get(nk); ok {
			c.hits.Add(1)
			if c.traceEnabled {
				span.SetAttributes(attribute.String("coord.cache.result", "local_hit"))
			}
			return v, true, nil
		}
	}

	// Concurrent misses for the same key share one store round trip.
	res, err, _ := c.group.Do(nk, func() (any, error) {
		data, ttl, ok, err := c.client.GetWithTTL(ctx, nk)
		if err != nil {
			return nil, err
		}
		if !ok {
			return fetched[T]{}, nil
		}
		var v T
		if err := decode(c.codec, data, &v); err != nil {
			return nil, err
		}
		if ttl <= 0 {
			ttl = c.cfg.DefaultTTL
		}
		if c.local != nil {
			c.local.Set(nk, v, ttl)
		}
		return fetched[T]{value: v, ok: true}, nil
	})
	if err != nil {
		var zero T
		if stdErrors.Is(err, coorderrors.ErrSerialization) {
			return zero, false, err
		}
		slog.Warn("coord: cache get degraded to miss", "key", key, "error", err)
		c.misses.Add(1)
		if c.traceEnabled {
			span.SetAttributes(attribute.String("coord.cache.result", "degraded_miss"))
		}
		return zero, false, nil
	}
	f := res.(fetched[T])
	if !f.ok {
		c.misses.Add(1)
		if c.traceEnabled {
			span.SetAttributes(attribute.String("coord.cache.result", "miss"))
		}
		var zero T
		return zero, false, nil
	}
	c.hits.Add(1)
	if c.traceEnabled {
		span.SetAttributes(attribute.String("coord.cache.result", "remote_hit"))
	}
	return f.value, true, nil
}

// setOptions carries per-write settings.
type setOptions struct {
	ttl  time.Duration
	tags []string
}

// SetOption configures a single Set call.
type SetOption func(*setOptions)

// WithTTL overrides the coordinator's default TTL for this write.
func WithTTL(d time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = d
	}
}

// WithTags indexes the key under the given tags for bulk invalidation.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = tags
	}
}

// Set writes value through to the shared store and the local tier.
// Values whose serialized form exceeds the configured ceiling are
// rejected with ErrValueTooLarge; codec failures surface as
// ErrSerialization. A store failure is logged and degrades to a no-op
// so callers can treat the cache as advisory.
func (c *Coordinator[T]) Set(ctx context.Context, key string, value T, opts ...SetOption) error {
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, "Coordinator.Set")
		defer span.End()
	}
	metrics.SetCounter.Inc()

	o := setOptions{ttl: c.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = c.cfg.DefaultTTL
	}

	data, err := encode(c.codec, value)
	if err != nil {
		return err
	}
	if len(data) > c.cfg.MaxValueBytes {
		slog.Warn("coord: cache write rejected, value too large",
			"key", key, "size", len(data), "limit", c.cfg.MaxValueBytes)
		return coorderrors.ErrValueTooLarge
	}

	nk := c.key(key)
	if err := c.client.Set(ctx, nk, data, o.ttl); err != nil {
		// Skip the local tier too: it must never hold an entry the
		// shared store does not.
		slog.Warn("coord: cache write degraded to no-op", "key", key, "error", err)
		return nil
	}
	if c.local != nil {
		c.local.Set(nk, value, o.ttl)
	}

	for _, tag := range o.tags {
		tk := c.tagKey(tag)
		if err := c.client.SetAdd(ctx, tk, nk); err != nil {
			slog.Warn("coord: tag index update failed", "tag", tag, "key", key, "error", err)
			continue
		}
		// Keep the index alive for twice the longest member TTL so it
		// outlives every entry it references without growing unbounded.
		if _, err := c.client.ExpireAtLeast(ctx, tk, 2*o.ttl); err != nil {
			slog.Warn("coord: tag index expire failed", "tag", tag, "error", err)
		}
	}
	return nil
}

// Delete removes key from both tiers. Deleting an absent key is not an
// error.
func (c *Coordinator[T]) Delete(ctx context.Context, key string) error {
	nk := c.key(key)
	if c.local != nil {
		c.local.Delete(nk)
	}
	if _, err := c.client.Delete(ctx, nk); err != nil {
		slog.Warn("coord: cache delete degraded to no-op", "key", key, "error", err)
	}
	return nil
}

// InvalidateByTag deletes every key indexed under tag from both tiers,
// removes the tag index itself, and broadcasts the purge so sibling
// processes drop the same keys from their local tiers. It returns the
// number of keys removed from the shared store. The multi-step
// sequence is not atomic against concurrent writers; cache staleness
// is the accepted, bounded failure mode.
func (c *Coordinator[T]) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, "Coordinator.InvalidateByTag",
			trace.WithAttributes(attribute.String("coord.cache.tag", tag)))
		defer span.End()
	}

	tk := c.tagKey(tag)
	members, err := c.client.SetMembers(ctx, tk)
	if err != nil {
		slog.Warn("coord: tag invalidation degraded to no-op", "tag", tag, "error", err)
		return 0, nil
	}
	if c.local != nil {
		for _, m := range members {
			c.local.Delete(m)
		}
	}
	// Members may reference already-expired keys; the delete count only
	// reflects keys that still existed.
	n := 0
	if len(members) > 0 {
		if n, err = c.client.Delete(ctx, members...); err != nil {
			slog.Warn("coord: tag member delete failed", "tag", tag, "error", err)
			n = 0
		}
	}
	if _, err := c.client.Delete(ctx, tk); err != nil {
		slog.Warn("coord: tag index delete failed", "tag", tag, "error", err)
	}
	metrics.InvalidateCounter.Add(float64(n))

	if c.notifier != nil && len(members) > 0 {
		payload, err := json.Marshal(invalidation{Tag: tag, Keys: members})
		if err == nil {
			err = c.notifier.Publish(ctx, c.cfg.Channel, payload)
		}
		if err != nil {
			slog.Warn("coord: invalidation broadcast failed", "tag", tag, "error", err)
		}
	}
	return n, nil
}

// InvalidateByPattern removes keys whose un-namespaced name starts
// with prefix. Best-effort: the local tier matches by substring (or is
// cleared wholesale when it cannot enumerate), the shared store by
// prefix scan, and the operation is not atomic against concurrent
// writers. It returns the number of keys removed from the store.
func (c *Coordinator[T]) InvalidateByPattern(ctx context.Context, prefix string) (int, error) {
	if c.local != nil {
		if en, ok := c.local.(Enumerable); ok {
			match := c.key(prefix)
			for _, k := range en.Keys() {
				if strings.HasPrefix(k, match) {
					c.local.Delete(k)
				}
			}
		} else {
			c.local.Clear()
		}
	}

	keys, err := c.client.Keys(ctx, c.key(prefix)+"*")
	if err != nil {
		slog.Warn("coord: pattern invalidation degraded to no-op", "prefix", prefix, "error", err)
		return 0, nil
	}
	n := 0
	if len(keys) > 0 {
		if n, err = c.client.Delete(ctx, keys...); err != nil {
			slog.Warn("coord: pattern delete failed", "prefix", prefix, "error", err)
			n = 0
		}
	}
	metrics.InvalidateCounter.Add(float64(n))
	return n, nil
}

// Clear flushes the local tier and removes every key under the
// configured namespace from the shared store, tag indexes included.
func (c *Coordinator[T]) Clear(ctx context.Context) error {
	if c.local != nil {
		c.local.Clear()
	}
	keys, err := c.client.Keys(ctx, c.cfg.Namespace+":*")
	if err != nil {
		slog.Warn("coord: clear degraded to local-only", "error", err)
		return nil
	}
	if len(keys) > 0 {
		if _, err := c.client.Delete(ctx, keys...); err != nil {
			slog.Warn("coord: clear delete failed", "error", err)
		}
	}
	return nil
}

// Stats reports hit/miss counts across both tiers.
type Stats struct {
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns current cache statistics.
func (c *Coordinator[T]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
