package cache

import (
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoLocal implements LocalStore using dgraph-io/ristretto,
// trading key enumeration for admission-policy eviction under memory
// pressure. It does not implement Enumerable, so pattern invalidation
// clears the whole tier.
type RistrettoLocal[T any] struct {
	c    *ristretto.Cache
	size atomic.Int64
}

// RistrettoOption configures the underlying ristretto cache.
type RistrettoOption func(*ristretto.Config)

// WithRistrettoConfig applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistrettoConfig(cfg *ristretto.Config) RistrettoOption {
	return func(c *ristretto.Config) {
		if cfg == nil {
			return
		}
		*c = *cfg
	}
}

// NewRistrettoLocal returns a LocalStore backed by ristretto.
func NewRistrettoLocal[T any](opts ...RistrettoOption) *RistrettoLocal[T] {
	cfg := &ristretto.Config{
		NumCounters: 1e4,     // number of keys to track frequency of (10k).
		MaxCost:     1 << 20, // maximum cost of cache (1MB by default).
		BufferItems: 64,      // number of keys per Get buffer.
	}
	for _, opt := range opts {
		opt(cfg)
	}
	l := &RistrettoLocal[T]{}
	cfg.OnEvict = func(item *ristretto.Item) {
		l.size.Add(-1)
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		panic(err)
	}
	l.c = rc
	return l
}

// Get implements LocalStore.Get. An entry of the wrong type reports a
// miss so the read falls through to the shared store.
func (r *RistrettoLocal[T]) Get(key string) (T, bool) {
	v, ok := r.c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	val, ok := v.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return val, true
}

// Set implements LocalStore.Set.
func (r *RistrettoLocal[T]) Set(key string, value T, ttl time.Duration) {
	if r.c.SetWithTTL(key, value, 1, ttl) {
		r.size.Add(1)
	}
	r.c.Wait()
}

// Delete implements LocalStore.Delete.
func (r *RistrettoLocal[T]) Delete(key string) {
	r.c.Del(key)
	r.c.Wait()
}

// Clear implements LocalStore.Clear.
func (r *RistrettoLocal[T]) Clear() {
	r.c.Clear()
	r.size.Store(0)
}

// Len implements LocalStore.Len. The count is approximate: ristretto
// admission may reject writes and evictions are reported
// asynchronously.
func (r *RistrettoLocal[T]) Len() int {
	n := r.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Close releases resources held by the cache.
func (r *RistrettoLocal[T]) Close() {
	r.c.Close()
}
