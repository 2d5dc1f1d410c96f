package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultSweepInterval is the default period for removing expired
// entries. Expiry is also checked lazily on access, so the sweeper only
// bounds memory, not staleness.
const defaultSweepInterval = time.Minute

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Local is a map-backed LocalStore with per-entry expiry and a
// periodic background sweep.
type Local[T any] struct {
	mu            sync.RWMutex
	items         map[string]entry[T]
	sweepInterval time.Duration
	now           func() time.Time
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	evictionCounter prometheus.Counter
}

// LocalOption configures a Local tier.
type LocalOption[T any] func(*Local[T])

// WithSweepInterval sets the interval at which expired entries are
// removed. A zero or negative duration disables the background sweeper.
func WithSweepInterval[T any](d time.Duration) LocalOption[T] {
	return func(l *Local[T]) {
		l.sweepInterval = d
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock[T any](now func() time.Time) LocalOption[T] {
	return func(l *Local[T]) {
		l.now = now
	}
}

// WithEvictionMetrics counts swept and expired entries on the provided
// registerer.
func WithEvictionMetrics[T any](reg prometheus.Registerer) LocalOption[T] {
	return func(l *Local[T]) {
		l.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_local_evictions_total",
			Help: "Total number of local tier evictions",
		})
		reg.MustRegister(l.evictionCounter)
	}
}

// NewLocal returns a new map-backed local tier.
func NewLocal[T any](opts ...LocalOption[T]) *Local[T] {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Local[T]{
		items:         make(map[string]entry[T]),
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sweepInterval > 0 {
		l.wg.Add(1)
		go l.sweeper()
	}
	return l
}

// Get implements LocalStore.Get. Expired entries are removed on access
// so staleness is never worse than the sweep interval.
func (l *Local[T]) Get(key string) (T, bool) {
	l.mu.RLock()
	it, ok := l.items[key]
	l.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	if !it.expiresAt.IsZero() && l.now().After(it.expiresAt) {
		l.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// refreshed the entry.
		if cur, ok := l.items[key]; ok && !cur.expiresAt.IsZero() && l.now().After(cur.expiresAt) {
			delete(l.items, key)
			if l.evictionCounter != nil {
				l.evictionCounter.Inc()
			}
		}
		l.mu.Unlock()
		var zero T
		return zero, false
	}
	return it.value, true
}

// Set implements LocalStore.Set.
func (l *Local[T]) Set(key string, value T, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = l.now().Add(ttl)
	}
	l.mu.Lock()
	l.items[key] = entry[T]{value: value, expiresAt: exp}
	l.mu.Unlock()
}

// Delete implements LocalStore.Delete.
func (l *Local[T]) Delete(key string) {
	l.mu.Lock()
	delete(l.items, key)
	l.mu.Unlock()
}

// Clear implements LocalStore.Clear.
func (l *Local[T]) Clear() {
	l.mu.Lock()
	l.items = make(map[string]entry[T])
	l.mu.Unlock()
}

// Len implements LocalStore.Len.
func (l *Local[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Keys implements Enumerable.
func (l *Local[T]) Keys() []string {
	l.mu.RLock()
	keys := make([]string, 0, len(l.items))
	for k := range l.items {
		keys = append(keys, k)
	}
	l.mu.RUnlock()
	return keys
}

// sweeper periodically removes expired entries. It samples the map in
// small batches, repeating while the expired ratio stays high, to
// avoid holding the write lock for long on large maps.
func (l *Local[T]) sweeper() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	const (
		sampleSize    = 20
		evictionRatio = 0.25
	)

	for {
		select {
		case <-ticker.C:
			for {
				expired := 0
				checked := 0
				now := l.now()

				l.mu.Lock()
				if len(l.items) == 0 {
					l.mu.Unlock()
					break
				}
				for k, it := range l.items {
					checked++
					if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
						delete(l.items, k)
						if l.evictionCounter != nil {
							l.evictionCounter.Inc()
						}
						expired++
					}
					if checked >= sampleSize {
						break
					}
				}
				l.mu.Unlock()

				if float64(expired) < float64(sampleSize)*evictionRatio {
					break
				}
			}
		case <-l.ctx.Done():
			return
		}
	}
}

// Close stops the background sweeper and drops all entries.
func (l *Local[T]) Close() {
	l.cancel()
	l.wg.Wait()
	l.Clear()
}
