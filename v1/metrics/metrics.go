package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// GetCounter tracks the number of coordinator Get operations.
	GetCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_get_total",
		Help: "Total number of cache Get operations",
	})
	// SetCounter tracks the number of coordinator Set operations.
	SetCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_set_total",
		Help: "Total number of cache Set operations",
	})
	// InvalidateCounter tracks the number of invalidated keys.
	InvalidateCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_invalidate_total",
		Help: "Total number of cache invalidations",
	})
	// RateAllowedCounter tracks allowed rate-limit checks.
	RateAllowedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_ratelimit_allowed_total",
		Help: "Total number of allowed rate limit checks",
	})
	// RateDeniedCounter tracks denied rate-limit checks.
	RateDeniedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_ratelimit_denied_total",
		Help: "Total number of denied rate limit checks",
	})
	// LockAcquiredCounter tracks successful lock acquisitions.
	LockAcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_lock_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	// LockContendedCounter tracks acquire attempts that found the lock held.
	LockContendedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_lock_contended_total",
		Help: "Total number of contended lock acquisitions",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the coordination layer metrics on the
// provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		GetCounter, SetCounter, InvalidateCounter,
		RateAllowedCounter, RateDeniedCounter,
		LockAcquiredCounter, LockContendedCounter,
	)
}
