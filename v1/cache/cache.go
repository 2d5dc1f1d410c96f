// Package cache provides the two-tier cache: a per-process local tier
// and a Coordinator that orchestrates read-through and write-through
// against the shared store, with tag and pattern invalidation.
package cache

import "time"

// LocalStore is the in-process tier. It holds decoded values for hot
// keys and exists purely to shave network latency: it cannot fail,
// only miss, and it carries no authority over the shared store.
//
// Implementations must be safe for concurrent use.
type LocalStore[T any] interface {
	// Get returns the value for key if present and unexpired.
	Get(key string) (T, bool)
	// Set stores value under key for ttl.
	Set(key string, value T, ttl time.Duration)
	// Delete removes key. Removing an absent key is a no-op.
	Delete(key string)
	// Clear removes every entry.
	Clear()
	// Len reports the number of live entries.
	Len() int
}

// Enumerable is implemented by local tiers that can list their keys.
// The Coordinator uses it for pattern invalidation; tiers that cannot
// enumerate (such as the ristretto tier) are cleared wholesale instead,
// which is safe because the local tier is advisory.
type Enumerable interface {
	Keys() []string
}
