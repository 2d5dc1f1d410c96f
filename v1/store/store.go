// Package store abstracts the shared key-value store the coordination
// layer is built on. All authoritative state (cache entries, tag
// indexes, rate-limit windows, lock records) lives behind the Client
// interface; the rest of the module never talks to a concrete backend
// directly.
package store

import (
	"context"
	"time"
)

// Message is a single payload received from a pub/sub channel.
type Message struct {
	Channel string
	Payload []byte
}

// Client is the minimum operation set the coordination layer consumes.
//
// Eval executes a check-and-act script as a single all-or-nothing
// round trip. The scripting mechanism is a backend detail; callers
// only rely on the atomicity guarantee.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Get retrieves the raw value for key. The boolean reports presence.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetWithTTL retrieves the value together with its remaining TTL.
	// A zero TTL means the key has no expiry.
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
	// Set stores value under key with the given TTL. A zero TTL stores
	// the key without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent stores value only when key does not exist. It reports
	// whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Increment atomically increments the integer at key and returns
	// the new value.
	Increment(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL of key, reporting whether the key exists.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ExpireAtLeast raises the TTL of key to ttl if the current TTL is
	// shorter. It never shortens an expiry.
	ExpireAtLeast(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Keys returns the keys matching a glob pattern. Expensive; used
	// only by best-effort maintenance operations.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// SetAdd adds members to the unordered set at key.
	SetAdd(ctx context.Context, key string, members ...string) error
	// SetMembers returns all members of the unordered set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// SortedSetAdd adds member with score to the sorted set at key.
	SortedSetAdd(ctx context.Context, key string, score float64, member string) error
	// SortedSetRemoveByScore removes members with scores in [min, max].
	SortedSetRemoveByScore(ctx context.Context, key string, min, max float64) error
	// SortedSetCount returns the cardinality of the sorted set at key.
	SortedSetCount(ctx context.Context, key string) (int64, error)

	// Eval runs a check-and-act script atomically against the store.
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)

	// Publish sends payload on the named channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe opens a subscription to channel. The returned stop
	// function tears the subscription down and closes the message
	// channel. Delivery is at-most-once and best-effort.
	Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error)
}
