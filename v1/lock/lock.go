// Package lock provides distributed mutual exclusion over the shared
// store. A successful acquisition returns an opaque holder token
// (fencing token); release and extend require the current token,
// compared and acted on inside one atomic step, so a stale holder can
// never destroy or prolong a newer holder's lock.
package lock

import (
	"context"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/mirkobrombin/go-coord/v1/metrics"
	"github.com/mirkobrombin/go-coord/v1/store"
)

// releaseScript deletes the lock only while the caller still holds it.
// A plain get-then-delete is unsafe: the lock may expire and be
// re-acquired by another holder between the two steps.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// extendScript refreshes the expiry only while the caller still holds
// the lock.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Manager acquires, releases and extends distributed locks. It holds
// no per-process token state: the token returned by Acquire is the
// only proof of ownership, so a lock may be released by any component
// the token was handed to.
type Manager struct {
	client    store.Client
	namespace string
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace prefixes every lock key in the shared store.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		m.namespace = ns
	}
}

// New returns a lock Manager bound to the given store client.
func New(client store.Client, opts ...Option) *Manager {
	m := &Manager{client: client, namespace: "coord:lock"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) key(k string) string {
	return m.namespace + ":" + k
}

// Acquire attempts to take the lock for key with the given TTL. On
// success it returns the holder token and true; when the lock is
// already held it returns false. Contention is an expected outcome,
// not an error. Acquire never blocks or retries; callers implement
// their own backoff.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, err := uuid.GenerateUUID()
	if err != nil {
		return "", false, err
	}
	ok, err := m.client.SetIfAbsent(ctx, m.key(key), []byte(token), ttl)
	if err != nil {
		return "", false, err
	}
	if !ok {
		metrics.LockContendedCounter.Inc()
		return "", false, nil
	}
	metrics.LockAcquiredCounter.Inc()
	return token, true, nil
}

// Release frees the lock for key if token still identifies the current
// holder. It reports whether the lock was released; false means the
// lock expired, was re-acquired by someone else, or the token is wrong.
func (m *Manager) Release(ctx context.Context, key, token string) (bool, error) {
	res, err := m.client.Eval(ctx, releaseScript, []string{m.key(key)}, token)
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Extend refreshes the lock's TTL if token still identifies the
// current holder. It reports whether the expiry was extended.
func (m *Manager) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := m.client.Eval(ctx, extendScript,
		[]string{m.key(key)}, token, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Held reports whether the lock for key is currently held by anyone.
func (m *Manager) Held(ctx context.Context, key string) (bool, error) {
	return m.client.Exists(ctx, m.key(key))
}
