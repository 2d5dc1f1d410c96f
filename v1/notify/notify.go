// Package notify broadcasts invalidation events across processes.
// Delivery is at-most-once and best-effort: a missed message only
// delays eventual local-cache consistency, it never breaks it, because
// the shared store remains authoritative.
package notify

import (
	"context"
	"sync"
)

// Handler receives messages published on a subscribed channel.
type Handler func(channel string, payload []byte)

// Notifier is a thin publish/subscribe wrapper. One subscriber
// connection is opened lazily per channel and shared across
// subscribers within the process.
type Notifier interface {
	// Publish sends payload on the named channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers h for messages on channel and returns a
	// function that removes the registration. The channel's underlying
	// connection is closed when the last handler unsubscribes.
	Subscribe(ctx context.Context, channel string, h Handler) (func(), error)
	// UnsubscribeAll tears down every open channel, for clean shutdown.
	UnsubscribeAll(ctx context.Context) error
}

// InMemoryNotifier is a local Notifier implementation, mainly for
// tests and single-process deployments.
type InMemoryNotifier struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]Handler
	nextID uint64
}

// NewInMemory returns a new InMemoryNotifier.
func NewInMemory() *InMemoryNotifier {
	return &InMemoryNotifier{subs: make(map[string]map[uint64]Handler)}
}

// Publish implements Notifier.Publish. Handlers run synchronously in
// the caller's goroutine.
func (n *InMemoryNotifier) Publish(ctx context.Context, channel string, payload []byte) error {
	n.mu.Lock()
	handlers := make([]Handler, 0, len(n.subs[channel]))
	for _, h := range n.subs[channel] {
		handlers = append(handlers, h)
	}
	n.mu.Unlock()
	for _, h := range handlers {
		h(channel, payload)
	}
	return nil
}

// Subscribe implements Notifier.Subscribe.
func (n *InMemoryNotifier) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	n.mu.Lock()
	if n.subs[channel] == nil {
		n.subs[channel] = make(map[uint64]Handler)
	}
	id := n.nextID
	n.nextID++
	n.subs[channel][id] = h
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		if hs, ok := n.subs[channel]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(n.subs, channel)
			}
		}
		n.mu.Unlock()
	}, nil
}

// UnsubscribeAll implements Notifier.UnsubscribeAll.
func (n *InMemoryNotifier) UnsubscribeAll(ctx context.Context) error {
	n.mu.Lock()
	n.subs = make(map[string]map[uint64]Handler)
	n.mu.Unlock()
	return nil
}
