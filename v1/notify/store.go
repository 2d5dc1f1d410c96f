package notify

import (
	"context"
	"sync"

	"github.com/mirkobrombin/go-coord/v1/store"
)

type storeSubscription struct {
	stop     func()
	handlers map[uint64]Handler
}

// StoreNotifier implements Notifier on top of the shared store's
// pub/sub channel. One store subscription is opened lazily per channel
// and fanned out to every in-process handler.
var _ Notifier = (*StoreNotifier)(nil)

type StoreNotifier struct {
	client store.Client

	mu     sync.Mutex
	subs   map[string]*storeSubscription
	nextID uint64
}

// NewStore returns a Notifier backed by the given store client.
func NewStore(client store.Client) *StoreNotifier {
	return &StoreNotifier{
		client: client,
		subs:   make(map[string]*storeSubscription),
	}
}

// Publish implements Notifier.Publish.
func (n *StoreNotifier) Publish(ctx context.Context, channel string, payload []byte) error {
	return n.client.Publish(ctx, channel, payload)
}

// Subscribe implements Notifier.Subscribe.
func (n *StoreNotifier) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := n.subs[channel]
	if sub == nil {
		// The subscription outlives the subscribing call; it is torn
		// down when the last handler leaves.
		msgs, stop, err := n.client.Subscribe(context.Background(), channel)
		if err != nil {
			return nil, err
		}
		sub = &storeSubscription{stop: stop, handlers: make(map[uint64]Handler)}
		n.subs[channel] = sub
		go n.dispatch(channel, sub, msgs)
	}
	id := n.nextID
	n.nextID++
	sub.handlers[id] = h

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		s, ok := n.subs[channel]
		if !ok {
			return
		}
		delete(s.handlers, id)
		if len(s.handlers) == 0 {
			delete(n.subs, channel)
			s.stop()
		}
	}, nil
}

func (n *StoreNotifier) dispatch(channel string, sub *storeSubscription, msgs <-chan store.Message) {
	for msg := range msgs {
		n.mu.Lock()
		handlers := make([]Handler, 0, len(sub.handlers))
		for _, h := range sub.handlers {
			handlers = append(handlers, h)
		}
		n.mu.Unlock()
		for _, h := range handlers {
			h(channel, msg.Payload)
		}
	}
}

// UnsubscribeAll implements Notifier.UnsubscribeAll.
func (n *StoreNotifier) UnsubscribeAll(ctx context.Context) error {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[string]*storeSubscription)
	n.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
	return nil
}
