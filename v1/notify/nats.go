package notify

import (
	"context"
	"sync"

	nats "github.com/nats-io/nats.go"
)

type natsSubscription struct {
	sub      *nats.Subscription
	handlers map[uint64]Handler
}

// NATSNotifier implements Notifier using a NATS backend. Useful when
// the deployment already runs NATS and the shared store's pub/sub is
// better left to cache traffic.
type NATSNotifier struct {
	conn *nats.Conn

	mu     sync.Mutex
	subs   map[string]*natsSubscription
	nextID uint64
}

// NewNATS returns a Notifier using the provided NATS connection.
func NewNATS(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{
		conn: conn,
		subs: make(map[string]*natsSubscription),
	}
}

// Publish implements Notifier.Publish.
func (n *NATSNotifier) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.conn.Publish(channel, payload)
}

// Subscribe implements Notifier.Subscribe.
func (n *NATSNotifier) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := n.subs[channel]
	if sub == nil {
		s := &natsSubscription{handlers: make(map[uint64]Handler)}
		ns, err := n.conn.Subscribe(channel, func(msg *nats.Msg) {
			n.mu.Lock()
			handlers := make([]Handler, 0, len(s.handlers))
			for _, handler := range s.handlers {
				handlers = append(handlers, handler)
			}
			n.mu.Unlock()
			for _, handler := range handlers {
				handler(channel, msg.Data)
			}
		})
		if err != nil {
			return nil, err
		}
		s.sub = ns
		n.subs[channel] = s
		sub = s
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
			_ = s.sub.Unsubscribe()
		}
	}, nil
}

// UnsubscribeAll implements Notifier.UnsubscribeAll.
func (n *NATSNotifier) UnsubscribeAll(ctx context.Context) error {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[string]*natsSubscription)
	n.mu.Unlock()
	for _, s := range subs {
		_ = s.sub.Unsubscribe()
	}
	return nil
}
