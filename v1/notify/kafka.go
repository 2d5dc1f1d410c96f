package notify

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
)

type kafkaSubscription struct {
	pc       sarama.PartitionConsumer
	handlers map[uint64]Handler
}

// KafkaNotifier implements Notifier using a Kafka backend, one topic
// per channel. Kafka retains messages a subscriber was not running
// for; the notifier consumes from the newest offset so delivery
// semantics stay at-most-once like the other backends.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer

	mu     sync.Mutex
	subs   map[string]*kafkaSubscription
	nextID uint64
}

// NewKafka returns a Notifier connecting to the given brokers.
func NewKafka(brokers []string, cfg *sarama.Config) (*KafkaNotifier, error) {
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	return &KafkaNotifier{
		producer: producer,
		consumer: consumer,
		subs:     make(map[string]*kafkaSubscription),
	}, nil
}

// Publish implements Notifier.Publish.
func (n *KafkaNotifier) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: channel, Value: sarama.ByteEncoder(payload)}
	_, _, err := n.producer.SendMessage(msg)
	return err
}

// Subscribe implements Notifier.Subscribe.
func (n *KafkaNotifier) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := n.subs[channel]
	if sub == nil {
		pc, err := n.consumer.ConsumePartition(channel, 0, sarama.OffsetNewest)
		if err != nil {
			return nil, err
		}
		sub = &kafkaSubscription{pc: pc, handlers: make(map[uint64]Handler)}
		n.subs[channel] = sub
		go n.dispatch(channel, sub)
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
			_ = s.pc.Close()
		}
	}, nil
}

func (n *KafkaNotifier) dispatch(channel string, sub *kafkaSubscription) {
	for msg := range sub.pc.Messages() {
		n.mu.Lock()
		handlers := make([]Handler, 0, len(sub.handlers))
		for _, h := range sub.handlers {
			handlers = append(handlers, h)
		}
		n.mu.Unlock()
		for _, h := range handlers {
			h(channel, msg.Value)
		}
	}
}

// UnsubscribeAll implements Notifier.UnsubscribeAll.
func (n *KafkaNotifier) UnsubscribeAll(ctx context.Context) error {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[string]*kafkaSubscription)
	n.mu.Unlock()
	for _, s := range subs {
		_ = s.pc.Close()
	}
	return nil
}

// Close tears down all subscriptions and the underlying Kafka clients.
func (n *KafkaNotifier) Close() error {
	_ = n.UnsubscribeAll(context.Background())
	if err := n.producer.Close(); err != nil {
		_ = n.consumer.Close()
		return err
	}
	return n.consumer.Close()
}
