package chat

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscriber is what the broker needs from a session: a non-blocking
// delivery attempt and a way to get rid of it when it stalls. The broker
// holds subscribers only in its topic sets; it never owns their lifecycle.
type Subscriber interface {
	// Deliver enqueues payload on the subscriber's outbound buffer.
	// It must not block; false means the buffer is full.
	Deliver(payload []byte) bool

	// CloseSlow tears the subscriber's connection down after the broker
	// has dropped it for falling behind.
	CloseSlow()
}

const relayPrefix = "cim-chat:"

// Broker fans published events out to subscribed sessions. Publishing is
// serialized per broker, so all subscribers of a topic observe events in
// the same order. A subscriber whose buffer is full is dropped from the
// topic and closed; the publisher never waits for it and healthy
// subscribers never lose events because of it.
//
// With a Redis client attached, Publish goes through a Redis channel and
// local fan-out happens from the relay subscription, so multiple server
// instances share one ordered event stream per topic.
type Broker struct {
	mu     sync.Mutex
	topics map[string][]Subscriber
	relay  *redis.Client
}

// NewBroker creates a broker. relay may be nil for pure in-process fan-out.
func NewBroker(relay *redis.Client) *Broker {
	return &Broker{
		topics: make(map[string][]Subscriber),
		relay:  relay,
	}
}

// Subscribe adds sub to topic. Subscribing twice is a no-op.
func (b *Broker) Subscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.topics[topic] {
		if s == sub {
			return
		}
	}
	b.topics[topic] = append(b.topics[topic], sub)
}

// Unsubscribe removes sub from topic. Unknown subscribers are ignored.
func (b *Broker) Unsubscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(topic, sub)
}

func (b *Broker) removeLocked(topic string, sub Subscriber) {
	subs := b.topics[topic]
	for i, s := range subs {
		if s == sub {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish sends event to every current subscriber of topic.
func (b *Broker) Publish(topic string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("broker: encode %s event: %v", event.Type, err)
		return
	}

	if b.relay != nil {
		if err := b.relay.Publish(context.Background(), relayPrefix+topic, payload).Err(); err != nil {
			log.Printf("broker: redis publish: %v", err)
		}
		return
	}
	b.deliver(topic, payload)
}

func (b *Broker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	var slow []Subscriber
	for _, sub := range b.topics[topic] {
		if !sub.Deliver(payload) {
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		b.removeLocked(topic, sub)
	}
	b.mu.Unlock()

	// Close outside the lock; the transport close can take a moment.
	for _, sub := range slow {
		sub.CloseSlow()
	}
}

// RunRelay consumes the Redis channels for the given topics and fans the
// received events out locally. Blocks until ctx is cancelled. Only call
// when the broker was built with a Redis client.
func (b *Broker) RunRelay(ctx context.Context, topics ...string) {
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = relayPrefix + t
	}

	pubsub := b.relay.Subscribe(ctx, channels...)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			topic := strings.TrimPrefix(msg.Channel, relayPrefix)
			b.deliver(topic, []byte(msg.Payload))
		}
	}
}

// Subscribers reports how many subscribers topic currently has.
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
