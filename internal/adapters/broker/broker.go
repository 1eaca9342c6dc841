// Package broker provides the in-process publish/subscribe hub distributing
// race events to live viewers.
package broker

import (
	"sync"
	"time"

	"github.com/okian/derby/pkg/metrics"
)

// Topic names the fixed event channels.
type Topic string

const (
	TopicFrame      Topic = "frame"
	TopicCommentary Topic = "commentary"
	TopicStatus     Topic = "status"
	TopicFinished   Topic = "finished"
)

// Event is one published payload. RaceID lets subscribers filter; the
// broker itself is topic-keyed, not race-partitioned.
type Event struct {
	Topic   Topic
	RaceID  int64
	At      time.Time
	Payload any
}

// Subscription is one listener's handle on a topic. Events arrive on C;
// Unsubscribe is idempotent and closes C.
type Subscription struct {
	C      <-chan Event
	topic  Topic
	ch     chan Event
	broker *Broker
	once   sync.Once
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once and safe to call concurrently with Publish.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

// Broker delivers published events to every current subscriber of a topic.
// Delivery is at-most-once with no replay: a subscriber registered after an
// event was published never receives it. A slow subscriber drops its own
// events and never stalls delivery to the others.
type Broker struct {
	mu        sync.RWMutex
	subs      map[Topic][]*Subscription
	closed    bool
	subBuffer int
}

// New creates a broker. Construct once and inject it; the broker is the
// only cross-race shared state in the system.
func New(opts ...Option) *Broker {
	b := &Broker{
		subs:      make(map[Topic][]*Subscription),
		subBuffer: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener on a topic.
func (b *Broker) Subscribe(topic Topic) *Subscription {
	ch := make(chan Event, b.subBuffer)
	sub := &Subscription{C: ch, ch: ch, topic: topic, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[topic] = append(b.subs[topic], sub)
	metrics.UpdateBrokerSubscribers(string(topic), len(b.subs[topic]))
	return sub
}

// Publish delivers an event to every current subscriber of its topic.
// Each subscriber is served independently: a full subscriber buffer means
// that subscriber alone misses the event.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	metrics.RecordBrokerPublished(string(event.Topic))
	for _, sub := range b.subs[event.Topic] {
		select {
		case sub.ch <- event:
			metrics.RecordBrokerDelivered()
		default:
			metrics.RecordBrokerDropped()
		}
	}
}

// SubscriberCount reports the current number of listeners on a topic.
func (b *Broker) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close tears down every subscription. Further publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
		metrics.UpdateBrokerSubscribers(string(topic), 0)
	}
	b.subs = make(map[Topic][]*Subscription)
}

func (b *Broker) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	subs := b.subs[target.topic]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.topic] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	metrics.UpdateBrokerSubscribers(string(target.topic), len(b.subs[target.topic]))
}
