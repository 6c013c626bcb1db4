package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnsubscribed is returned by Receive once the subscriber has been removed
// from its bus.
var ErrUnsubscribed = errors.New("events: subscriber unsubscribed")

// Subscriber is an unbounded FIFO queue of events registered on one topic.
// The bus is the only producer; the owning watch session the only consumer.
type Subscriber struct {
	id    uint64
	topic string

	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{} // capacity 1; signals "queue may be non-empty"
}

func newSubscriber(id uint64, topic string) *Subscriber {
	return &Subscriber{
		id:     id,
		topic:  topic,
		notify: make(chan struct{}, 1),
	}
}

// ID returns the subscriber's bus-unique identity.
func (s *Subscriber) ID() uint64 { return s.id }

// Topic returns the topic the subscriber is registered on.
func (s *Subscriber) Topic() string { return s.topic }

// Len returns the number of queued events.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Receive blocks until an event is available, ctx is done, or the subscriber
// is unsubscribed.
func (s *Subscriber) Receive(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrUnsubscribed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

func (s *Subscriber) enqueue(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
	return true
}

// close drops anything still queued and wakes a blocked Receive.
func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.wake()
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Bus maintains, per topic, the ordered list of active subscribers.
// A Bus is created once per process and handed to both the mutation path
// and watch sessions.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]*Subscriber
	nextID uint64
	logger *slog.Logger
}

// NewBus returns an empty bus. A nil logger falls back to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics: make(map[string][]*Subscriber),
		logger: logger,
	}
}

// Subscribe registers a new subscriber on topic. It receives only events
// published after this call returns.
func (b *Bus) Subscribe(topic string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := newSubscriber(b.nextID, topic)
	b.topics[topic] = append(b.topics[topic], sub)
	return sub
}

// Unsubscribe removes sub from topic, pruning the topic when it was the last
// subscriber. Removing an unknown or already-removed subscriber is a no-op.
func (b *Bus) Unsubscribe(topic string, sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	subs := b.topics[topic]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, topic)
	} else {
		b.topics[topic] = subs
	}
	b.mu.Unlock()

	sub.close()
}

// Publish enqueues an independent copy of ev to every subscriber of topic,
// in registration order. Publishing to a topic without subscribers is a
// no-op. Per-subscriber failures are logged and never reach the caller.
func (b *Bus) Publish(topic string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.topics[topic] {
		if err := deliver(sub, ev); err != nil {
			b.logger.Error("event delivery failed",
				"topic", topic,
				"subscriber", sub.id,
				"type", ev.Type.String(),
				"err", err,
			)
		}
	}
}

func deliver(sub *Subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("copying event: %v", r)
		}
	}()
	sub.enqueue(ev.Clone())
	return nil
}

// Topics returns the topics that currently have subscribers, sorted.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	topics := make([]string, 0, len(b.topics))
	for t := range b.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// SubscriberCount returns the number of subscribers registered on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
