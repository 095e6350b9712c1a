// Package runtime holds the in-process event bus.
// It moves events between services and subscribers without any business rules.
package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain/event"
	"log/slog"
	"sync"
)

// Bus is an in-process publish/subscribe broker.
//
// Delivery is best-effort and at-most-once: a subscriber only sees events
// published after it subscribed, and anything still queued when it closes
// is dropped. Each subscription has its own unbounded queue, so a slow
// reader never holds back Publish or the other subscribers.
//
// Bus is safe for concurrent use by multiple goroutines.
type Bus struct {
	log      *slog.Logger
	registry *Registry
}

func NewBus(log *slog.Logger) *Bus {
	return &Bus{log: log, registry: NewRegistry()}
}

// Publish enqueues evt for every current subscriber of topic. It never blocks.
func (b *Bus) Publish(topic event.Topic, evt event.DomainEvent) {
	subs := b.registry.Snapshot(topic)
	for _, sub := range subs {
		sub.enqueue(evt)
	}
	b.log.Debug("Event published", "topic", topic, "subscribers", len(subs))
}

// Subscribe opens a fresh stream on topic. The caller must Close it.
func (b *Bus) Subscribe(topic event.Topic) contract.Subscription {
	sub := newSubscription(topic, b.registry)
	b.registry.Add(sub)
	go sub.pump()
	return sub
}

func (b *Bus) Stats() map[event.Topic]TopicStats {
	return b.registry.Stats()
}

// Subscription is one subscriber's ordered view of a topic.
type Subscription struct {
	id       uint64
	topic    event.Topic
	registry *Registry

	mu     sync.Mutex
	queue  []event.DomainEvent
	closed bool

	notify    chan struct{}
	events    chan event.DomainEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(topic event.Topic, registry *Registry) *Subscription {
	return &Subscription{
		topic:    topic,
		registry: registry,
		notify:   make(chan struct{}, 1),
		events:   make(chan event.DomainEvent),
		done:     make(chan struct{}),
	}
}

func (s *Subscription) Topic() event.Topic { return s.topic }

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan event.DomainEvent {
	return s.events
}

// Close unsubscribes and drops queued events. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.registry.Remove(s)
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) enqueue(evt event.DomainEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
		// a wake-up is already pending
	}
}

// pump moves queued events to the Events channel in publish order.
// The lock is never held while waiting on the reader.
func (s *Subscription) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		evt := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}
