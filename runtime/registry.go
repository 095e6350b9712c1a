package runtime

import (
	"chat-sync/domain/event"
	"sync"
)

// Registry tracks the open subscriptions of each topic.
type Registry struct {
	mu          sync.RWMutex
	nextID      uint64
	subscribers map[event.Topic]map[uint64]*Subscription
	published   map[event.Topic]uint64
}

func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[event.Topic]map[uint64]*Subscription),
		published:   make(map[event.Topic]uint64),
	}
}

// Add registers sub under its topic and assigns its id.
// The topic set is initialized on the fly.
func (r *Registry) Add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub.id = r.nextID
	if _, ok := r.subscribers[sub.topic]; !ok {
		r.subscribers[sub.topic] = make(map[uint64]*Subscription)
	}
	r.subscribers[sub.topic][sub.id] = sub
}

// Remove drops sub and cleans up empty topic sets.
func (r *Registry) Remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.subscribers[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(r.subscribers, sub.topic)
		}
	}
}

// Snapshot returns the current subscribers of topic and counts the publication.
// The returned slice is owned by the caller.
func (r *Registry) Snapshot(topic event.Topic) []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.published[topic]++
	subs := r.subscribers[topic]
	if len(subs) == 0 {
		return nil
	}
	res := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		res = append(res, sub)
	}
	return res
}

type TopicStats struct {
	Subscribers int
	Published   uint64
}

func (r *Registry) Stats() map[event.Topic]TopicStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make(map[event.Topic]TopicStats)
	for _, topic := range event.Topics() {
		res[topic] = TopicStats{
			Subscribers: len(r.subscribers[topic]),
			Published:   r.published[topic],
		}
	}
	return res
}
