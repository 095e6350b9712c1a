package runtime

import (
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newBus() *Bus {
	return NewBus(logs.GetLoggerFromLevel(slog.LevelDebug))
}

func sent(id string) event.MessageSent {
	return event.MessageSent{Message: chat.Message{ID: id, ConversationID: "c1"}}
}

func receive(t *testing.T, ch <-chan event.DomainEvent) event.DomainEvent {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return evt
	case <-time.After(time.Second):
		require.Fail(t, "no event received in time")
		return nil
	}
}

func TestBus_Delivers_In_Publish_Order(t *testing.T) {
	req := require.New(t)
	bus := newBus()
	sub := bus.Subscribe(event.MessageSentTopic)
	defer sub.Close()

	for i := 0; i < 100; i++ {
		bus.Publish(event.MessageSentTopic, sent(fmt.Sprint(i)))
	}

	for i := 0; i < 100; i++ {
		evt := receive(t, sub.Events())
		req.Equal(fmt.Sprint(i), evt.(event.MessageSent).Message.ID)
	}
}

func TestBus_Each_Subscriber_Gets_Its_Own_Copy(t *testing.T) {
	req := require.New(t)
	bus := newBus()
	first := bus.Subscribe(event.MessageSentTopic)
	second := bus.Subscribe(event.MessageSentTopic)
	defer first.Close()
	defer second.Close()

	bus.Publish(event.MessageSentTopic, sent("m1"))

	req.Equal(sent("m1"), receive(t, first.Events()))
	req.Equal(sent("m1"), receive(t, second.Events()))
}

func TestBus_No_Replay_And_Topic_Isolation(t *testing.T) {
	req := require.New(t)
	bus := newBus()

	// Given an event published before anyone subscribed
	bus.Publish(event.MessageSentTopic, sent("before"))

	sub := bus.Subscribe(event.MessageSentTopic)
	defer sub.Close()

	// When events are published on another topic, then on ours
	bus.Publish(event.ConversationDeletedTopic, event.ConversationDeleted{ConversationID: "c1"})
	bus.Publish(event.MessageSentTopic, sent("after"))

	// Then only the later event of our topic is seen
	req.Equal(sent("after"), receive(t, sub.Events()))
	select {
	case evt := <-sub.Events():
		req.Failf("unexpected event", "%v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_Slow_Subscriber_Never_Blocks_Publish(t *testing.T) {
	req := require.New(t)
	bus := newBus()
	slow := bus.Subscribe(event.MessageSentTopic)
	defer slow.Close()

	// When many events are published while nobody reads
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			bus.Publish(event.MessageSentTopic, sent(fmt.Sprint(i)))
		}
		close(done)
	}()

	// Then publishing completes anyway
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.Fail("Publish blocked on a slow subscriber")
	}
	req.Equal("0", receive(t, slow.Events()).(event.MessageSent).Message.ID)
}

func TestBus_Close_Unsubscribes_And_Drops_Queue(t *testing.T) {
	req := require.New(t)
	bus := newBus()
	sub := bus.Subscribe(event.MessageSentTopic)
	bus.Publish(event.MessageSentTopic, sent("queued"))
	req.Equal(1, bus.Stats()[event.MessageSentTopic].Subscribers)

	// When the subscriber disconnects
	sub.Close()
	sub.Close()

	// Then the stream ends and the bus forgets it
	req.Eventually(func() bool {
		for range sub.Events() {
		}
		return true
	}, time.Second, 10*time.Millisecond)
	req.Equal(0, bus.Stats()[event.MessageSentTopic].Subscribers)

	// And publishing afterwards is harmless
	bus.Publish(event.MessageSentTopic, sent("later"))
	req.Equal(uint64(2), bus.Stats()[event.MessageSentTopic].Published)
}

func TestRegistry_Add_Remove(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	first := newSubscription(event.ConversationCreatedTopic, registry)
	second := newSubscription(event.ConversationCreatedTopic, registry)

	registry.Add(first)
	registry.Add(second)
	req.NotEqual(first.id, second.id)
	req.Len(registry.Snapshot(event.ConversationCreatedTopic), 2)

	registry.Remove(first)
	req.Equal([]*Subscription{second}, registry.Snapshot(event.ConversationCreatedTopic))

	registry.Remove(second)
	req.Nil(registry.Snapshot(event.ConversationCreatedTopic))
	req.Empty(registry.subscribers)
}
