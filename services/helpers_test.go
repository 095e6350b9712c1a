package services

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/infrastructure/storage"
	"chat-sync/runtime"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store         *storage.BadgerStore
	bus           *runtime.Bus
	conversations *ConversationService
	messages      *MessageService
}

func newFixture(t *testing.T, users ...string) fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := storage.NewBadgerStore(db, log)
	bus := runtime.NewBus(log)
	f := fixture{
		store:         store,
		bus:           bus,
		conversations: NewConversationService(log, store, bus),
		messages:      NewMessageService(log, store, bus, nil, 500),
	}
	now := ticker()
	f.conversations.now = now
	f.messages.now = now
	f.seedUsers(t, users...)
	return f
}

// ticker is a clock that moves one second forward on every reading.
func ticker() func() time.Time {
	var mu sync.Mutex
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Second)
		return at
	}
}

func (f fixture) seedUsers(t *testing.T, ids ...string) {
	t.Helper()
	ctx := context.Background()
	err := f.store.Update(ctx, func(tx contract.Tx) error {
		for _, id := range ids {
			if err := tx.PutUser(ctx, chat.User{ID: id, Username: "name-" + id}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (f fixture) conversation(t *testing.T, id string) chat.Conversation {
	t.Helper()
	ctx := context.Background()
	var conversation chat.Conversation
	err := f.store.View(ctx, func(tx contract.Tx) error {
		var err error
		conversation, err = tx.GetConversation(ctx, id)
		return err
	})
	require.NoError(t, err)
	return conversation
}

func (f fixture) seen(t *testing.T, conversationID, userID string) bool {
	t.Helper()
	p, ok := f.conversation(t, conversationID).Participant(userID)
	require.True(t, ok)
	return p.HasSeenLatestMessage
}

// next waits for one event on sub.
func next(t *testing.T, sub contract.Subscription) event.DomainEvent {
	t.Helper()
	select {
	case evt := <-sub.Events():
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

// nothing asserts that sub stays silent for a short while.
func nothing(t *testing.T, sub contract.Subscription) {
	t.Helper()
	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected event %T", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

var errInjected = fmt.Errorf("injected failure")

// failingStore runs the real store but fails the first write transaction
// when it reaches DeleteConversation, after messages and participants are gone.
type failingStore struct {
	contract.Store
}

func (s failingStore) Update(ctx context.Context, fn func(tx contract.Tx) error) error {
	return s.Store.Update(ctx, func(tx contract.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

type failingTx struct {
	contract.Tx
}

func (failingTx) DeleteConversation(context.Context, string) error {
	return errInjected
}
