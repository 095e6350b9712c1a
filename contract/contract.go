//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Store is the transactional boundary of the system.
// Every operation run inside Update commits together or not at all.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes typed queries over the four entities inside one transaction.
// Missing rows are reported with storage.ErrNotFound.
type Tx interface {
	GetUser(ctx context.Context, id string) (chat.User, error)
	PutUser(ctx context.Context, user chat.User) error

	// GetConversation returns the conversation populated with its participants
	// and its latest message.
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	PutConversation(ctx context.Context, conversation chat.Conversation) error
	DeleteConversation(ctx context.Context, id string) error
	ListConversationIDs(ctx context.Context, userID string) ([]string, error)

	GetParticipant(ctx context.Context, conversationID, userID string) (chat.Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]chat.Participant, error)
	PutParticipant(ctx context.Context, participant chat.Participant) error
	DeleteParticipants(ctx context.Context, conversationID string) error

	GetMessage(ctx context.Context, id string) (chat.Message, error)
	// PutMessage refuses an id that already exists with storage.ErrDuplicate.
	PutMessage(ctx context.Context, message chat.Message) error
	// ListMessages returns the newest messages first, starting after cursor.
	ListMessages(ctx context.Context, conversationID string, cursor *string, limit int) ([]chat.Message, *string, error)
	DeleteMessages(ctx context.Context, conversationID string) error
}

// EventBus is an in-process publish/subscribe broker.
// Publish never blocks and never fails.
type EventBus interface {
	Publish(topic event.Topic, evt event.DomainEvent)
	Subscribe(topic event.Topic) Subscription
}

// Subscription is one private, ordered stream of a topic.
// Close drops anything still queued.
type Subscription interface {
	Events() <-chan event.DomainEvent
	Close()
}

// EventSink receives the events a subscriber is allowed to see.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// ReadySink is an EventSink that wants to know when its stream is registered
// on the bus: every event published after Ready returns is delivered.
type ReadySink interface {
	EventSink
	Ready(ctx context.Context) error
}
