package services

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/mocks"
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCreateConversation_Sets_Read_Receipts(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2", "u3")
	sub := f.bus.Subscribe(event.ConversationCreatedTopic)
	defer sub.Close()

	// When u1 creates a conversation with u2 and u3
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{
		ParticipantIDs: []string{"u1", "u2", "u3"},
	})

	// Then there is one participant per id, only the creator has seen it
	req.NoError(err)
	conversation := f.conversation(t, id)
	req.Len(conversation.Participants, 3)
	req.True(f.seen(t, id, "u1"))
	req.False(f.seen(t, id, "u2"))
	req.False(f.seen(t, id, "u3"))
	req.Nil(conversation.LatestMessageID)

	// And the creation is published with the populated conversation
	created, ok := next(t, sub).(event.ConversationCreated)
	req.True(ok)
	req.Equal(id, created.Conversation.ID)
	req.ElementsMatch([]string{"u1", "u2", "u3"}, created.Conversation.ParticipantIDs())
	p, _ := created.Conversation.Participant("u2")
	req.Equal("name-u2", p.User.Username)
}

func TestCreateConversation_Rejections(t *testing.T) {
	f := newFixture(t, "u1", "u2")

	tests := []struct {
		name     string
		caller   string
		ids      []string
		expected []error
	}{
		{name: "anonymous caller", caller: "", ids: []string{"u1"}, expected: []error{errors.ErrUnauthorized}},
		{name: "no participant", caller: "u1", ids: nil, expected: []error{errors.ErrCreateFailed, errors.ErrValidationFailed}},
		{name: "duplicate ids", caller: "u1", ids: []string{"u1", "u2", "u2"}, expected: []error{errors.ErrCreateFailed, errors.ErrValidationFailed}},
		{name: "caller omitted", caller: "u1", ids: []string{"u2"}, expected: []error{errors.ErrCreateFailed, errors.ErrValidationFailed}},
		{name: "unknown user", caller: "u1", ids: []string{"u1", "ghost"}, expected: []error{errors.ErrCreateFailed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := f.conversations.CreateConversation(context.Background(), tt.caller, chat.CreateConversationCommand{
				ParticipantIDs: tt.ids,
			})
			for _, expected := range tt.expected {
				req.ErrorIs(err, expected)
			}
		})
	}

	// And nothing was left behind by the refused attempts
	conversations, err := f.conversations.ListConversations(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, conversations)
}

func TestCreateConversation_Store_Failure_Publishes_Nothing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	bus := mocks.NewMockEventBus(ctrl)
	service := NewConversationService(logs.GetLoggerFromLevel(slog.LevelDebug), store, bus)

	// Given a store that cannot commit
	store.EXPECT().Update(gomock.Any(), gomock.Any()).Return(fmt.Errorf("disk full"))
	bus.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	// When a conversation is created
	_, err := service.CreateConversation(context.Background(), "u1", chat.CreateConversationCommand{
		ParticipantIDs: []string{"u1"},
	})

	// Then the failure is generic and the cause is not exposed
	req.ErrorIs(err, errors.ErrCreateFailed)
	req.ErrorIs(err, errors.ErrTransactionFailed)
	req.NotContains(err.Error(), "disk full")
}

func TestMarkConversationAsRead_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)
	updated := f.bus.Subscribe(event.ConversationUpdatedTopic)
	defer updated.Close()

	req.NoError(f.conversations.MarkConversationAsRead(ctx, "u2", id))
	once := f.conversation(t, id)
	req.NoError(f.conversations.MarkConversationAsRead(ctx, "u2", id))
	twice := f.conversation(t, id)

	req.Equal(once, twice)
	req.True(f.seen(t, id, "u2"))
	nothing(t, updated)
}

func TestMarkConversationAsRead_Rejections(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2", "u3")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)

	req.ErrorIs(f.conversations.MarkConversationAsRead(ctx, "", id), errors.ErrUnauthorized)
	req.ErrorIs(f.conversations.MarkConversationAsRead(ctx, "u3", id), errors.ErrNotFound)
	req.ErrorIs(f.conversations.MarkConversationAsRead(ctx, "u1", uuid.NewString()), errors.ErrNotFound)
}

func TestListConversations_Only_Returns_Own_Conversations(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2", "u3")
	first, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)
	second, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u3"}})
	req.NoError(err)

	mine, err := f.conversations.ListConversations(ctx, "u1")
	req.NoError(err)
	req.Equal([]string{second, first}, []string{mine[0].ID, mine[1].ID})

	theirs, err := f.conversations.ListConversations(ctx, "u3")
	req.NoError(err)
	req.Len(theirs, 1)
	req.Equal(second, theirs[0].ID)

	_, err = f.conversations.ListConversations(ctx, "")
	req.ErrorIs(err, errors.ErrUnauthorized)
}

func TestDeleteConversation_Removes_Everything(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2", "u3")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)
	_, err = f.messages.SendMessage(ctx, "u1", chat.SendMessageCommand{
		MessageID: uuid.NewString(), ConversationID: id, SenderID: "u1", Body: "hello",
	})
	req.NoError(err)

	deleted := f.bus.Subscribe(event.ConversationDeletedTopic)
	defer deleted.Close()

	// When a participant deletes it
	req.NoError(f.conversations.DeleteConversation(ctx, "u1", id))

	// Then the deletion carries the members it had
	evt, ok := next(t, deleted).(event.ConversationDeleted)
	req.True(ok)
	req.Equal(id, evt.ConversationID)
	req.ElementsMatch([]string{"u1", "u2"}, evt.ParticipantIDs)

	// And no row of it remains
	err = f.store.View(ctx, func(tx contract.Tx) error {
		participants, err := tx.ListParticipants(ctx, id)
		req.NoError(err)
		req.Empty(participants)
		messages, _, err := tx.ListMessages(ctx, id, nil, 0)
		req.NoError(err)
		req.Empty(messages)
		return nil
	})
	req.NoError(err)
	req.ErrorIs(f.conversations.DeleteConversation(ctx, "u1", id), errors.ErrNotFound)
}

func TestDeleteConversation_Authorization_Comes_First(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2", "u3")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)
	deleted := f.bus.Subscribe(event.ConversationDeletedTopic)
	defer deleted.Close()

	req.ErrorIs(f.conversations.DeleteConversation(ctx, "", id), errors.ErrUnauthorized)
	req.ErrorIs(f.conversations.DeleteConversation(ctx, "u3", id), errors.ErrUnauthorized)
	req.ErrorIs(f.conversations.DeleteConversation(ctx, "u3", uuid.NewString()), errors.ErrNotFound)

	req.Len(f.conversation(t, id).Participants, 2)
	nothing(t, deleted)
}

func TestDeleteConversation_Failure_Is_Atomic(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)
	for i := 0; i < 3; i++ {
		_, err = f.messages.SendMessage(ctx, "u2", chat.SendMessageCommand{
			MessageID: uuid.NewString(), ConversationID: id, SenderID: "u2", Body: fmt.Sprintf("m%d", i),
		})
		req.NoError(err)
	}

	// Given a store whose delete transaction fails on its last statement
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockEventBus(ctrl)
	bus.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)
	service := NewConversationService(logs.GetLoggerFromLevel(slog.LevelDebug), failingStore{Store: f.store}, bus)

	// When u1 deletes the conversation
	err = service.DeleteConversation(ctx, "u1", id)

	// Then the whole delete is rolled back
	req.ErrorIs(err, errors.ErrDeleteFailed)
	req.ErrorIs(err, errors.ErrTransactionFailed)
	req.NotContains(err.Error(), errInjected.Error())
	req.Len(f.conversation(t, id).Participants, 2)
	page, err := f.messages.ListMessages(ctx, "u1", id, chat.Page{})
	req.NoError(err)
	req.Len(page.Messages, 3)
}
