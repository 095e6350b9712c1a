package services

import (
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/mocks"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func send(t *testing.T, f fixture, sender, conversationID, body string) chat.Message {
	t.Helper()
	message, err := f.messages.SendMessage(context.Background(), sender, chat.SendMessageCommand{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       sender,
		Body:           body,
	})
	require.NoError(t, err)
	return message
}

// Scenarios A to E run against one conversation, in order.
func TestMessageService_Read_Receipt_Scenarios(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "U1", "U2", "U3")
	id, err := f.conversations.CreateConversation(ctx, "U1", chat.CreateConversationCommand{ParticipantIDs: []string{"U1", "U2"}})
	req.NoError(err)

	// A: U1 sends M1
	m1 := send(t, f, "U1", id, "M1")
	req.True(f.seen(t, id, "U1"))
	req.False(f.seen(t, id, "U2"))
	req.Equal(m1.ID, *f.conversation(t, id).LatestMessageID)

	// B: U2 reads the conversation
	req.NoError(f.conversations.MarkConversationAsRead(ctx, "U2", id))
	req.True(f.seen(t, id, "U2"))

	// C: U2 answers with M2
	m2 := send(t, f, "U2", id, "M2")
	req.True(f.seen(t, id, "U2"))
	req.False(f.seen(t, id, "U1"))
	conversation := f.conversation(t, id)
	req.Equal(m2.ID, *conversation.LatestMessageID)
	req.Equal("M2", conversation.LatestMessage.Body)

	// D: U3 is not a participant
	_, err = f.messages.ListMessages(ctx, "U3", id, chat.Page{})
	req.ErrorIs(err, errors.ErrUnauthorized)

	// E: U1 deletes the conversation
	req.NoError(f.conversations.DeleteConversation(ctx, "U1", id))
	for _, user := range []string{"U1", "U2"} {
		conversations, err := f.conversations.ListConversations(ctx, user)
		req.NoError(err)
		req.Empty(conversations)
	}
	_, err = f.messages.ListMessages(ctx, "U1", id, chat.Page{})
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestSendMessage_Publishes_Message_Then_Update(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)

	sent := f.bus.Subscribe(event.MessageSentTopic)
	defer sent.Close()
	updated := f.bus.Subscribe(event.ConversationUpdatedTopic)
	defer updated.Close()

	message := send(t, f, "u2", id, "hello")

	evt, ok := next(t, sent).(event.MessageSent)
	req.True(ok)
	req.Equal(message.ID, evt.Message.ID)
	req.Equal("name-u2", evt.Message.Sender.Username)

	update, ok := next(t, updated).(event.ConversationUpdated)
	req.True(ok)
	req.Equal(message.ID, *update.Conversation.LatestMessageID)
	u1, _ := update.Conversation.Participant("u1")
	req.False(u1.HasSeenLatestMessage)
}

func TestSendMessage_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "u1", "u2", "u3")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	require.NoError(t, err)
	duplicate := send(t, f, "u1", id, "first")

	tests := []struct {
		name     string
		caller   string
		cmd      chat.SendMessageCommand
		expected []error
	}{
		{
			name:     "anonymous caller",
			cmd:      chat.SendMessageCommand{MessageID: uuid.NewString(), ConversationID: id, SenderID: "u1", Body: "x"},
			expected: []error{errors.ErrUnauthorized},
		},
		{
			name:     "caller speaking for someone else",
			caller:   "u2",
			cmd:      chat.SendMessageCommand{MessageID: uuid.NewString(), ConversationID: id, SenderID: "u1", Body: "x"},
			expected: []error{errors.ErrUnauthorized},
		},
		{
			name:     "empty body",
			caller:   "u1",
			cmd:      chat.SendMessageCommand{MessageID: uuid.NewString(), ConversationID: id, SenderID: "u1"},
			expected: []error{errors.ErrSendFailed, errors.ErrValidationFailed},
		},
		{
			name:     "body too long",
			caller:   "u1",
			cmd:      chat.SendMessageCommand{MessageID: uuid.NewString(), ConversationID: id, SenderID: "u1", Body: strings.Repeat("é", 501)},
			expected: []error{errors.ErrSendFailed, errors.ErrValidationFailed},
		},
		{
			name:     "message id is not a uuid",
			caller:   "u1",
			cmd:      chat.SendMessageCommand{MessageID: "42", ConversationID: id, SenderID: "u1", Body: "x"},
			expected: []error{errors.ErrSendFailed, errors.ErrValidationFailed},
		},
		{
			name:     "duplicate message id",
			caller:   "u2",
			cmd:      chat.SendMessageCommand{MessageID: duplicate.ID, ConversationID: id, SenderID: "u2", Body: "again"},
			expected: []error{errors.ErrSendFailed, errors.ErrValidationFailed},
		},
		{
			name:     "unknown conversation",
			caller:   "u1",
			cmd:      chat.SendMessageCommand{MessageID: uuid.NewString(), ConversationID: uuid.NewString(), SenderID: "u1", Body: "x"},
			expected: []error{errors.ErrSendFailed, errors.ErrNotFound},
		},
		{
			name:     "sender not in conversation",
			caller:   "u3",
			cmd:      chat.SendMessageCommand{MessageID: uuid.NewString(), ConversationID: id, SenderID: "u3", Body: "x"},
			expected: []error{errors.ErrSendFailed, errors.ErrUnauthorized},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := f.messages.SendMessage(ctx, tt.caller, tt.cmd)
			for _, expected := range tt.expected {
				req.ErrorIs(err, expected)
			}
		})
	}

	// And the refused sends changed nothing
	conversation := f.conversation(t, id)
	require.Equal(t, duplicate.ID, *conversation.LatestMessageID)
	page, err := f.messages.ListMessages(ctx, "u1", id, chat.Page{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
}

func TestSendMessage_Store_Failure_Publishes_Nothing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	bus := mocks.NewMockEventBus(ctrl)
	service := NewMessageService(logs.GetLoggerFromLevel(slog.LevelDebug), store, bus, nil, 0)

	store.EXPECT().Update(gomock.Any(), gomock.Any()).Return(fmt.Errorf("serialization failure"))
	bus.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	_, err := service.SendMessage(context.Background(), "u1", chat.SendMessageCommand{
		MessageID: uuid.NewString(), ConversationID: "c1", SenderID: "u1", Body: "x",
	})

	req.ErrorIs(err, errors.ErrSendFailed)
	req.ErrorIs(err, errors.ErrTransactionFailed)
}

func TestListMessages_Pages_Newest_First(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2")
	limit := 2
	f.messages.limitMessages = &limit
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)
	for i := 1; i <= 5; i++ {
		send(t, f, "u1", id, fmt.Sprintf("m%d", i))
	}

	bodies := func(page chat.MessagePage) []string {
		return lo.Map(page.Messages, func(m chat.Message, _ int) string { return m.Body })
	}

	// Default limit applies when none is asked for
	first, err := f.messages.ListMessages(ctx, "u2", id, chat.Page{})
	req.NoError(err)
	req.Equal([]string{"m5", "m4"}, bodies(first))
	req.NotNil(first.NextCursor)

	rest, err := f.messages.ListMessages(ctx, "u2", id, chat.Page{Cursor: first.NextCursor, Limit: 10})
	req.NoError(err)
	req.Equal([]string{"m3", "m2", "m1"}, bodies(rest))
	req.Nil(rest.NextCursor)

	// Listing never marks the conversation as read
	req.False(f.seen(t, id, "u2"))

	_, err = f.messages.ListMessages(ctx, "u2", id, chat.Page{Limit: -1})
	req.ErrorIs(err, errors.ErrValidationFailed)
	_, err = f.messages.ListMessages(ctx, "", id, chat.Page{})
	req.ErrorIs(err, errors.ErrUnauthorized)
}

func TestAuthorizeConversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2", "u3")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)

	req.NoError(f.messages.AuthorizeConversation(ctx, "u2", id))
	req.ErrorIs(f.messages.AuthorizeConversation(ctx, "u3", id), errors.ErrUnauthorized)
	req.ErrorIs(f.messages.AuthorizeConversation(ctx, "u1", uuid.NewString()), errors.ErrNotFound)
	req.ErrorIs(f.messages.AuthorizeConversation(ctx, "", id), errors.ErrUnauthorized)
}

func TestSendMessage_Concurrent_Senders_All_Succeed(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1", "u2")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
	req.NoError(err)

	// When both participants send at the same time
	const sends = 40
	var wg sync.WaitGroup
	errs := make(chan error, sends)
	for i := 0; i < sends; i++ {
		sender := []string{"u1", "u2"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.messages.SendMessage(ctx, sender, chat.SendMessageCommand{
				MessageID:      uuid.NewString(),
				ConversationID: id,
				SenderID:       sender,
				Body:           "hello",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	// Then every send is accepted
	for err := range errs {
		req.NoError(err)
	}
	page, err := f.messages.ListMessages(ctx, "u1", id, chat.Page{})
	req.NoError(err)
	req.Len(page.Messages, sends)

	// And the receipts follow the sender of the latest message
	conversation := f.conversation(t, id)
	latest := page.Messages[0]
	req.Equal(latest.ID, lo.FromPtr(conversation.LatestMessageID))
	for _, p := range conversation.Participants {
		req.Equal(p.UserID == latest.SenderID, p.HasSeenLatestMessage, p.UserID)
	}
	for i := 1; i < len(page.Messages); i++ {
		req.True(page.Messages[i-1].CreatedAt.After(page.Messages[i].CreatedAt))
	}
}

func TestSendMessage_CreatedAt_Strictly_Increases(t *testing.T) {
	tests := []struct {
		name  string
		clock func() func() time.Time
	}{
		{"frozen clock", func() func() time.Time {
			at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			return func() time.Time { return at }
		}},
		{"clock stepping back", func() func() time.Time {
			var mu sync.Mutex
			at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			return func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				at = at.Add(-time.Minute)
				return at
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			ctx := context.Background()
			f := newFixture(t, "u1", "u2")
			id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1", "u2"}})
			req.NoError(err)

			// Given a clock that does not move forward
			f.messages.now = tt.clock()

			// When messages are sent one after the other
			var sent []chat.Message
			for i := 1; i <= 4; i++ {
				sent = append(sent, send(t, f, "u1", id, fmt.Sprintf("m%d", i)))
			}

			// Then history keeps the sending order
			for i := 1; i < len(sent); i++ {
				req.True(sent[i].CreatedAt.After(sent[i-1].CreatedAt))
			}
			page, err := f.messages.ListMessages(ctx, "u2", id, chat.Page{})
			req.NoError(err)
			req.Equal([]string{"m4", "m3", "m2", "m1"}, lo.Map(page.Messages, func(m chat.Message, _ int) string {
				return m.Body
			}))
		})
	}
}

func TestListMessages_Malformed_Cursor_Is_A_Validation_Failure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, "u1")
	id, err := f.conversations.CreateConversation(ctx, "u1", chat.CreateConversationCommand{ParticipantIDs: []string{"u1"}})
	req.NoError(err)

	_, err = f.messages.ListMessages(ctx, "u1", id, chat.Page{Cursor: lo.ToPtr("garbage")})

	req.ErrorIs(err, errors.ErrValidationFailed)
	req.NotErrorIs(err, errors.ErrTransactionFailed)
}
