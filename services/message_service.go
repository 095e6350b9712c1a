package services

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"
)

type IMessageService interface {
	ListMessages(ctx context.Context, callerID, conversationID string, page chat.Page) (chat.MessagePage, error)
	SendMessage(ctx context.Context, callerID string, cmd chat.SendMessageCommand) (chat.Message, error)
	AuthorizeConversation(ctx context.Context, userID, conversationID string) error
}

// errNotParticipant stops a send transaction whose sender is not a member.
var errNotParticipant = fmt.Errorf("sender is not a participant")

type MessageService struct {
	log              *slog.Logger
	store            contract.Store
	bus              contract.EventBus
	limitMessages    *int
	maxContentLength int
	now              func() time.Time
}

// NewMessageService builds the service. A nil limitMessages returns whole
// histories when no page limit is asked for; maxContentLength 0 disables the
// body length check.
func NewMessageService(log *slog.Logger, store contract.Store, bus contract.EventBus, limitMessages *int, maxContentLength int) *MessageService {
	return &MessageService{
		log:              log,
		store:            store,
		bus:              bus,
		limitMessages:    limitMessages,
		maxContentLength: maxContentLength,
		now:              time.Now,
	}
}

// ListMessages returns one page of the conversation history, newest first.
// Listing never touches read receipts.
func (s *MessageService) ListMessages(ctx context.Context, callerID, conversationID string, page chat.Page) (chat.MessagePage, error) {
	if callerID == "" {
		return chat.MessagePage{}, errors.ErrUnauthorized
	}
	if err := validateCommand(nil, page); err != nil {
		return chat.MessagePage{}, err
	}
	limit := page.Limit
	if limit == 0 && s.limitMessages != nil {
		limit = *s.limitMessages
	}

	var result chat.MessagePage
	err := s.store.View(ctx, func(tx contract.Tx) error {
		if err := s.authorizeMember(ctx, tx, callerID, conversationID); err != nil {
			return err
		}
		messages, next, err := tx.ListMessages(ctx, conversationID, page.Cursor, limit)
		if err != nil {
			return err
		}
		result = chat.MessagePage{Messages: messages, NextCursor: next}
		return nil
	})
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, errors.ErrRecordNotFound):
		return chat.MessagePage{}, errors.ErrNotFound
	case errors.Is(err, errNotParticipant):
		return chat.MessagePage{}, errors.ErrUnauthorized
	case errors.Is(err, errors.ErrValidationFailed):
		// malformed cursor
		return chat.MessagePage{}, errors.ErrValidationFailed
	default:
		s.log.Error("Unable to list messages", "conversation_id", conversationID, "user_id", callerID, "error", err)
		return chat.MessagePage{}, errors.ErrTransactionFailed
	}
}

// AuthorizeConversation reports ErrNotFound for a missing conversation and
// ErrUnauthorized when userID does not take part in it.
func (s *MessageService) AuthorizeConversation(ctx context.Context, userID, conversationID string) error {
	if userID == "" {
		return errors.ErrUnauthorized
	}
	err := s.store.View(ctx, func(tx contract.Tx) error {
		return s.authorizeMember(ctx, tx, userID, conversationID)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrRecordNotFound):
		return errors.ErrNotFound
	case errors.Is(err, errNotParticipant):
		return errors.ErrUnauthorized
	default:
		s.log.Error("Unable to check membership", "conversation_id", conversationID, "user_id", userID, "error", err)
		return errors.ErrTransactionFailed
	}
}

// authorizeMember tells a missing conversation apart from a caller who is not in it.
func (s *MessageService) authorizeMember(ctx context.Context, tx contract.Tx, userID, conversationID string) error {
	_, err := tx.GetParticipant(ctx, conversationID, userID)
	if err == nil || !errors.Is(err, errors.ErrRecordNotFound) {
		return err
	}
	if _, err := tx.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	return errNotParticipant
}

// SendMessage appends a message and moves the read receipts: the sender has
// seen it, every other participant has not. MessageSent then
// ConversationUpdated are published once the transaction commits.
func (s *MessageService) SendMessage(ctx context.Context, callerID string, cmd chat.SendMessageCommand) (chat.Message, error) {
	if callerID == "" || cmd.SenderID != callerID {
		return chat.Message{}, errors.ErrUnauthorized
	}
	if err := validateCommand(errors.ErrSendFailed, cmd); err != nil {
		return chat.Message{}, err
	}
	if s.maxContentLength > 0 && utf8.RuneCountInString(cmd.Body) > s.maxContentLength {
		return chat.Message{}, fmt.Errorf("%w: body longer than %d characters",
			errors.Wrap(errors.ErrSendFailed, errors.ErrValidationFailed), s.maxContentLength)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	var (
		sent         chat.Message
		conversation chat.Conversation
	)
	err := s.store.Update(ctx, func(tx contract.Tx) error {
		current, err := tx.GetConversation(ctx, cmd.ConversationID)
		if err != nil {
			return err
		}
		if !current.HasParticipant(cmd.SenderID) {
			return errNotParticipant
		}
		// UpdatedAt is never older than the latest message, so this keeps
		// createdAt strictly increasing within the conversation.
		at := now
		if !at.After(current.UpdatedAt) {
			at = current.UpdatedAt.Add(time.Microsecond)
		}
		if err := tx.PutMessage(ctx, chat.Message{
			ID:             cmd.MessageID,
			ConversationID: cmd.ConversationID,
			SenderID:       cmd.SenderID,
			Body:           cmd.Body,
			CreatedAt:      at,
			UpdatedAt:      at,
		}); err != nil {
			return err
		}

		current.LatestMessageID = &cmd.MessageID
		current.UpdatedAt = at
		if err := tx.PutConversation(ctx, current); err != nil {
			return err
		}
		for _, p := range current.Participants {
			seen := p.UserID == cmd.SenderID
			if p.HasSeenLatestMessage == seen {
				continue
			}
			p.HasSeenLatestMessage = seen
			if err := tx.PutParticipant(ctx, p); err != nil {
				return err
			}
		}

		if sent, err = tx.GetMessage(ctx, cmd.MessageID); err != nil {
			return err
		}
		conversation, err = tx.GetConversation(ctx, cmd.ConversationID)
		return err
	})
	if err != nil {
		s.log.Error("Unable to send message", "conversation_id", cmd.ConversationID,
			"message_id", cmd.MessageID, "user_id", callerID, "error", err)
		if errors.Is(err, errNotParticipant) {
			return chat.Message{}, errors.Wrap(errors.ErrSendFailed, errors.ErrUnauthorized)
		}
		return chat.Message{}, storeFailure(errors.ErrSendFailed, err)
	}

	s.bus.Publish(event.MessageSentTopic, event.MessageSent{Message: sent})
	s.bus.Publish(event.ConversationUpdatedTopic, event.ConversationUpdated{Conversation: conversation})
	s.log.Debug("Message sent", "conversation_id", cmd.ConversationID, "message_id", cmd.MessageID)
	return sent, nil
}
