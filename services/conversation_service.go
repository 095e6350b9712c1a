package services

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IConversationService interface {
	ListConversations(ctx context.Context, callerID string) ([]chat.Conversation, error)
	CreateConversation(ctx context.Context, callerID string, cmd chat.CreateConversationCommand) (string, error)
	MarkConversationAsRead(ctx context.Context, callerID, conversationID string) error
	DeleteConversation(ctx context.Context, callerID, conversationID string) error
}

// ConversationService owns conversation lifecycle and membership.
// Events are published only once the transaction carrying the change has committed.
type ConversationService struct {
	log   *slog.Logger
	store contract.Store
	bus   contract.EventBus
	now   func() time.Time
}

func NewConversationService(log *slog.Logger, store contract.Store, bus contract.EventBus) *ConversationService {
	return &ConversationService{log: log, store: store, bus: bus, now: time.Now}
}

// ListConversations returns every conversation callerID takes part in,
// most recently updated first.
func (s *ConversationService) ListConversations(ctx context.Context, callerID string) ([]chat.Conversation, error) {
	if callerID == "" {
		return nil, errors.ErrUnauthorized
	}
	var conversations []chat.Conversation
	err := s.store.View(ctx, func(tx contract.Tx) error {
		ids, err := tx.ListConversationIDs(ctx, callerID)
		if err != nil {
			return err
		}
		conversations = make([]chat.Conversation, 0, len(ids))
		for _, id := range ids {
			conversation, err := tx.GetConversation(ctx, id)
			if err != nil {
				return err
			}
			conversations = append(conversations, conversation)
		}
		return nil
	})
	if err != nil {
		s.log.Error("Unable to list conversations", "user_id", callerID, "error", err)
		return nil, errors.ErrTransactionFailed
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

// CreateConversation creates a conversation whose members are exactly
// cmd.ParticipantIDs. The caller must be one of them: it is never added implicitly.
func (s *ConversationService) CreateConversation(ctx context.Context, callerID string, cmd chat.CreateConversationCommand) (string, error) {
	if callerID == "" {
		return "", errors.ErrUnauthorized
	}
	if err := validateCommand(errors.ErrCreateFailed, cmd); err != nil {
		return "", err
	}
	if !lo.Contains(cmd.ParticipantIDs, callerID) {
		return "", errors.Wrap(errors.ErrCreateFailed, errors.ErrValidationFailed)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	conversationID := uuid.NewString()
	var created chat.Conversation
	err := s.store.Update(ctx, func(tx contract.Tx) error {
		for _, userID := range cmd.ParticipantIDs {
			if _, err := tx.GetUser(ctx, userID); err != nil {
				return err
			}
		}
		if err := tx.PutConversation(ctx, chat.Conversation{
			ID:        conversationID,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		for _, userID := range cmd.ParticipantIDs {
			if err := tx.PutParticipant(ctx, chat.Participant{
				ID:                   uuid.NewString(),
				ConversationID:       conversationID,
				UserID:               userID,
				HasSeenLatestMessage: userID == callerID,
			}); err != nil {
				return err
			}
		}
		var err error
		created, err = tx.GetConversation(ctx, conversationID)
		return err
	})
	if err != nil {
		s.log.Error("Unable to create conversation", "user_id", callerID, "participants", cmd.ParticipantIDs, "error", err)
		if errors.Is(err, errors.ErrRecordNotFound) {
			// a participant id that names no user
			return "", errors.Wrap(errors.ErrCreateFailed, errors.ErrValidationFailed)
		}
		return "", storeFailure(errors.ErrCreateFailed, err)
	}

	s.bus.Publish(event.ConversationCreatedTopic, event.ConversationCreated{Conversation: created})
	s.log.Debug("Conversation created", "conversation_id", conversationID, "participants", len(created.Participants))
	return conversationID, nil
}

// MarkConversationAsRead sets the read receipt of callerID. Marking an
// already read conversation is a no-op, and no event is published either way.
func (s *ConversationService) MarkConversationAsRead(ctx context.Context, callerID, conversationID string) error {
	if callerID == "" {
		return errors.ErrUnauthorized
	}
	err := s.store.Update(ctx, func(tx contract.Tx) error {
		participant, err := tx.GetParticipant(ctx, conversationID, callerID)
		if err != nil {
			return err
		}
		if participant.HasSeenLatestMessage {
			return nil
		}
		participant.HasSeenLatestMessage = true
		return tx.PutParticipant(ctx, participant)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrRecordNotFound):
		return errors.ErrNotFound
	default:
		s.log.Error("Unable to mark conversation as read", "conversation_id", conversationID, "user_id", callerID, "error", err)
		return errors.ErrTransactionFailed
	}
}

// DeleteConversation removes the conversation with its participants and
// messages. Authorization is settled in its own read transaction before
// anything is written.
func (s *ConversationService) DeleteConversation(ctx context.Context, callerID, conversationID string) error {
	if callerID == "" {
		return errors.ErrUnauthorized
	}
	if err := s.authorizeDelete(ctx, callerID, conversationID); err != nil {
		return err
	}

	var participantIDs []string
	err := s.store.Update(ctx, func(tx contract.Tx) error {
		participants, err := tx.ListParticipants(ctx, conversationID)
		if err != nil {
			return err
		}
		participantIDs = lo.Map(participants, func(p chat.Participant, _ int) string {
			return p.UserID
		})
		if err := tx.DeleteMessages(ctx, conversationID); err != nil {
			return err
		}
		if err := tx.DeleteParticipants(ctx, conversationID); err != nil {
			return err
		}
		return tx.DeleteConversation(ctx, conversationID)
	})
	if err != nil {
		s.log.Error("Unable to delete conversation", "conversation_id", conversationID, "user_id", callerID, "error", err)
		return errors.Wrap(errors.ErrDeleteFailed, errors.ErrTransactionFailed)
	}

	s.bus.Publish(event.ConversationDeletedTopic, event.ConversationDeleted{
		ConversationID: conversationID,
		ParticipantIDs: participantIDs,
	})
	s.log.Debug("Conversation deleted", "conversation_id", conversationID)
	return nil
}

func (s *ConversationService) authorizeDelete(ctx context.Context, callerID, conversationID string) error {
	var conversation chat.Conversation
	err := s.store.View(ctx, func(tx contract.Tx) error {
		var err error
		conversation, err = tx.GetConversation(ctx, conversationID)
		return err
	})
	switch {
	case errors.Is(err, errors.ErrRecordNotFound):
		return errors.ErrNotFound
	case err != nil:
		s.log.Error("Unable to load conversation", "conversation_id", conversationID, "error", err)
		return errors.Wrap(errors.ErrDeleteFailed, errors.ErrTransactionFailed)
	case !conversation.HasParticipant(callerID):
		return errors.ErrUnauthorized
	}
	return nil
}
