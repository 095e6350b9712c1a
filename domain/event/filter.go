package event

import (
	"chat-sync/domain/chat"

	"github.com/samber/lo"
)

// Subscriber is the identity an open subscription was authorized for.
// ConversationID is only meaningful for MessageSent subscriptions.
type Subscriber struct {
	UserID         string
	ConversationID string
}

// Visible decides whether evt may be forwarded to sub.
// A false result is a silent drop, never an error.
func Visible(evt DomainEvent, sub Subscriber) bool {
	switch e := evt.(type) {
	case ConversationCreated:
		return ConversationCreatedVisible(e, sub.UserID)
	case ConversationUpdated:
		return ConversationUpdatedVisible(e, sub.UserID)
	case ConversationDeleted:
		return ConversationDeletedVisible(e, sub.UserID)
	case MessageSent:
		return MessageSentVisible(e, sub.ConversationID)
	default:
		return false
	}
}

func ConversationCreatedVisible(e ConversationCreated, userID string) bool {
	return chat.IsParticipant(e.Conversation.Participants, userID)
}

func ConversationUpdatedVisible(e ConversationUpdated, userID string) bool {
	return chat.IsParticipant(e.Conversation.Participants, userID)
}

func ConversationDeletedVisible(e ConversationDeleted, userID string) bool {
	return lo.Contains(e.ParticipantIDs, userID)
}

// MessageSentVisible scopes delivery to the conversation the client has open,
// not to membership.
func MessageSentVisible(e MessageSent, conversationID string) bool {
	return conversationID != "" && e.Message.ConversationID == conversationID
}
