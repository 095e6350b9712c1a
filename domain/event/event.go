package event

import (
	"chat-sync/domain/chat"

	"github.com/samber/lo"
)

// Topic identifies an event family on the bus.
type Topic string

const (
	ConversationCreatedTopic Topic = "conversation.created"
	ConversationUpdatedTopic Topic = "conversation.updated"
	ConversationDeletedTopic Topic = "conversation.deleted"
	MessageSentTopic         Topic = "message.sent"
)

var topics = []Topic{
	ConversationCreatedTopic,
	ConversationUpdatedTopic,
	ConversationDeletedTopic,
	MessageSentTopic,
}

// Topics returns every topic a client may subscribe to.
func Topics() []Topic {
	return append([]Topic(nil), topics...)
}

func (t Topic) Valid() bool {
	return lo.Contains(topics, t)
}

// DomainEvent is published once the write it describes has been committed.
type DomainEvent interface {
	Topic() Topic
}

type ConversationCreated struct {
	Conversation chat.Conversation
}

func (ConversationCreated) Topic() Topic { return ConversationCreatedTopic }

type ConversationUpdated struct {
	Conversation chat.Conversation
}

func (ConversationUpdated) Topic() Topic { return ConversationUpdatedTopic }

// ConversationDeleted carries the membership captured before the rows were removed,
// since nothing is left to query once the transaction commits.
type ConversationDeleted struct {
	ConversationID string
	ParticipantIDs []string
}

func (ConversationDeleted) Topic() Topic { return ConversationDeletedTopic }

type MessageSent struct {
	Message chat.Message
}

func (MessageSent) Topic() Topic { return MessageSentTopic }
