package storage

import (
	"chat-sync/domain/chat"
	"time"
)

// On-disk shapes. Times are kept as unix nanoseconds.

type userRecord struct {
	ID       string `cbor:"id"`
	Username string `cbor:"username"`
}

type conversationRecord struct {
	ID              string  `cbor:"id"`
	LatestMessageID *string `cbor:"latest_message_id,omitempty"`
	CreatedAt       int64   `cbor:"created_at"`
	UpdatedAt       int64   `cbor:"updated_at"`
}

type participantRecord struct {
	ID                   string `cbor:"id"`
	ConversationID       string `cbor:"conversation_id"`
	UserID               string `cbor:"user_id"`
	HasSeenLatestMessage bool   `cbor:"has_seen_latest_message"`
}

type messageRecord struct {
	ID             string `cbor:"id"`
	ConversationID string `cbor:"conversation_id"`
	SenderID       string `cbor:"sender_id"`
	Body           string `cbor:"body"`
	CreatedAt      int64  `cbor:"created_at"`
	UpdatedAt      int64  `cbor:"updated_at"`
}

func fromUser(u chat.User) userRecord {
	return userRecord{ID: u.ID, Username: u.Username}
}

func toUser(r userRecord) chat.User {
	return chat.User{ID: r.ID, Username: r.Username}
}

func fromConversation(c chat.Conversation) conversationRecord {
	return conversationRecord{
		ID:              c.ID,
		LatestMessageID: c.LatestMessageID,
		CreatedAt:       c.CreatedAt.UnixNano(),
		UpdatedAt:       c.UpdatedAt.UnixNano(),
	}
}

func toConversation(r conversationRecord) chat.Conversation {
	return chat.Conversation{
		ID:              r.ID,
		LatestMessageID: r.LatestMessageID,
		CreatedAt:       time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:       time.Unix(0, r.UpdatedAt).UTC(),
	}
}

func fromParticipant(p chat.Participant) participantRecord {
	return participantRecord{
		ID:                   p.ID,
		ConversationID:       p.ConversationID,
		UserID:               p.UserID,
		HasSeenLatestMessage: p.HasSeenLatestMessage,
	}
}

func toParticipant(r participantRecord) chat.Participant {
	return chat.Participant{
		ID:                   r.ID,
		ConversationID:       r.ConversationID,
		UserID:               r.UserID,
		User:                 chat.User{ID: r.UserID},
		HasSeenLatestMessage: r.HasSeenLatestMessage,
	}
}

func fromMessage(m chat.Message) messageRecord {
	return messageRecord{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt.UnixNano(),
		UpdatedAt:      m.UpdatedAt.UnixNano(),
	}
}

func toMessage(r messageRecord) chat.Message {
	return chat.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Sender:         chat.User{ID: r.SenderID},
		Body:           r.Body,
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:      time.Unix(0, r.UpdatedAt).UTC(),
	}
}
