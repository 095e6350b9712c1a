package chat

import (
	"time"
)

// Message is immutable once created.
// ID is supplied by the client so it can echo the message before the server confirms it.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Sender         User
	Body           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
