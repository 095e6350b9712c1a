package chat

// CreateConversationCommand lists every member of the new conversation, the caller included.
type CreateConversationCommand struct {
	ParticipantIDs []string `validate:"required,min=1,unique,dive,required"`
}

// SendMessageCommand carries a client generated correlation id in MessageID.
type SendMessageCommand struct {
	MessageID      string `validate:"required,uuid"`
	ConversationID string `validate:"required"`
	SenderID       string `validate:"required"`
	Body           string `validate:"required"`
}

// Page selects a window of a conversation history, newest first.
// A nil Cursor starts from the most recent message; Limit 0 uses the server default.
type Page struct {
	Cursor *string
	Limit  int `validate:"gte=0"`
}

// MessagePage is one window of history and the cursor of the next, older, window.
type MessagePage struct {
	Messages   []Message
	NextCursor *string
}
