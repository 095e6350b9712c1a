package chat

import (
	"time"

	"github.com/samber/lo"
)

// Conversation is owned jointly by its participants.
// LatestMessageID, when set, always references a message of this conversation.
type Conversation struct {
	ID              string
	Participants    []Participant
	LatestMessageID *string
	LatestMessage   *Message
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Participant is the membership record of one user in one conversation.
// HasSeenLatestMessage is the read receipt for the current latest message.
type Participant struct {
	ID                   string
	ConversationID       string
	UserID               string
	User                 User
	HasSeenLatestMessage bool
}

// HasParticipant reports whether userID is a member of the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return IsParticipant(c.Participants, userID)
}

// ParticipantIDs returns the user ids of every participant.
func (c Conversation) ParticipantIDs() []string {
	return lo.Map(c.Participants, func(p Participant, _ int) string {
		return p.UserID
	})
}

// Participant returns the membership record of userID, if any.
func (c Conversation) Participant(userID string) (Participant, bool) {
	return lo.Find(c.Participants, func(p Participant) bool {
		return p.UserID == userID
	})
}

func IsParticipant(participants []Participant, userID string) bool {
	return lo.ContainsBy(participants, func(p Participant) bool {
		return p.UserID == userID
	})
}
