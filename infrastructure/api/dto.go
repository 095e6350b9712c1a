package api

import (
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type userDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type participantDTO struct {
	ID                   string  `json:"id"`
	User                 userDTO `json:"user"`
	HasSeenLatestMessage bool    `json:"hasSeenLatestMessage"`
}

type messageDTO struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         userDTO   `json:"sender"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type conversationDTO struct {
	ID              string           `json:"id"`
	Participants    []participantDTO `json:"participants"`
	LatestMessageID *string          `json:"latestMessageId,omitempty"`
	LatestMessage   *messageDTO      `json:"latestMessage,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type messagePageDTO struct {
	Messages   []messageDTO `json:"messages"`
	NextCursor *string      `json:"nextCursor,omitempty"`
}

type createConversationRequest struct {
	ParticipantIDs []string `json:"participantIds" binding:"required,min=1,dive,required"`
}

type sendMessageRequest struct {
	ID   string `json:"id" binding:"required,uuid"`
	Body string `json:"body" binding:"required"`
}

func toUserDTO(u chat.User) userDTO {
	return userDTO{ID: u.ID, Username: u.Username}
}

func toMessageDTO(m chat.Message, _ int) messageDTO {
	return messageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         toUserDTO(m.Sender),
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toConversationDTO(c chat.Conversation, _ int) conversationDTO {
	dto := conversationDTO{
		ID:              c.ID,
		LatestMessageID: c.LatestMessageID,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		Participants: lo.Map(c.Participants, func(p chat.Participant, _ int) participantDTO {
			return participantDTO{ID: p.ID, User: toUserDTO(p.User), HasSeenLatestMessage: p.HasSeenLatestMessage}
		}),
	}
	if c.LatestMessage != nil {
		m := toMessageDTO(*c.LatestMessage, 0)
		dto.LatestMessage = &m
	}
	return dto
}

func toMessagePageDTO(page chat.MessagePage) messagePageDTO {
	return messagePageDTO{
		Messages:   lo.Map(page.Messages, toMessageDTO),
		NextCursor: page.NextCursor,
	}
}

// eventPayload is the JSON body of a "next" frame.
func eventPayload(evt event.DomainEvent) any {
	switch e := evt.(type) {
	case event.ConversationCreated:
		return gin.H{"conversation": toConversationDTO(e.Conversation, 0)}
	case event.ConversationUpdated:
		return gin.H{"conversation": toConversationDTO(e.Conversation, 0)}
	case event.ConversationDeleted:
		return gin.H{"conversationId": e.ConversationID, "participantIds": e.ParticipantIDs}
	case event.MessageSent:
		return gin.H{"message": toMessageDTO(e.Message, 0)}
	default:
		return nil
	}
}
