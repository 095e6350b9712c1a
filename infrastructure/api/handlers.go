package api

import (
	"chat-sync/auth"
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

func callerID(c *gin.Context) string {
	identity, _ := auth.IdentityFrom(c.Request.Context())
	return identity.UserID
}

// fail writes the status and public text of err. Internal causes stay in the logs.
func (s *Server) fail(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errors.PublicMessage(err)})
}

func (s *Server) listConversations(c *gin.Context) {
	conversations, err := s.conversations.ListConversations(c.Request.Context(), callerID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": lo.Map(conversations, toConversationDTO)})
}

func (s *Server) createConversation(c *gin.Context) {
	var body createConversationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, errors.Wrap(errors.ErrCreateFailed, errors.ErrValidationFailed))
		return
	}
	id, err := s.conversations.CreateConversation(c.Request.Context(), callerID(c), chat.CreateConversationCommand{
		ParticipantIDs: body.ParticipantIDs,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) markConversationAsRead(c *gin.Context) {
	if err := s.conversations.MarkConversationAsRead(c.Request.Context(), callerID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteConversation(c *gin.Context) {
	if err := s.conversations.DeleteConversation(c.Request.Context(), callerID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	var page chat.Page
	if cursor := c.Query("cursor"); cursor != "" {
		page.Cursor = &cursor
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(c, errors.ErrValidationFailed)
			return
		}
		page.Limit = limit
	}
	result, err := s.messages.ListMessages(c.Request.Context(), callerID(c), c.Param("id"), page)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMessagePageDTO(result))
}

func (s *Server) sendMessage(c *gin.Context) {
	var body sendMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, errors.Wrap(errors.ErrSendFailed, errors.ErrValidationFailed))
		return
	}
	caller := callerID(c)
	message, err := s.messages.SendMessage(c.Request.Context(), caller, chat.SendMessageCommand{
		MessageID:      body.ID,
		ConversationID: c.Param("id"),
		SenderID:       caller,
		Body:           body.Body,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageDTO(message, 0))
}
