// Package api exposes the services over REST and the event streams over websocket.
package api

import (
	"chat-sync/auth"
	"chat-sync/domain/chat"
	"chat-sync/gateway"
	"chat-sync/services"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// WSConfig bounds the lifetime of websocket connections.
type WSConfig struct {
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
}

type Server struct {
	log           *slog.Logger
	users         services.IUserService
	conversations services.IConversationService
	messages      services.IMessageService
	gateway       *gateway.Gateway
	resolver      auth.IdentityResolver
	ws            WSConfig
}

func NewServer(
	log *slog.Logger,
	users services.IUserService,
	conversations services.IConversationService,
	messages services.IMessageService,
	gateway *gateway.Gateway,
	resolver auth.IdentityResolver,
	ws WSConfig,
) *Server {
	return &Server{
		log:           log,
		users:         users,
		conversations: conversations,
		messages:      messages,
		gateway:       gateway,
		resolver:      resolver,
		ws:            ws,
	}
}

// Router wires every route behind the identity middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), auth.Middleware(s.resolver), s.ensureUser())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/ws", s.serveWS)

	conversations := router.Group("/conversations")
	conversations.GET("", s.listConversations)
	conversations.POST("", s.createConversation)
	conversations.POST("/:id/read", s.markConversationAsRead)
	conversations.DELETE("/:id", s.deleteConversation)
	conversations.GET("/:id/messages", s.listMessages)
	conversations.POST("/:id/messages", s.sendMessage)
	return router
}

// ensureUser records the caller as a user the first time it is seen.
func (s *Server) ensureUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFrom(c.Request.Context())
		if !ok {
			c.Next()
			return
		}
		if err := s.users.EnsureUser(c.Request.Context(), chat.User{ID: identity.UserID, Username: identity.Username}); err != nil {
			s.fail(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("Request served",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
