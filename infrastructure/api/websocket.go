package api

import (
	"chat-sync/auth"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	closeUnauthorized = 4401
	closeBadHandshake = 4400
)

// Frame types of the subscription protocol.
const (
	frameConnectionInit = "connection_init"
	frameConnectionAck  = "connection_ack"
	frameSubscribe      = "subscribe"
	frameUnsubscribe    = "unsubscribe"
	frameSubscribed     = "subscribed"
	frameNext           = "next"
	frameError          = "error"
	frameComplete       = "complete"
)

var errConnectionClosed = fmt.Errorf("connection closed")

type clientFrame struct {
	Type           string `json:"type"`
	Token          string `json:"token,omitempty"`
	ID             string `json:"id,omitempty"`
	Topic          string `json:"topic,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

type serverFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin policy is left to the fronting proxy
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) serveWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade refused", "error", err)
		return
	}

	identity, err := s.handshake(ws)
	if err != nil {
		code := closeBadHandshake
		if errors.Is(err, errors.ErrUnauthorized) {
			code = closeUnauthorized
		}
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, errors.PublicMessage(err)), time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	conn := newConnection(s, ws, identity)
	conn.run(c.Request.Context())
}

// handshake waits for the connection_init frame and resolves its token.
func (s *Server) handshake(ws *websocket.Conn) (auth.Identity, error) {
	if err := ws.SetReadDeadline(time.Now().Add(s.ws.HandshakeTimeout)); err != nil {
		return auth.Identity{}, err
	}
	var frame clientFrame
	if err := ws.ReadJSON(&frame); err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", errors.ErrValidationFailed, err)
	}
	if frame.Type != frameConnectionInit {
		return auth.Identity{}, fmt.Errorf("%w: expected %s, got %q", errors.ErrValidationFailed, frameConnectionInit, frame.Type)
	}
	identity, err := s.resolver.Resolve(frame.Token)
	if err != nil {
		return auth.Identity{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.ws.HandshakeTimeout)
	defer cancel()
	if err := s.users.EnsureUser(ctx, chat.User{ID: identity.UserID, Username: identity.Username}); err != nil {
		return auth.Identity{}, err
	}
	return identity, nil
}

// connection is one authenticated socket. Only writeLoop writes data frames.
type connection struct {
	server   *Server
	ws       *websocket.Conn
	identity auth.Identity
	send     chan serverFrame
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	streams map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func newConnection(s *Server, ws *websocket.Conn, identity auth.Identity) *connection {
	return &connection{
		server:   s,
		ws:       ws,
		identity: identity,
		send:     make(chan serverFrame, s.ws.SendBuffer),
		closed:   make(chan struct{}),
		streams:  make(map[string]context.CancelFunc),
	}
}

func (c *connection) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		c.close(websocket.CloseNormalClosure, "")
		c.wg.Wait()
	}()

	log := c.server.log.With("user_id", c.identity.UserID)
	log.Debug("Websocket connected")
	go c.writeLoop()
	if err := c.enqueue(serverFrame{Type: frameConnectionAck}); err != nil {
		return
	}

	_ = c.ws.SetReadDeadline(time.Now().Add(c.server.ws.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.server.ws.PongTimeout))
	})

	for {
		var frame clientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			log.Debug("Websocket disconnected", "error", err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.server.ws.PongTimeout))
		switch frame.Type {
		case frameSubscribe:
			c.subscribe(ctx, frame)
		case frameUnsubscribe:
			c.unsubscribe(frame.ID)
		default:
			_ = c.enqueue(serverFrame{Type: frameError, ID: frame.ID, Message: fmt.Sprintf("unknown frame type %q", frame.Type)})
		}
	}
}

func (c *connection) subscribe(parent context.Context, frame clientFrame) {
	if frame.ID == "" {
		_ = c.enqueue(serverFrame{Type: frameError, Message: errors.ErrValidationFailed.Error()})
		return
	}
	c.mu.Lock()
	if _, exists := c.streams[frame.ID]; exists {
		c.mu.Unlock()
		_ = c.enqueue(serverFrame{Type: frameError, ID: frame.ID, Message: "subscription id already in use"})
		return
	}
	ctx, cancel := context.WithCancel(parent)
	c.streams[frame.ID] = cancel
	c.mu.Unlock()

	sub := event.Subscriber{UserID: c.identity.UserID, ConversationID: frame.ConversationID}
	topic := event.Topic(frame.Topic)
	sink := &frameSink{conn: c, id: frame.ID, topic: topic}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.forget(frame.ID)
		err := c.server.gateway.Stream(ctx, sub, topic, sink)
		switch {
		case err == nil && ctx.Err() != nil:
			// unsubscribed or disconnected
		case err == nil:
			_ = c.enqueue(serverFrame{Type: frameComplete, ID: frame.ID})
		case errors.Is(err, errConnectionClosed):
			// nobody left to tell
		default:
			_ = c.enqueue(serverFrame{Type: frameError, ID: frame.ID, Message: errors.PublicMessage(err)})
		}
	}()
}

func (c *connection) unsubscribe(id string) {
	c.mu.Lock()
	cancel, ok := c.streams[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *connection) forget(id string) {
	c.mu.Lock()
	if cancel, ok := c.streams[id]; ok {
		cancel()
		delete(c.streams, id)
	}
	c.mu.Unlock()
}

// enqueue hands frame to the writer. A client too slow to drain its buffer
// is disconnected rather than allowed to grow it.
func (c *connection) enqueue(frame serverFrame) error {
	select {
	case <-c.closed:
		return errConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return errConnectionClosed
	default:
		c.server.log.Warn("Websocket send buffer full, disconnecting", "user_id", c.identity.UserID)
		c.close(websocket.ClosePolicyViolation, "send buffer full")
		return errConnectionClosed
	}
}

func (c *connection) close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.server.ws.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.close(websocket.CloseGoingAway, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}

// frameSink turns the events of one subscription into "next" frames.
type frameSink struct {
	conn  *connection
	id    string
	topic event.Topic
}

// Ready confirms the subscription once events can no longer be missed.
func (s *frameSink) Ready(context.Context) error {
	return s.conn.enqueue(serverFrame{Type: frameSubscribed, ID: s.id, Topic: string(s.topic)})
}

func (s *frameSink) Consume(_ context.Context, e event.DomainEvent) error {
	return s.conn.enqueue(serverFrame{Type: frameNext, ID: s.id, Topic: string(s.topic), Payload: eventPayload(e)})
}
