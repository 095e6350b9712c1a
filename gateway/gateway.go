// Package gateway binds a subscribing client to one topic of the event bus
// and forwards only the events that client is allowed to see.
package gateway

import (
	"chat-sync/contract"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
)

// Authorizer is asked before a conversation scoped stream is opened.
type Authorizer interface {
	AuthorizeConversation(ctx context.Context, userID, conversationID string) error
}

type Gateway struct {
	log        *slog.Logger
	bus        contract.EventBus
	authorizer Authorizer
}

func NewGateway(log *slog.Logger, bus contract.EventBus) *Gateway {
	return &Gateway{log: log, bus: bus}
}

// WithAuthorizer makes message.sent streams require membership of the
// conversation at subscription time. Delivery itself stays scoped to the
// conversation id.
func (g *Gateway) WithAuthorizer(a Authorizer) *Gateway {
	g.authorizer = a
	return g
}

// Stream subscribes to topic and hands every event visible to sub to sink,
// in publish order. A sink implementing contract.ReadySink is told once the
// subscription is in place. It returns nil once ctx is done, or the sink's
// error. Events still queued when it returns are dropped.
func (g *Gateway) Stream(ctx context.Context, sub event.Subscriber, topic event.Topic, sink contract.EventSink) error {
	if err := g.Open(ctx, sub, topic); err != nil {
		return err
	}

	subscription := g.bus.Subscribe(topic)
	defer subscription.Close()
	g.log.Debug("Stream opened", "user_id", sub.UserID, "topic", topic, "conversation_id", sub.ConversationID)
	if ready, ok := sink.(contract.ReadySink); ok {
		if err := ready.Ready(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			g.log.Debug("Stream closed", "user_id", sub.UserID, "topic", topic)
			return nil
		case evt, ok := <-subscription.Events():
			if !ok {
				return nil
			}
			if !event.Visible(evt, sub) {
				continue
			}
			if err := sink.Consume(ctx, evt); err != nil {
				g.log.Debug("Sink refused event, closing stream", "user_id", sub.UserID, "topic", topic, "error", err)
				return err
			}
		}
	}
}

// Open checks that sub may stream topic without subscribing.
func (g *Gateway) Open(ctx context.Context, sub event.Subscriber, topic event.Topic) error {
	if sub.UserID == "" {
		return errors.ErrUnauthorized
	}
	if !topic.Valid() {
		return fmt.Errorf("%w: %w %q", errors.ErrValidationFailed, errors.ErrUnknownTopic, topic)
	}
	if topic != event.MessageSentTopic {
		return nil
	}
	if sub.ConversationID == "" {
		return fmt.Errorf("%w: %s needs a conversation id", errors.ErrValidationFailed, topic)
	}
	if g.authorizer != nil {
		return g.authorizer.AuthorizeConversation(ctx, sub.UserID, sub.ConversationID)
	}
	return nil
}
