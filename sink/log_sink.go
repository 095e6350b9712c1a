// Package sink holds in-process consumers of domain events.
package sink

import (
	"chat-sync/domain/event"
	"context"
	"log/slog"

	"github.com/samber/lo"
)

// LogSink writes one structured audit line per domain event.
// Message bodies are never logged.
type LogSink struct {
	log   *slog.Logger
	level slog.Level
}

func NewLogSink(log *slog.Logger, level slog.Level) LogSink {
	return LogSink{log: log, level: level}
}

func (s LogSink) Consume(ctx context.Context, e event.DomainEvent) error {
	s.log.Log(ctx, s.level, "Domain event", append([]any{"topic", e.Topic()}, attrs(e)...)...)
	return nil
}

func attrs(e event.DomainEvent) []any {
	switch evt := e.(type) {
	case event.ConversationCreated:
		return []any{"conversation_id", evt.Conversation.ID, "participants", evt.Conversation.ParticipantIDs()}
	case event.ConversationUpdated:
		return []any{"conversation_id", evt.Conversation.ID, "latest_message_id", lo.FromPtr(evt.Conversation.LatestMessageID)}
	case event.ConversationDeleted:
		return []any{"conversation_id", evt.ConversationID, "participants", evt.ParticipantIDs}
	case event.MessageSent:
		return []any{"conversation_id", evt.Message.ConversationID, "message_id", evt.Message.ID, "sender_id", evt.Message.SenderID}
	default:
		return nil
	}
}
