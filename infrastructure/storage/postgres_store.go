package storage

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id       TEXT PRIMARY KEY,
	username TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS conversations (
	id                TEXT PRIMARY KEY,
	latest_message_id TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS conversation_participants (
	id                      TEXT PRIMARY KEY,
	conversation_id         TEXT NOT NULL REFERENCES conversations (id),
	user_id                 TEXT NOT NULL REFERENCES users (id),
	has_seen_latest_message BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (conversation_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations (id),
	sender_id       TEXT NOT NULL REFERENCES users (id),
	body            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation_created_idx
	ON messages (conversation_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS participants_user_idx
	ON conversation_participants (user_id);
`

// PostgresStore keeps the four entities in relational tables.
// Deletes are issued explicitly inside the transaction; no ON DELETE CASCADE is relied upon.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPostgresStore(ctx context.Context, databaseURL string, log *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return &PostgresStore{pool: pool, log: log}, nil
}

// Migrate creates the tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Stats counts rows per entity, keyed like the Badger record prefixes.
func (s *PostgresStore) Stats(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for name, table := range map[string]string{
		"user": "users",
		"conv": "conversations",
		"part": "conversation_participants",
		"msg":  "messages",
	} {
		var n int
		if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx contract.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

// Update runs fn in a serializable transaction so that concurrent sends
// and deletes on the same conversation cannot interleave.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx contract.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

// run retries the whole transaction on serialization failures and deadlocks.
func (s *PostgresStore) run(ctx context.Context, options pgx.TxOptions, fn func(tx contract.Tx) error) error {
	return retryOnConflict(ctx, s.log, func() error {
		return s.runOnce(ctx, options, fn)
	})
}

func (s *PostgresStore) runOnce(ctx context.Context, options pgx.TxOptions, fn func(tx contract.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, options)
	if err != nil {
		return mapPgError(err)
	}
	defer func() {
		// No-op once committed
		_ = tx.Rollback(ctx)
	}()

	if err = fn(&postgresTx{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		s.log.Debug("Postgres commit failed", "error", err)
		return mapPgError(err)
	}
	return nil
}

// mapPgError translates constraint and serialization failures into storage errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	}
	return err
}

type postgresTx struct {
	tx pgx.Tx
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (t *postgresTx) GetUser(ctx context.Context, id string) (chat.User, error) {
	var user chat.User
	err := t.tx.QueryRow(ctx, `SELECT id, username FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Username)
	return user, notFound(err)
}

func (t *postgresTx) PutUser(ctx context.Context, user chat.User) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`,
		user.ID, user.Username)
	return err
}

func (t *postgresTx) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var conversation chat.Conversation
	err := t.tx.QueryRow(ctx, `
		SELECT id, latest_message_id, created_at, updated_at
		FROM conversations WHERE id = $1`, id).
		Scan(&conversation.ID, &conversation.LatestMessageID, &conversation.CreatedAt, &conversation.UpdatedAt)
	if err != nil {
		return chat.Conversation{}, notFound(err)
	}
	conversation.CreatedAt = conversation.CreatedAt.UTC()
	conversation.UpdatedAt = conversation.UpdatedAt.UTC()

	if conversation.Participants, err = t.ListParticipants(ctx, id); err != nil {
		return chat.Conversation{}, err
	}
	if conversation.LatestMessageID != nil {
		latest, err := t.GetMessage(ctx, *conversation.LatestMessageID)
		switch {
		case err == nil:
			conversation.LatestMessage = &latest
		case !errors.Is(err, ErrNotFound):
			return chat.Conversation{}, err
		}
	}
	return conversation, nil
}

func (t *postgresTx) PutConversation(ctx context.Context, c chat.Conversation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO conversations (id, latest_message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET latest_message_id = EXCLUDED.latest_message_id, updated_at = EXCLUDED.updated_at`,
		c.ID, c.LatestMessageID, c.CreatedAt, c.UpdatedAt)
	return err
}

func (t *postgresTx) DeleteConversation(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT conversation_id FROM conversation_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

const participantColumns = `
	p.id, p.conversation_id, p.user_id, p.has_seen_latest_message, COALESCE(u.username, '')
	FROM conversation_participants p LEFT JOIN users u ON u.id = p.user_id`

func scanParticipant(row pgx.CollectableRow) (chat.Participant, error) {
	var p chat.Participant
	err := row.Scan(&p.ID, &p.ConversationID, &p.UserID, &p.HasSeenLatestMessage, &p.User.Username)
	p.User.ID = p.UserID
	return p, err
}

func (t *postgresTx) GetParticipant(ctx context.Context, conversationID, userID string) (chat.Participant, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+participantColumns+`
		WHERE p.conversation_id = $1 AND p.user_id = $2`, conversationID, userID)
	if err != nil {
		return chat.Participant{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanParticipant)
	return p, notFound(err)
}

func (t *postgresTx) ListParticipants(ctx context.Context, conversationID string) ([]chat.Participant, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+participantColumns+`
		WHERE p.conversation_id = $1 ORDER BY p.user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanParticipant)
}

func (t *postgresTx) PutParticipant(ctx context.Context, p chat.Participant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO conversation_participants (id, conversation_id, user_id, has_seen_latest_message)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET has_seen_latest_message = EXCLUDED.has_seen_latest_message`,
		p.ID, p.ConversationID, p.UserID, p.HasSeenLatestMessage)
	return err
}

func (t *postgresTx) DeleteParticipants(ctx context.Context, conversationID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID)
	return err
}

const messageColumns = `
	m.id, m.conversation_id, m.sender_id, m.body, m.created_at, m.updated_at, COALESCE(u.username, '')
	FROM messages m LEFT JOIN users u ON u.id = m.sender_id`

func scanMessage(row pgx.CollectableRow) (chat.Message, error) {
	var m chat.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt, &m.UpdatedAt, &m.Sender.Username)
	m.Sender.ID = m.SenderID
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, err
}

func (t *postgresTx) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+messageColumns+` WHERE m.id = $1`, id)
	if err != nil {
		return chat.Message{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMessage)
	return m, notFound(err)
}

func (t *postgresTx) PutMessage(ctx context.Context, m chat.Message) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.CreatedAt, m.UpdatedAt)
	return mapPgError(err)
}

// ListMessages uses the same "{ns}:{id}" cursor as the Badger store.
func (t *postgresTx) ListMessages(ctx context.Context, conversationID string, cursor *string, limit int) ([]chat.Message, *string, error) {
	query := `SELECT ` + messageColumns + ` WHERE m.conversation_id = $1`
	args := []any{conversationID}
	if cursor != nil {
		at, id, err := parseCursor(*cursor)
		if err != nil {
			return nil, nil, err
		}
		query += ` AND (m.created_at, m.id) < ($2, $3)`
		args = append(args, at, id)
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC`
	if limit > 0 {
		// One extra row tells whether another page exists
		query += fmt.Sprintf(` LIMIT %d`, limit+1)
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	messages, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 || len(messages) <= limit {
		return messages, nil, nil
	}
	messages = messages[:limit]
	last := messages[len(messages)-1]
	next := formatCursor(last.CreatedAt, last.ID)
	return messages, &next, nil
}

func (t *postgresTx) DeleteMessages(ctx context.Context, conversationID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	return err
}
