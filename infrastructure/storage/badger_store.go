package storage

import (
	"bytes"
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	user:{id}                              user record
//	conv:{id}                              conversation record
//	part:{len}:{conversation}:{user}       participant record
//	member:{len}:{user}:{conversation}     membership index, empty value
//	msg:{len}:{conversation}:{ns}:{id}     message record, ns zero padded to 19 digits
//	msgid:{id}                             message key, used for lookups and duplicates
//
// {len} is the byte length of the id that follows it. Ids come from outside
// and may contain ':', so the length keeps "part:1:a:" from also matching the
// records of id "a:b".
const (
	userPrefix   = "user:"
	convPrefix   = "conv:"
	partPrefix   = "part:"
	memberPrefix = "member:"
	msgPrefix    = "msg:"
	msgIDPrefix  = "msgid:"
)

type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

func (s *BadgerStore) View(ctx context.Context, fn func(tx contract.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// Update runs fn in a single Badger read/write transaction.
// Badger tracks the keys fn reads, so a concurrent commit touching them
// makes this one fail instead of applying partially. fn is then run again
// on fresh state; ErrConflict is returned once the retries are exhausted.
func (s *BadgerStore) Update(ctx context.Context, fn func(tx contract.Tx) error) error {
	return retryOnConflict(ctx, s.log, func() error {
		err := s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn})
		})
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	})
}

type badgerTx struct {
	txn *badger.Txn
}

func userKey(id string) []byte { return []byte(userPrefix + id) }
func convKey(id string) []byte { return []byte(convPrefix + id) }
func msgIDKey(id string) []byte {
	return []byte(msgIDPrefix + id)
}

// scope returns "{prefix}{len(id)}:{id}:", the prefix shared by every key
// nested under id.
func scope(prefix, id string) string {
	return prefix + strconv.Itoa(len(id)) + ":" + id + ":"
}

func partKey(conversationID, userID string) []byte {
	return []byte(scope(partPrefix, conversationID) + userID)
}

func memberKey(userID, conversationID string) []byte {
	return []byte(scope(memberPrefix, userID) + conversationID)
}

// msgKey sorts chronologically thanks to the 19 digit zero padding.
// The id breaks ties between messages created in the same nanosecond.
func msgKey(m chat.Message) []byte {
	return []byte(scope(msgPrefix, m.ConversationID) + formatCursor(m.CreatedAt, m.ID))
}

func (t *badgerTx) get(key []byte, v any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return unmarshal(val, v)
	})
}

func (t *badgerTx) exists(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *badgerTx) set(key []byte, v any) error {
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return t.txn.Set(key, data)
}

// keys collects every key under prefix. Deleting while an iterator is open
// is not allowed, so callers delete after the scan.
func (t *badgerTx) keys(prefix []byte) [][]byte {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	options.Prefix = prefix
	it := t.txn.NewIterator(options)
	defer it.Close()

	var res [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		res = append(res, it.Item().KeyCopy(nil))
	}
	return res
}

func (t *badgerTx) GetUser(_ context.Context, id string) (chat.User, error) {
	var r userRecord
	if err := t.get(userKey(id), &r); err != nil {
		return chat.User{}, err
	}
	return toUser(r), nil
}

func (t *badgerTx) PutUser(_ context.Context, user chat.User) error {
	return t.set(userKey(user.ID), fromUser(user))
}

// populateUser fills in the username; an unknown user keeps only its id.
func (t *badgerTx) populateUser(ctx context.Context, id string) (chat.User, error) {
	user, err := t.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return chat.User{ID: id}, nil
	}
	return user, err
}

func (t *badgerTx) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var r conversationRecord
	if err := t.get(convKey(id), &r); err != nil {
		return chat.Conversation{}, err
	}
	conversation := toConversation(r)

	participants, err := t.ListParticipants(ctx, id)
	if err != nil {
		return chat.Conversation{}, err
	}
	conversation.Participants = participants

	if r.LatestMessageID != nil {
		latest, err := t.GetMessage(ctx, *r.LatestMessageID)
		switch {
		case err == nil:
			conversation.LatestMessage = &latest
		case !errors.Is(err, ErrNotFound):
			return chat.Conversation{}, err
		}
	}
	return conversation, nil
}

func (t *badgerTx) PutConversation(_ context.Context, conversation chat.Conversation) error {
	return t.set(convKey(conversation.ID), fromConversation(conversation))
}

func (t *badgerTx) DeleteConversation(_ context.Context, id string) error {
	ok, err := t.exists(convKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return t.txn.Delete(convKey(id))
}

func (t *badgerTx) ListConversationIDs(_ context.Context, userID string) ([]string, error) {
	prefix := []byte(scope(memberPrefix, userID))
	var ids []string
	for _, key := range t.keys(prefix) {
		ids = append(ids, string(key[len(prefix):]))
	}
	return ids, nil
}

func (t *badgerTx) GetParticipant(ctx context.Context, conversationID, userID string) (chat.Participant, error) {
	var r participantRecord
	if err := t.get(partKey(conversationID, userID), &r); err != nil {
		return chat.Participant{}, err
	}
	participant := toParticipant(r)
	user, err := t.populateUser(ctx, participant.UserID)
	if err != nil {
		return chat.Participant{}, err
	}
	participant.User = user
	return participant, nil
}

func (t *badgerTx) ListParticipants(ctx context.Context, conversationID string) ([]chat.Participant, error) {
	prefix := []byte(scope(partPrefix, conversationID))
	options := badger.DefaultIteratorOptions
	options.Prefix = prefix
	it := t.txn.NewIterator(options)

	var records []participantRecord
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var r participantRecord
		if err := it.Item().Value(func(val []byte) error {
			return unmarshal(val, &r)
		}); err != nil {
			it.Close()
			return nil, err
		}
		records = append(records, r)
	}
	it.Close()

	participants := make([]chat.Participant, 0, len(records))
	for _, r := range records {
		p := toParticipant(r)
		user, err := t.populateUser(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		p.User = user
		participants = append(participants, p)
	}
	return participants, nil
}

func (t *badgerTx) PutParticipant(_ context.Context, participant chat.Participant) error {
	if err := t.set(partKey(participant.ConversationID, participant.UserID), fromParticipant(participant)); err != nil {
		return err
	}
	return t.txn.Set(memberKey(participant.UserID, participant.ConversationID), nil)
}

func (t *badgerTx) DeleteParticipants(_ context.Context, conversationID string) error {
	prefix := []byte(scope(partPrefix, conversationID))
	for _, key := range t.keys(prefix) {
		userID := string(key[len(prefix):])
		if err := t.txn.Delete(key); err != nil {
			return err
		}
		if err := t.txn.Delete(memberKey(userID, conversationID)); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	item, err := t.txn.Get(msgIDKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Message{}, ErrNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return chat.Message{}, err
	}
	var r messageRecord
	if err = t.get(key, &r); err != nil {
		return chat.Message{}, err
	}
	message := toMessage(r)
	if message.Sender, err = t.populateUser(ctx, message.SenderID); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

func (t *badgerTx) PutMessage(_ context.Context, message chat.Message) error {
	ok, err := t.exists(msgIDKey(message.ID))
	if err != nil {
		return err
	}
	if ok {
		return ErrDuplicate
	}
	key := msgKey(message)
	if err = t.set(key, fromMessage(message)); err != nil {
		return err
	}
	return t.txn.Set(msgIDKey(message.ID), key)
}

// ListMessages walks the conversation in reverse key order, newest first.
// The cursor is the "{ns}:{id}" suffix of the last message returned; the next
// page starts strictly after it. A nil cursor is returned once history is exhausted.
func (t *badgerTx) ListMessages(ctx context.Context, conversationID string, cursor *string, limit int) ([]chat.Message, *string, error) {
	if cursor != nil {
		if _, _, err := parseCursor(*cursor); err != nil {
			return nil, nil, err
		}
	}
	prefixStr := scope(msgPrefix, conversationID)
	prefix := []byte(prefixStr)
	options := badger.DefaultIteratorOptions
	options.Reverse = true
	it := t.txn.NewIterator(options)

	var seekKey []byte
	switch cursor {
	case nil:
		// 0xFF sorts after every digit, so the reverse seek lands on the newest key
		seekKey = append([]byte(prefixStr), 0xFF)
	default:
		seekKey = []byte(prefixStr + *cursor)
	}
	it.Seek(seekKey)
	if cursor != nil && it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seekKey) {
		it.Next()
	}

	var records []messageRecord
	var lastKey string
	var more bool
	for ; it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && len(records) == limit {
			more = true
			break
		}
		item := it.Item()
		lastKey = string(item.Key()[len(prefix):])
		var r messageRecord
		if err := item.Value(func(val []byte) error {
			return unmarshal(val, &r)
		}); err != nil {
			it.Close()
			return nil, nil, err
		}
		records = append(records, r)
	}
	it.Close()

	senders := make(map[string]chat.User)
	messages := make([]chat.Message, 0, len(records))
	for _, r := range records {
		m := toMessage(r)
		sender, ok := senders[m.SenderID]
		if !ok {
			var err error
			if sender, err = t.populateUser(ctx, m.SenderID); err != nil {
				return nil, nil, err
			}
			senders[m.SenderID] = sender
		}
		m.Sender = sender
		messages = append(messages, m)
	}

	if !more {
		return messages, nil, nil
	}
	return messages, &lastKey, nil
}

func (t *badgerTx) DeleteMessages(_ context.Context, conversationID string) error {
	prefix := []byte(scope(msgPrefix, conversationID))
	for _, key := range t.keys(prefix) {
		// suffix is "{ns}:{id}"
		parts := strings.SplitN(string(key[len(prefix):]), ":", 2)
		if len(parts) == 2 {
			if err := t.txn.Delete(msgIDKey(parts[1])); err != nil {
				return err
			}
		}
		if err := t.txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Stats counts records per entity.
func (s *BadgerStore) Stats(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := map[string]int{}
	err := s.db.View(func(txn *badger.Txn) error {
		t := &badgerTx{txn: txn}
		for _, prefix := range []string{userPrefix, convPrefix, partPrefix, msgPrefix} {
			counts[strings.TrimSuffix(prefix, ":")] = len(t.keys([]byte(prefix)))
		}
		return nil
	})
	return counts, err
}

// Prefixes returns the record prefixes in display order.
func Prefixes() []string {
	res := []string{userPrefix, convPrefix, partPrefix, memberPrefix, msgPrefix, msgIDPrefix}
	sort.Strings(res)
	return res
}
