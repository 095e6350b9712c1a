package services

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"context"
	"log/slog"
	"sync"
)

type IUserService interface {
	EnsureUser(ctx context.Context, user chat.User) error
}

// UserService mirrors authenticated identities into the user table, so
// that they can be named as participants. A username, once stored, is
// never replaced from a token.
type UserService struct {
	log   *slog.Logger
	store contract.Store
	known sync.Map // ids whose stored username is set
}

func NewUserService(log *slog.Logger, store contract.Store) *UserService {
	return &UserService{log: log, store: store}
}

// EnsureUser stores user when the id is unknown, or when the stored record
// has no username yet.
func (s *UserService) EnsureUser(ctx context.Context, user chat.User) error {
	if user.ID == "" {
		return errors.ErrUnauthorized
	}
	if _, ok := s.known.Load(user.ID); ok {
		return nil
	}
	var named bool
	err := s.store.Update(ctx, func(tx contract.Tx) error {
		existing, err := tx.GetUser(ctx, user.ID)
		switch {
		case err == nil && existing.Username != "":
			named = true
			return nil
		case err != nil && !errors.Is(err, errors.ErrRecordNotFound):
			return err
		}
		named = user.Username != ""
		return tx.PutUser(ctx, user)
	})
	if err != nil {
		s.log.Error("Unable to store user", "user_id", user.ID, "error", err)
		return errors.ErrTransactionFailed
	}
	if named {
		s.known.Store(user.ID, struct{}{})
	}
	return nil
}
