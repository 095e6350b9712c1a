package storage

import (
	"chat-sync/errors"
	"fmt"
)

var (
	ErrNotFound  = errors.ErrRecordNotFound
	ErrDuplicate = errors.ErrDuplicateRecord
	ErrConflict  = errors.ErrTxConflict

	// ErrInvalidCursor is a client mistake, so it matches ErrValidationFailed.
	ErrInvalidCursor = fmt.Errorf("%w: malformed cursor", errors.ErrValidationFailed)
)
