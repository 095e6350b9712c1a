package services

import (
	"chat-sync/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateCommand checks the struct tags of cmd. A failure is reported as
// ErrValidationFailed, joined with op when there is one.
func validateCommand(op error, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	if op == nil {
		return fmt.Errorf("%w: %v", errors.ErrValidationFailed, err)
	}
	return fmt.Errorf("%w: %v", errors.Wrap(op, errors.ErrValidationFailed), err)
}

// storeFailure maps a store error to the taxonomy kind a caller sees.
func storeFailure(op, err error) error {
	switch {
	case errors.Is(err, errors.ErrRecordNotFound):
		return errors.Wrap(op, errors.ErrNotFound)
	case errors.Is(err, errors.ErrDuplicateRecord):
		return errors.Wrap(op, errors.ErrValidationFailed)
	default:
		return errors.Wrap(op, errors.ErrTransactionFailed)
	}
}
