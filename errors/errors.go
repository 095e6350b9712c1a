package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Taxonomy surfaced to callers. Store details never cross the service boundary.
var (
	ErrUnauthorized      = fmt.Errorf("unauthorized")
	ErrNotFound          = fmt.Errorf("not found")
	ErrValidationFailed  = fmt.Errorf("validation failed")
	ErrTransactionFailed = fmt.Errorf("transaction failed")
)

// Operation failures. Each one is returned wrapped together with a taxonomy error.
var (
	ErrCreateFailed = fmt.Errorf("error creating conversation")
	ErrDeleteFailed = fmt.Errorf("failed to delete conversation")
	ErrSendFailed   = fmt.Errorf("error sending message")
)

// Storage level failures, never returned to clients as such.
var (
	ErrRecordNotFound  = fmt.Errorf("record not found")
	ErrDuplicateRecord = fmt.Errorf("record already exists")
	ErrTxConflict      = fmt.Errorf("transaction conflict")
)

var (
	ErrWorkerPanic    = fmt.Errorf("worker panic")
	ErrInvalidPayload = fmt.Errorf("invalid payload")
	ErrUnknownTopic   = fmt.Errorf("unknown topic")
)

// Wrap joins an operation failure with its taxonomy kind so that
// errors.Is matches both.
func Wrap(op, kind error) error {
	return fmt.Errorf("%w: %w", op, kind)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// HTTPStatus maps a service error to the status code returned to clients.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrValidationFailed):
		return http.StatusBadRequest
	case stderrors.Is(err, ErrTransactionFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text a client may see for err.
func PublicMessage(err error) string {
	for _, known := range []error{ErrCreateFailed, ErrDeleteFailed, ErrSendFailed,
		ErrUnauthorized, ErrNotFound, ErrValidationFailed, ErrTransactionFailed} {
		if stderrors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}
