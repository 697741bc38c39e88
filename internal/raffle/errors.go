package raffle

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested order does not exist. The
// buyer-confirm path never surfaces it directly; it is folded into
// ErrInvalidToken so callers cannot probe which order ids exist.
var ErrNotFound = errors.New("order not found")

// ErrInvalidToken covers both "no such order" and "wrong confirmation
// token". Handlers must answer it with one generic message.
var ErrInvalidToken = errors.New("invalid request")

// ValidationError reports malformed reservation input. User-correctable,
// never retried automatically.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError reports that an entity is not in an eligible state for the
// requested transition. Status carries the entity's actual state so the
// caller can refresh and retry.
type ConflictError struct {
	Msg    string
	Status string
}

func (e *ConflictError) Error() string { return e.Msg }

func newConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
