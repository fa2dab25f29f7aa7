package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mykrex/dimeloc-backend/internal/repository"
)

type Kind string

const (
	KindValidation Kind = "VALIDATION_ERROR"
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindState      Kind = "INVALID_STATE"
	KindDataSource Kind = "DATA_SOURCE_ERROR"
	KindProvider   Kind = "PROVIDER_ERROR"
)

// Error is the typed failure every service operation returns. Fields lists the offending
// request fields for validation failures.
type Error struct {
	Kind    Kind
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " "))
	}
	if len(e.Fields) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind-only sentinels below, so errors.Is(err, ErrNotFound) holds for any
// not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrState      = &Error{Kind: KindState}
	ErrDataSource = &Error{Kind: KindDataSource}

	// ErrVisitAlreadyCompleted is returned by Finish on a completed visit. It is a
	// conflict, not a state violation.
	ErrVisitAlreadyCompleted = &Error{Kind: KindConflict, Message: "visit already completed"}
)

func validationError(msg string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

func notFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func stateError(msg string) *Error {
	return &Error{Kind: KindState, Message: msg}
}

// storageError maps repository sentinels onto service kinds. Anything else passes through
// unchanged and surfaces as an internal error.
func storageError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFound(what + " not found")
	case errors.Is(err, repository.ErrDuplicate):
		return conflict(what + " already exists")
	case errors.Is(err, repository.ErrConflict):
		return &Error{Kind: KindConflict, Message: what + " was modified concurrently", Err: err}
	case errors.Is(err, repository.ErrCatalogMissing):
		return &Error{Kind: KindDataSource, Message: "store catalog unavailable", Err: err}
	default:
		return err
	}
}

// AsError returns the typed service error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
