package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrValidation = errors.New("validation failed")
	ErrNetwork    = errors.New("backing store unavailable")
	// ErrAccountNotFound is returned by password auth when the account
	// cannot be authenticated and may not exist yet.
	ErrAccountNotFound = errors.New("account not found")
)

// Error describes a failed store call. Kind is one of the sentinel errors
// above, so callers can use errors.Is.
type Error struct {
	Op         string
	Collection string
	Status     int
	Message    string
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %v (status %d): %s", e.Op, e.Collection, e.Kind, e.Status, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %s", e.Op, e.Collection, e.Kind, msg)
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, collection string, kind error, msg string) *Error {
	return &Error{Op: op, Collection: collection, Kind: kind, Message: msg}
}

func networkError(op, collection string, err error) *Error {
	return &Error{Op: op, Collection: collection, Kind: ErrNetwork, Err: err}
}

// kindForStatus maps a non-2xx HTTP status onto the error taxonomy.
func kindForStatus(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status == 400:
		return ErrValidation
	default:
		return ErrNetwork
	}
}
