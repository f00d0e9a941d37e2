package session

import (
	"errors"
	"fmt"
)

// ErrInputRejected is wrapped by every guard rejection of Submit. Callers
// treat it as a silent no-op.
var ErrInputRejected = errors.New("input rejected")

var (
	// ErrEmptyInput is returned for empty or whitespace-only text.
	ErrEmptyInput = fmt.Errorf("%w: empty input", ErrInputRejected)
	// ErrBusy is returned while an exchange is in flight.
	ErrBusy = fmt.Errorf("%w: request in flight", ErrInputRejected)
	// ErrClosed is returned by every mutating call after Close.
	ErrClosed = errors.New("session closed")
)

// Persistence operations reported in PersistenceError.
const (
	OpReadCorrupt = "readCorrupt"
	OpWriteFailed = "writeFailed"
)

// PersistenceError describes a store failure. The session always recovers
// from it; it is only ever logged.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
