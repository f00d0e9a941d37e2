package agent

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed exchange.
type ErrorKind string

const (
	// KindNetwork covers connection failures, timeouts and cancellation.
	KindNetwork ErrorKind = "network"
	// KindStatus means the service answered with a non-success status.
	KindStatus ErrorKind = "status"
	// KindSchema means the reply body did not match the expected shape.
	KindSchema ErrorKind = "schema"
)

// Sentinel errors for schema failures.
var (
	errMissingEnvelope = errors.New("missing mentorResponse object")
	errMissingContent  = errors.New("mentorResponse.content is not a string")
	errEmptyHref       = errors.New("citation has empty href")
)

// TransportError is returned by every Transport on a failed exchange.
type TransportError struct {
	Kind ErrorKind
	// StatusCode is the HTTP status for KindStatus over HTTP.
	StatusCode int
	// Status is the textual status (gRPC code name, or HTTP status line).
	Status string
	Err    error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.StatusCode != 0 {
			return fmt.Sprintf("API error: %d", e.StatusCode)
		}
		return "API error: " + e.Status
	case KindSchema:
		return fmt.Sprintf("invalid response: %v", e.Err)
	default:
		if e.Err == nil {
			return "network error"
		}
		return fmt.Sprintf("network error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsKind reports whether err is a TransportError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}

func networkError(err error) *TransportError {
	return &TransportError{Kind: KindNetwork, Err: err}
}

func schemaError(err error) *TransportError {
	return &TransportError{Kind: KindSchema, Err: err}
}
