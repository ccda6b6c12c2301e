package fieldsync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record or queue item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a record that is already live.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflicted is returned when mutating a record frozen by an unresolved conflict.
	ErrConflicted = errors.New("entity is conflicted")
	// ErrNotConflicted is returned when resolving a record that has no conflict.
	ErrNotConflicted = errors.New("entity is not conflicted")
	// ErrConflict is returned when the server rejected a write as conflicting.
	ErrConflict = errors.New("remote conflict")
	// ErrRejected is returned when the server permanently rejected a write.
	ErrRejected = errors.New("remote rejected")
	// ErrUnavailable is returned when the server could not be reached.
	ErrUnavailable = errors.New("remote unavailable")
	// ErrInvalid is returned for malformed requests.
	ErrInvalid = errors.New("invalid request")
)

// ErrorKind classifies a failed remote call.
type ErrorKind string

const (
	KindRetryable ErrorKind = "retryable"
	KindPermanent ErrorKind = "permanent"
	KindConflict  ErrorKind = "conflict"
	// KindExhausted marks a retryable failure that hit the retry ceiling.
	KindExhausted ErrorKind = "exhausted"
)

// RemoteError carries a classified gateway failure back to the caller.
type RemoteError struct {
	Kind       ErrorKind
	StatusCode int
	Reason     string
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s remote failure (status %d): %s", e.Kind, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s remote failure: %s", e.Kind, e.Reason)
}

func (e *RemoteError) Unwrap() error {
	switch e.Kind {
	case KindConflict:
		return ErrConflict
	case KindPermanent, KindExhausted:
		return ErrRejected
	default:
		return ErrUnavailable
	}
}

func remoteErrorFrom(res Result) *RemoteError {
	return &RemoteError{Kind: res.Kind.ErrorKind(), StatusCode: res.StatusCode, Reason: res.Reason}
}
