package coordinator

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification returned to callers. Backend error
// text is never passed through verbatim; the wrapped cause stays available
// for logs via errors.Unwrap.
type Kind string

const (
	// KindNotFound means the entity does not exist in the relational store
	KindNotFound Kind = "not_found"
	// KindConflict means a compare-and-set observed a concurrent mutation
	KindConflict Kind = "conflict"
	// KindSessionInactive means a write was attempted on a non-active session
	KindSessionInactive Kind = "session_inactive"
	// KindBackendUnavailable means a collaborator timed out or refused the connection
	KindBackendUnavailable Kind = "backend_unavailable"
	// KindPartialFailure means some backend effects committed and compensation
	// did not fully complete; the reconciliation sweep will converge the rest
	KindPartialFailure Kind = "partial_failure"
	// KindInvalid means the request failed validation before any backend write
	KindInvalid Kind = "invalid"
)

// Error is the typed failure returned by coordinator operations
type Error struct {
	Kind    Kind
	Message string
	Entity  string // "session", "document", "chunk", or a backend name
	ID      string
	cause   error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Entity, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// ErrNotFound constructs a typed not-found error
func ErrNotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: entity + " not found"}
}

// ErrConflict constructs a typed conflict error for a failed compare-and-set
func ErrConflict(entity, id, message string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, ID: id, Message: message}
}

// ErrSessionInactive constructs a typed error for writes against a
// non-active session
func ErrSessionInactive(id string, status string) *Error {
	return &Error{Kind: KindSessionInactive, Entity: "session", ID: id,
		Message: fmt.Sprintf("session is %s, writes require an active session", status)}
}

// ErrBackendUnavailable wraps a backend connectivity failure without leaking
// its message to callers
func ErrBackendUnavailable(backend string, cause error) *Error {
	return &Error{Kind: KindBackendUnavailable, Entity: backend,
		Message: backend + " is unavailable", cause: cause}
}

// ErrPartialFailure records a half-applied operation with enough identifiers
// for reconciliation
func ErrPartialFailure(entity, id, message string, cause error) *Error {
	return &Error{Kind: KindPartialFailure, Entity: entity, ID: id, Message: message, cause: cause}
}

// ErrInvalid constructs a validation error
func ErrInvalid(message string) *Error {
	return &Error{Kind: KindInvalid, Message: message}
}

// KindOf extracts the error kind, or "" for untyped errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
