package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies registry failures into a stable taxonomy that
// callers can branch on without parsing messages.
type ErrorKind string

const (
	// KindValidation marks bad input; nothing was persisted.
	KindValidation ErrorKind = "validation"
	// KindNotFound marks an id with no live record.
	KindNotFound ErrorKind = "not_found"
	// KindConflict marks a duplicate create where uniqueness is required.
	KindConflict ErrorKind = "conflict"
	// KindInvalidOperation marks an operation unsupported in the current
	// store mode, such as mutating a bare store.
	KindInvalidOperation ErrorKind = "invalid_operation"
	// KindBackendUnavailable marks a store or index that is not initialized.
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	// KindTransient marks a network or disk hiccup eligible for bounded retry.
	KindTransient ErrorKind = "transient"
	// KindDegraded marks an index failure after a successful versioned
	// commit; the write still reports success.
	KindDegraded ErrorKind = "degraded"
)

// RegistryError carries an ErrorKind alongside a wrapped cause.
type RegistryError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// NewError creates a RegistryError with the given kind and message.
func NewError(kind ErrorKind, msg string) *RegistryError {
	return &RegistryError{Kind: kind, Msg: msg}
}

// WrapError creates a RegistryError wrapping an underlying cause.
func WrapError(kind ErrorKind, msg string, err error) *RegistryError {
	return &RegistryError{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindTransient if err does
// not carry one. Unclassified failures are treated as retryable rather
// than silently dropped.
func KindOf(err error) ErrorKind {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *RegistryError
	return errors.As(err, &re) && re.Kind == kind
}
