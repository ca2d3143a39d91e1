package api

import (
	"errors"
	"fmt"
)

// ErrInvalidAction is returned when an entry cannot be normalized into an
// action, e.g. because its type is empty.
var ErrInvalidAction = errors.New("invalid action")

// DuplicateHandlerError is returned when a handler is registered twice for
// the same action type without resubscribing.
type DuplicateHandlerError struct {
	Type string
}

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("handler for %s already registered", e.Type)
}

// MissingHandlerError is returned when no handler matches an action type.
// It signals a configuration defect and is never swallowed by the
// optional-action policy.
type MissingHandlerError struct {
	Type string
}

func (e *MissingHandlerError) Error() string {
	return fmt.Sprintf("handler with type %s is missing", e.Type)
}

// HandlerPanicError wraps a value recovered from a panicking handler.
type HandlerPanicError struct {
	Type  string
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler for %s panicked: %v", e.Type, e.Value)
}

// TransportError reports a non-2xx response from a remote resolver.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("prepare transport: status %d", e.StatusCode)
	}
	return fmt.Sprintf("prepare transport: status %d: %s", e.StatusCode, e.Body)
}

// IsDuplicateHandler reports whether err is (or wraps) a DuplicateHandlerError.
func IsDuplicateHandler(err error) bool {
	var de *DuplicateHandlerError
	return errors.As(err, &de)
}

// IsMissingHandler reports whether err is (or wraps) a MissingHandlerError.
func IsMissingHandler(err error) bool {
	var me *MissingHandlerError
	return errors.As(err, &me)
}
