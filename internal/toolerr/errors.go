// Package toolerr defines the error taxonomy shared by the registry,
// session router, and service container. Errors carry a Kind so callers
// can classify failures without string matching, while still flattening
// to the {code, message, data} JSON-RPC envelope at the wire boundary.
package toolerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an error by the handling policy it implies, not by Go type.
type Kind string

const (
	KindInvalidCall       Kind = "invalid_call"
	KindUnknownTool       Kind = "unknown_tool"
	KindUnknownAction     Kind = "unknown_action"
	KindServiceUnavailable Kind = "service_unavailable"
	KindTransportError    Kind = "transport_error"
	KindTimeout           Kind = "timeout_error"
	KindToolError         Kind = "tool_error"
	KindInstallation      Kind = "installation_error"
	KindStartup           Kind = "startup_error"
	KindInternal          Kind = "internal_error"
)

// Error is the concrete error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Data    json.RawMessage
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, toolerr.ErrX) comparisons against the sentinels
// below: two *Error values match when their Kinds are equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithData attaches structured data to an error, returning a copy.
func (e *Error) WithData(v any) *Error {
	cp := *e
	data, err := json.Marshal(v)
	if err == nil {
		cp.Data = data
	}
	return &cp
}

// KindOf extracts the Kind of err, defaulting to KindInternal for unrecognized errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// sentinel builds a zero-value *Error used purely as a target for Is() kind comparisons.
func sentinel(kind Kind) *Error { return &Error{Kind: kind} }

var (
	ErrInvalidCall        = sentinel(KindInvalidCall)
	ErrUnknownTool        = sentinel(KindUnknownTool)
	ErrUnknownAction      = sentinel(KindUnknownAction)
	ErrServiceUnavailable = sentinel(KindServiceUnavailable)
	ErrTransport          = sentinel(KindTransportError)
	ErrTimeout            = sentinel(KindTimeout)
	ErrToolError          = sentinel(KindToolError)
	ErrInstallation       = sentinel(KindInstallation)
	ErrStartup            = sentinel(KindStartup)
	ErrInternal           = sentinel(KindInternal)
)
