// Package model holds the entity types and error taxonomy shared across
// every component of the core.
package model

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into the small closed set of outcomes the
// external interface maps to HTTP status codes.
type Kind string

const (
	KindAuth                 Kind = "auth"
	KindNotFound             Kind = "not_found"
	KindValidation           Kind = "validation"
	KindConflict             Kind = "conflict"
	KindProvider             Kind = "provider"
	KindNotificationFailure  Kind = "notification_failure"
)

// Error is the taxonomy described in SPEC_FULL.md §7. Components return
// *Error (or wrap one) rather than ad hoc sentinel values so the transport
// layer has exactly one place (server.writeModelError) that knows about status
// codes.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, model.ErrNotFound) style checks against the kind,
// independent of message/cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// AuthError reports a missing/invalid key (401) or a forbidden scope (403);
// callers distinguish the two via IsForbidden.
func AuthError(forbidden bool, format string, args ...any) *Error {
	e := newErr(KindAuth, format, args...)
	if forbidden {
		e.Message = "forbidden: " + e.Message
	}
	return e
}

// ErrNotFound is the sentinel used with errors.Is for 404 conditions.
var ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}

func NotFoundError(format string, args ...any) *Error {
	return newErr(KindNotFound, format, args...)
}

func ValidationError(format string, args ...any) *Error {
	return newErr(KindValidation, format, args...)
}

func ConflictError(format string, args ...any) *Error {
	return newErr(KindConflict, format, args...)
}

func ConflictErrorWrap(cause error, format string, args ...any) *Error {
	return wrapErr(KindConflict, cause, format, args...)
}

func ProviderError(cause error, format string, args ...any) *Error {
	return wrapErr(KindProvider, cause, format, args...)
}

// IsForbidden reports whether an AuthError was constructed with forbidden=true.
// The transport layer uses this to pick 401 vs 403.
func IsForbidden(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindAuth {
		return len(e.Message) >= 10 && e.Message[:10] == "forbidden:"
	}
	return false
}
