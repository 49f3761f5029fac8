package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrMissingView = errors.New("secured view does not exist")
)

// Kind classifies a gateway failure so callers can pick the right UX:
// prompting for narrower filters, showing a permission error, backing off.
type Kind string

const (
	KindParse               Kind = "parse_error"
	KindAuthorization       Kind = "authorization_error"
	KindCostExceeded        Kind = "cost_exceeded"
	KindConcurrencyExceeded Kind = "concurrency_exceeded"
	KindCardinalityExceeded Kind = "cardinality_exceeded"
	KindReadinessFailure    Kind = "readiness_failure"
	KindMissingParameter    Kind = "missing_parameter"
	KindInvalidParameter    Kind = "invalid_parameter"
	KindInvalidRequest      Kind = "invalid_request"
	KindForbidden           Kind = "forbidden"
)

// Scope distinguishes user-level from organization-level concurrency limits.
type Scope string

const (
	ScopeNone Scope = ""
	ScopeUser Scope = "user"
	ScopeOrg  Scope = "organization"
)

// Error is a classified gateway error. Message is safe to show to end users.
type Error struct {
	Kind    Kind
	Scope   Scope
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same request after backing off.
func (e *Error) Retryable() bool {
	return e.Kind == KindConcurrencyExceeded
}

// New creates a classified error with a user-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error while keeping it reachable through errors.Is/As.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Parse(message string) *Error { return New(KindParse, message) }

func Authorization(message string) *Error { return New(KindAuthorization, message) }

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func InvalidRequest(message string) *Error { return New(KindInvalidRequest, message) }

func CostExceeded() *Error {
	return New(KindCostExceeded, "SQL query exceeds cost limits")
}

func ConcurrencyExceeded(scope Scope) *Error {
	return &Error{
		Kind:    KindConcurrencyExceeded,
		Scope:   scope,
		Message: fmt.Sprintf("Too many concurrent SQL queries for this %s", scope),
	}
}

func CardinalityExceeded(message string) *Error {
	return New(KindCardinalityExceeded, message)
}

func ReadinessFailure(message string) *Error {
	return New(KindReadinessFailure, message)
}

func MissingParameter(name string) *Error {
	return Newf(KindMissingParameter, "Missing SQL parameter: %s", name)
}

// KindOf returns the classification of err, or "" when err is not a classified error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether any error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
