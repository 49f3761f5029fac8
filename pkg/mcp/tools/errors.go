package tools

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Actionable failures are returned as tool results rather than protocol
// errors so the calling agent sees the message and can fix its request.
type ErrorResponse struct {
	Error     bool   `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors (invalid parameters, disallowed
// columns, limits). System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return newErrorResult(ErrorResponse{Error: true, Code: code, Message: message})
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	return newErrorResult(ErrorResponse{Error: true, Code: code, Message: message, Details: details})
}

func newErrorResult(resp ErrorResponse) *mcp.CallToolResult {
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// ResultForError converts a gateway error into a tool result when the caller
// can act on it. Anything else is returned as a Go error.
func ResultForError(err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		return NewErrorResult("not_found", err.Error()), nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return newErrorResult(ErrorResponse{
			Error:     true,
			Code:      string(appErr.Kind),
			Message:   appErr.Message,
			Retryable: appErr.Retryable(),
		}), nil
	}

	if IsSQLUserError(err) {
		var pgErr *pgconn.PgError
		errors.As(err, &pgErr)
		return NewErrorResultWithDetails("sql_error", pgErr.Message, map[string]string{"sqlstate": pgErr.Code}), nil
	}

	return nil, err
}

// IsSQLUserError returns true if the error is a SQL user error (bad cast,
// division by zero, unknown function) rather than a server failure.
//
// PostgreSQL SQLSTATE classes treated as user errors:
//   - 22xxx: Data Exception
//   - 42xxx: Syntax Error or Access Rule Violation
func IsSQLUserError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "42":
		return true
	}
	return false
}
