package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
)

func decodeError(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return resp
}

func TestNewErrorResult(t *testing.T) {
	resp := decodeError(t, NewErrorResult("invalid_request", "sql is required"))
	assert.True(t, resp.Error)
	assert.Equal(t, "invalid_request", resp.Code)
	assert.Equal(t, "sql is required", resp.Message)
}

func TestResultForError(t *testing.T) {
	t.Run("classified", func(t *testing.T) {
		result, err := ResultForError(apperrors.Authorization(`Column "email" is not accessible`))
		require.NoError(t, err)
		resp := decodeError(t, result)
		assert.Equal(t, "authorization_error", resp.Code)
		assert.Equal(t, `Column "email" is not accessible`, resp.Message)
		assert.False(t, resp.Retryable)
	})

	t.Run("concurrency is retryable", func(t *testing.T) {
		result, err := ResultForError(apperrors.ConcurrencyExceeded(apperrors.ScopeUser))
		require.NoError(t, err)
		assert.True(t, decodeError(t, result).Retryable)
	})

	t.Run("not found", func(t *testing.T) {
		result, err := ResultForError(fmt.Errorf("unknown dataset %q: %w", "nope", apperrors.ErrNotFound))
		require.NoError(t, err)
		assert.Equal(t, "not_found", decodeError(t, result).Code)
	})

	t.Run("postgres user error", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: "22012", Message: "division by zero"}
		result, err := ResultForError(fmt.Errorf("execute: %w", pgErr))
		require.NoError(t, err)
		resp := decodeError(t, result)
		assert.Equal(t, "sql_error", resp.Code)
		assert.Equal(t, "division by zero", resp.Message)
	})

	t.Run("system failure", func(t *testing.T) {
		boom := errors.New("connection reset by peer")
		result, err := ResultForError(boom)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, boom)
	})
}

func TestIsSQLUserError(t *testing.T) {
	assert.False(t, IsSQLUserError(nil))
	assert.False(t, IsSQLUserError(errors.New("42P01")))
	assert.True(t, IsSQLUserError(&pgconn.PgError{Code: "42883"}))
	assert.False(t, IsSQLUserError(&pgconn.PgError{Code: "57014"}))
}
