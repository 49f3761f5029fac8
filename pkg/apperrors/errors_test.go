package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrencyExceeded_Messages(t *testing.T) {
	user := ConcurrencyExceeded(ScopeUser)
	org := ConcurrencyExceeded(ScopeOrg)

	assert.Equal(t, "Too many concurrent SQL queries for this user", user.Error())
	assert.Equal(t, "Too many concurrent SQL queries for this organization", org.Error())
	assert.Equal(t, ScopeUser, user.Scope)
	assert.True(t, user.Retryable())
	assert.False(t, CostExceeded().Retryable())
}

func TestKindOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("pivot failed: %w", CardinalityExceeded("too many"))

	assert.Equal(t, KindCardinalityExceeded, KindOf(err))
	assert.True(t, IsKind(err, KindCardinalityExceeded))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestWrap_KeepsCause(t *testing.T) {
	err := Wrap(KindReadinessFailure, "not ready", ErrMissingView)

	assert.True(t, errors.Is(err, ErrMissingView))
	assert.Equal(t, "not ready", err.Error())
}

func TestMissingParameter_Message(t *testing.T) {
	assert.Equal(t, "Missing SQL parameter: org_id", MissingParameter("org_id").Error())
}
