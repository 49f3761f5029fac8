package auth

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// WithQueryContext stores the caller identity in ctx.
func WithQueryContext(ctx context.Context, qc *models.QueryContext) context.Context {
	return context.WithValue(ctx, QueryContextKey, qc)
}

// GetQueryContext returns the caller identity set by the auth middleware.
func GetQueryContext(ctx context.Context) (*models.QueryContext, bool) {
	qc, ok := ctx.Value(QueryContextKey).(*models.QueryContext)
	return qc, ok && qc != nil
}

// RequireQueryContext is GetQueryContext for handlers that cannot run
// unauthenticated.
func RequireQueryContext(ctx context.Context) (*models.QueryContext, error) {
	qc, ok := GetQueryContext(ctx)
	if !ok {
		return nil, fmt.Errorf("query context not found in request context")
	}
	return qc, nil
}

// GetUserIDFromContext extracts the user ID from the caller identity.
// Returns empty string if not authenticated.
func GetUserIDFromContext(ctx context.Context) string {
	if qc, ok := GetQueryContext(ctx); ok {
		return qc.UserID
	}
	return ""
}
