package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// RequireAuth validates the bearer token and stores the claims and the
// caller's QueryContext in the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, qc, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = WithQueryContext(ctx, qc)
		next(w, r.WithContext(ctx))
	}
}

// RequireAuthHandler is RequireAuth for http.Handler values.
func (m *Middleware) RequireAuthHandler(next http.Handler) http.Handler {
	return m.RequireAuth(next.ServeHTTP)
}

// RequireAnalyticsAdmin must be chained after RequireAuth. It admits global
// admins and holders of analytics.admin.
func (m *Middleware) RequireAnalyticsAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qc, ok := GetQueryContext(r.Context())
		if !ok {
			m.unauthorized(w, "Authentication required")
			return
		}
		if !qc.IsAnalyticsAdmin() {
			m.logger.Warn("Analytics admin required",
				zap.String("user_id", qc.UserID),
				zap.String("path", r.URL.Path))
			m.forbidden(w, "Analytics admin permission required")
			return
		}
		next(w, r)
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="bi-gateway"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "forbidden",
		"message": message,
	})
}
