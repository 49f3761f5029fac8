package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

type mockAuthService struct {
	claims      *Claims
	qc          *models.QueryContext
	validateErr error
}

func (m *mockAuthService) ValidateRequest(*http.Request) (*Claims, *models.QueryContext, error) {
	if m.validateErr != nil {
		return nil, nil, m.validateErr
	}
	return m.claims, m.qc, nil
}

func TestMiddleware_RequireAuth_Success(t *testing.T) {
	qc := &models.QueryContext{UserID: "user-1", OrganizationID: "org-1"}
	middleware := NewMiddleware(&mockAuthService{claims: &Claims{}, qc: qc}, zap.NewNop())

	var got *models.QueryContext
	handler := middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetQueryContext(r.Context())
		if _, ok := GetClaims(r.Context()); !ok {
			t.Error("expected claims in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/bi/datasets", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if got != qc {
		t.Error("expected the query context to be passed through")
	}
}

func TestMiddleware_RequireAuth_Unauthorized(t *testing.T) {
	middleware := NewMiddleware(&mockAuthService{validateErr: errors.New("invalid token")}, zap.NewNop())

	called := false
	handler := middleware.RequireAuthHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if called {
		t.Error("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate challenge")
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "unauthorized" {
		t.Errorf("expected error 'unauthorized', got %q", body["error"])
	}
}

func TestMiddleware_RequireAnalyticsAdmin(t *testing.T) {
	tests := []struct {
		name string
		qc   *models.QueryContext
		want int
	}{
		{"global admin", &models.QueryContext{UserID: "a", IsGlobalAdmin: true}, http.StatusOK},
		{"analytics admin", &models.QueryContext{UserID: "b", Permissions: map[string]bool{models.PermissionAnalyticsAdmin: true}}, http.StatusOK},
		{"wildcard", &models.QueryContext{UserID: "c", Permissions: map[string]bool{models.PermissionAll: true}}, http.StatusOK},
		{"analyst", &models.QueryContext{UserID: "d", Permissions: map[string]bool{models.PermissionAnalyticsPII: true}}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			middleware := NewMiddleware(&mockAuthService{claims: &Claims{}, qc: tt.qc}, zap.NewNop())
			handler := middleware.RequireAuth(middleware.RequireAnalyticsAdmin(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodDelete, "/api/bi/cache", nil))
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestMiddleware_RequireAnalyticsAdmin_WithoutAuth(t *testing.T) {
	middleware := NewMiddleware(&mockAuthService{}, zap.NewNop())
	handler := middleware.RequireAnalyticsAdmin(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not be called")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodDelete, "/api/bi/cache", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}
