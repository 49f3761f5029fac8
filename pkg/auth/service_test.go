package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

type mockJWKSClient struct {
	claims *Claims
	err    error
	seen   string
}

func (m *mockJWKSClient) ValidateToken(token string) (*Claims, error) {
	m.seen = token
	if m.err != nil {
		return nil, m.err
	}
	return m.claims, nil
}

func (m *mockJWKSClient) Close() {}

func TestAuthService_ValidateRequest_BearerHeader(t *testing.T) {
	claims := &Claims{OrganizationID: "org-1", AuthTime: time.Now().Unix()}
	claims.Subject = "user-1"
	jwks := &mockJWKSClient{claims: claims}
	svc := NewAuthService(jwks, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/bi/sql", nil)
	req.Header.Set("Authorization", "Bearer token-abc")

	gotClaims, qc, err := svc.ValidateRequest(req)
	if err != nil {
		t.Fatalf("ValidateRequest failed: %v", err)
	}
	if jwks.seen != "token-abc" {
		t.Errorf("expected token-abc to be validated, got %q", jwks.seen)
	}
	if gotClaims != claims {
		t.Error("expected the validated claims to be returned")
	}
	if qc.UserID != "user-1" || qc.OrganizationID != "org-1" || !qc.HasRecentAuth {
		t.Errorf("unexpected query context: %+v", qc)
	}
}

func TestAuthService_ValidateRequest_HeaderErrors(t *testing.T) {
	svc := NewAuthService(&mockJWKSClient{claims: &Claims{}}, zap.NewNop())

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"missing", "", ErrMissingAuthorization},
		{"basic scheme", "Basic dXNlcjpwYXNz", ErrInvalidAuthFormat},
		{"no token", "Bearer ", ErrInvalidAuthFormat},
		{"no separator", "Bearertoken", ErrInvalidAuthFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/bi/datasets", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			_, _, err := svc.ValidateRequest(req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAuthService_ValidateRequest_TokenValidationError(t *testing.T) {
	svc := NewAuthService(&mockJWKSClient{err: ErrInvalidAudience}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/bi/datasets", nil)
	req.Header.Set("Authorization", "bearer some-token")

	_, _, err := svc.ValidateRequest(req)
	if !errors.Is(err, ErrInvalidAudience) {
		t.Errorf("expected ErrInvalidAudience, got %v", err)
	}
}
