package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-gateway/pkg/workbench"
)

func newSQLMux(svc *stubWorkbench, qc *models.QueryContext) *http.ServeMux {
	mux := http.NewServeMux()
	NewSQLHandler(svc, zap.NewNop()).RegisterRoutes(mux, authMiddleware(qc))
	return mux
}

func TestSQLHandler_Execute_Success(t *testing.T) {
	qc := &models.QueryContext{UserID: "user-1", OrganizationID: "org-1"}
	svc := &stubWorkbench{result: &workbench.Result{
		Columns:  []string{"name"},
		Rows:     []map[string]any{{"name": "Harbor FC"}},
		RowCount: 1,
		SQL:      "SELECT name FROM bi_v_organizations AS organizations",
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/bi/sql",
		strings.NewReader(`{"sql":"SELECT name FROM organizations","parameters":{"status":"active"},"dataset_id":"organizations","max_rows":50,"export":true}`))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()

	newSQLMux(svc, qc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Same(t, qc, svc.gotQC)
	assert.Equal(t, "SELECT name FROM organizations", svc.got.SQL)
	assert.Equal(t, "organizations", svc.got.DatasetID)
	assert.Equal(t, 50, svc.got.MaxRows)
	assert.True(t, svc.got.Export)
	assert.Equal(t, "active", svc.got.Parameters["status"])
	assert.Equal(t, "203.0.113.9", svc.got.ClientIP)

	var body struct {
		Success bool             `json:"success"`
		Data    workbench.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Data.RowCount)
	assert.Equal(t, "SELECT name FROM bi_v_organizations AS organizations", body.Data.SQL)
}

func TestSQLHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"bad json", `{"sql":`, nil, http.StatusBadRequest, "invalid_request"},
		{"parse", `{"sql":"DELETE FROM clubs"}`, apperrors.Parse("Only SELECT statements are allowed"), http.StatusBadRequest, "parse_error"},
		{"authorization", `{"sql":"SELECT * FROM users"}`, apperrors.Authorization(`Table "users" is not in the allowed dataset`), http.StatusForbidden, "authorization_error"},
		{"cost", `{"sql":"SELECT * FROM events"}`, apperrors.CostExceeded(), http.StatusUnprocessableEntity, "cost_exceeded"},
		{"busy", `{"sql":"SELECT 1"}`, apperrors.ConcurrencyExceeded(apperrors.ScopeUser), http.StatusTooManyRequests, "concurrency_exceeded"},
		{"not ready", `{"sql":"SELECT 1"}`, apperrors.ReadinessFailure("SQL Workbench is not configured (missing role bi_readonly)."), http.StatusServiceUnavailable, "readiness_failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubWorkbench{err: tt.err}
			req := httptest.NewRequest(http.MethodPost, "/api/bi/sql", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer token")
			rec := httptest.NewRecorder()

			newSQLMux(svc, &models.QueryContext{UserID: "u"}).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body["error"])
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), body["message"])
			}
		})
	}
}

func TestSQLHandler_RequiresBearer(t *testing.T) {
	svc := &stubWorkbench{}
	rec := httptest.NewRecorder()
	newSQLMux(svc, &models.QueryContext{UserID: "u"}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/bi/sql", strings.NewReader(`{"sql":"SELECT 1"}`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.got.SQL, "workbench must not run without authentication")
}
