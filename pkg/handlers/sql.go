package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-gateway/pkg/middleware"
	"github.com/ekaya-inc/ekaya-gateway/pkg/workbench"
)

// maxRequestBody caps SQL and pivot request bodies.
const maxRequestBody = 1 << 20

// SQLHandler serves the SQL workbench.
type SQLHandler struct {
	workbench workbench.Service
	logger    *zap.Logger
}

// NewSQLHandler creates a new SQLHandler.
func NewSQLHandler(svc workbench.Service, logger *zap.Logger) *SQLHandler {
	return &SQLHandler{workbench: svc, logger: logger.Named("sql-handler")}
}

// RegisterRoutes registers the workbench route on the given mux.
func (h *SQLHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/bi/sql", authMiddleware.RequireAuth(h.Execute))
}

// Execute handles POST /api/bi/sql
func (h *SQLHandler) Execute(w http.ResponseWriter, r *http.Request) {
	qc, err := auth.RequireQueryContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req workbench.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	req.ClientIP = middleware.ClientIP(r)

	result, err := h.workbench.Execute(r.Context(), qc, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
