package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-gateway/pkg/pivot"
)

// PivotHandler serves declarative pivot queries.
type PivotHandler struct {
	runner pivot.Runner
	logger *zap.Logger
}

// NewPivotHandler creates a new PivotHandler.
func NewPivotHandler(runner pivot.Runner, logger *zap.Logger) *PivotHandler {
	return &PivotHandler{runner: runner, logger: logger.Named("pivot-handler")}
}

// RegisterRoutes registers the pivot route on the given mux.
func (h *PivotHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/bi/pivot", authMiddleware.RequireAuth(h.Run))
}

// Run handles POST /api/bi/pivot
func (h *PivotHandler) Run(w http.ResponseWriter, r *http.Request) {
	qc, err := auth.RequireQueryContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var q models.PivotQuery
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&q); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.runner.Run(r.Context(), qc, &q)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
