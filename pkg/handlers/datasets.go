package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-gateway/pkg/cache"
	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
)

// ListDatasetsResponse wraps the caller's datasets.
type ListDatasetsResponse struct {
	Datasets []dataset.DatasetView `json:"datasets"`
}

// DatasetsHandler lists datasets and manages their cached pivot results.
type DatasetsHandler struct {
	catalog *dataset.Catalog
	cache   cache.Store
	logger  *zap.Logger
}

// NewDatasetsHandler creates a new DatasetsHandler. store may be nil when
// caching is disabled; invalidation is then a no-op.
func NewDatasetsHandler(catalog *dataset.Catalog, store cache.Store, logger *zap.Logger) *DatasetsHandler {
	return &DatasetsHandler{catalog: catalog, cache: store, logger: logger.Named("datasets-handler")}
}

// RegisterRoutes registers the dataset routes on the given mux.
func (h *DatasetsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/bi/datasets", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("DELETE /api/bi/cache",
		authMiddleware.RequireAuth(authMiddleware.RequireAnalyticsAdmin(h.InvalidateCache)))
}

// List handles GET /api/bi/datasets
func (h *DatasetsHandler) List(w http.ResponseWriter, r *http.Request) {
	qc, err := auth.RequireQueryContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ListDatasetsResponse{Datasets: dataset.Describe(h.catalog.List(), qc)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// InvalidateCache handles DELETE /api/bi/cache?dataset_id=
// Without dataset_id every cached pivot result is dropped.
func (h *DatasetsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	datasetID := r.URL.Query().Get("dataset_id")
	if datasetID != "" {
		if _, err := h.catalog.Get(datasetID); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context(), datasetID); err != nil {
			h.logger.Error("Failed to invalidate pivot cache",
				zap.String("dataset_id", datasetID),
				zap.Error(err))
			writeError(w, h.logger, err)
			return
		}
	}

	h.logger.Info("Pivot cache invalidated",
		zap.String("dataset_id", datasetID),
		zap.String("user_id", auth.GetUserIDFromContext(r.Context())))

	data := map[string]string{"dataset_id": datasetID}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
