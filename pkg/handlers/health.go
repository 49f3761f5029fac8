package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/config"
	"github.com/ekaya-inc/ekaya-gateway/pkg/guard"
	"github.com/ekaya-inc/ekaya-gateway/pkg/logging"
)

const readyTimeout = 5 * time.Second

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// ReadyResponse reports whether the gateway can serve analytics queries.
type ReadyResponse struct {
	Status   string   `json:"status"`
	Datasets []string `json:"datasets,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ReadinessChecker is satisfied by *gate.Gate.
type ReadinessChecker interface {
	AssertReady(ctx context.Context, s guard.Session, datasetIDs []string) error
}

// HealthHandler handles health check, ping and readiness endpoints.
type HealthHandler struct {
	cfg        *config.Config
	db         Pinger
	gate       ReadinessChecker
	datasetIDs []string
	logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. gate may be nil when the
// readiness gate is disabled; /ready then only checks the database.
func NewHealthHandler(cfg *config.Config, db Pinger, gate ReadinessChecker, datasetIDs []string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, gate: gate, datasetIDs: datasetIDs, logger: logger.Named("health")}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("GET /ready", h.Ready)
}

// Health handles GET /health requests (liveness).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "bi-gateway",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// Ready handles GET /ready. It pings the database, then runs the readiness
// gate over every catalog dataset with a global admin session.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("Database ping failed", zap.String("error", logging.SanitizeError(err)))
		h.writeReady(w, http.StatusServiceUnavailable, ReadyResponse{Status: "unavailable", Error: "database unreachable"})
		return
	}

	if h.gate != nil {
		err := h.gate.AssertReady(ctx, guard.Session{IsGlobalAdmin: true}, h.datasetIDs)
		if err != nil {
			status, _ := StatusFor(err)
			message := err.Error()
			if status == http.StatusInternalServerError {
				h.logger.Error("Readiness check failed", zap.String("error", logging.SanitizeError(err)))
				status, message = http.StatusServiceUnavailable, "readiness check failed"
			}
			h.writeReady(w, status, ReadyResponse{Status: "not_ready", Datasets: h.datasetIDs, Error: message})
			return
		}
	}

	h.writeReady(w, http.StatusOK, ReadyResponse{Status: "ready", Datasets: h.datasetIDs})
}

func (h *HealthHandler) writeReady(w http.ResponseWriter, status int, resp ReadyResponse) {
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode ready response", zap.Error(err))
	}
}
