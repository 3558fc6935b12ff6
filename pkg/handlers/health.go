package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/config"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	// ActiveRuns is the number of pipeline runs in flight.
	ActiveRuns int `json:"active_runs"`
	// HistoryOK is false when the history database stopped answering.
	HistoryOK bool `json:"history_ok"`
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	runs    interface{ ActiveRuns() []string }
	history Pinger
	logger  *zap.Logger
}

// NewHealthHandler creates a HealthHandler. runs and history may be nil.
func NewHealthHandler(cfg *config.Config, runs interface{ ActiveRuns() []string }, history Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, runs: runs, history: history, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health. It reports 503 when the history database is
// unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: h.cfg.Version, HistoryOK: true}
	if h.runs != nil {
		resp.ActiveRuns = len(h.runs.ActiveRuns())
	}
	status := http.StatusOK
	if h.history != nil {
		if err := h.history.PingContext(r.Context()); err != nil {
			h.logger.Warn("History database ping failed", zap.Error(err))
			resp.Status = "degraded"
			resp.HistoryOK = false
			status = http.StatusServiceUnavailable
		}
	}
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
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
		Service:     "insightpilot",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
