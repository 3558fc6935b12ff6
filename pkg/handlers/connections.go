package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/auth"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// ConnectionLister lists registered descriptors.
type ConnectionLister interface {
	List(kind models.ConnectionKind) []models.ConnectionDescriptor
}

// ProviderHealth reports provider reachability.
type ProviderHealth interface {
	HealthReport(ctx context.Context) map[string]bool
	Default() string
}

// ConnectionsHandler lists connections and provider health. Secrets never
// leave the registry: every descriptor is redacted first.
type ConnectionsHandler struct {
	registry  ConnectionLister
	providers ProviderHealth
	logger    *zap.Logger
}

// NewConnectionsHandler creates a ConnectionsHandler.
func NewConnectionsHandler(registry ConnectionLister, providers ProviderHealth, logger *zap.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{registry: registry, providers: providers, logger: logger}
}

// RegisterRoutes registers the connection routes behind authMiddleware.
func (h *ConnectionsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.Handle("GET /api/connections", authMiddleware.RequireAuth(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/providers/health", authMiddleware.RequireAuth(http.HandlerFunc(h.ProvidersHealth)))
}

// List handles GET /api/connections[?kind=db|llm].
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := models.ConnectionKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != models.KindDB && kind != models.KindLLM {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "kind must be db or llm"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	descs := h.registry.List(kind)
	out := make([]models.ConnectionDescriptor, len(descs))
	for i, d := range descs {
		out[i] = d.Redacted()
	}
	writeOK(w, h.logger, map[string]any{"connections": out})
}

// ProviderHealthResponse is the body of /api/providers/health.
type ProviderHealthResponse struct {
	Default   string          `json:"default"`
	Providers map[string]bool `json:"providers"`
}

// ProvidersHealth handles GET /api/providers/health. Every call probes the
// providers; nothing is cached.
func (h *ConnectionsHandler) ProvidersHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.logger, ProviderHealthResponse{
		Default:   h.providers.Default(),
		Providers: h.providers.HealthReport(r.Context()),
	})
}
