package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/auth"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	"github.com/ekaya-inc/insightpilot/pkg/services"
)

// HistoryHandler exposes the query history.
type HistoryHandler struct {
	history services.HistoryService
	logger  *zap.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history services.HistoryService, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: logger}
}

// RegisterRoutes registers the history routes behind authMiddleware.
func (h *HistoryHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.Handle("GET /api/history", authMiddleware.RequireAuth(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/history/favorites", authMiddleware.RequireAuth(http.HandlerFunc(h.Favorites)))
	mux.Handle("GET /api/history/stats", authMiddleware.RequireAuth(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /api/history/{id}", authMiddleware.RequireAuth(http.HandlerFunc(h.Get)))
	mux.Handle("POST /api/history/{id}/favorite", authMiddleware.RequireAuth(http.HandlerFunc(h.ToggleFavorite)))
	mux.Handle("DELETE /api/history/{id}", authMiddleware.RequireAuth(http.HandlerFunc(h.Delete)))
}

// ListHistoryResponse wraps a page of entries.
type ListHistoryResponse struct {
	Entries []models.HistoryEntry `json:"entries"`
	Count   int                   `json:"count"`
}

// List handles GET /api/history?limit=&connection=&q=. A search term takes
// precedence over the connection filter.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := ParseLimit(r)

	var (
		entries []models.HistoryEntry
		err     error
	)
	switch {
	case strings.TrimSpace(q.Get("q")) != "":
		entries, err = h.history.Search(r.Context(), q.Get("q"), limit)
	case q.Get("connection") != "":
		entries, err = h.history.ByConnection(r.Context(), q.Get("connection"), limit)
	default:
		entries, err = h.history.RecentN(r.Context(), limit)
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list history")
		return
	}
	writeOK(w, h.logger, ListHistoryResponse{Entries: entries, Count: len(entries)})
}

// Favorites handles GET /api/history/favorites.
func (h *HistoryHandler) Favorites(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.Favorites(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list favorites")
		return
	}
	writeOK(w, h.logger, ListHistoryResponse{Entries: entries, Count: len(entries)})
}

// Stats handles GET /api/history/stats.
func (h *HistoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.history.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to compute history statistics")
		return
	}
	writeOK(w, h.logger, stats)
}

// Get handles GET /api/history/{id}.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseHistoryID(w, r, h.logger)
	if !ok {
		return
	}
	entry, err := h.history.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get history entry")
		return
	}
	writeOK(w, h.logger, entry)
}

// ToggleFavorite handles POST /api/history/{id}/favorite.
func (h *HistoryHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseHistoryID(w, r, h.logger)
	if !ok {
		return
	}
	fav, err := h.history.ToggleFavorite(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to toggle favorite")
		return
	}
	writeOK(w, h.logger, map[string]any{"id": id, "favorite": fav})
}

// Delete handles DELETE /api/history/{id}.
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseHistoryID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.history.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete history entry")
		return
	}
	writeOK(w, h.logger, map[string]any{"id": id, "deleted": true})
}
