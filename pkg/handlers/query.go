package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/auth"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	"github.com/ekaya-inc/insightpilot/pkg/services"
)

// QueryRunner is the part of the orchestrator the HTTP API drives.
type QueryRunner interface {
	Run(ctx context.Context, req models.QueryRequest, onProgress services.ProgressFunc) *models.QueryOutcome
	RunAsync(ctx context.Context, req models.QueryRequest) (string, <-chan services.Event, <-chan *models.QueryOutcome)
	Cancel(runID string) bool
	ActiveRuns() []string
}

// QueryHandler runs questions through the pipeline.
type QueryHandler struct {
	runner QueryRunner
	logger *zap.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(runner QueryRunner, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{runner: runner, logger: logger}
}

// RegisterRoutes registers the query routes behind authMiddleware.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.Handle("POST /api/query", authMiddleware.RequireAuth(http.HandlerFunc(h.Query)))
	mux.Handle("POST /api/query/stream", authMiddleware.RequireAuth(http.HandlerFunc(h.Stream)))
	mux.Handle("GET /api/query/active", authMiddleware.RequireAuth(http.HandlerFunc(h.Active)))
	mux.Handle("POST /api/query/{runID}/cancel", authMiddleware.RequireAuth(http.HandlerFunc(h.Cancel)))
}

// decodeRequest reads and checks a QueryRequest, writing a 400 on failure.
func (h *QueryHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (models.QueryRequest, bool) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return req, false
	}
	req.ConnectionName = strings.TrimSpace(req.ConnectionName)
	req.Question = strings.TrimSpace(req.Question)
	if req.ConnectionName == "" || req.Question == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "connection_name and question are required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return req, false
	}
	return req, true
}

// Query handles POST /api/query. Pipeline failures are reported in the
// outcome with a 200; only malformed requests get a 4xx.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	h.logger.Info("Query requested",
		zap.String("connection", req.ConnectionName),
		zap.String("subject", auth.SubjectFromContext(r.Context())))

	outcome := h.runner.Run(r.Context(), req, nil)
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: outcome.Success, Data: outcome}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Stream handles POST /api/query/stream. Progress events are sent as
// server-sent "progress" events followed by one "outcome" event. The run is
// cancelled if the client disconnects.
func (h *QueryHandler) Stream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	runID, events, result := h.runner.RunAsync(r.Context(), req)
	h.logger.Info("Streaming query",
		zap.String("run_id", runID),
		zap.String("connection", req.ConnectionName))

	for e := range events {
		if err := writeEvent(w, rc, "progress", e); err != nil {
			h.logger.Debug("Stream client went away", zap.String("run_id", runID), zap.Error(err))
			h.runner.Cancel(runID)
		}
	}
	outcome := <-result
	if outcome == nil {
		return
	}
	if err := writeEvent(w, rc, "outcome", outcome); err != nil {
		h.logger.Debug("Failed to send outcome", zap.String("run_id", runID), zap.Error(err))
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return rc.Flush()
}

// Active handles GET /api/query/active.
func (h *QueryHandler) Active(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.logger, map[string]any{"runs": h.runner.ActiveRuns()})
}

// Cancel handles POST /api/query/{runID}/cancel.
func (h *QueryHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if !h.runner.Cancel(runID) {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "No active run with that id"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	writeOK(w, h.logger, map[string]any{"run_id": runID, "cancelled": true})
}
