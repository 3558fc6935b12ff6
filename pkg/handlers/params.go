package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// ParseHistoryID extracts and validates the history entry id from the
// request path. On failure it writes a 400 and returns false.
// Expects path parameter: id
func ParseHistoryID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_history_id", "Invalid history id"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

// ParseLimit reads the optional "limit" query parameter. Missing or invalid
// values return 0, which the history layer treats as its default.
func ParseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
