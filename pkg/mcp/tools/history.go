package tools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/insightpilot/pkg/apperrors"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

type historyResult struct {
	Entries []models.HistoryEntry `json:"entries"`
	Count   int                   `json:"count"`
}

// RegisterHistoryTools adds query_history and toggle_favorite.
func RegisterHistoryTools(s *server.MCPServer, deps *Deps) {
	registerQueryHistoryTool(s, deps)
	registerToggleFavoriteTool(s, deps)
}

func registerQueryHistoryTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"query_history",
		mcp.WithDescription(`List previously asked questions and the queries that answered them.
Filters are applied in this order: favorites_only, search, connection.`),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 50)")),
		mcp.WithString("connection", mcp.Description("Only entries for this connection")),
		mcp.WithString("search", mcp.Description("Substring to look for in questions and queries")),
		mcp.WithBoolean("favorites_only", mcp.Description("Only favorite entries")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 0)
		if limit < 0 {
			return NewErrorResult("invalid_parameters", "limit must not be negative"), nil
		}

		var (
			entries []models.HistoryEntry
			err     error
		)
		switch {
		case req.GetBool("favorites_only", false):
			entries, err = deps.History.Favorites(ctx)
		case trimString(req.GetString("search", "")) != "":
			entries, err = deps.History.Search(ctx, req.GetString("search", ""), limit)
		case trimString(req.GetString("connection", "")) != "":
			entries, err = deps.History.ByConnection(ctx, trimString(req.GetString("connection", "")), limit)
		default:
			entries, err = deps.History.RecentN(ctx, limit)
		}
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				return NewErrorResult("invalid_parameters", err.Error()), nil
			}
			return nil, err
		}
		return jsonResult(historyResult{Entries: entries, Count: len(entries)})
	})
}

func registerToggleFavoriteTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"toggle_favorite",
		mcp.WithDescription("Mark or unmark a history entry as a favorite. Returns the new state."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("History entry id")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("id")
		if err != nil || id <= 0 {
			return NewErrorResult("invalid_parameters", "id must be a positive integer"), nil
		}
		fav, err := deps.History.ToggleFavorite(ctx, int64(id))
		if errors.Is(err, apperrors.ErrNotFound) {
			return NewErrorResult("not_found", "no history entry with that id"), nil
		}
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]any{"id": id, "favorite": fav})
	})
}
