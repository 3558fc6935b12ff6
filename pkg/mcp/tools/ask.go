package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

type askResult struct {
	Query       string                  `json:"query"`
	Explanation string                  `json:"explanation"`
	Result      *models.ExecutionResult `json:"result,omitempty"`
	Attempts    int                     `json:"attempts"`
	Provider    string                  `json:"provider"`
	TotalTimeMs int64                   `json:"total_time_ms"`
	HistoryID   int64                   `json:"history_id,omitempty"`
}

// RegisterAskTool adds ask_database, which runs a natural-language question
// through the full pipeline: generate, check, execute, repair and explain.
func RegisterAskTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"ask_database",
		mcp.WithDescription(`Answer a question about a registered database.
The question is translated into a read-only query, executed, and explained.
Failed queries are repaired and retried automatically when the error allows it.`),
		mcp.WithString("connection", mcp.Required(),
			mcp.Description("Name of the database connection (see list_connections)")),
		mcp.WithString("question", mcp.Required(),
			mcp.Description("The question in natural language")),
		mcp.WithString("provider",
			mcp.Description("LLM provider connection to use (default provider when omitted)")),
		mcp.WithBoolean("allow_failover",
			mcp.Description("Try the other providers if the chosen one fails")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connection, err := req.RequireString("connection")
		if err != nil || trimString(connection) == "" {
			return NewErrorResult("invalid_parameters", "connection is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil || trimString(question) == "" {
			return NewErrorResult("invalid_parameters", "question is required"), nil
		}

		qr := models.QueryRequest{
			ConnectionName: trimString(connection),
			Question:       trimString(question),
			ProviderName:   trimString(req.GetString("provider", "")),
			AllowFailover:  req.GetBool("allow_failover", false),
		}
		outcome := deps.Runner.Run(ctx, qr, nil)

		if !outcome.Success {
			deps.Logger.Info("ask_database failed",
				zap.String("run_id", outcome.RunID),
				zap.String("kind", string(outcome.Kind())))
			return pipelineErrorResult(outcome.Error, map[string]any{
				"run_id":   outcome.RunID,
				"attempts": outcome.Attempts,
			}), nil
		}

		return jsonResult(askResult{
			Query:       outcome.FinalQueryText,
			Explanation: outcome.Explanation,
			Result:      outcome.Result,
			Attempts:    outcome.Attempts,
			Provider:    outcome.Provider,
			TotalTimeMs: outcome.TotalTimeMs,
			HistoryID:   outcome.HistoryID,
		})
	})
}
