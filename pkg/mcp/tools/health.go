package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status     string          `json:"status"`
	Version    string          `json:"version"`
	ActiveRuns int             `json:"active_runs"`
	Default    string          `json:"default_provider,omitempty"`
	Providers  map[string]bool `json:"providers,omitempty"`
}

// RegisterHealthTool adds the health tool. Status is "degraded" when any
// provider fails its health check.
func RegisterHealthTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health, version and LLM provider reachability"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: deps.Version}
		if deps.Runner != nil {
			result.ActiveRuns = len(deps.Runner.ActiveRuns())
		}
		if deps.Providers != nil {
			result.Default = deps.Providers.Default()
			result.Providers = deps.Providers.HealthReport(ctx)
			for _, ok := range result.Providers {
				if !ok {
					result.Status = "degraded"
				}
			}
		}
		return jsonResult(result)
	})
}
