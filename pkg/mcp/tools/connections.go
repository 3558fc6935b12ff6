package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

type connectionInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Subtype  string `json:"subtype"`
	Enabled  bool   `json:"enabled"`
	Database string `json:"database,omitempty"`
	Model    string `json:"model,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// RegisterConnectionTools adds list_connections. Only names and shapes are
// returned; credentials never appear in the output.
func RegisterConnectionTools(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"list_connections",
		mcp.WithDescription("List the registered database and LLM provider connections"),
		mcp.WithString("kind", mcp.Description("Filter by kind: db or llm")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind := models.ConnectionKind(trimString(req.GetString("kind", "")))
		switch kind {
		case "", models.KindDB, models.KindLLM:
		default:
			return NewErrorResultWithDetails("invalid_parameters", "kind must be one of: db, llm",
				map[string]any{"parameter": "kind", "actual_value": string(kind)}), nil
		}

		defaultProvider := ""
		if deps.Providers != nil {
			defaultProvider = deps.Providers.Default()
		}

		descs := deps.Registry.List(kind)
		out := make([]connectionInfo, 0, len(descs))
		for _, d := range descs {
			info := connectionInfo{
				Name:    d.Name,
				Kind:    string(d.Kind),
				Subtype: d.Subtype(),
				Enabled: d.Enabled,
			}
			switch {
			case d.DB != nil:
				info.Database = d.DB.Database
			case d.LLM != nil:
				info.Model = d.LLM.Model
				info.Default = d.Name == defaultProvider
			}
			out = append(out, info)
		}
		return jsonResult(map[string]any{"connections": out, "count": len(out)})
	})
}
