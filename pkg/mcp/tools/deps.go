// Package tools provides the MCP tools that expose the query pipeline.
package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/models"
	"github.com/ekaya-inc/insightpilot/pkg/services"
)

// QueryRunner runs one question through the pipeline.
type QueryRunner interface {
	Run(ctx context.Context, req models.QueryRequest, onProgress services.ProgressFunc) *models.QueryOutcome
	ActiveRuns() []string
}

// ConnectionLister lists registered descriptors.
type ConnectionLister interface {
	List(kind models.ConnectionKind) []models.ConnectionDescriptor
}

// ProviderHealth reports provider reachability.
type ProviderHealth interface {
	HealthReport(ctx context.Context) map[string]bool
	Default() string
}

// Deps are the services the tools call into.
type Deps struct {
	Runner    QueryRunner
	History   services.HistoryService
	Registry  ConnectionLister
	Providers ProviderHealth
	Version   string
	Logger    *zap.Logger
}

// RegisterAll adds every tool to s.
func RegisterAll(s *server.MCPServer, deps *Deps) {
	RegisterHealthTool(s, deps)
	RegisterAskTool(s, deps)
	RegisterHistoryTools(s, deps)
	RegisterConnectionTools(s, deps)
}

func trimString(s string) string {
	return strings.TrimSpace(s)
}
