package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/insightpilot/pkg/mcp"
	"github.com/ekaya-inc/insightpilot/pkg/mcp/tools"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Long: `Run a Model Context Protocol server on stdin and stdout so an MCP client can call
ask_database, query_history, toggle_favorite, list_connections and health.
Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, root, func(ctx context.Context, a *app) error {
				s := mcp.NewInsightServer(a.cfg.Version, &tools.Deps{
					Runner:    a.orchestrator,
					History:   a.history,
					Registry:  a.registry,
					Providers: a.pool,
					Version:   a.cfg.Version,
					Logger:    a.logger.Named("mcp"),
				})
				err := s.ServeStdio(ctx, os.Stdin, os.Stdout)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}
