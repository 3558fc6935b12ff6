package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/auth"
	"github.com/ekaya-inc/insightpilot/pkg/handlers"
	"github.com/ekaya-inc/insightpilot/pkg/mcp"
	"github.com/ekaya-inc/insightpilot/pkg/mcp/tools"
	"github.com/ekaya-inc/insightpilot/pkg/middleware"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the MCP endpoint and the retention scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, root, func(ctx context.Context, a *app) error {
				if port != "" {
					a.cfg.Server.Port = port
				}
				return serve(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Override server.port")
	return cmd
}

// newHandler builds the routed and wrapped HTTP handler.
func newHandler(ctx context.Context, a *app) (http.Handler, func(), error) {
	validator, err := auth.NewValidator(ctx, a.cfg.Server.Auth)
	if err != nil {
		return nil, nil, err
	}
	var authService auth.AuthService
	cleanup := func() {}
	if validator != nil {
		authService = auth.NewAuthService(validator, a.logger)
		cleanup = validator.Close
	}
	authMiddleware := auth.NewMiddleware(authService, a.logger)

	mcpServer := mcp.NewInsightServer(a.cfg.Version, &tools.Deps{
		Runner:    a.orchestrator,
		History:   a.history,
		Registry:  a.registry,
		Providers: a.pool,
		Version:   a.cfg.Version,
		Logger:    a.logger.Named("mcp"),
	})

	mux := http.NewServeMux()
	handlers.NewHealthHandler(a.cfg, a.orchestrator, a.db, a.logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(a.orchestrator, a.logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewHistoryHandler(a.history, a.logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewConnectionsHandler(a.registry, a.pool, a.logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewMCPHandler(mcpServer, a.logger).RegisterRoutes(mux, authMiddleware)
	mux.Handle("GET /metrics", a.metrics.Handler())

	h := middleware.Chain(mux,
		middleware.Recoverer(a.logger),
		middleware.Metrics(a.metrics),
		middleware.RequestLogger(a.logger),
	)
	return h, cleanup, nil
}

func serve(ctx context.Context, a *app) error {
	h, cleanup, err := newHandler(ctx, a)
	if err != nil {
		return err
	}
	defer cleanup()

	go a.retention.RunScheduler(ctx, a.cfg.History.RetentionInterval)

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting insightpilot",
			zap.String("addr", srv.Addr),
			zap.String("version", a.cfg.Version),
			zap.Bool("auth", a.cfg.Server.Auth.Enabled()),
			zap.Strings("providers", a.pool.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, id := range a.orchestrator.ActiveRuns() {
		a.orchestrator.Cancel(id)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
