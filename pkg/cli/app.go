package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/insightpilot/pkg/adapters/datasource/all"
	"github.com/ekaya-inc/insightpilot/pkg/audit"
	"github.com/ekaya-inc/insightpilot/pkg/cache"
	"github.com/ekaya-inc/insightpilot/pkg/config"
	"github.com/ekaya-inc/insightpilot/pkg/database"
	"github.com/ekaya-inc/insightpilot/pkg/llm"
	"github.com/ekaya-inc/insightpilot/pkg/logging"
	"github.com/ekaya-inc/insightpilot/pkg/metrics"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	"github.com/ekaya-inc/insightpilot/pkg/registry"
	"github.com/ekaya-inc/insightpilot/pkg/repositories"
	"github.com/ekaya-inc/insightpilot/pkg/services"
)

// explanationCacheSize bounds the in-memory cache used without Redis.
const explanationCacheSize = 512

// app holds everything a command needs. Commands build one with bootstrap
// and must call close when done.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	registry     *registry.Registry
	pool         *llm.Pool
	db           *database.DB
	redis        *redis.Client
	factory      datasource.AdapterFactory
	history      services.HistoryService
	retention    services.RetentionService
	orchestrator *services.QueryOrchestrator
}

func bootstrap(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath, opts.version)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if opts.verbose {
		level = "debug"
	}
	logger, err := logging.NewLogger(level, cfg.Env == "local")
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: registry.New()}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(promRegistry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.metrics = m

	if err := a.loadConnections(); err != nil {
		return err
	}
	a.pool = llm.NewPool(a.logger,
		llm.WithTimeout(a.cfg.Pipeline.ProviderTimeout),
		llm.WithObserver(m.Observer()))
	a.registerProviders(ctx)

	a.db, err = database.Open(ctx, database.Config{Path: a.cfg.History.Path}, a.logger)
	if err != nil {
		return err
	}
	a.history = services.NewHistoryService(repositories.NewQueryHistoryRepository(a.db), a.logger)
	a.retention = services.NewRetentionService(a.history, a.cfg.History.RetentionDays, a.cfg.History.KeepFavorites, a.logger)

	a.factory = datasource.NewAdapterFactory(datasource.Options{
		ExecTimeout: a.cfg.Pipeline.ExecTimeout,
		MaxRows:     a.cfg.Pipeline.MaxRows,
	}, a.logger)

	a.orchestrator = services.NewQueryOrchestrator(
		a.registry,
		a.pool,
		a.history,
		a.factory,
		a.explanationCache(ctx),
		orchestratorConfig(a.cfg.Pipeline),
		a.logger,
		services.WithMetrics(m),
		services.WithAuditor(audit.NewSecurityAuditor(a.logger)),
	)
	return nil
}

// orchestratorConfig maps pipeline settings onto the orchestrator. A
// configured max_retries of 0 means no repair, not the orchestrator default.
func orchestratorConfig(p config.PipelineConfig) services.OrchestratorConfig {
	retries := p.MaxRetries
	if retries == 0 {
		retries = services.NoRetries
	}
	return services.OrchestratorConfig{MaxRetries: retries, AllowFailover: p.AllowFailover}
}

// loadConnections reads the connections file. A missing file leaves the
// registry empty so history commands still work.
func (a *app) loadConnections() error {
	err := a.registry.LoadFile(a.cfg.ConnectionsFile)
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("Connections file not found", zap.String("path", a.cfg.ConnectionsFile))
		return nil
	}
	return err
}

// registerProviders builds a provider per enabled LLM connection. A provider
// that cannot be built is skipped so the others remain usable.
func (a *app) registerProviders(ctx context.Context) {
	fo := llm.FactoryOptions{Timeout: a.cfg.Pipeline.ProviderTimeout}
	for _, desc := range a.registry.List(models.KindLLM) {
		if !desc.Enabled {
			continue
		}
		p, err := llm.NewProvider(ctx, desc, fo, a.logger)
		if err != nil {
			a.logger.Warn("Skipping LLM connection",
				zap.String("connection", desc.Name),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}
		if err := a.pool.Register(desc.Name, p); err != nil {
			a.logger.Warn("Failed to register provider", zap.String("connection", desc.Name), zap.Error(err))
		}
	}

	def := a.cfg.DefaultLLMConnection
	if def == "" {
		def, _ = a.registry.DefaultProvider()
	}
	if def == "" {
		return
	}
	if err := a.pool.SetDefault(def); err != nil {
		a.logger.Warn("Default LLM connection is not available",
			zap.String("connection", def),
			zap.Error(err))
	}
}

// explanationCache uses Redis when configured and reachable, otherwise an
// in-memory cache.
func (a *app) explanationCache(ctx context.Context) cache.ExplanationCache {
	client, err := database.NewRedisClient(ctx, a.cfg.Redis)
	if err != nil {
		a.logger.Warn("Redis unavailable, caching explanations in memory", zap.Error(err))
	}
	if client == nil {
		return cache.NewMemory(a.cfg.Redis.ExplanationTTL, explanationCacheSize)
	}
	a.redis = client
	return cache.NewRedis(client, a.cfg.Redis.ExplanationTTL, a.logger)
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Debug("Failed to close Redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close history database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// withApp bootstraps, runs fn and closes the app.
func withApp(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := bootstrap(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

