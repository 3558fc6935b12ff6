package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/logging"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// Adapter provides PostgreSQL connectivity over a small pgx pool.
type Adapter struct {
	datasource.SQLGates

	config *Config
	opts   datasource.Options
	logger *zap.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

var _ datasource.Adapter = (*Adapter)(nil)

// NewAdapter creates an unconnected PostgreSQL adapter.
func NewAdapter(cfg *Config, opts datasource.Options, logger *zap.Logger) *Adapter {
	return &Adapter{
		SQLGates: datasource.NewSQLGates(Rules(), ErrorRules),
		config:   cfg,
		opts:     opts,
		logger:   logger,
	}
}

// Connect opens the pool and verifies we landed in the configured database.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pool != nil {
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(buildConnectionString(a.config))
	if err != nil {
		return fmt.Errorf("invalid postgres settings: %s", logging.SanitizeError(err))
	}
	poolCfg.MaxConns = 2
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "insightpilot"
	poolCfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	ctx, cancel := context.WithTimeout(ctx, a.opts.ExecTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect to postgres: %s", logging.SanitizeError(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping failed: %s", logging.SanitizeError(err))
	}

	var currentDB string
	if err := pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		pool.Close()
		return fmt.Errorf("failed to get current database name: %w", err)
	}
	if !strings.EqualFold(currentDB, a.config.Database) {
		pool.Close()
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}

	a.pool = pool
	a.logger.Debug("Connected to postgres",
		zap.String("host", a.config.Host),
		zap.String("database", a.config.Database))
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pool != nil
}

func (a *Adapter) conn() (*pgxpool.Pool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pool == nil {
		return nil, datasource.ErrNotConnected
	}
	return a.pool, nil
}

// Execute runs a read-only query inside a limit wrapper.
func (a *Adapter) Execute(ctx context.Context, text string) models.ExecutionResult {
	return datasource.RunTimed(a.logger, errorCode, func() (models.ExecutionResult, error) {
		pool, err := a.conn()
		if err != nil {
			return models.ExecutionResult{}, err
		}
		query, err := a.Rules.Normalize(text)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		return a.query(ctx, pool, datasource.LimitSubquery(query, a.opts.MaxRows), a.opts.MaxRows)
	})
}

// GetSample returns up to limit rows of a table. Names may be schema-qualified.
func (a *Adapter) GetSample(ctx context.Context, name string, limit int) models.ExecutionResult {
	return datasource.RunTimed(a.logger, errorCode, func() (models.ExecutionResult, error) {
		pool, err := a.conn()
		if err != nil {
			return models.ExecutionResult{}, err
		}
		if strings.TrimSpace(name) == "" {
			return models.ExecutionResult{}, errors.New("table name is required")
		}
		limit = datasource.ClampLimit(limit)
		return a.query(ctx, pool, datasource.LimitSample(quoteQualified(name), limit), limit)
	})
}

func (a *Adapter) query(ctx context.Context, pool *pgxpool.Pool, query string, maxRows int) (models.ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.ExecTimeout)
	defer cancel()

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	result := models.ExecutionResult{Columns: make([]string, len(fieldDescs)), Rows: make([][]any, 0)}
	for i, fd := range fieldDescs {
		result.Columns[i] = fd.Name
	}

	for rows.Next() {
		if len(result.Rows) >= maxRows {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return models.ExecutionResult{}, fmt.Errorf("failed to read row values: %w", err)
		}
		for i := range values {
			values[i] = datasource.NormalizeValue(values[i])
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return models.ExecutionResult{}, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// quoteQualified quotes a possibly schema-qualified table name.
func quoteQualified(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// errorCode returns the SQLSTATE of a postgres error.
func errorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
