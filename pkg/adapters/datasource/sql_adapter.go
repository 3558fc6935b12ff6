package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/logging"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// ErrNotConnected is returned when an adapter is used before Connect.
var ErrNotConnected = errors.New("adapter is not connected")

// Catalog holds the catalog queries of a database/sql backend.
//
// Columns must return (table, column, data_type, is_nullable, column_default)
// ordered by table and ordinal position. PrimaryKeys returns (table, column)
// and ForeignKeys returns (table, column, referenced_table, referenced_column).
// Empty queries are skipped. Args are bound to every query.
type Catalog struct {
	Columns     string
	PrimaryKeys string
	ForeignKeys string
	Args        []any
}

// SQLDialect captures what differs between database/sql backends.
type SQLDialect struct {
	Driver string
	// WrapLimit bounds a normalized query to limit rows. Nil leaves the
	// query as is; ScanRows still stops at the limit.
	WrapLimit func(query string, limit int) string
	// Quote quotes one identifier part.
	Quote func(name string) string
	// SampleQuery builds a top-N query for an already quoted table name.
	SampleQuery func(quoted string, limit int) string
	Catalog     Catalog
	// ErrorCode extracts a driver error code, or "".
	ErrorCode func(error) string
}

// QuoteQualified quotes each dot-separated part of name with quote.
func (d SQLDialect) QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.Quote(p)
	}
	return strings.Join(parts, ".")
}

// LimitSubquery is the standard "SELECT * FROM (q) AS _limited LIMIT n" wrapper.
func LimitSubquery(query string, limit int) string {
	return fmt.Sprintf("SELECT * FROM (\n%s\n) AS _limited LIMIT %d", query, limit)
}

// LimitSample is the standard "SELECT * FROM t LIMIT n" sample query.
func LimitSample(quoted string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoted, limit)
}

// SQLAdapter is a database/sql-backed Adapter shared by the relational
// backends that are not pgx-native.
type SQLAdapter struct {
	SQLGates

	dialect SQLDialect
	dsn     string
	opts    Options
	logger  *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

var _ Adapter = (*SQLAdapter)(nil)

// NewSQLAdapter creates an unconnected adapter that will open dsn with the
// dialect's driver on Connect.
func NewSQLAdapter(dialect SQLDialect, gates SQLGates, dsn string, opts Options, logger *zap.Logger) *SQLAdapter {
	return &SQLAdapter{SQLGates: gates, dialect: dialect, dsn: dsn, opts: opts, logger: logger}
}

// NewSQLAdapterWithDB wraps an existing *sql.DB. Connect only pings it.
func NewSQLAdapterWithDB(dialect SQLDialect, gates SQLGates, db *sql.DB, opts Options, logger *zap.Logger) *SQLAdapter {
	return &SQLAdapter{SQLGates: gates, dialect: dialect, db: db, opts: opts, logger: logger}
}

func (a *SQLAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		db, err := sql.Open(a.dialect.Driver, a.dsn)
		if err != nil {
			return fmt.Errorf("failed to open %s connection: %s", a.dialect.Driver, logging.SanitizeError(err))
		}
		db.SetMaxOpenConns(2)
		a.db = db
	}

	pingCtx, cancel := context.WithTimeout(ctx, a.opts.ExecTimeout)
	defer cancel()
	if err := a.db.PingContext(pingCtx); err != nil {
		_ = a.db.Close()
		a.db = nil
		return fmt.Errorf("failed to connect to %s: %s", a.dialect.Driver, logging.SanitizeError(err))
	}
	return nil
}

func (a *SQLAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *SQLAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db != nil
}

func (a *SQLAdapter) conn() (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil, ErrNotConnected
	}
	return a.db, nil
}

func (a *SQLAdapter) GetSchema(ctx context.Context) ([]models.TableSchema, error) {
	db, err := a.conn()
	if err != nil {
		return nil, err
	}
	cat := a.dialect.Catalog
	b := NewSchemaBuilder()

	if cat.Columns != "" {
		rows, err := db.QueryContext(ctx, cat.Columns, cat.Args...)
		if err != nil {
			return nil, fmt.Errorf("query columns: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var table, column, dataType string
			var nullable, def any
			if err := rows.Scan(&table, &column, &dataType, &nullable, &def); err != nil {
				return nil, fmt.Errorf("scan column: %w", err)
			}
			b.AddColumn(table, models.ColumnInfo{
				Name:     column,
				Type:     dataType,
				Nullable: ParseNullable(nullable),
				Default:  OptionalString(def),
			})
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate columns: %w", err)
		}
	}

	if cat.PrimaryKeys != "" {
		if err := a.eachRow(ctx, db, cat.PrimaryKeys, 2, func(vals []string) {
			b.AddPrimaryKey(vals[0], vals[1])
		}); err != nil {
			return nil, fmt.Errorf("query primary keys: %w", err)
		}
	}

	if cat.ForeignKeys != "" {
		if err := a.eachRow(ctx, db, cat.ForeignKeys, 4, func(vals []string) {
			b.AddForeignKey(vals[0], models.ForeignKey{Column: vals[1], ReferencedTable: vals[2], ReferencedColumn: vals[3]})
		}); err != nil {
			return nil, fmt.Errorf("query foreign keys: %w", err)
		}
	}

	return b.Build(), nil
}

func (a *SQLAdapter) eachRow(ctx context.Context, db *sql.DB, query string, n int, fn func([]string)) error {
	rows, err := db.QueryContext(ctx, query, a.dialect.Catalog.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		vals := make([]string, n)
		ptrs := make([]any, n)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		fn(vals)
	}
	return rows.Err()
}

func (a *SQLAdapter) Execute(ctx context.Context, text string) models.ExecutionResult {
	return RunTimed(a.logger, a.dialect.ErrorCode, func() (models.ExecutionResult, error) {
		db, err := a.conn()
		if err != nil {
			return models.ExecutionResult{}, err
		}
		query, err := a.Rules.Normalize(text)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		if a.dialect.WrapLimit != nil {
			query = a.dialect.WrapLimit(query, a.opts.MaxRows)
		}

		ctx, cancel := context.WithTimeout(ctx, a.opts.ExecTimeout)
		defer cancel()
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		return ScanRows(rows, a.opts.MaxRows)
	})
}

func (a *SQLAdapter) GetSample(ctx context.Context, name string, limit int) models.ExecutionResult {
	return RunTimed(a.logger, a.dialect.ErrorCode, func() (models.ExecutionResult, error) {
		db, err := a.conn()
		if err != nil {
			return models.ExecutionResult{}, err
		}
		if strings.TrimSpace(name) == "" {
			return models.ExecutionResult{}, fmt.Errorf("table name is required")
		}
		limit = ClampLimit(limit)

		ctx, cancel := context.WithTimeout(ctx, a.opts.ExecTimeout)
		defer cancel()
		rows, err := db.QueryContext(ctx, a.dialect.SampleQuery(a.dialect.QuoteQualified(name), limit))
		if err != nil {
			return models.ExecutionResult{}, err
		}
		return ScanRows(rows, limit)
	})
}
