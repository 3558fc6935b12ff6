// Package duckdb is the file-backed DuckDB backend. Databases are opened
// read-only.
package duckdb

import (
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// buildDSN opens the database file named by the descriptor's database field.
func buildDSN(desc models.ConnectionDescriptor) (string, error) {
	if desc.DB == nil || strings.TrimSpace(desc.DB.Database) == "" {
		return "", fmt.Errorf("connection %q needs a database file path", desc.Name)
	}
	return desc.DB.Database + "?access_mode=read_only", nil
}

var catalog = datasource.Catalog{
	Columns: `
		SELECT CASE WHEN table_schema = 'main' THEN table_name ELSE table_schema || '.' || table_name END,
			column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_catalog = current_database() AND table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY table_schema, table_name, ordinal_position`,
	PrimaryKeys: `
		SELECT CASE WHEN schema_name = 'main' THEN table_name ELSE schema_name || '.' || table_name END,
			unnest(constraint_column_names)
		FROM duckdb_constraints()
		WHERE constraint_type = 'PRIMARY KEY' AND database_name = current_database()`,
	ForeignKeys: `
		SELECT CASE WHEN schema_name = 'main' THEN table_name ELSE schema_name || '.' || table_name END,
			unnest(constraint_column_names), referenced_table, unnest(referenced_column_names)
		FROM duckdb_constraints()
		WHERE constraint_type = 'FOREIGN KEY' AND database_name = current_database()`,
}

// Dialect is the database/sql dialect for DuckDB.
var Dialect = datasource.SQLDialect{
	Driver:      "duckdb",
	WrapLimit:   datasource.LimitSubquery,
	Quote:       quoteIdent,
	SampleQuery: datasource.LimitSample,
	Catalog:     catalog,
}

var denyKeywords = []string{
	"COPY", "ATTACH", "DETACH", "INSTALL", "LOAD", "PRAGMA", "EXPORT", "IMPORT", "CHECKPOINT", "SET", "RESET", "USE", "CALL",
}

// read_* table functions reach outside the database file.
var primitives = []string{
	`\bread_(csv|csv_auto|parquet|json|json_auto|ndjson|text|blob)\s*\(`,
	`\bglob\s*\(`,
	`\bparquet_scan\s*\(`,
	`\bhttpfs\b`,
	`\bgetenv\s*\(`,
}

// Rules returns the gate rules for DuckDB.
func Rules() *sqlgate.Rules {
	return sqlgate.NewRules(denyKeywords, primitives, sqlgate.DuckDBSyntax, true)
}

// ErrorRules classify DuckDB errors. DuckDB reports no error codes.
var ErrorRules = datasource.ErrorRules{
	datasource.Rule(`WHERE clause cannot contain aggregates`, "", true, datasource.AggregateHint),
	datasource.Rule(`aggregate function calls cannot be nested`, "", true, datasource.AggregateHint),
	datasource.Rule(`must appear in the GROUP BY clause or must be part of an aggregate function`, "", true,
		"Every selected non-aggregated column must appear in GROUP BY."),
	datasource.Rule(`Table with name \S+ does not exist`, "", false,
		"A referenced table does not exist; use only tables from the schema listing."),
	datasource.Rule(`Referenced column \S+ not found`, "", false,
		"A referenced column does not exist; check spelling against the schema."),
	datasource.Rule(`Parser Error`, "", false,
		"The query has a syntax error; DuckDB follows PostgreSQL syntax."),
}

// NewAdapter creates an unconnected DuckDB adapter.
func NewAdapter(dsn string, opts datasource.Options, logger *zap.Logger) *datasource.SQLAdapter {
	return datasource.NewSQLAdapter(Dialect, datasource.NewSQLGates(Rules(), ErrorRules), dsn, opts, logger)
}

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Subtype:     models.DBDuckDB,
			DisplayName: "DuckDB",
			Description: "DuckDB database files, opened read-only",
			Dialect:     datasource.DialectSQL,
		},
		Factory: func(desc models.ConnectionDescriptor, opts datasource.Options, logger *zap.Logger) (datasource.Adapter, error) {
			dsn, err := buildDSN(desc)
			if err != nil {
				return nil, err
			}
			return NewAdapter(dsn, opts, logger), nil
		},
	})
}
