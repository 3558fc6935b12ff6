// Package sqlite is the SQLite backend on the pure-Go modernc driver.
package sqlite

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// buildDSN opens the file named by the descriptor's database field with
// query_only set, so the connection cannot write.
func buildDSN(desc models.ConnectionDescriptor) (string, error) {
	if desc.DB == nil || strings.TrimSpace(desc.DB.Database) == "" {
		return "", fmt.Errorf("connection %q needs a database file path", desc.Name)
	}
	return "file:" + desc.DB.Database + "?_pragma=query_only(1)&_pragma=busy_timeout(5000)", nil
}

// errorCode returns the SQLite result code.
func errorCode(err error) string {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return strconv.Itoa(coded.Code())
	}
	return ""
}

var catalog = datasource.Catalog{
	Columns: `
		SELECT m.name, p.name, p.type, CASE WHEN p."notnull" = 0 THEN 'YES' ELSE 'NO' END, p.dflt_value
		FROM sqlite_master m JOIN pragma_table_info(m.name) p
		WHERE m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, p.cid`,
	PrimaryKeys: `
		SELECT m.name, p.name
		FROM sqlite_master m JOIN pragma_table_info(m.name) p
		WHERE m.type = 'table' AND p.pk > 0
		ORDER BY m.name, p.pk`,
	ForeignKeys: `
		SELECT m.name, f."from", f."table", COALESCE(f."to", '')
		FROM sqlite_master m JOIN pragma_foreign_key_list(m.name) f
		WHERE m.type = 'table'
		ORDER BY m.name, f.seq`,
}

// Dialect is the database/sql dialect for SQLite.
var Dialect = datasource.SQLDialect{
	Driver:      "sqlite",
	WrapLimit:   datasource.LimitSubquery,
	Quote:       quoteIdent,
	SampleQuery: datasource.LimitSample,
	Catalog:     catalog,
	ErrorCode:   errorCode,
}

var denyKeywords = []string{"ATTACH", "DETACH", "PRAGMA", "VACUUM", "REINDEX", "ANALYZE"}

var primitives = []string{
	`\bload_extension\s*\(`,
	`\breadfile\s*\(`,
	`\bwritefile\s*\(`,
	`\bfts3_tokenizer\s*\(`,
}

// Rules returns the gate rules for SQLite.
func Rules() *sqlgate.Rules {
	return sqlgate.NewRules(denyKeywords, primitives, sqlgate.SQLiteSyntax, true)
}

// ErrorRules classify SQLite errors. Result codes are coarse, so matching
// is by message.
var ErrorRules = datasource.ErrorRules{
	datasource.Rule(`misuse of aggregate`, "", true, datasource.AggregateHint),
	datasource.Rule(`aggregate functions are not allowed in the GROUP BY clause`, "", true, datasource.AggregateHint),
	datasource.Rule(`no such column`, "", false,
		"A referenced column does not exist; check spelling and table aliases against the schema."),
	datasource.Rule(`no such table`, "", false,
		"A referenced table does not exist; use only tables from the schema listing."),
	datasource.Rule(`syntax error`, "", false,
		"The query has a syntax error; SQLite has no TOP, use LIMIT."),
}

// NewAdapter creates an unconnected SQLite adapter.
func NewAdapter(dsn string, opts datasource.Options, logger *zap.Logger) *datasource.SQLAdapter {
	return datasource.NewSQLAdapter(Dialect, datasource.NewSQLGates(Rules(), ErrorRules), dsn, opts, logger)
}

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Subtype:     models.DBSQLite,
			DisplayName: "SQLite",
			Description: "SQLite 3 database files, opened query-only",
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
