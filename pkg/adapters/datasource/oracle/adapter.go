// Package oracle is the Oracle Database backend on go-ora, a pure Go driver.
package oracle

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	go_ora "github.com/sijms/go-ora/v2"
	"github.com/sijms/go-ora/v2/network"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

// DefaultPort returns the default listener port.
func DefaultPort() int {
	return 1521
}

// buildDSN renders an oracle:// URL. The descriptor's database field is the
// service name. Extra keys: "sid" connects by SID instead, "ssl" enables TLS
// and "ssl_verify" controls certificate checks.
func buildDSN(desc models.ConnectionDescriptor) (string, error) {
	db := desc.DB
	if db == nil {
		return "", fmt.Errorf("connection %q has no database settings", desc.Name)
	}
	if db.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	if db.Username == "" {
		return "", fmt.Errorf("username is required")
	}
	sid := desc.Extra["sid"]
	if db.Database == "" && sid == "" {
		return "", fmt.Errorf("database (service name) or extra sid is required")
	}
	port := db.Port
	if port == 0 {
		port = DefaultPort()
	}

	opts := map[string]string{}
	service := db.Database
	if sid != "" {
		opts["SID"] = sid
		service = ""
	}
	if v := desc.Extra["ssl"]; v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return "", fmt.Errorf("extra ssl must be a boolean: %w", err)
		}
		if on {
			opts["SSL"] = "enable"
		}
	}
	if v := desc.Extra["ssl_verify"]; v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return "", fmt.Errorf("extra ssl_verify must be a boolean: %w", err)
		}
		opts["SSL VERIFY"] = strconv.FormatBool(on)
	}
	if len(opts) == 0 {
		opts = nil
	}
	return go_ora.BuildUrl(db.Host, port, service, db.Username, db.Password, opts), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// wrapLimit bounds a query with a row-limiting clause. Oracle accepts WITH
// and ORDER BY inside an inline view, so every query is wrapped.
func wrapLimit(query string, limit int) string {
	return fmt.Sprintf("SELECT * FROM (\n%s\n) FETCH FIRST %d ROWS ONLY", query, limit)
}

func sampleQuery(quoted string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s FETCH FIRST %d ROWS ONLY", quoted, limit)
}

var oraCodePattern = regexp.MustCompile(`\bORA-(\d{5})\b`)

// errorCode returns the ORA-nnnnn code of a server error.
func errorCode(err error) string {
	var oraErr *network.OracleError
	if errors.As(err, &oraErr) && oraErr.ErrCode != 0 {
		return fmt.Sprintf("ORA-%05d", oraErr.ErrCode)
	}
	if err == nil {
		return ""
	}
	if m := oraCodePattern.FindStringSubmatch(err.Error()); m != nil {
		return "ORA-" + m[1]
	}
	return ""
}

// catalog reads the connected user's own tables.
var catalog = datasource.Catalog{
	Columns: `
		SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE, c.NULLABLE, c.DATA_DEFAULT
		FROM USER_TAB_COLUMNS c
		JOIN USER_TABLES t ON t.TABLE_NAME = c.TABLE_NAME
		ORDER BY c.TABLE_NAME, c.COLUMN_ID`,
	PrimaryKeys: `
		SELECT cc.TABLE_NAME, cc.COLUMN_NAME
		FROM USER_CONSTRAINTS c
		JOIN USER_CONS_COLUMNS cc ON cc.CONSTRAINT_NAME = c.CONSTRAINT_NAME
		WHERE c.CONSTRAINT_TYPE = 'P'
		ORDER BY cc.TABLE_NAME, cc.POSITION`,
	ForeignKeys: `
		SELECT a.TABLE_NAME, a.COLUMN_NAME, b.TABLE_NAME, b.COLUMN_NAME
		FROM USER_CONSTRAINTS c
		JOIN USER_CONS_COLUMNS a ON a.CONSTRAINT_NAME = c.CONSTRAINT_NAME
		JOIN USER_CONS_COLUMNS b ON b.CONSTRAINT_NAME = c.R_CONSTRAINT_NAME AND b.POSITION = a.POSITION
		WHERE c.CONSTRAINT_TYPE = 'R'
		ORDER BY a.TABLE_NAME, a.POSITION`,
}

// Dialect is the database/sql dialect for Oracle.
var Dialect = datasource.SQLDialect{
	Driver:      "oracle",
	WrapLimit:   wrapLimit,
	Quote:       quoteIdent,
	SampleQuery: sampleQuery,
	Catalog:     catalog,
	ErrorCode:   errorCode,
}

var denyKeywords = []string{
	"BEGIN", "DECLARE", "CALL", "EXEC", "EXECUTE", "MERGE", "LOCK", "COMMENT", "ANALYZE",
	"AUDIT", "NOAUDIT", "FLASHBACK", "PURGE", "RENAME", "COMMIT", "ROLLBACK", "SAVEPOINT",
}

var primitives = []string{
	`\butl_\w+`,
	`\bdbms_\w+`,
	`\bhttpuritype\b`,
	`\bsystem\.\w+`,
	`\bsys\.\w+\$`,
	`\bfor\s+update\b`,
}

// Rules returns the gate rules for Oracle. Oracle lexes q'[...]' literals
// and never treats backslash as an escape.
func Rules() *sqlgate.Rules {
	return sqlgate.NewRules(denyKeywords, primitives, sqlgate.OracleSyntax, true)
}

// ErrorRules classify Oracle errors by ORA code.
var ErrorRules = datasource.ErrorRules{
	datasource.Rule(`group function is not allowed here`, "ORA-00934", true, datasource.AggregateHint),
	datasource.Rule(`not a GROUP BY expression`, "ORA-00979", true,
		"Every selected non-aggregated column must appear in GROUP BY."),
	datasource.Rule(`not a single-group group function`, "ORA-00937", true,
		"Mixing aggregates with plain columns needs a GROUP BY over the plain columns."),
	datasource.Rule(`invalid identifier`, "ORA-00904", false,
		"A referenced column does not exist; Oracle folds unquoted names to upper case."),
	datasource.Rule(`table or view does not exist`, "ORA-00942", false,
		"A referenced table does not exist; use only tables from the schema listing."),
	datasource.Rule(`SQL command not properly ended`, "ORA-00933", false,
		"Oracle uses FETCH FIRST n ROWS ONLY instead of LIMIT and does not accept AS before table aliases."),
}

// NewAdapter creates an unconnected Oracle adapter.
func NewAdapter(dsn string, opts datasource.Options, logger *zap.Logger) *datasource.SQLAdapter {
	return datasource.NewSQLAdapter(Dialect, datasource.NewSQLGates(Rules(), ErrorRules), dsn, opts, logger)
}

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Subtype:     models.DBOracle,
			DisplayName: "Oracle",
			Description: "Oracle Database 12c and later",
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
