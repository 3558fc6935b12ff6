// Package hana is the SAP HANA backend on go-hdb.
package hana

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/SAP/go-hdb/driver"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

// DefaultPort is the SQL port of the first tenant of instance 00.
func DefaultPort() int {
	return 30015
}

// buildDSN renders an hdb:// URL. The descriptor's database field selects
// the tenant database; the extra key "schema" sets the default schema.
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
	port := db.Port
	if port == 0 {
		port = DefaultPort()
	}

	q := url.Values{}
	if db.Database != "" {
		q.Set("databaseName", db.Database)
	}
	if schema := desc.Extra["schema"]; schema != "" {
		q.Set("defaultSchema", schema)
	}
	u := url.URL{
		Scheme:   "hdb",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     net.JoinHostPort(db.Host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// wrapLimit bounds plain queries; HANA cannot nest a WITH clause in a
// derived table.
func wrapLimit(query string, limit int) string {
	if sqlgate.FirstKeyword(sqlgate.StripCommentsAndLiterals(query, sqlgate.StandardSyntax).Text) == "WITH" {
		return query
	}
	return datasource.LimitSubquery(query, limit)
}

// errorCode returns the HANA error code.
func errorCode(err error) string {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return strconv.Itoa(coded.Code())
	}
	return ""
}

var catalog = datasource.Catalog{
	Columns: `
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE_NAME, IS_NULLABLE, DEFAULT_VALUE
		FROM SYS.TABLE_COLUMNS
		WHERE SCHEMA_NAME = CURRENT_SCHEMA
		ORDER BY TABLE_NAME, POSITION`,
	PrimaryKeys: `
		SELECT TABLE_NAME, COLUMN_NAME
		FROM SYS.CONSTRAINTS
		WHERE SCHEMA_NAME = CURRENT_SCHEMA AND IS_PRIMARY_KEY = 'TRUE'
		ORDER BY TABLE_NAME, POSITION`,
	ForeignKeys: `
		SELECT TABLE_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM SYS.REFERENTIAL_CONSTRAINTS
		WHERE SCHEMA_NAME = CURRENT_SCHEMA
		ORDER BY TABLE_NAME, POSITION`,
}

// Dialect is the database/sql dialect for SAP HANA.
var Dialect = datasource.SQLDialect{
	Driver:      "hdb",
	WrapLimit:   wrapLimit,
	Quote:       quoteIdent,
	SampleQuery: datasource.LimitSample,
	Catalog:     catalog,
	ErrorCode:   errorCode,
}

var denyKeywords = []string{"CALL", "EXPORT", "IMPORT", "MERGE", "UPSERT", "DO", "LOAD", "UNLOAD", "SET", "BACKUP", "RECOVER"}

var primitives = []string{
	`\bSYS\.(USERS|P_USERS_|PASSWORD)\w*`,
	`\bSYSTEM\.\w+`,
}

// Rules returns the gate rules for SAP HANA.
func Rules() *sqlgate.Rules {
	return sqlgate.NewRules(denyKeywords, primitives, sqlgate.StandardSyntax, true)
}

// ErrorRules classify HANA errors by SQL error code.
var ErrorRules = datasource.ErrorRules{
	datasource.Rule(`not a GROUP BY expression|missing aggregation or grouping`, "276", true,
		"Every selected non-aggregated column must appear in GROUP BY."),
	datasource.Rule(`nested aggregat|aggregate function is not allowed`, "", true, datasource.AggregateHint),
	datasource.Rule(`invalid column name`, "260", false,
		"A referenced column does not exist; check spelling against the schema."),
	datasource.Rule(`invalid table name`, "259", false,
		"A referenced table does not exist; use only tables from the schema listing."),
	datasource.Rule(`sql syntax error`, "257", false,
		"The query has a syntax error; HANA uses double quotes for identifiers and LIMIT n for row limits."),
}

// NewAdapter creates an unconnected HANA adapter.
func NewAdapter(dsn string, opts datasource.Options, logger *zap.Logger) *datasource.SQLAdapter {
	return datasource.NewSQLAdapter(Dialect, datasource.NewSQLGates(Rules(), ErrorRules), dsn, opts, logger)
}

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Subtype:     models.DBHANA,
			DisplayName: "SAP HANA",
			Description: "SAP HANA 2.0 and HANA Cloud",
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
