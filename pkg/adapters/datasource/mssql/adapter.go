package mssql

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"
	_ "github.com/microsoft/go-mssqldb/azuread" // registers the azuresql driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

// orderByPattern detects a top-level ORDER BY, which SQL Server rejects
// inside a derived table without TOP.
var orderByPattern = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)

// quoteName quotes an identifier the way QUOTENAME() does.
func quoteName(identifier string) string {
	return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
}

// wrapTop bounds a query with TOP. CTEs and ordered queries cannot be
// nested in a derived table, so they are left alone and the scanner caps
// the rows instead.
func wrapTop(query string, limit int) string {
	stripped := sqlgate.StripCommentsAndLiterals(query, sqlgate.MSSQLSyntax).Text
	if sqlgate.FirstKeyword(stripped) == "WITH" || orderByPattern.MatchString(stripped) {
		return query
	}
	return fmt.Sprintf("SELECT TOP (%d) * FROM (\n%s\n) AS _limited", limit, query)
}

// tableExpr names tables outside dbo as schema.table.
func tableExpr(schemaCol, tableCol string) string {
	return fmt.Sprintf("CASE WHEN %[1]s = 'dbo' THEN %[2]s ELSE %[1]s + '.' + %[2]s END", schemaCol, tableCol)
}

var catalog = datasource.Catalog{
	Columns: `
		SELECT ` + tableExpr("c.TABLE_SCHEMA", "c.TABLE_NAME") + `, c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE, c.COLUMN_DEFAULT
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE t.TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
		ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION`,
	PrimaryKeys: `
		SELECT ` + tableExpr("kcu.TABLE_SCHEMA", "kcu.TABLE_NAME") + `, kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		ORDER BY kcu.TABLE_SCHEMA, kcu.TABLE_NAME, kcu.ORDINAL_POSITION`,
	ForeignKeys: `
		SELECT ` + tableExpr("ps.name", "pt.name") + `, pc.name, ` + tableExpr("rs.name", "rt.name") + `, rc.name
		FROM sys.foreign_key_columns fkc
		JOIN sys.tables pt ON pt.object_id = fkc.parent_object_id
		JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
		JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
		JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		ORDER BY ps.name, pt.name, fkc.constraint_column_id`,
}

// errorCode returns the SQL Server error number.
func errorCode(err error) string {
	var msErr mssqldb.Error
	if errors.As(err, &msErr) {
		return strconv.Itoa(int(msErr.Number))
	}
	return ""
}

// Dialect returns the database/sql dialect for SQL Server.
func Dialect(driver string) datasource.SQLDialect {
	return datasource.SQLDialect{
		Driver:    driver,
		WrapLimit: wrapTop,
		Quote:     quoteName,
		SampleQuery: func(quoted string, limit int) string {
			return fmt.Sprintf("SELECT TOP (%d) * FROM %s", limit, quoted)
		},
		Catalog:   catalog,
		ErrorCode: errorCode,
	}
}

// NewAdapter creates an unconnected SQL Server adapter.
func NewAdapter(cfg *Config, opts datasource.Options, logger *zap.Logger) *datasource.SQLAdapter {
	driver, dsn := driverAndDSN(cfg)
	return datasource.NewSQLAdapter(Dialect(driver), datasource.NewSQLGates(Rules(), ErrorRules), dsn, opts, logger)
}
