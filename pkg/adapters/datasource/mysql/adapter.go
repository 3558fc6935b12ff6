// Package mysql is the MySQL and MariaDB backend.
package mysql

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// buildDSN renders driver settings for desc. The extra key "tls" is passed
// through to the driver ("true", "skip-verify", "preferred").
func buildDSN(desc models.ConnectionDescriptor, timeout time.Duration) (string, error) {
	db := desc.DB
	if db == nil {
		return "", fmt.Errorf("connection %q has no database settings", desc.Name)
	}
	if db.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	if db.Database == "" {
		return "", fmt.Errorf("database is required")
	}
	port := db.Port
	if port == 0 {
		port = DefaultPort()
	}

	cfg := driver.NewConfig()
	cfg.User = db.Username
	cfg.Passwd = db.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(db.Host, strconv.Itoa(port))
	cfg.DBName = db.Database
	cfg.Timeout = timeout
	cfg.ReadTimeout = timeout
	cfg.ParseTime = true
	cfg.Params = map[string]string{"transaction_isolation": "'READ-COMMITTED'"}
	if tls := desc.Extra["tls"]; tls != "" {
		cfg.TLSConfig = tls
	}
	return cfg.FormatDSN(), nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// errorCode returns the MySQL error number.
func errorCode(err error) string {
	var myErr *driver.MySQLError
	if errors.As(err, &myErr) {
		return strconv.Itoa(int(myErr.Number))
	}
	return ""
}

var catalog = datasource.Catalog{
	Columns: `
		SELECT TABLE_NAME, COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	PrimaryKeys: `
		SELECT TABLE_NAME, COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	ForeignKeys: `
		SELECT TABLE_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, ORDINAL_POSITION`,
}

// Dialect is the database/sql dialect for MySQL.
var Dialect = datasource.SQLDialect{
	Driver:      "mysql",
	WrapLimit:   datasource.LimitSubquery,
	Quote:       quoteIdent,
	SampleQuery: datasource.LimitSample,
	Catalog:     catalog,
	ErrorCode:   errorCode,
}

// NewAdapter creates an unconnected MySQL adapter.
func NewAdapter(dsn string, opts datasource.Options, logger *zap.Logger) *datasource.SQLAdapter {
	return datasource.NewSQLAdapter(Dialect, datasource.NewSQLGates(Rules(), ErrorRules), dsn, opts, logger)
}

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Subtype:     models.DBMySQL,
			DisplayName: "MySQL",
			Description: "MySQL 8+, MariaDB 10.5+, Aurora MySQL",
			Dialect:     datasource.DialectSQL,
		},
		Factory: func(desc models.ConnectionDescriptor, opts datasource.Options, logger *zap.Logger) (datasource.Adapter, error) {
			dsn, err := buildDSN(desc, opts.ExecTimeout)
			if err != nil {
				return nil, err
			}
			return NewAdapter(dsn, opts, logger), nil
		},
	})
}
