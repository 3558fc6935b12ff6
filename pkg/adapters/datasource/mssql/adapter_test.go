package mssql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

func TestFromDescriptor_SQLAuth(t *testing.T) {
	cfg, err := FromDescriptor(models.ConnectionDescriptor{
		Name: "ms",
		DB:   &models.DBConnection{Host: "db", Database: "sales", Username: "sa", Password: "pw"},
		Extra: map[string]string{
			"trust_server_certificate": "true",
			"encrypt":                  "false",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, AuthSQL, cfg.AuthMethod)
	assert.Equal(t, 1433, cfg.Port)
	assert.False(t, cfg.Encrypt)
	assert.True(t, cfg.TrustServerCertificate)

	driver, dsn := driverAndDSN(cfg)
	assert.Equal(t, "sqlserver", driver)
	assert.Contains(t, dsn, "sqlserver://sa:pw@db:1433?")
	assert.Contains(t, dsn, "database=sales")
	assert.Contains(t, dsn, "ApplicationIntent=ReadOnly")
}

func TestFromDescriptor_ServicePrincipal(t *testing.T) {
	cfg, err := FromDescriptor(models.ConnectionDescriptor{
		Name: "az",
		DB:   &models.DBConnection{Host: "x.database.windows.net", Database: "sales"},
		Extra: map[string]string{
			"client_id":     "cid",
			"tenant_id":     "tid",
			"client_secret": "shh",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, AuthServicePrincipal, cfg.AuthMethod)

	driver, dsn := driverAndDSN(cfg)
	assert.Equal(t, "azuresql", driver)
	assert.Contains(t, dsn, "fedauth=ActiveDirectoryServicePrincipal")
}

func TestFromDescriptor_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		db    models.DBConnection
		extra map[string]string
		want  string
	}{
		{"no host", models.DBConnection{Database: "d", Username: "u"}, nil, "host is required"},
		{"no database", models.DBConnection{Host: "h", Username: "u"}, nil, "database is required"},
		{"no user", models.DBConnection{Host: "h", Database: "d"}, nil, "username is required"},
		{"sp without tenant", models.DBConnection{Host: "h", Database: "d"}, map[string]string{"client_id": "c", "client_secret": "s"}, "tenant_id"},
		{"bad timeout", models.DBConnection{Host: "h", Database: "d", Username: "u"}, map[string]string{"connection_timeout": "soon"}, "connection_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := tt.db
			_, err := FromDescriptor(models.ConnectionDescriptor{Name: "x", DB: &db, Extra: tt.extra})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestWrapTop(t *testing.T) {
	assert.Equal(t, "SELECT TOP (50) * FROM (\nSELECT a FROM t\n) AS _limited", wrapTop("SELECT a FROM t", 50))
	assert.Equal(t, "WITH x AS (SELECT 1 AS a) SELECT a FROM x", wrapTop("WITH x AS (SELECT 1 AS a) SELECT a FROM x", 50))
	assert.Equal(t, "SELECT a FROM t ORDER BY a", wrapTop("SELECT a FROM t ORDER BY a", 50))
	// ORDER BY inside a literal does not count
	assert.Contains(t, wrapTop("SELECT 'order by' AS s FROM t", 5), "TOP (5)")
}

func TestQuoteName(t *testing.T) {
	assert.Equal(t, "[Orders]", quoteName("Orders"))
	assert.Equal(t, "[we]]ird]", quoteName("we]ird"))
	assert.Equal(t, "[sales].[Orders]", Dialect("sqlserver").QuoteQualified("sales.Orders"))
}

func TestErrorCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", mssqldb.Error{Number: 130, Message: "Cannot perform an aggregate function"})
	assert.Equal(t, "130", errorCode(err))
	assert.Equal(t, "", errorCode(errors.New("x")))
}

func TestErrorRules(t *testing.T) {
	rules := datasource.NewSQLGates(Rules(), ErrorRules).ErrorRules()
	assert.True(t, rules.Classify("whatever", "130").Retryable)
	assert.True(t, rules.Classify("Column 'o.Total' is invalid in the select list because it is not contained in either an aggregate function or the GROUP BY clause.", "").Retryable)
	assert.False(t, rules.Classify("Invalid object name 'Ordrs'.", "208").Retryable)
}

func TestRules_Gates(t *testing.T) {
	rules := Rules()
	for _, q := range []string{
		"EXEC sp_who",
		"DECLARE @x INT",
		"SELECT * FROM OPENROWSET('SQLNCLI', 'x', 'select 1')",
		"SELECT name FROM sys.objects; EXEC xp_cmdshell 'dir'",
		"SELECT 1 WAITFOR DELAY '0:0:5'",
	} {
		_, err := rules.Sanitize(q)
		if err == nil {
			err = rules.Validate(q)
		}
		assert.ErrorIs(t, err, sqlgate.ErrRejected, q)
	}

	assert.NoError(t, rules.Validate("SELECT TOP (10) * FROM dbo.Orders"))
}

// SQL Server reads a backslash as an ordinary character, so 'x\' closes the
// literal and whatever follows the quote is live code.
func TestRules_BackslashDoesNotEscapeQuotes(t *testing.T) {
	rules := Rules()
	for _, q := range []string{
		`SELECT name, 'x\' FROM users; TRUNCATE TABLE users --' FROM users ORDER BY name`,
		`SELECT 'C:\' AS drive, name FROM users ORDER BY name; DROP TABLE orders --' FROM users`,
		`SELECT [a']; DELETE FROM users --] FROM users`,
	} {
		err := rules.Validate(q)
		assert.ErrorIs(t, err, sqlgate.ErrRejected, q)

		_, err = rules.Normalize(q)
		assert.ErrorIs(t, err, sqlgate.ErrMultipleStatements, q)
	}

	assert.NoError(t, rules.Validate(`SELECT 'C:\' AS drive, name FROM users`))
	assert.NoError(t, rules.Validate(`SELECT [it's] FROM dbo.Orders`))
}

func TestWrapTop_BackslashLiteral(t *testing.T) {
	// the ORDER BY after 'C:\' is real, so the query must not be nested
	q := `SELECT 'C:\' AS drive, name FROM users ORDER BY name`
	assert.Equal(t, q, wrapTop(q, 10))

	q = `SELECT 'x\' AS s, [order by] FROM users`
	assert.Contains(t, wrapTop(q, 10), "TOP (10)")
}

func TestAdapter_ExecuteRejectsBackslashSmuggling(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := datasource.NewSQLAdapterWithDB(Dialect("sqlserver"), datasource.NewSQLGates(Rules(), ErrorRules),
		db, datasource.Options{ExecTimeout: datasource.DefaultOptions().ExecTimeout, MaxRows: 25}, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))

	res := a.Execute(context.Background(), `SELECT name, 'x\' FROM users; TRUNCATE TABLE users --' FROM users`)
	assert.NotEmpty(t, res.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ExecuteWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := datasource.NewSQLAdapterWithDB(Dialect("sqlserver"), datasource.NewSQLGates(Rules(), ErrorRules),
		db, datasource.Options{ExecTimeout: datasource.DefaultOptions().ExecTimeout, MaxRows: 25}, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT TOP (25) * FROM (\nSELECT Name FROM dbo.Customers\n) AS _limited")).
		WillReturnRows(sqlmock.NewRows([]string{"Name"}).AddRow("Ada"))

	res := a.Execute(context.Background(), "SELECT Name FROM dbo.Customers")
	require.Empty(t, res.Error)
	assert.Equal(t, 1, res.RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
