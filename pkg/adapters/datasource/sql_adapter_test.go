package datasource

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

func testDialect() SQLDialect {
	return SQLDialect{
		Driver:      "sqlmock",
		WrapLimit:   LimitSubquery,
		Quote:       func(s string) string { return `"` + s + `"` },
		SampleQuery: LimitSample,
		Catalog: Catalog{
			Columns:     "SELECT table_name, column_name, data_type, is_nullable, column_default FROM cols",
			PrimaryKeys: "SELECT table_name, column_name FROM pks",
			ForeignKeys: "SELECT table_name, column_name, ref_table, ref_column FROM fks",
		},
		ErrorCode: func(err error) string {
			if err != nil && err.Error() == "group function misuse" {
				return "1111"
			}
			return ""
		},
	}
}

func newMockAdapter(t *testing.T) (*SQLAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gates := NewSQLGates(sqlgate.NewRules(nil, nil, sqlgate.StandardSyntax, false), nil)
	opts := Options{ExecTimeout: 5 * time.Second, MaxRows: 3}
	a := NewSQLAdapterWithDB(testDialect(), gates, db, opts, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))
	return a, mock
}

func TestSQLAdapter_ExecuteWrapsLimitAndScans(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM (\nSELECT id, name FROM users\n) AS _limited LIMIT 3")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("ada")).
			AddRow(int64(2), "grace"))

	res := a.Execute(context.Background(), "SELECT id, name FROM users;")

	require.Empty(t, res.Error)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, "ada", res.Rows[0][1])
	assert.True(t, res.WellFormed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAdapter_ExecuteStopsAtMaxRows(t *testing.T) {
	a, mock := newMockAdapter(t)

	rows := sqlmock.NewRows([]string{"n"})
	for i := 0; i < 5; i++ {
		rows.AddRow(int64(i))
	}
	mock.ExpectQuery("_limited LIMIT 3").WillReturnRows(rows)

	res := a.Execute(context.Background(), "SELECT n FROM numbers")

	require.Empty(t, res.Error)
	assert.Equal(t, 3, res.RowCount)
	assert.Len(t, res.Rows, 3)
}

func TestSQLAdapter_ExecuteReportsErrorWithCode(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery("_limited").WillReturnError(errors.New("group function misuse"))

	res := a.Execute(context.Background(), "SELECT COUNT(*) AS c FROM t WHERE c > 1")

	assert.True(t, res.Failed())
	assert.Equal(t, "group function misuse", res.Error)
	assert.Equal(t, "1111", res.ErrorCode)
	assert.GreaterOrEqual(t, res.ExecTimeMs, int64(0))
}

func TestSQLAdapter_ExecuteRejectsMultipleStatements(t *testing.T) {
	a, mock := newMockAdapter(t)

	res := a.Execute(context.Background(), "SELECT 1; SELECT 2")

	assert.True(t, res.Failed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAdapter_ExecuteWhenDisconnected(t *testing.T) {
	a, mock := newMockAdapter(t)
	mock.ExpectClose()
	require.NoError(t, a.Disconnect())
	assert.False(t, a.IsConnected())

	res := a.Execute(context.Background(), "SELECT 1")
	assert.Contains(t, res.Error, ErrNotConnected.Error())

	// second disconnect is a no-op
	assert.NoError(t, a.Disconnect())
}

func TestSQLAdapter_GetSchema(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery("FROM cols").WillReturnRows(sqlmock.NewRows(
		[]string{"table_name", "column_name", "data_type", "is_nullable", "column_default"}).
		AddRow("orders", "id", "integer", "NO", nil).
		AddRow("orders", "user_id", "integer", "YES", nil).
		AddRow("users", "id", "integer", "NO", "nextval('users_id_seq')"))
	mock.ExpectQuery("FROM pks").WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).
		AddRow("orders", "id").
		AddRow("users", "id"))
	mock.ExpectQuery("FROM fks").WillReturnRows(sqlmock.NewRows(
		[]string{"table_name", "column_name", "ref_table", "ref_column"}).
		AddRow("orders", "user_id", "users", "id"))

	tables, err := a.GetSchema(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Equal(t, "orders", tables[0].Name)
	assert.Equal(t, []string{"id"}, tables[0].PrimaryKeys)
	require.Len(t, tables[0].ForeignKeys, 1)
	assert.Equal(t, "users", tables[0].ForeignKeys[0].ReferencedTable)
	assert.False(t, tables[0].Columns[0].Nullable)
	assert.True(t, tables[0].Columns[1].Nullable)

	require.NotNil(t, tables[1].Columns[0].Default)
	assert.Equal(t, "nextval('users_id_seq')", *tables[1].Columns[0].Default)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAdapter_GetSchemaPropagatesErrors(t *testing.T) {
	a, mock := newMockAdapter(t)
	mock.ExpectQuery("FROM cols").WillReturnError(sql.ErrConnDone)

	_, err := a.GetSchema(context.Background())
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestSQLAdapter_GetSampleQuotesQualifiedNames(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sales"."orders" LIMIT 10`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	res := a.GetSample(context.Background(), "sales.orders", 10)
	require.Empty(t, res.Error)
	assert.Equal(t, 1, res.RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAdapter_GetSampleRequiresName(t *testing.T) {
	a, _ := newMockAdapter(t)
	res := a.GetSample(context.Background(), "  ", 5)
	assert.Contains(t, res.Error, "table name is required")
}

func TestSQLAdapter_ConnectFailureClosesDB(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	a := NewSQLAdapterWithDB(testDialect(), NewSQLGates(sqlgate.NewRules(nil, nil, sqlgate.StandardSyntax, false), nil),
		db, DefaultOptions(), zap.NewNop())

	err = a.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, a.IsConnected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTimed_RecoversPanic(t *testing.T) {
	res := RunTimed(zap.NewNop(), nil, func() (models.ExecutionResult, error) {
		panic("boom")
	})
	assert.Contains(t, res.Error, "boom")
}
