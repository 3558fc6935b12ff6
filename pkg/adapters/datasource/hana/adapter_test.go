package hana

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

type codedError struct{ code int }

func (e codedError) Error() string { return fmt.Sprintf("SQL error %d", e.code) }
func (e codedError) Code() int     { return e.code }

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(models.ConnectionDescriptor{
		Name:  "h",
		DB:    &models.DBConnection{Host: "hana.local", Database: "HXE", Username: "SYSTEM", Password: "Pa/ss#1"},
		Extra: map[string]string{"schema": "SALES"},
	})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "hdb", u.Scheme)
	assert.Equal(t, "hana.local:30015", u.Host)
	pw, _ := u.User.Password()
	assert.Equal(t, "Pa/ss#1", pw)
	assert.Equal(t, "HXE", u.Query().Get("databaseName"))
	assert.Equal(t, "SALES", u.Query().Get("defaultSchema"))
}

func TestBuildDSN_Invalid(t *testing.T) {
	_, err := buildDSN(models.ConnectionDescriptor{Name: "h", DB: &models.DBConnection{Username: "u"}})
	assert.ErrorContains(t, err, "host is required")
	_, err = buildDSN(models.ConnectionDescriptor{Name: "h", DB: &models.DBConnection{Host: "x"}})
	assert.ErrorContains(t, err, "username is required")
}

func TestWrapLimit(t *testing.T) {
	assert.Contains(t, wrapLimit("SELECT 1 FROM DUMMY", 10), "_limited LIMIT 10")
	assert.Equal(t, "WITH a AS (SELECT 1 FROM DUMMY) SELECT * FROM a", wrapLimit("WITH a AS (SELECT 1 FROM DUMMY) SELECT * FROM a", 10))
}

func TestErrorClassification(t *testing.T) {
	err := fmt.Errorf("exec: %w", codedError{code: 276})
	assert.Equal(t, "276", errorCode(err))

	rules := datasource.NewSQLGates(Rules(), ErrorRules).ErrorRules()
	assert.True(t, rules.Classify(err.Error(), errorCode(err)).Retryable)
	assert.False(t, rules.Classify("invalid table name: ORDRS", "259").Retryable)
}

func TestRules(t *testing.T) {
	rules := Rules()
	_, err := rules.Sanitize("UPSERT T VALUES (1)")
	assert.ErrorIs(t, err, sqlgate.ErrRejected)
	assert.ErrorIs(t, rules.Validate("SELECT * FROM SYS.USERS"), sqlgate.ErrRejected)
	assert.NoError(t, rules.Validate(`SELECT "ID" FROM "ORDERS" LIMIT 5`))
}

func TestAdapter_ExecuteWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := datasource.NewSQLAdapterWithDB(Dialect, datasource.NewSQLGates(Rules(), ErrorRules), db,
		datasource.DefaultOptions(), zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "SALES"."ORDERS" LIMIT 3`)).
		WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(int64(7)))

	res := a.GetSample(context.Background(), "SALES.ORDERS", 3)
	require.Empty(t, res.Error)
	assert.Equal(t, [][]any{{int64(7)}}, res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
