package duckdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

func seedDuckDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.duckdb")

	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name VARCHAR NOT NULL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), amount DOUBLE)`,
		`INSERT INTO customers VALUES (1, 'Ada'), (2, 'Grace')`,
		`INSERT INTO orders VALUES (10, 1, 9.5), (11, 1, 3.0), (12, 2, 7.25)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())
	return path
}

func newTestAdapter(t *testing.T) *datasource.SQLAdapter {
	t.Helper()
	desc := models.ConnectionDescriptor{
		Name: "duck", Kind: models.KindDB,
		DB: &models.DBConnection{Subtype: models.DBDuckDB, Database: seedDuckDB(t)},
	}
	dsn, err := buildDSN(desc)
	require.NoError(t, err)

	a := NewAdapter(dsn, datasource.DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Disconnect() })
	return a
}

func TestAdapter_SchemaAndExecute(t *testing.T) {
	a := newTestAdapter(t)

	tables, err := a.GetSchema(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "customers", tables[0].Name)
	assert.Equal(t, []string{"id"}, tables[0].PrimaryKeys)
	require.Len(t, tables[1].ForeignKeys, 1)
	assert.Equal(t, "customers", tables[1].ForeignKeys[0].ReferencedTable)

	res := a.Execute(context.Background(), "SELECT customer_id, COUNT(*) AS n FROM orders GROUP BY customer_id ORDER BY customer_id")
	require.Empty(t, res.Error)
	assert.Equal(t, 2, res.RowCount)
	assert.True(t, res.WellFormed())
}

func TestAdapter_ReadOnly(t *testing.T) {
	a := newTestAdapter(t)

	// Gates would reject this; the read-only handle refuses it too.
	res := a.Execute(context.Background(), "WITH x AS (SELECT 1) SELECT * FROM x; CREATE TABLE t (a INT)")
	assert.True(t, res.Failed())
}

func TestAdapter_AggregateErrorIsRetryable(t *testing.T) {
	a := newTestAdapter(t)

	res := a.Execute(context.Background(), "SELECT name FROM customers WHERE COUNT(*) > 1")
	require.True(t, res.Failed())
	assert.True(t, a.ErrorRules().Classify(res.Error, res.ErrorCode).Retryable)
}

func TestRules_BlockFileAccess(t *testing.T) {
	rules := Rules()
	for _, q := range []string{
		"SELECT * FROM read_csv('/etc/passwd')",
		"SELECT * FROM glob('/home/*')",
		"SELECT getenv('HOME')",
	} {
		assert.ErrorIs(t, rules.Validate(q), sqlgate.ErrRejected, q)
	}
	for _, q := range []string{"ATTACH 'x.db'", "INSTALL httpfs", "COPY orders TO 'x.csv'"} {
		_, err := rules.Sanitize(q)
		assert.ErrorIs(t, err, sqlgate.ErrRejected, q)
	}
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(models.ConnectionDescriptor{Name: "d", DB: &models.DBConnection{Database: "/data/x.duckdb"}})
	require.NoError(t, err)
	assert.Equal(t, "/data/x.duckdb?access_mode=read_only", dsn)

	_, err = buildDSN(models.ConnectionDescriptor{Name: "d", DB: &models.DBConnection{}})
	assert.Error(t, err)
}
