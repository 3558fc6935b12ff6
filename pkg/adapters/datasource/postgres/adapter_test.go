//go:build postgres || all_adapters

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/testhelpers"
)

func newIntegrationAdapter(t *testing.T) *Adapter {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)

	cfg, err := FromDescriptor(testDB.Descriptor("pg"))
	require.NoError(t, err)

	a := NewAdapter(cfg, datasource.DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Disconnect() })
	return a
}

func TestAdapter_GetSchema(t *testing.T) {
	a := newIntegrationAdapter(t)

	tables, err := a.GetSchema(context.Background())
	require.NoError(t, err)

	names := make(map[string]int)
	for i, tbl := range tables {
		names[tbl.Name] = i
	}
	require.Contains(t, names, "customers")
	require.Contains(t, names, "orders")

	orders := tables[names["orders"]]
	assert.Equal(t, []string{"id"}, orders.PrimaryKeys)
	require.Len(t, orders.ForeignKeys, 1)
	assert.Equal(t, "customers", orders.ForeignKeys[0].ReferencedTable)
	assert.Equal(t, "id", orders.ForeignKeys[0].ReferencedColumn)
}

func TestAdapter_Execute(t *testing.T) {
	a := newIntegrationAdapter(t)

	res := a.Execute(context.Background(),
		"SELECT c.name, SUM(o.amount) AS total FROM customers c JOIN orders o ON o.customer_id = c.id GROUP BY c.name ORDER BY c.name;")

	require.Empty(t, res.Error)
	assert.Equal(t, []string{"name", "total"}, res.Columns)
	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, "Ada", res.Rows[0][0])
	assert.True(t, res.WellFormed())
}

func TestAdapter_ExecuteAggregateErrorIsRetryable(t *testing.T) {
	a := newIntegrationAdapter(t)

	res := a.Execute(context.Background(), "SELECT name FROM customers WHERE COUNT(*) > 1")

	require.True(t, res.Failed())
	assert.Equal(t, "42803", res.ErrorCode)
	assert.True(t, a.ErrorRules().Classify(res.Error, res.ErrorCode).Retryable)
}

func TestAdapter_ReadOnlySession(t *testing.T) {
	a := newIntegrationAdapter(t)

	// Gates would reject this; Execute on its own still cannot write.
	res := a.Execute(context.Background(), "WITH x AS (SELECT 1) SELECT nextval('orders_id_seq')")
	require.True(t, res.Failed())
	assert.Equal(t, "25006", res.ErrorCode)
}

func TestAdapter_GetSample(t *testing.T) {
	a := newIntegrationAdapter(t)

	res := a.GetSample(context.Background(), "public.customers", 2)
	require.Empty(t, res.Error)
	assert.Equal(t, 2, res.RowCount)
}

func TestAdapter_ConnectWrongPassword(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	desc := testDB.Descriptor("bad")
	desc.DB.Password = "wrong-secret"

	cfg, err := FromDescriptor(desc)
	require.NoError(t, err)

	err = NewAdapter(cfg, datasource.DefaultOptions(), zaptest.NewLogger(t)).Connect(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "wrong-secret")
}
