package datasource

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

func TestSchemaBuilder_SortsTablesKeepsColumnOrder(t *testing.T) {
	b := NewSchemaBuilder()
	b.AddColumn("zeta", models.ColumnInfo{Name: "b"})
	b.AddColumn("zeta", models.ColumnInfo{Name: "a"})
	b.AddTable("alpha")
	b.AddPrimaryKey("zeta", "b")
	b.AddPrimaryKey("missing", "x")
	b.AddForeignKey("missing", models.ForeignKey{Column: "x"})

	tables := b.Build()
	require.Len(t, tables, 2)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "alpha", tables[0].Name)
	assert.Empty(t, tables[0].Columns)
	assert.Equal(t, []string{"b", "a"}, []string{tables[1].Columns[0].Name, tables[1].Columns[1].Name})
	assert.Equal(t, []string{"b"}, tables[1].PrimaryKeys)
}

func TestParseNullable(t *testing.T) {
	for _, v := range []any{"YES", "y", "true", []byte("YES"), true, int64(1), 1} {
		assert.True(t, ParseNullable(v), "%v", v)
	}
	for _, v := range []any{"NO", "", nil, false, int64(0), 3.5} {
		assert.False(t, ParseNullable(v), "%v", v)
	}
}

func TestOptionalString(t *testing.T) {
	assert.Nil(t, OptionalString(nil))
	assert.Equal(t, "x", *OptionalString("x"))
	assert.Equal(t, "y", *OptionalString([]byte("y")))
	assert.Nil(t, OptionalString(42))
}

func TestNormalizeValue(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	assert.Nil(t, NormalizeValue(nil))
	assert.Equal(t, "abc", NormalizeValue([]byte("abc")))
	assert.Equal(t, id.String(), NormalizeValue([16]byte(id)))
	assert.Equal(t, "2024-03-01T11:00:00Z", NormalizeValue(ts))
	assert.Equal(t, int64(7), NormalizeValue(int64(7)))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, MaxQueryLimit, ClampLimit(0))
	assert.Equal(t, MaxQueryLimit, ClampLimit(-4))
	assert.Equal(t, MaxQueryLimit, ClampLimit(5000))
	assert.Equal(t, 25, ClampLimit(25))
}
