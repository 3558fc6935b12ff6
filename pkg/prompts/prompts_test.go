package prompts

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

func strPtr(s string) *string { return &s }

func sampleTables() []models.TableSchema {
	return []models.TableSchema{
		{
			Name: "orders",
			Columns: []models.ColumnInfo{
				{Name: "id", Type: "integer"},
				{Name: "customer_id", Type: "integer"},
				{Name: "amount", Type: "numeric", Default: strPtr("0")},
				{Name: "note", Type: "text", Nullable: true},
			},
			PrimaryKeys: []string{"id"},
			ForeignKeys: []models.ForeignKey{
				{Column: "region_id", ReferencedTable: "regions", ReferencedColumn: "id"},
				{Column: "customer_id", ReferencedTable: "customers", ReferencedColumn: "id"},
			},
		},
		{
			Name:        "customers",
			Columns:     []models.ColumnInfo{{Name: "id", Type: "integer"}},
			PrimaryKeys: []string{"id"},
		},
	}
}

func TestFormatSchema(t *testing.T) {
	out := FormatSchema(sampleTables())

	expected := `Table: customers (1 column)
  - id integer NOT NULL
  Primary key: id

Table: orders (4 columns)
  - id integer NOT NULL
  - customer_id integer NOT NULL
  - amount numeric NOT NULL DEFAULT 0
  - note text
  Primary key: id
  Foreign key: customer_id -> customers.id
  Foreign key: region_id -> regions.id
`
	assert.Equal(t, expected, out)
}

func TestFormatSchema_DeterministicUnderPermutation(t *testing.T) {
	base := sampleTables()
	want := FormatSchema(base)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.TableSchema(nil), base...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		for j := range shuffled {
			fks := append([]models.ForeignKey(nil), shuffled[j].ForeignKeys...)
			r.Shuffle(len(fks), func(a, b int) { fks[a], fks[b] = fks[b], fks[a] })
			shuffled[j].ForeignKeys = fks
		}
		assert.Equal(t, want, FormatSchema(shuffled))
	}
}

func TestFormatSchema_DoesNotMutateInput(t *testing.T) {
	tables := sampleTables()
	FormatSchema(tables)
	assert.Equal(t, "orders", tables[0].Name)
	assert.Equal(t, "region_id", tables[0].ForeignKeys[0].Column)
}

func TestBuildGenerate(t *testing.T) {
	p := BuildGenerate(datasource.DialectSQL, "Table: t (1 column)", "How many rows?")
	assert.Contains(t, p, "### DATABASE SCHEMA ###\nTable: t (1 column)")
	assert.Contains(t, p, "### QUESTION ###\nHow many rows?")
	assert.Contains(t, p, "max 1000 rows")
	assert.Contains(t, p, "table aliases")
	assert.True(t, strings.HasSuffix(p, "### SQL QUERY ###\n"))

	doc := BuildGenerate(datasource.DialectDocument, "Table: c", "Count paid orders")
	assert.Contains(t, doc, "COLLECTION SCHEMA")
	assert.Contains(t, doc, `"operation"`)
	assert.Contains(t, doc, "$where")
	assert.NotContains(t, doc, "table aliases")
}

func TestBuildRepair_ContainsGenerateRulesAndMore(t *testing.T) {
	for _, dialect := range []datasource.Dialect{datasource.DialectSQL, datasource.DialectDocument} {
		t.Run(string(dialect), func(t *testing.T) {
			schema := "Table: orders (2 columns)"
			question := "Top customers by spend"
			gen := BuildGenerate(dialect, schema, question)
			rep := BuildRepair(dialect, schema, question,
				"Error 1111: Invalid use of group function", "SELECT SUM(x) AS s FROM t WHERE s > 1",
				[]string{"hint one", "hint two"})

			assert.Greater(t, len(rep), len(gen))
			for _, rule := range rulesFor(dialect) {
				assert.Contains(t, rep, rule)
			}
			assert.Contains(t, rep, "### FAILED QUERY ###\nSELECT SUM(x) AS s FROM t WHERE s > 1\n")
			assert.Contains(t, rep, "### ERROR ###\nError 1111: Invalid use of group function\n")
			assert.Contains(t, rep, "- hint one\n- hint two\n")
		})
	}

	sqlRepair := BuildRepair(datasource.DialectSQL, "s", "q", "e", "SELECT 1", nil)
	assert.Contains(t, sqlRepair, "aggregate alias")
	assert.NotContains(t, sqlRepair, "### HINTS ###")
}

func TestBuildExplain(t *testing.T) {
	p := BuildExplain(datasource.DialectSQL, "SELECT 1")
	assert.Contains(t, p, "### SQL QUERY ###\nSELECT 1\n")
	assert.True(t, strings.HasSuffix(p, "### EXPLANATION ###\n"))

	doc := BuildExplain(datasource.DialectDocument, `{"collection":"c"}`)
	assert.Contains(t, doc, "MongoDB")
}

func TestExtractQuery(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{name: "plain", response: "  SELECT 1  ", want: "SELECT 1"},
		{name: "sql fence", response: "```sql\nSELECT id FROM t;\n```", want: "SELECT id FROM t;"},
		{name: "bare fence", response: "```\nSELECT id\nFROM t\n```", want: "SELECT id\nFROM t"},
		{name: "fence with prose", response: "Here you go:\n```sql\nSELECT 2\n```\nThis counts rows.", want: "SELECT 2"},
		{name: "inline fence", response: "```SELECT 3```", want: "SELECT 3"},
		{name: "unterminated fence", response: "```sql\nSELECT 4", want: "SELECT 4"},
		{name: "sql prefix", response: "SQL: SELECT 5", want: "SELECT 5"},
		{name: "leading prose", response: "Here is the query:\nSELECT a\nFROM b", want: "SELECT a\nFROM b"},
		{name: "trailing prose", response: "SELECT a FROM b\n\nThis query returns a.", want: "SELECT a FROM b"},
		{name: "with clause", response: "with x as (select 1) select * from x", want: "with x as (select 1) select * from x"},
		{name: "json fence", response: "```json\n{\"collection\":\"o\",\"operation\":\"count\"}\n```", want: `{"collection":"o","operation":"count"}`},
		{name: "json with prose", response: "Sure! {\"collection\":\"o\",\"operation\":\"find\",\"filter\":{}} Hope this helps.", want: `{"collection":"o","operation":"find","filter":{}}`},
		{name: "empty", response: "   ", want: ""},
		{name: "leading dml kept", response: "UPDATE users SET name = 'x';\nSELECT * FROM users LIMIT 5", want: "UPDATE users SET name = 'x';\nSELECT * FROM users LIMIT 5"},
		{name: "leading call kept", response: "CALL purge()\nSELECT 1", want: "CALL purge()\nSELECT 1"},
		{name: "fenced leading dml kept", response: "```sql\nDELETE FROM t;\nSELECT 1\n```", want: "DELETE FROM t;\nSELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ExtractQuery(tt.response))
		})
	}
}
