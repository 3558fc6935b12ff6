package datasource

import (
	"sort"
	"strings"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// SchemaBuilder assembles TableSchema values from the flat rows returned by
// catalog queries. Tables come out sorted by name; columns keep the order in
// which they were added.
type SchemaBuilder struct {
	tables map[string]*models.TableSchema
	order  []string
}

// NewSchemaBuilder creates an empty builder.
func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{tables: make(map[string]*models.TableSchema)}
}

func (b *SchemaBuilder) table(name string) *models.TableSchema {
	t, ok := b.tables[name]
	if !ok {
		t = &models.TableSchema{Name: name}
		b.tables[name] = t
		b.order = append(b.order, name)
	}
	return t
}

// AddTable registers a table even if it has no columns yet.
func (b *SchemaBuilder) AddTable(name string) {
	b.table(name)
}

// AddColumn appends a column to a table.
func (b *SchemaBuilder) AddColumn(table string, col models.ColumnInfo) {
	t := b.table(table)
	t.Columns = append(t.Columns, col)
}

// AddPrimaryKey records a primary key column. Unknown tables are ignored.
func (b *SchemaBuilder) AddPrimaryKey(table, column string) {
	if t, ok := b.tables[table]; ok {
		t.PrimaryKeys = append(t.PrimaryKeys, column)
	}
}

// AddForeignKey records a foreign key. Unknown tables are ignored.
func (b *SchemaBuilder) AddForeignKey(table string, fk models.ForeignKey) {
	if t, ok := b.tables[table]; ok {
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
}

// Len returns the number of tables seen.
func (b *SchemaBuilder) Len() int {
	return len(b.order)
}

// Build returns the collected tables sorted by name.
func (b *SchemaBuilder) Build() []models.TableSchema {
	names := append([]string(nil), b.order...)
	sort.Strings(names)
	out := make([]models.TableSchema, 0, len(names))
	for _, n := range names {
		out = append(out, *b.tables[n])
	}
	return out
}

// ParseNullable interprets the many spellings catalogs use for "nullable".
func ParseNullable(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val != 0
	case int:
		return val != 0
	case []byte:
		return ParseNullable(string(val))
	case string:
		switch strings.ToUpper(strings.TrimSpace(val)) {
		case "YES", "Y", "TRUE", "1":
			return true
		}
	}
	return false
}

// OptionalString converts a scanned nullable value to *string.
func OptionalString(v any) *string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return &val
	case []byte:
		s := string(val)
		return &s
	}
	return nil
}
