package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// FormatSchema renders tables as prompt text. Output is deterministic:
// tables sorted by name, columns in ordinal order, keys sorted.
func FormatSchema(tables []models.TableSchema) string {
	sorted := make([]models.TableSchema, len(tables))
	copy(sorted, tables)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for i, table := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("Table: %s (%d %s)\n", table.Name, len(table.Columns), plural("column", len(table.Columns))))
		for _, col := range table.Columns {
			b.WriteString(fmt.Sprintf("  - %s %s", col.Name, col.Type))
			if !col.Nullable {
				b.WriteString(" NOT NULL")
			}
			if col.Default != nil {
				b.WriteString(fmt.Sprintf(" DEFAULT %s", *col.Default))
			}
			b.WriteString("\n")
		}

		if len(table.PrimaryKeys) > 0 {
			pks := append([]string(nil), table.PrimaryKeys...)
			sort.Strings(pks)
			b.WriteString(fmt.Sprintf("  Primary key: %s\n", strings.Join(pks, ", ")))
		}

		if len(table.ForeignKeys) > 0 {
			fks := append([]models.ForeignKey(nil), table.ForeignKeys...)
			sort.Slice(fks, func(i, j int) bool {
				if fks[i].Column != fks[j].Column {
					return fks[i].Column < fks[j].Column
				}
				if fks[i].ReferencedTable != fks[j].ReferencedTable {
					return fks[i].ReferencedTable < fks[j].ReferencedTable
				}
				return fks[i].ReferencedColumn < fks[j].ReferencedColumn
			})
			for _, fk := range fks {
				b.WriteString(fmt.Sprintf("  Foreign key: %s -> %s.%s\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn))
			}
		}
	}
	return b.String()
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}
	return inflection.Plural(word)
}
