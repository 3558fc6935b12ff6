package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// schemaFilter excludes system schemas and applies the optional schema list
// bound to $1.
func schemaFilter(col string) string {
	return col + ` NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		AND ` + col + ` NOT LIKE 'pg_temp_%'
		AND (cardinality($1::text[]) = 0 OR ` + col + ` = ANY($1))`
}

// qualifiedTableName drops the "public" schema so prompts stay short.
func qualifiedTableName(schemaName, tableName string) string {
	if schemaName == "" || schemaName == "public" {
		return tableName
	}
	return schemaName + "." + tableName
}

// GetSchema lists base tables and views with columns, primary and foreign keys.
func (a *Adapter) GetSchema(ctx context.Context) ([]models.TableSchema, error) {
	pool, err := a.conn()
	if err != nil {
		return nil, err
	}
	schemas := a.config.Schemas
	if schemas == nil {
		schemas = []string{}
	}

	b := datasource.NewSchemaBuilder()
	if err := discoverColumns(ctx, pool, schemas, b); err != nil {
		return nil, err
	}
	if err := discoverKeys(ctx, pool, schemas, b); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func discoverColumns(ctx context.Context, pool *pgxpool.Pool, schemas []string, b *datasource.SchemaBuilder) error {
	query := `
		SELECT table_schema, table_name, column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE ` + schemaFilter("table_schema") + `
		ORDER BY table_schema, table_name, ordinal_position`

	rows, err := pool.Query(ctx, query, schemas)
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, column, dataType, nullable string
		var def *string
		if err := rows.Scan(&schemaName, &tableName, &column, &dataType, &nullable, &def); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		b.AddColumn(qualifiedTableName(schemaName, tableName), models.ColumnInfo{
			Name:     column,
			Type:     dataType,
			Nullable: datasource.ParseNullable(nullable),
			Default:  def,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}
	return nil
}

func discoverKeys(ctx context.Context, pool *pgxpool.Pool, schemas []string, b *datasource.SchemaBuilder) error {
	query := `
		SELECT tc.constraint_type, kcu.table_schema, kcu.table_name, kcu.column_name,
			COALESCE(ccu.table_schema, ''), COALESCE(ccu.table_name, ''), COALESCE(ccu.column_name, '')
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		LEFT JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_type = 'FOREIGN KEY'
			AND tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')
		  AND ` + schemaFilter("tc.table_schema") + `
		ORDER BY kcu.table_schema, kcu.table_name, kcu.ordinal_position`

	rows, err := pool.Query(ctx, query, schemas)
	if err != nil {
		return fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, schemaName, tableName, column, refSchema, refTable, refColumn string
		if err := rows.Scan(&kind, &schemaName, &tableName, &column, &refSchema, &refTable, &refColumn); err != nil {
			return fmt.Errorf("scan key: %w", err)
		}
		table := qualifiedTableName(schemaName, tableName)
		if kind == "PRIMARY KEY" {
			b.AddPrimaryKey(table, column)
			continue
		}
		b.AddForeignKey(table, models.ForeignKey{
			Column:           column,
			ReferencedTable:  qualifiedTableName(refSchema, refTable),
			ReferencedColumn: refColumn,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate keys: %w", err)
	}
	return nil
}
