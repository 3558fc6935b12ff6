package datasource

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// ScanRows drains a database/sql result set into an ExecutionResult,
// stopping after maxRows rows.
func ScanRows(rows *sql.Rows, maxRows int) (models.ExecutionResult, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("failed to read columns: %w", err)
	}

	maxRows = ClampLimit(maxRows)
	result := models.ExecutionResult{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if len(result.Rows) >= maxRows {
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return models.ExecutionResult{}, fmt.Errorf("failed to scan row: %w", err)
		}
		for i := range values {
			values[i] = NormalizeValue(values[i])
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return models.ExecutionResult{}, fmt.Errorf("error iterating rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// NormalizeValue converts driver values into JSON- and CSV-friendly Go values.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	case driver.Valuer:
		dv, err := val.Value()
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return NormalizeValue(dv)
	default:
		return v
	}
}
