package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/ekaya-inc/insightpilot/pkg/logging"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	"github.com/ekaya-inc/insightpilot/pkg/services"
)

const (
	// maxDisplayRows caps the rows printed for a result; the rest are counted.
	maxDisplayRows = 50
	maxCellWidth   = 60
)

// resultTable converts an execution result into pterm table data, header
// first. It returns how many rows were left out.
func resultTable(res *models.ExecutionResult) (pterm.TableData, int) {
	data := pterm.TableData{append([]string(nil), res.Columns...)}
	rows := res.Rows
	hidden := 0
	if len(rows) > maxDisplayRows {
		hidden = len(rows) - maxDisplayRows
		rows = rows[:maxDisplayRows]
	}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		data = append(data, cells)
	}
	return data, hidden
}

func formatCell(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		s = x
	case []byte:
		s = string(x)
	case time.Time:
		s = x.Format(time.RFC3339)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	return logging.TruncateString(s, maxCellWidth)
}

// stageLabel is the spinner text for a progress event.
func stageLabel(e services.Event) string {
	switch e.Stage {
	case services.StageIdle:
		return "Starting"
	case services.StageConnectDB:
		return "Connecting to database"
	case services.StageFetchSchema:
		if e.Table != "" {
			return "Reading schema: " + e.Table
		}
		return "Reading schema"
	case services.StageBuildPrompt:
		return "Building prompt"
	case services.StageGenerate:
		if e.Attempt > 1 {
			return fmt.Sprintf("Repairing query (attempt %d)", e.Attempt)
		}
		return "Generating query"
	case services.StageSanitize:
		return "Checking query"
	case services.StageExecute:
		return fmt.Sprintf("Executing query (attempt %d)", e.Attempt)
	case services.StageRetryDecision:
		return "Query failed, deciding whether to retry"
	case services.StageSuccess:
		return "Query succeeded"
	case services.StageExplain:
		return "Explaining result"
	case services.StageRecordHistory:
		return "Saving to history"
	case services.StageDone:
		return "Done"
	}
	return string(e.Stage)
}

func historyTable(entries []models.HistoryEntry) pterm.TableData {
	data := pterm.TableData{{"ID", "When", "Connection", "Question", "Rows", "OK", "Fav"}}
	for _, e := range entries {
		fav := ""
		if e.Favorite {
			fav = "*"
		}
		ok := "yes"
		if !e.Success {
			ok = "no"
		}
		data = append(data, []string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp.Local().Format("2006-01-02 15:04"),
			e.ConnectionName,
			logging.TruncateString(e.Question, maxCellWidth),
			strconv.Itoa(e.RowCount),
			ok,
			fav,
		})
	}
	return data
}

func renderTable(data pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}
