package models

import (
	"github.com/ekaya-inc/insightpilot/pkg/apperrors"
)

// QueryRequest is the immutable input of one pipeline run.
type QueryRequest struct {
	ConnectionName string `json:"connection_name"`
	Question       string `json:"question"`
	BackendKind    string `json:"backend_kind,omitempty"`
	ProviderName   string `json:"provider_name,omitempty"`
	AllowFailover  bool   `json:"allow_failover,omitempty"`
}

// GeneratedQuery is a candidate produced by a provider. It is not trusted
// until it has passed the sanitize and validate gates.
type GeneratedQuery struct {
	Text          string `json:"text"`
	AttemptNumber int    `json:"attempt_number"`
	Provider      string `json:"provider"`
	TokensUsed    int    `json:"tokens_used,omitempty"`
}

// ExecutionResult is the outcome of running a query against a backend.
// A non-empty Error marks a failed attempt.
type ExecutionResult struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	ExecTimeMs int64    `json:"exec_time_ms"`
	Error      string   `json:"error,omitempty"`
	ErrorCode  string   `json:"error_code,omitempty"`
}

// Failed reports whether the execution produced an error.
func (r ExecutionResult) Failed() bool {
	return r.Error != ""
}

// WellFormed reports whether every row has one value per column.
func (r ExecutionResult) WellFormed() bool {
	for _, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return false
		}
	}
	return r.RowCount == len(r.Rows)
}

// QueryOutcome is the terminal value of a pipeline run.
type QueryOutcome struct {
	RunID          string                   `json:"run_id"`
	Success        bool                     `json:"success"`
	FinalQueryText string                   `json:"final_query_text"`
	Result         *ExecutionResult         `json:"result,omitempty"`
	Explanation    string                   `json:"explanation"`
	Error          *apperrors.PipelineError `json:"error,omitempty"`
	TotalTimeMs    int64                    `json:"total_time_ms"`
	Attempts       int                      `json:"attempts"`
	Provider       string                   `json:"provider,omitempty"`
	HistoryID      int64                    `json:"history_id,omitempty"`
}

// Kind returns the failure kind, or "" for a successful outcome.
func (o *QueryOutcome) Kind() apperrors.Kind {
	if o.Error == nil {
		return ""
	}
	return o.Error.Kind
}
