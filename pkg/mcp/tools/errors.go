package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/insightpilot/pkg/apperrors"
)

// ErrorResponse is a structured error returned as tool output so the client
// sees it instead of a protocol failure.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use it for errors the caller can act on (bad parameters, unknown names).
// System failures should still be returned as Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// pipelineErrorResult reports a failed run. The error kind becomes the code.
func pipelineErrorResult(perr *apperrors.PipelineError, details map[string]any) *mcp.CallToolResult {
	if details == nil {
		details = map[string]any{}
	}
	if perr.Suggestion != "" {
		details["suggestion"] = perr.Suggestion
	}
	if perr.QueryText != "" {
		details["query"] = perr.QueryText
	}
	return NewErrorResultWithDetails(string(perr.Kind), perr.Message, details)
}

// jsonResult marshals v as the text content of a tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
