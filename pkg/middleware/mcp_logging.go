package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/auth"
	"github.com/ekaya-inc/insightpilot/pkg/logging"
)

// maxLoggedArgument is the longest string argument logged verbatim.
const maxLoggedArgument = 200

// MCPRequestLogger writes one line per JSON-RPC call made to the HTTP MCP
// endpoint once it completes: method, tool, sanitized arguments, the caller's
// subject and the outcome. Tool calls are logged at INFO, protocol chatter
// (initialize, tools/list, ping) at DEBUG. Pass nil logger to disable logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var call jsonRPCRequest
			parseErr := json.Unmarshal(bodyBytes, &call)

			recorder := &mcpResponseRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(recorder, r)

			fields := []zap.Field{
				zap.String("method", call.Method),
				zap.String("subject", auth.SubjectFromContext(r.Context())),
				zap.Duration("duration", time.Since(start)),
			}
			if parseErr != nil {
				logger.Debug("MCP call with unparseable request", append(fields, zap.Error(parseErr))...)
				return
			}
			if call.Params.Name != "" {
				fields = append(fields,
					zap.String("tool", call.Params.Name),
					zap.Any("arguments", sanitizeArguments(call.Params.Arguments)))
			}

			outcome := "ok"
			var resp jsonRPCResponse
			switch {
			case json.Unmarshal(recorder.body.Bytes(), &resp) != nil:
				// Streamed or empty responses are not inspected.
				outcome = "unknown"
			case resp.Error != nil:
				outcome = "rpc_error"
				fields = append(fields,
					zap.Int("error_code", resp.Error.Code),
					zap.String("error_message", logging.SanitizeText(resp.Error.Message)))
			case resp.Result.IsError:
				outcome = "tool_error"
			}
			fields = append(fields, zap.String("outcome", outcome))

			if call.Method == "tools/call" {
				logger.Info("MCP tool call", fields...)
				return
			}
			logger.Debug("MCP request", fields...)
		})
	}
}

type jsonRPCRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type jsonRPCResponse struct {
	Result struct {
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *jsonRPCError `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mcpResponseRecorder tees the response body so it can be inspected.
type mcpResponseRecorder struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (r *mcpResponseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *mcpResponseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var sensitiveKeywords = []string{"password", "secret", "token", "key", "credential"}

// sanitizeArguments redacts sensitive fields and truncates long values.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	result := make(map[string]any, len(args))
	for k, v := range args {
		lowerKey := strings.ToLower(k)
		sensitive := false
		for _, keyword := range sensitiveKeywords {
			if strings.Contains(lowerKey, keyword) {
				sensitive = true
				break
			}
		}
		if sensitive {
			result[k] = logging.RedactedText
			continue
		}

		if str, ok := v.(string); ok {
			result[k] = logging.TruncateString(logging.SanitizeText(str), maxLoggedArgument)
		} else {
			result[k] = v
		}
	}
	return result
}
