package datasource

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/logging"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

// SQLGates implements the gate and classification half of Adapter for
// relational backends. Adapters embed it.
type SQLGates struct {
	Rules  *sqlgate.Rules
	Errors ErrorRules
}

// NewSQLGates combines backend gate rules with backend error rules. The
// common error rules are appended.
func NewSQLGates(rules *sqlgate.Rules, errs ErrorRules) SQLGates {
	return SQLGates{Rules: rules, Errors: errs.With(CommonRules)}
}

func (g SQLGates) SanitizeQuery(text string) (string, error) { return g.Rules.Sanitize(text) }

func (g SQLGates) ValidateQuery(text string) error { return g.Rules.Validate(text) }

func (g SQLGates) Dialect() Dialect { return DialectSQL }

func (g SQLGates) ErrorRules() ErrorRules { return g.Errors }

// RunTimed executes fn and turns its outcome into an ExecutionResult.
// Errors are sanitized and tagged with codeOf(err); panics are recovered
// into a failed result. ExecTimeMs always reflects wall-clock time.
func RunTimed(logger *zap.Logger, codeOf func(error) string, fn func() (models.ExecutionResult, error)) (res models.ExecutionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic during query execution", zap.Any("panic", r))
			res = models.ExecutionResult{Error: fmt.Sprintf("internal adapter error: %v", r)}
		}
		res.ExecTimeMs = time.Since(start).Milliseconds()
	}()

	out, err := fn()
	if err != nil {
		code := ""
		if codeOf != nil {
			code = codeOf(err)
		}
		logger.Debug("Query execution failed",
			zap.String("code", code),
			zap.String("error", logging.SanitizeError(err)))
		return models.ExecutionResult{Error: logging.SanitizeError(err), ErrorCode: code}
	}
	return out
}

// FailedResult is a convenience for adapters that fail before executing.
func FailedResult(format string, args ...any) models.ExecutionResult {
	return models.ExecutionResult{Error: fmt.Sprintf(format, args...)}
}
