package datasource

import (
	"context"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// Dialect tells the prompt builder which query language an adapter speaks.
type Dialect string

const (
	DialectSQL      Dialect = "sql"
	DialectDocument Dialect = "document"
)

// MaxQueryLimit is the hard cap on rows returned by Execute and GetSample.
const MaxQueryLimit = 1000

// Adapter is the capability interface every backend implements.
//
// An Adapter instance owns one connection and is not safe for concurrent
// runs; callers obtain a fresh instance per pipeline run from the factory.
type Adapter interface {
	// Connect opens the connection and verifies it with a round trip.
	Connect(ctx context.Context) error
	// Disconnect releases the connection. It is safe to call more than once.
	Disconnect() error
	IsConnected() bool

	// GetSchema enumerates tables (or collections) with their columns.
	GetSchema(ctx context.Context) ([]models.TableSchema, error)

	// SanitizeQuery is the generic keyword gate plus backend additions.
	// It returns the cleaned query text.
	SanitizeQuery(text string) (string, error)
	// ValidateQuery is the backend-specific secondary gate.
	ValidateQuery(text string) error

	// Execute runs a read-only query. It never panics and never returns a Go
	// error: failures are reported in ExecutionResult.Error.
	Execute(ctx context.Context, text string) models.ExecutionResult
	// GetSample fetches up to limit rows of a table or collection.
	GetSample(ctx context.Context, name string, limit int) models.ExecutionResult

	Dialect() Dialect
	// ErrorRules classifies this backend's execution errors for retry.
	ErrorRules() ErrorRules
}

// ClampLimit bounds limit to (0, MaxQueryLimit]; non-positive means the max.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
