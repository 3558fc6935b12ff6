// Package mongodb is the document backend. Generated queries are JSON
// objects naming a collection and one read operation.
package mongodb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ekaya-inc/insightpilot/pkg/jsonutil"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

// Read operations the backend accepts.
const (
	OpFind      = "find"
	OpAggregate = "aggregate"
	OpCount     = "count"
	OpDistinct  = "distinct"
)

var allowedOps = map[string]bool{OpFind: true, OpAggregate: true, OpCount: true, OpDistinct: true}

// deniedPrefixes match write and admin operations by name prefix.
var deniedPrefixes = []string{"insert", "update", "delete", "replace", "drop", "create", "rename"}

// deniedOps are other operations a model might emit.
var deniedOps = []string{
	"bulkwrite", "findandmodify", "findoneandupdate", "findoneanddelete", "findoneandreplace",
	"mapreduce", "eval", "group", "runcommand",
}

// forbiddenOperators execute server-side JavaScript, write output, or read
// server internals.
var forbiddenOperators = map[string]bool{
	"$where":          true,
	"$function":       true,
	"$accumulator":    true,
	"$out":            true,
	"$merge":          true,
	"$currentOp":      true,
	"$listSessions":   true,
	"$collStats":      true,
	"$indexStats":     true,
	"$planCacheStats": true,
}

// Query is the structured query format. Field, Limit and Skip accept quoted
// or unquoted scalars.
type Query struct {
	Collection string          `json:"collection"`
	Operation  string          `json:"operation"`
	Filter     json.RawMessage `json:"filter,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
	Sort       json.RawMessage `json:"sort,omitempty"`
	Pipeline   json.RawMessage `json:"pipeline,omitempty"`
	Field      jsonutil.String `json:"field,omitempty"`
	Limit      jsonutil.Int64  `json:"limit,omitempty"`
	Skip       jsonutil.Int64  `json:"skip,omitempty"`
}

// ParseQuery decodes query text. Unknown fields are rejected.
func ParseQuery(text string) (*Query, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(text)))
	dec.DisallowUnknownFields()
	var q Query
	if err := dec.Decode(&q); err != nil {
		return nil, fmt.Errorf("query is not a valid JSON query object: %w", err)
	}
	if dec.More() {
		return nil, sqlgate.ErrMultipleStatements
	}
	q.Operation = strings.ToLower(strings.TrimSpace(q.Operation))
	return &q, nil
}

func reject(gate, keyword, reason string) error {
	return &sqlgate.RejectionError{Gate: gate, Keyword: keyword, Reason: reason}
}

// stripDecoration drops markdown fence lines and whole-line // comments.
func stripDecoration(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "```") || strings.HasPrefix(t, "//") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func denied(op string) bool {
	for _, p := range deniedPrefixes {
		if strings.HasPrefix(op, p) {
			return true
		}
	}
	for _, d := range deniedOps {
		if op == d {
			return true
		}
	}
	return false
}

// Sanitize is the keyword gate for document queries: the operation must be
// a known read. It returns the query with fences and comment lines removed.
func Sanitize(text string) (string, error) {
	trimmed := stripDecoration(text)
	if trimmed == "" {
		return "", reject("sanitize", "", "query is empty")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return "", reject("sanitize", "", "query must be a JSON object")
	}
	q, err := ParseQuery(trimmed)
	if err != nil {
		return "", reject("sanitize", "", err.Error())
	}
	if denied(q.Operation) {
		return "", reject("sanitize", strings.ToUpper(q.Operation), "write and admin operations are not allowed")
	}
	if !allowedOps[q.Operation] {
		return "", reject("sanitize", strings.ToUpper(q.Operation), "operation must be find, aggregate, count or distinct")
	}
	return trimmed, nil
}

// Validate is the secondary gate for document queries.
func Validate(text string) error {
	q, err := ParseQuery(text)
	if err != nil {
		return reject("validate", "", err.Error())
	}
	if denied(q.Operation) || !allowedOps[q.Operation] {
		return reject("validate", strings.ToUpper(q.Operation), "operation is not a read")
	}
	if strings.TrimSpace(q.Collection) == "" {
		return reject("validate", "", "collection is required")
	}
	if strings.HasPrefix(q.Collection, "system.") || strings.ContainsAny(q.Collection, "$\x00") {
		return reject("validate", "", "collection name is not allowed")
	}
	if q.Limit < 0 || q.Limit > sqlgate.MaxLimitValue {
		return reject("validate", "LIMIT", fmt.Sprintf("limit must be between 0 and %d", sqlgate.MaxLimitValue))
	}
	if q.Skip < 0 {
		return reject("validate", "SKIP", "skip must not be negative")
	}
	if q.Operation == OpDistinct && q.Field == "" {
		return reject("validate", "", "distinct needs a field")
	}
	if q.Operation == OpAggregate && len(q.Pipeline) == 0 {
		return reject("validate", "", "aggregate needs a pipeline")
	}

	for _, part := range []json.RawMessage{q.Filter, q.Projection, q.Sort, q.Pipeline} {
		if len(part) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(part, &v); err != nil {
			return reject("validate", "", "query part is not valid JSON")
		}
		if op := findForbidden(v); op != "" {
			return reject("validate", op, "operator "+op+" is not allowed")
		}
	}
	return nil
}

// findForbidden walks decoded JSON and returns the first forbidden operator
// key, in sorted key order.
func findForbidden(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if forbiddenOperators[k] {
				return k
			}
			if op := findForbidden(val[k]); op != "" {
				return op
			}
		}
	case []any:
		for _, item := range val {
			if op := findForbidden(item); op != "" {
				return op
			}
		}
	}
	return ""
}

// document decodes a relaxed extended JSON object, or returns an empty
// document for an absent part.
func document(raw json.RawMessage) (bson.D, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return doc, nil
}

// boundStages appends the query's skip and the row limit to a pipeline.
func boundStages(stages []bson.D, skip, limit int64) []bson.D {
	if skip > 0 {
		stages = append(stages, bson.D{{Key: "$skip", Value: skip}})
	}
	return append(stages, bson.D{{Key: "$limit", Value: limit}})
}

// pipeline decodes an aggregation pipeline array.
func pipeline(raw json.RawMessage) ([]bson.D, error) {
	var stages []json.RawMessage
	if err := json.Unmarshal(raw, &stages); err != nil {
		return nil, fmt.Errorf("pipeline must be an array of stages: %w", err)
	}
	out := make([]bson.D, 0, len(stages))
	for i, s := range stages {
		d, err := document(s)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}
