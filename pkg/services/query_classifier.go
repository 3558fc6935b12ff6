package services

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/jsonutil"
)

// Query categories recorded as the first history tag.
const (
	CategoryAggregation = "aggregation"
	CategoryLookup      = "lookup"
	CategoryReport      = "report"
	CategoryExploration = "exploration"
)

// ClassifyQuery returns history tags for a query: its category followed by
// the tables (or collection) it reads.
func ClassifyQuery(dialect datasource.Dialect, text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if dialect == datasource.DialectDocument {
		return classifyDocument(text)
	}
	upper := strings.ToUpper(text)
	return append([]string{classifyQueryType(upper)}, extractTablesFromSQL(text)...)
}

var tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`)

func extractTablesFromSQL(sql string) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, match := range tableRefPattern.FindAllStringSubmatch(sql, -1) {
		name := strings.ToLower(match[1])
		// FROM (SELECT ...) and LATERAL are not table references
		if name == "select" || name == "lateral" {
			continue
		}
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	return tables
}

var aggregationPattern = regexp.MustCompile(`\b(COUNT|SUM|AVG|MIN|MAX|ARRAY_AGG|STRING_AGG|GROUP_CONCAT|BOOL_AND|BOOL_OR)\s*\(`)

func classifyQueryType(sqlUpper string) string {
	if aggregationPattern.MatchString(sqlUpper) || strings.Contains(sqlUpper, "GROUP BY") {
		return CategoryAggregation
	}

	hasWhere := strings.Contains(sqlUpper, "WHERE")
	hasLimit := strings.Contains(sqlUpper, "LIMIT") || strings.Contains(sqlUpper, " TOP ")
	if hasWhere && hasLimit {
		return CategoryLookup
	}
	if strings.Contains(sqlUpper, "ORDER BY") && !hasLimit {
		return CategoryReport
	}
	return CategoryExploration
}

type documentShape struct {
	Collection string          `json:"collection"`
	Operation  string          `json:"operation"`
	Filter     json.RawMessage `json:"filter"`
	Sort       json.RawMessage `json:"sort"`
	Limit      jsonutil.Int64  `json:"limit"`
}

func classifyDocument(text string) []string {
	var q documentShape
	if err := json.Unmarshal([]byte(text), &q); err != nil {
		return []string{CategoryExploration}
	}

	category := CategoryExploration
	hasFilter := len(q.Filter) > 0 && string(q.Filter) != "{}" && string(q.Filter) != "null"
	hasSort := len(q.Sort) > 0 && string(q.Sort) != "{}" && string(q.Sort) != "null"
	switch strings.ToLower(q.Operation) {
	case "aggregate", "count", "distinct":
		category = CategoryAggregation
	case "find":
		switch {
		case hasFilter && q.Limit > 0:
			category = CategoryLookup
		case hasSort && q.Limit == 0:
			category = CategoryReport
		}
	}

	tags := []string{category}
	if q.Collection != "" {
		tags = append(tags, strings.ToLower(q.Collection))
	}
	return tags
}
