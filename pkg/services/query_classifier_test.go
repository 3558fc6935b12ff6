package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
)

func TestClassifyQuery_SQL(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"aggregation", "SELECT status, COUNT(*) FROM orders GROUP BY status", []string{CategoryAggregation, "orders"}},
		{"lookup", "SELECT * FROM users WHERE id = 7 LIMIT 1", []string{CategoryLookup, "users"}},
		{"report", "SELECT name FROM users ORDER BY name", []string{CategoryReport, "users"}},
		{"exploration", "SELECT * FROM users LIMIT 5", []string{CategoryExploration, "users"}},
		{"joins dedupe", "SELECT * FROM Orders o JOIN users u ON u.id = o.user_id JOIN orders p ON p.id = o.id",
			[]string{CategoryExploration, "orders", "users"}},
		{"schema qualified", "SELECT * FROM public.users", []string{CategoryExploration, "public.users"}},
		{"subquery skipped", "SELECT * FROM (SELECT 1) AS t", []string{CategoryExploration}},
		{"empty", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyQuery(datasource.DialectSQL, tt.query))
		})
	}
}

func TestClassifyQuery_Document(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"aggregate", `{"collection":"Orders","operation":"aggregate","pipeline":[]}`, []string{CategoryAggregation, "orders"}},
		{"lookup", `{"collection":"users","operation":"find","filter":{"age":{"$gt":30}},"limit":10}`, []string{CategoryLookup, "users"}},
		{"quoted limit", `{"collection":"users","operation":"find","filter":{"a":1},"limit":"10"}`, []string{CategoryLookup, "users"}},
		{"report", `{"collection":"users","operation":"find","sort":{"name":1}}`, []string{CategoryReport, "users"}},
		{"empty filter", `{"collection":"users","operation":"find","filter":{},"limit":5}`, []string{CategoryExploration, "users"}},
		{"invalid json", `db.users.find()`, []string{CategoryExploration}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyQuery(datasource.DialectDocument, tt.query))
		})
	}
}
