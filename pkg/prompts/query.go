// Package prompts builds the text sent to LLM providers. Every function is
// pure: the same inputs always produce the same prompt.
package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
)

var sqlRules = []string{
	"Only generate a single read-only SELECT query (a WITH clause is allowed).",
	"Do not use DDL or DML: no CREATE, DROP, ALTER, INSERT, UPDATE, DELETE or TRUNCATE.",
	"Use proper SQL syntax for the target database.",
	"Include appropriate WHERE clauses for filtering.",
	"Use JOINs when needed to relate tables, following the foreign keys listed in the schema.",
	fmt.Sprintf("Add a LIMIT clause to prevent large result sets (max %d rows).", datasource.MaxQueryLimit),
	"Use aggregate functions (COUNT, SUM, AVG, MIN, MAX) when the question asks for totals or statistics.",
	"Always use table aliases for readability.",
	"Use only tables and columns that appear in the schema.",
}

var documentRules = []string{
	`Respond with a single JSON object: {"collection": "<name>", "operation": "find" | "aggregate" | "count" | "distinct", ...}.`,
	`For find use "filter", "projection", "sort" and "limit". For aggregate use "pipeline" (an array of stages). For distinct use "field" and "filter".`,
	"Only read: never insert, update, delete, drop or create anything.",
	"Use standard operators ($match, $group, $sort, $limit, $project, $unwind, $lookup, $sum, $avg, $count).",
	"Never use $where, $function, $accumulator, $out or $merge.",
	fmt.Sprintf("Limit results to at most %d documents.", datasource.MaxQueryLimit),
	"Use only collections and fields that appear in the schema.",
	"Use MongoDB extended JSON for dates and ids, for example {\"$date\": \"2024-01-01T00:00:00Z\"}.",
}

var sqlRepairRules = []string{
	"The previous query failed. Write a corrected query; do not repeat the failed query unchanged.",
	"Change the query structure to avoid the error, for example by moving an aggregate into a subquery or CTE.",
	"Never reference an aggregate alias again in the same SELECT level (not in WHERE, GROUP BY or another select expression).",
	"Filter on aggregates with HAVING, not WHERE.",
	"Every non-aggregated selected column must appear in GROUP BY.",
}

var documentRepairRules = []string{
	"The previous query failed. Write a corrected query; do not repeat the failed query unchanged.",
	"Every field in a $group stage other than _id must use an accumulator such as $sum or $avg.",
	"Reference document fields inside expressions with a leading $, for example \"$total\".",
}

func rulesFor(dialect datasource.Dialect) []string {
	if dialect == datasource.DialectDocument {
		return documentRules
	}
	return sqlRules
}

func writeRules(b *strings.Builder, start int, rules []string) int {
	for _, r := range rules {
		b.WriteString(fmt.Sprintf("%d. %s\n", start, r))
		start++
	}
	return start
}

func queryNoun(dialect datasource.Dialect) (role, schemaTitle, answerTitle string) {
	if dialect == datasource.DialectDocument {
		return "MongoDB query generator", "COLLECTION SCHEMA", "MONGODB QUERY"
	}
	return "SQL query generator", "DATABASE SCHEMA", "SQL QUERY"
}

// BuildGenerate creates the first-attempt prompt for a question.
func BuildGenerate(dialect datasource.Dialect, schemaText, question string) string {
	role, schemaTitle, answerTitle := queryNoun(dialect)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are an expert %s. Given the schema and a natural language question, generate one valid read-only query.\n\n", role))
	b.WriteString(fmt.Sprintf("### %s ###\n%s\n\n", schemaTitle, strings.TrimSpace(schemaText)))
	b.WriteString("### RULES ###\n")
	writeRules(&b, 1, rulesFor(dialect))
	b.WriteString(fmt.Sprintf("\n### QUESTION ###\n%s\n\n", strings.TrimSpace(question)))
	b.WriteString("Return only the query, with no explanation.\n\n")
	b.WriteString(fmt.Sprintf("### %s ###\n", answerTitle))
	return b.String()
}

// BuildRepair creates the prompt for a retry after a failed execution. It
// carries every generate rule plus the repair rules, the failed query and
// error verbatim, and one line per classifier hint.
func BuildRepair(dialect datasource.Dialect, schemaText, question, priorError, priorQuery string, hints []string) string {
	role, schemaTitle, answerTitle := queryNoun(dialect)
	repair := sqlRepairRules
	if dialect == datasource.DialectDocument {
		repair = documentRepairRules
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are an expert %s. A previous query for this question failed; generate a corrected read-only query.\n\n", role))
	b.WriteString(fmt.Sprintf("### %s ###\n%s\n\n", schemaTitle, strings.TrimSpace(schemaText)))
	b.WriteString("### RULES ###\n")
	next := writeRules(&b, 1, rulesFor(dialect))
	writeRules(&b, next, repair)
	b.WriteString(fmt.Sprintf("\n### QUESTION ###\n%s\n\n", strings.TrimSpace(question)))
	b.WriteString(fmt.Sprintf("### FAILED QUERY ###\n%s\n\n", priorQuery))
	b.WriteString(fmt.Sprintf("### ERROR ###\n%s\n\n", priorError))
	if len(hints) > 0 {
		b.WriteString("### HINTS ###\n")
		for _, h := range hints {
			b.WriteString("- " + h + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Return only the corrected query, with no explanation.\n\n")
	b.WriteString(fmt.Sprintf("### CORRECTED %s ###\n", answerTitle))
	return b.String()
}

// BuildExplain asks for a plain-language explanation of a query.
func BuildExplain(dialect datasource.Dialect, queryText string) string {
	lang := "SQL"
	if dialect == datasource.DialectDocument {
		lang = "MongoDB"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are an expert %s query explainer. Explain in a few sentences what the query below returns and how, for a reader who does not know %s.\n\n", lang, lang))
	b.WriteString(fmt.Sprintf("### %s QUERY ###\n%s\n\n", strings.ToUpper(lang), queryText))
	b.WriteString("### EXPLANATION ###\n")
	return b.String()
}
