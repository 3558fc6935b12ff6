package postgres

import (
	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

var denyKeywords = []string{
	"COPY", "DO", "CALL", "VACUUM", "REINDEX", "CLUSTER", "LISTEN", "NOTIFY", "COMMENT", "SECURITY", "REFRESH",
}

var primitives = []string{
	`\bpg_read_file\s*\(`,
	`\bpg_read_binary_file\s*\(`,
	`\bpg_ls_dir\s*\(`,
	`\blo_import\s*\(`,
	`\blo_export\s*\(`,
	`\bdblink\w*\s*\(`,
	`\bpg_sleep\s*\(`,
	`\bpg_terminate_backend\s*\(`,
	`\bset_config\s*\(`,
}

// Rules returns the gate rules for PostgreSQL.
func Rules() *sqlgate.Rules {
	return sqlgate.NewRules(denyKeywords, primitives, sqlgate.PostgresSyntax, true)
}

// ErrorRules classify PostgreSQL execution errors. Only misuse of
// aggregates is worth a repair round.
var ErrorRules = datasource.ErrorRules{
	datasource.Rule(`aggregate functions are not allowed in`, "42803", true, datasource.AggregateHint),
	datasource.Rule(`must appear in the GROUP BY clause or be used in an aggregate function`, "", true,
		"Every selected non-aggregated column must appear in GROUP BY."),
	datasource.Rule(`column "[^"]+" does not exist`, "42703", false,
		"A referenced column does not exist; check spelling and table aliases against the schema."),
	datasource.Rule(`relation "[^"]+" does not exist`, "42P01", false,
		"A referenced table does not exist; schema-qualify it or check the schema listing."),
	datasource.Rule(`syntax error at or near`, "42601", false,
		"The query has a syntax error; PostgreSQL uses double quotes for identifiers and single quotes for strings."),
	datasource.Rule(`operator does not exist`, "42883", false,
		"Types on both sides of an operator differ; add an explicit cast."),
	datasource.Rule(`read-only transaction`, "25006", false,
		"Only read-only queries are permitted."),
}
