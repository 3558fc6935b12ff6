package mysql

import (
	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

var denyKeywords = []string{
	"CALL", "LOAD", "HANDLER", "LOCK", "UNLOCK", "RENAME", "KILL", "FLUSH", "USE", "PREPARE", "DEALLOCATE",
}

var primitives = []string{
	`\bsleep\s*\(`,
	`\bbenchmark\s*\(`,
	`\bget_lock\s*\(`,
	`\bfor\s+update\b`,
	`\block\s+in\s+share\s+mode\b`,
}

// Rules returns the gate rules for MySQL. MySQL lexes # comments, /*! */
// executable comments and backslash escapes inside literals.
func Rules() *sqlgate.Rules {
	return sqlgate.NewRules(denyKeywords, primitives, sqlgate.MySQLSyntax, true)
}

// ErrorRules classify MySQL execution errors by error number.
var ErrorRules = datasource.ErrorRules{
	datasource.Rule(`reference to group function`, "1247", true, datasource.AggregateHint),
	datasource.Rule(`invalid use of group function`, "1111", true, datasource.AggregateHint),
	datasource.Rule(`aggregate function used in GROUP BY context`, "", true, datasource.AggregateHint),
	datasource.Rule(`isn't in GROUP BY|only_full_group_by`, "1055", true,
		"Every selected non-aggregated column must appear in GROUP BY."),
	datasource.Rule(`unknown column`, "1054", false,
		"A referenced column does not exist; check spelling and table aliases against the schema."),
	datasource.Rule(`table '[^']+' doesn't exist`, "1146", false,
		"A referenced table does not exist; use only tables from the schema listing."),
	datasource.Rule(`you have an error in your sql syntax`, "1064", false,
		"MySQL uses backticks for identifiers and LIMIT n for row limits."),
}
