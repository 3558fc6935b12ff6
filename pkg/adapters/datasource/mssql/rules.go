package mssql

import (
	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

var denyKeywords = []string{
	"EXEC", "EXECUTE", "DECLARE", "MERGE", "BULK", "BACKUP", "RESTORE", "DBCC", "USE", "WAITFOR", "SETUSER", "RECONFIGURE",
}

var primitives = []string{
	`\b(sp|xp)_\w+`,
	`\bcmdshell\b`,
	`\bopenrowset\s*\(`,
	`\bopendatasource\s*\(`,
	`\bopenquery\s*\(`,
	`\bwaitfor\s+delay\b`,
}

// Rules returns the gate rules for SQL Server.
func Rules() *sqlgate.Rules {
	return sqlgate.NewRules(denyKeywords, primitives, sqlgate.MSSQLSyntax, true)
}

// ErrorRules classify SQL Server execution errors by error number.
var ErrorRules = datasource.ErrorRules{
	datasource.Rule(`cannot perform an aggregate function on an expression containing an aggregate`, "130", true, datasource.AggregateHint),
	datasource.Rule(`an aggregate may not appear in the where clause`, "147", true, datasource.AggregateHint),
	datasource.Rule(`is invalid in the select list because it is not contained in either an aggregate function or the group by clause`, "8120", true,
		"Every selected non-aggregated column must appear in GROUP BY."),
	datasource.Rule(`invalid column name`, "207", false,
		"A referenced column does not exist; check spelling against the schema."),
	datasource.Rule(`invalid object name`, "208", false,
		"A referenced table does not exist; qualify it with its schema, for example dbo.Orders."),
	datasource.Rule(`incorrect syntax near`, "102", false,
		"SQL Server uses TOP (n) instead of LIMIT and square brackets for identifiers."),
}
