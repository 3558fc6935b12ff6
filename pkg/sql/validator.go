// Package sql holds the text-level gates applied to generated SQL before it
// reaches a backend.
package sql

import (
	"errors"
	"strings"
)

// ErrMultipleStatements indicates the query contains multiple SQL statements.
var ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

// Normalize trims the query and removes one trailing semicolon. It fails if
// another semicolon remains outside literals and comments.
func Normalize(sqlQuery string, syn Syntax) (string, error) {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return "", nil
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	stripped := StripCommentsAndLiterals(normalized, syn)
	if strings.Contains(stripTrailingSemicolon(stripped.Text), ";") {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
