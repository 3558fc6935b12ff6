package datasource

import (
	"regexp"
	"strings"
)

// ErrorRule maps a backend error to a retry decision and a hint.
// A rule matches when Code equals the reported error code, or when Pattern
// matches the message.
type ErrorRule struct {
	Pattern   *regexp.Regexp
	Code      string
	Retryable bool
	Hint      string
}

// Rule builds an ErrorRule with a case-insensitive pattern. An empty pattern
// matches on code only.
func Rule(pattern, code string, retryable bool, hint string) ErrorRule {
	r := ErrorRule{Code: code, Retryable: retryable, Hint: hint}
	if pattern != "" {
		r.Pattern = regexp.MustCompile(`(?i)` + pattern)
	}
	return r
}

func (r ErrorRule) matches(msg, code string) bool {
	if r.Code != "" && code != "" && strings.EqualFold(r.Code, code) {
		return true
	}
	return r.Pattern != nil && r.Pattern.MatchString(msg)
}

// ErrorRules is an ordered rule table. The first match wins.
type ErrorRules []ErrorRule

// Classification is the outcome of classifying one execution error.
type Classification struct {
	Retryable bool
	Hint      string
	Matched   bool
}

// Classify returns the decision of the first matching rule. Unmatched errors
// are not retryable.
func (rs ErrorRules) Classify(msg, code string) Classification {
	for _, r := range rs {
		if r.matches(msg, code) {
			return Classification{Retryable: r.Retryable, Hint: r.Hint, Matched: true}
		}
	}
	return Classification{}
}

// With returns rs followed by the common rules.
func (rs ErrorRules) With(more ErrorRules) ErrorRules {
	out := make(ErrorRules, 0, len(rs)+len(more))
	out = append(out, rs...)
	return append(out, more...)
}

// Hints returns the hints of every rule that matches, in order, deduplicated.
func (rs ErrorRules) Hints(msg, code string) []string {
	var hints []string
	seen := map[string]bool{}
	for _, r := range rs {
		if r.Hint != "" && !seen[r.Hint] && r.matches(msg, code) {
			seen[r.Hint] = true
			hints = append(hints, r.Hint)
		}
	}
	return hints
}

// AggregateHint is shared by every SQL backend's group-function rules.
const AggregateHint = "Do not reference an aggregate or its alias inside the same SELECT level; " +
	"compute it in a subquery or CTE, or move the condition to HAVING."

// CommonRules apply to every backend after its own table.
var CommonRules = ErrorRules{
	Rule(`context deadline exceeded|timeout|timed out|canceling statement due to statement timeout`, "", false,
		"The query exceeded the execution timeout; add tighter filters or a smaller LIMIT."),
	Rule(`permission denied|access denied|not authorized|insufficient privilege`, "", false,
		"The connection's user lacks privileges for this object."),
	Rule(`connection refused|broken pipe|bad connection|connection reset`, "", false,
		"The database connection was lost; check that the server is reachable."),
}
