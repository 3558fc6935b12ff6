package prompts

import (
	"regexp"
	"slices"
	"strings"

	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

var (
	fencePattern  = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n(.*?)```")
	inlineFence   = regexp.MustCompile("(?s)```(.*?)```")
	langTag       = regexp.MustCompile(`^[a-zA-Z]+$`)
	prefixPattern = regexp.MustCompile(`(?i)^(sql|query|mongodb query|answer)\s*:\s*`)
	startPattern  = regexp.MustCompile(`(?i)^(select|with)\b`)
	// proseTail marks a line where a model starts talking about its query.
	proseTail = regexp.MustCompile(`(?i)^(this query|explanation|note|the query|here)\b`)
)

// statementVerbs start statements that are not in the generic denylist but
// that some backend runs.
var statementVerbs = []string{
	"CALL", "EXEC", "EXECUTE", "DECLARE", "MERGE", "COPY", "LOCK", "UNLOCK", "PRAGMA",
	"ATTACH", "DETACH", "VACUUM", "USE", "LOAD", "KILL", "BEGIN", "COMMIT", "ROLLBACK",
}

// isStatementLine reports whether a line ahead of the SELECT is code rather
// than prose.
func isStatementLine(line string) bool {
	if strings.HasSuffix(line, ";") {
		return true
	}
	kw := sqlgate.FirstKeyword(line)
	return slices.Contains(sqlgate.DenyKeywords, kw) || slices.Contains(statementVerbs, kw)
}

// ExtractQuery pulls the query out of a provider response. It prefers the
// first fenced code block, then drops a leading "SQL:" style prefix and any
// prose around the statement or JSON object.
func ExtractQuery(response string) string {
	text := strings.TrimSpace(response)
	if text == "" {
		return ""
	}

	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	} else if m := inlineFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	} else if strings.HasPrefix(text, "```") {
		// Unterminated fence.
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			if first := strings.TrimSpace(text[:nl]); langTag.MatchString(first) && !startPattern.MatchString(first) {
				text = text[nl+1:]
			}
		}
		text = strings.TrimSpace(text)
	}
	text = strings.TrimSpace(prefixPattern.ReplaceAllString(text, ""))

	switch {
	case strings.HasPrefix(text, "{"):
		return extractObject(text)
	case containsStatement(text):
		return extractStatement(text)
	case strings.Contains(text, "{"):
		return extractObject(text)
	}
	return text
}

func containsStatement(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if startPattern.MatchString(strings.TrimSpace(prefixPattern.ReplaceAllString(strings.TrimSpace(line), ""))) {
			return true
		}
	}
	return false
}

// extractObject returns the span from the first '{' to the last '}'.
func extractObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return strings.TrimSpace(text)
	}
	return text[start : end+1]
}

// extractStatement skips prose lines before the first SELECT or WITH and
// stops at trailing prose. If a skipped line is itself a statement the whole
// text is returned so the gates see it.
func extractStatement(text string) string {
	lines := strings.Split(text, "\n")
	begin := -1
	for i, line := range lines {
		l := strings.TrimSpace(prefixPattern.ReplaceAllString(strings.TrimSpace(line), ""))
		if startPattern.MatchString(l) {
			begin = i
			lines[i] = l
			break
		}
		if isStatementLine(l) {
			return text
		}
	}
	if begin < 0 {
		return text
	}

	var out []string
	for _, line := range lines[begin:] {
		t := strings.TrimSpace(line)
		if len(out) > 0 && proseTail.MatchString(t) {
			break
		}
		out = append(out, strings.TrimRight(line, " \t\r"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
