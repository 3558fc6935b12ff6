package sql

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrRejected is the sentinel wrapped by every gate rejection.
var ErrRejected = errors.New("query rejected")

// RejectionError explains why a gate refused a query.
type RejectionError struct {
	Gate    string // "sanitize" or "validate"
	Reason  string
	Keyword string
	// Injection is set when libinjection flagged a literal; Keyword then
	// holds its fingerprint.
	Injection bool
}

func (e *RejectionError) Error() string {
	if e.Keyword != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Gate, e.Reason, e.Keyword)
	}
	return fmt.Sprintf("%s: %s", e.Gate, e.Reason)
}

func (e *RejectionError) Unwrap() error { return ErrRejected }

func rejectf(gate, keyword, format string, args ...any) error {
	return &RejectionError{Gate: gate, Reason: fmt.Sprintf(format, args...), Keyword: keyword}
}

// DenyKeywords are statement prefixes no backend accepts.
var DenyKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "TRUNCATE",
	"REPLACE", "GRANT", "REVOKE", "SET", "SHOW",
}

// Syntax describes how a backend lexes comments, literals and quoted
// identifiers. Gates must strip text the way the backend will read it, or a
// literal the backend ends early can hide a second statement.
type Syntax struct {
	// HashComments treats # as a line comment (MySQL).
	HashComments bool
	// DashCommentNeedsSpace only starts a -- comment when whitespace or the
	// end of input follows (MySQL).
	DashCommentNeedsSpace bool
	// BackslashEscapes lets \ escape the next character in '...' and "..."
	// literals (MySQL).
	BackslashEscapes bool
	// EscapeStrings enables backslash escapes inside E'...' literals only
	// (PostgreSQL, DuckDB).
	EscapeStrings bool
	// DollarQuotes reads $$...$$ and $tag$...$tag$ as literals.
	DollarQuotes bool
	// BracketIdentifiers reads [...] as a quoted identifier (SQL Server, SQLite).
	BracketIdentifiers bool
	// ExecutableComments treats the body of /*! ... */ as code (MySQL).
	ExecutableComments bool
	// QQuotes reads q'[...]' style alternative-quote literals (Oracle).
	QQuotes bool
}

var (
	// StandardSyntax: backslash is an ordinary character, -- and /* */ comments.
	StandardSyntax = Syntax{}
	MySQLSyntax    = Syntax{HashComments: true, DashCommentNeedsSpace: true, BackslashEscapes: true, ExecutableComments: true}
	PostgresSyntax = Syntax{EscapeStrings: true, DollarQuotes: true}
	DuckDBSyntax   = Syntax{EscapeStrings: true, DollarQuotes: true}
	MSSQLSyntax    = Syntax{BracketIdentifiers: true}
	SQLiteSyntax   = Syntax{BracketIdentifiers: true}
	OracleSyntax   = Syntax{QQuotes: true}
)

// qClosers maps an opening q-quote delimiter to its closer. Other
// delimiters close themselves.
var qClosers = map[rune]rune{'[': ']', '(': ')', '{': '}', '<': '>'}

// qQuoteEnd returns the index of the closing quote of a q'...' literal
// opened at rs[i], or -1 when it is unterminated.
func qQuoteEnd(rs []rune, i int) int {
	open := rs[i+2]
	closer, ok := qClosers[open]
	if !ok {
		closer = open
	}
	for j := i + 3; j+1 < len(rs); j++ {
		if rs[j] == closer && rs[j+1] == '\'' {
			return j + 1
		}
	}
	return -1
}

// Stripped is a query with comments removed and literals blanked.
type Stripped struct {
	Text     string   // comments removed, every literal replaced by ''
	Literals []string // literal contents in order of appearance
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}

// dollarTag returns the length of a $tag$ opener at rs[i], or 0.
func dollarTag(rs []rune, i int) int {
	if i > 0 && isIdentRune(rs[i-1]) {
		return 0
	}
	j := i + 1
	for j < len(rs) && rs[j] != '$' {
		r := rs[j]
		if !(r == '_' || unicode.IsLetter(r) || (j > i+1 && unicode.IsDigit(r))) {
			return 0
		}
		j++
	}
	if j >= len(rs) {
		return 0
	}
	return j - i + 1
}

// StripCommentsAndLiterals removes comments and replaces quoted literals
// ('...', "...", `...`, plus $tag$...$tag$ under DollarQuotes) with an empty
// '' literal, lexing them the way syn describes. Doubled quotes always stay
// inside their literal; backslash escapes only where syn allows them.
// Bracketed identifiers become []. An unterminated literal, identifier or
// block comment runs to the end of the input.
func StripCommentsAndLiterals(text string, syn Syntax) Stripped {
	var out strings.Builder
	var literals []string
	rs := []rune(text)
	n := len(rs)
	execDepth := 0

	for i := 0; i < n; i++ {
		c := rs[i]
		switch {
		case c == '-' && i+1 < n && rs[i+1] == '-' &&
			(!syn.DashCommentNeedsSpace || i+2 >= n || unicode.IsSpace(rs[i+2])),
			syn.HashComments && c == '#':
			for i < n && rs[i] != '\n' {
				i++
			}
			out.WriteRune(' ')
			if i < n {
				out.WriteRune('\n')
			}
		case syn.ExecutableComments && c == '/' && i+2 < n && rs[i+1] == '*' && rs[i+2] == '!':
			i += 2
			for i+1 < n && unicode.IsDigit(rs[i+1]) {
				i++
			}
			execDepth++
			out.WriteRune(' ')
		case execDepth > 0 && c == '*' && i+1 < n && rs[i+1] == '/':
			i++
			execDepth--
			out.WriteRune(' ')
		case c == '/' && i+1 < n && rs[i+1] == '*':
			i += 2
			for i < n && !(rs[i] == '*' && i+1 < n && rs[i+1] == '/') {
				i++
			}
			i++ // land on the closing '/'
			out.WriteRune(' ')
		case syn.BracketIdentifiers && c == '[':
			for i++; i < n; i++ {
				if rs[i] == ']' {
					if i+1 < n && rs[i+1] == ']' {
						i++
						continue
					}
					break
				}
			}
			out.WriteString("[]")
		case syn.DollarQuotes && c == '$' && dollarTag(rs, i) > 0:
			tagLen := dollarTag(rs, i)
			tag := string(rs[i : i+tagLen])
			rest := string(rs[i+tagLen:])
			body, _, found := strings.Cut(rest, tag)
			literals = append(literals, body)
			out.WriteString("''")
			if !found {
				i = n
				break
			}
			i += tagLen + len([]rune(body)) + tagLen - 1
		case syn.QQuotes && (c == 'q' || c == 'Q') && i+2 < n && rs[i+1] == '\'' &&
			!unicode.IsSpace(rs[i+2]) && (i == 0 || !isIdentRune(rs[i-1]) || ((rs[i-1] == 'n' || rs[i-1] == 'N') && (i == 1 || !isIdentRune(rs[i-2])))):
			end := qQuoteEnd(rs, i)
			if end < 0 {
				literals = append(literals, string(rs[i+3:]))
				out.WriteString("''")
				i = n
				break
			}
			literals = append(literals, string(rs[i+3:end-1]))
			out.WriteString("''")
			i = end
		case c == '\'' || c == '"' || c == '`':
			quote := c
			escapes := syn.BackslashEscapes && quote != '`'
			if syn.EscapeStrings && quote == '\'' && i > 0 && (rs[i-1] == 'E' || rs[i-1] == 'e') &&
				(i == 1 || !isIdentRune(rs[i-2])) {
				escapes = true
			}
			var lit strings.Builder
			i++
			for ; i < n; i++ {
				if escapes && rs[i] == '\\' && i+1 < n {
					lit.WriteRune(rs[i+1])
					i++
					continue
				}
				if rs[i] == quote {
					if i+1 < n && rs[i+1] == quote {
						lit.WriteRune(quote)
						i++
						continue
					}
					break
				}
				lit.WriteRune(rs[i])
			}
			literals = append(literals, lit.String())
			out.WriteString("''")
		default:
			out.WriteRune(c)
		}
	}
	return Stripped{Text: out.String(), Literals: literals}
}

// FirstKeyword returns the leading word of stripped text, upper-cased.
// Leading whitespace and opening parentheses are skipped.
func FirstKeyword(stripped string) string {
	s := strings.TrimLeftFunc(stripped, func(r rune) bool {
		return unicode.IsSpace(r) || r == '('
	})
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	if end == -1 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

// SanitizeQuery is the generic keyword gate. It strips comments and
// literals, then rejects text whose first keyword is in DenyKeywords or
// extraDeny. On success the trimmed original text is returned unchanged.
func SanitizeQuery(text string, extraDeny []string, syn Syntax) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", rejectf("sanitize", "", "empty query")
	}

	stripped := StripCommentsAndLiterals(trimmed, syn)
	kw := FirstKeyword(stripped.Text)
	if kw == "" {
		return "", rejectf("sanitize", "", "query has no statement keyword")
	}
	for _, deny := range DenyKeywords {
		if kw == deny {
			return "", rejectf("sanitize", kw, "statement type is not allowed")
		}
	}
	for _, deny := range extraDeny {
		if kw == strings.ToUpper(deny) {
			return "", rejectf("sanitize", kw, "statement type is not allowed for this backend")
		}
	}
	return trimmed, nil
}
