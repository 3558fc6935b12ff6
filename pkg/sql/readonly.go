package sql

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxLimitValue is the largest LIMIT/TOP a generated query may carry.
const MaxLimitValue = 1_000_000

// Rules are the backend-specific parts of the SQL gates.
type Rules struct {
	// ExtraDeny extends DenyKeywords for the sanitize gate.
	ExtraDeny []string
	// Primitives are case-insensitive regexps that must not appear anywhere
	// outside literals and comments.
	Primitives []string
	// Syntax is how the backend lexes comments and literals.
	Syntax Syntax
	// CheckLiterals runs libinjection over every string literal.
	CheckLiterals bool

	compiled []*regexp.Regexp
}

// CommonPrimitives are rejected on every SQL backend.
var CommonPrimitives = []string{
	`\binto\s+outfile\b`,
	`\binto\s+dumpfile\b`,
	`\bload_file\s*\(`,
	`\bsystem\s*\(`,
	`\bexec(ute)?\b`,
}

var (
	modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*(NOT\s+)?(MATERIALIZED\s*)?\(\s*(INSERT|UPDATE|DELETE|MERGE)\b`)
	cteMainDMLPattern   = regexp.MustCompile(`(?i)\)\s*(INSERT|UPDATE|DELETE|MERGE|REPLACE)\b`)
	selectIntoPattern   = regexp.MustCompile(`(?i)\bINTO\b`)
	limitPattern        = regexp.MustCompile(`(?i)\bLIMIT\s+([^\s,)]+)(?:\s*,\s*([^\s)]+))?`)
	topPattern          = regexp.MustCompile(`(?i)\bSELECT\s+(?:DISTINCT\s+)?TOP\s*\(?\s*([^\s)]+)`)
	digitsPattern       = regexp.MustCompile(`^\d+$`)
)

// NewRules builds a Rules value with compiled primitive patterns. The common
// primitives are always included.
func NewRules(extraDeny, primitives []string, syn Syntax, checkLiterals bool) *Rules {
	r := &Rules{
		ExtraDeny:     extraDeny,
		Primitives:    append(append([]string{}, CommonPrimitives...), primitives...),
		Syntax:        syn,
		CheckLiterals: checkLiterals,
	}
	for _, p := range r.Primitives {
		r.compiled = append(r.compiled, regexp.MustCompile(`(?i)`+p))
	}
	return r
}

// Sanitize runs the generic keyword gate with this backend's additions.
func (r *Rules) Sanitize(text string) (string, error) {
	return SanitizeQuery(text, r.ExtraDeny, r.Syntax)
}

// Normalize is the package Normalize using this backend's syntax.
func (r *Rules) Normalize(text string) (string, error) {
	return Normalize(text, r.Syntax)
}

// Strip strips text using this backend's syntax.
func (r *Rules) Strip(text string) Stripped {
	return StripCommentsAndLiterals(text, r.Syntax)
}

// Validate is the secondary read-only gate. It requires a single SELECT or
// WITH statement, rejects data-modifying CTEs, SELECT INTO, the configured
// primitives, malformed row limits and, optionally, literals that look like
// injection payloads.
func (r *Rules) Validate(text string) error {
	stripped := r.Strip(strings.TrimSpace(text))
	body := stripTrailingSemicolon(strings.TrimSpace(stripped.Text))

	if strings.Contains(body, ";") {
		return &RejectionError{Gate: "validate", Reason: ErrMultipleStatements.Error()}
	}

	switch kw := FirstKeyword(body); kw {
	case "SELECT", "WITH":
	default:
		return rejectf("validate", kw, "only SELECT or WITH queries are allowed")
	}

	if modifyingCTEPattern.MatchString(body) || cteMainDMLPattern.MatchString(body) {
		return rejectf("validate", "CTE", "data-modifying common table expressions are not allowed")
	}

	for i, re := range r.compiled {
		if m := re.FindString(body); m != "" {
			return rejectf("validate", strings.TrimSpace(m), "forbidden primitive %q", r.Primitives[i])
		}
	}

	if selectIntoPattern.MatchString(body) {
		return rejectf("validate", "INTO", "SELECT INTO is not allowed")
	}

	if err := checkRowLimits(body); err != nil {
		return err
	}

	if r.CheckLiterals {
		if hit := FindInjection(stripped.Literals); hit != nil {
			return &RejectionError{
				Gate:      "validate",
				Reason:    "string literal looks like an injection payload",
				Keyword:   hit.Fingerprint,
				Injection: true,
			}
		}
	}
	return nil
}

func checkRowLimits(body string) error {
	for _, m := range limitPattern.FindAllStringSubmatch(body, -1) {
		for _, v := range m[1:] {
			if v == "" {
				continue
			}
			if err := checkLimitValue("LIMIT", v); err != nil {
				return err
			}
		}
	}
	for _, m := range topPattern.FindAllStringSubmatch(body, -1) {
		if err := checkLimitValue("TOP", m[1]); err != nil {
			return err
		}
	}
	return nil
}

func checkLimitValue(clause, v string) error {
	if !digitsPattern.MatchString(v) {
		return rejectf("validate", clause, "malformed row limit %q", v)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n > MaxLimitValue {
		return rejectf("validate", clause, "row limit %s exceeds %d", v, MaxLimitValue)
	}
	return nil
}
