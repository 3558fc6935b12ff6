package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a literal flagged by libinjection.
type InjectionCheckResult struct {
	Fingerprint string // libinjection fingerprint of the detected pattern
	Index       int    // position of the literal in the query
	Value       string
}

// FindInjection returns the first value libinjection classifies as SQL
// injection, or nil if all values are clean.
//
//	FindInjection([]string{"laptop computers"})  // nil
//	FindInjection([]string{"1' OR '1'='1"})      // Fingerprint "s&sos" or similar
func FindInjection(values []string) *InjectionCheckResult {
	for i, v := range values {
		if v == "" {
			continue
		}
		if isSQLi, fingerprint := libinjection.IsSQLi(v); isSQLi {
			return &InjectionCheckResult{Fingerprint: string(fingerprint), Index: i, Value: v}
		}
	}
	return nil
}
