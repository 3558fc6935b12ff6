// Package jsonutil decodes JSON produced by language models, which often
// quote numbers or leave strings unquoted.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, accepting
// numbers and booleans as well as strings. Returns "" for null or empty input.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Integers are decoded exactly before falling back to float64.
	var intVal int64
	if err := json.Unmarshal(raw, &intVal); err == nil {
		return strconv.FormatInt(intVal, 10)
	}
	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return strconv.FormatFloat(numVal, 'g', -1, 64)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}

// String decodes from any JSON scalar.
type String string

func (s *String) UnmarshalJSON(raw []byte) error {
	*s = String(FlexibleStringValue(raw))
	return nil
}

// Int64 decodes from a JSON number or a numeric string such as "10".
// Null and "" decode as zero.
type Int64 int64

func (n *Int64) UnmarshalJSON(raw []byte) error {
	s := strings.TrimSpace(FlexibleStringValue(raw))
	if s == "" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int64(f)) {
			return fmt.Errorf("jsonutil: %s is not an integer", raw)
		}
		v = int64(f)
	}
	*n = Int64(v)
	return nil
}
