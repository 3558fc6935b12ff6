package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{
			name:  "string value",
			input: json.RawMessage(`"hello"`),
			want:  "hello",
		},
		{
			name:  "integer value",
			input: json.RawMessage(`42`),
			want:  "42",
		},
		{
			name:  "float value",
			input: json.RawMessage(`3.14`),
			want:  "3.14",
		},
		{
			name:  "boolean true",
			input: json.RawMessage(`true`),
			want:  "true",
		},
		{
			name:  "boolean false",
			input: json.RawMessage(`false`),
			want:  "false",
		},
		{
			name:  "null value",
			input: json.RawMessage(`null`),
			want:  "",
		},
		{
			name:  "empty raw message",
			input: json.RawMessage{},
			want:  "",
		},
		{
			name:  "nil raw message",
			input: nil,
			want:  "",
		},
		{
			name:  "large integer preserves precision",
			input: json.RawMessage(`9007199254740992`),
			want:  "9007199254740992",
		},
		{
			name:  "nested object falls back to raw string",
			input: json.RawMessage(`{"key":"value"}`),
			want:  `{"key":"value"}`,
		},
		{
			name:  "array falls back to raw string",
			input: json.RawMessage(`[1,2,3]`),
			want:  `[1,2,3]`,
		},
		{
			name:  "negative integer",
			input: json.RawMessage(`-7`),
			want:  "-7",
		},
		{
			name:  "zero",
			input: json.RawMessage(`0`),
			want:  "0",
		},
		{
			name:  "empty string",
			input: json.RawMessage(`""`),
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlexibleStringValue(tt.input)
			if got != tt.want {
				t.Errorf("FlexibleStringValue(%s) = %q, want %q", string(tt.input), got, tt.want)
			}
		})
	}
}

func TestInt64(t *testing.T) {
	var v struct {
		Limit Int64 `json:"limit"`
	}
	for input, want := range map[string]Int64{
		`{"limit": 10}`:   10,
		`{"limit": "25"}`: 25,
		`{"limit": 5.0}`:  5,
		`{"limit": null}`: 0,
		`{"limit": ""}`:   0,
	} {
		v.Limit = -1
		require.NoError(t, json.Unmarshal([]byte(input), &v), input)
		assert.Equal(t, want, v.Limit, input)
	}

	assert.Error(t, json.Unmarshal([]byte(`{"limit": "ten"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"limit": 2.5}`), &v))
}

func TestString(t *testing.T) {
	var v struct {
		Field String `json:"field"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"field": 2024}`), &v))
	assert.Equal(t, String("2024"), v.Field)
	require.NoError(t, json.Unmarshal([]byte(`{"field": "status"}`), &v))
	assert.Equal(t, String("status"), v.Field)
}
