package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		db      DBConnection
		wantErr string
	}{
		{name: "postgres ok", db: DBConnection{Subtype: DBPostgres, Host: "localhost", Port: 5432}},
		{name: "sqlite needs no host", db: DBConnection{Subtype: DBSQLite, Database: "/tmp/x.db"}},
		{name: "missing host", db: DBConnection{Subtype: DBMySQL}, wantErr: "host is required"},
		{name: "unknown subtype", db: DBConnection{Subtype: "oracle", Host: "h"}, wantErr: "unknown database subtype"},
		{name: "bad port", db: DBConnection{Subtype: DBMySQL, Host: "h", Port: 70000}, wantErr: "invalid port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDBDescriptor("warehouse", tt.db, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, KindDB, d.Kind)
			assert.True(t, d.Enabled)
		})
	}
}

func TestNewLLMDescriptor(t *testing.T) {
	_, err := NewLLMDescriptor("gpt", LLMConnection{Subtype: LLMOpenAI}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")

	d, err := NewLLMDescriptor("local", LLMConnection{Subtype: LLMOllama, BaseURL: "http://localhost:11434"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", d.Subtype())

	_, err = NewLLMDescriptor("x", LLMConnection{Subtype: "cohere", APIKey: "k"}, nil)
	require.Error(t, err)
}

func TestConnectionDescriptor_RejectsMixedVariants(t *testing.T) {
	d := ConnectionDescriptor{
		Name: "bad",
		Kind: KindDB,
		DB:   &DBConnection{Subtype: DBPostgres, Host: "h"},
		LLM:  &LLMConnection{Subtype: LLMOllama},
	}
	require.Error(t, d.Validate())
}

func TestParseSubtypes(t *testing.T) {
	st, err := ParseDBSubtype(" MongoDB ")
	require.NoError(t, err)
	assert.Equal(t, DBMongoDB, st)

	_, err = ParseDBSubtype("oracle")
	require.Error(t, err)

	lt, err := ParseLLMSubtype("Anthropic")
	require.NoError(t, err)
	assert.Equal(t, LLMAnthropic, lt)
}

func TestConnectionDescriptor_RedactedAndClone(t *testing.T) {
	d, err := NewDBDescriptor("prod", DBConnection{
		Subtype: DBPostgres, Host: "db", Port: 5432, Username: "app", Password: "hunter2",
	}, map[string]string{"api_token": "abc", "schema": "public"})
	require.NoError(t, err)

	r := d.Redacted()
	assert.Equal(t, "[REDACTED]", r.DB.Password)
	assert.Equal(t, "[REDACTED]", r.Extra["api_token"])
	assert.Equal(t, "public", r.Extra["schema"])

	// original untouched
	assert.Equal(t, "hunter2", d.DB.Password)
	assert.Equal(t, "abc", d.Extra["api_token"])
	assert.NotContains(t, d.String(), "hunter2")
}

func TestExecutionResult_WellFormed(t *testing.T) {
	ok := ExecutionResult{Columns: []string{"id", "name"}, Rows: [][]any{{1, "a"}, {2, "b"}}, RowCount: 2}
	assert.True(t, ok.WellFormed())

	ragged := ExecutionResult{Columns: []string{"id", "name"}, Rows: [][]any{{1}}, RowCount: 1}
	assert.False(t, ragged.WellFormed())
}
