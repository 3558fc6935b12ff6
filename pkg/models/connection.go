package models

import (
	"fmt"
	"sort"
	"strings"
)

// ConnectionKind separates database connections from LLM provider connections.
type ConnectionKind string

const (
	KindDB  ConnectionKind = "db"
	KindLLM ConnectionKind = "llm"
)

// DBSubtype is the closed set of supported database backends.
type DBSubtype string

const (
	DBPostgres DBSubtype = "postgres"
	DBMySQL    DBSubtype = "mysql"
	DBMSSQL    DBSubtype = "mssql"
	DBMongoDB  DBSubtype = "mongodb"
	DBDuckDB   DBSubtype = "duckdb"
	DBSQLite   DBSubtype = "sqlite"
	DBHANA     DBSubtype = "hana"
	DBOracle   DBSubtype = "oracle"
)

// LLMSubtype is the closed set of supported LLM providers.
type LLMSubtype string

const (
	LLMOpenAI    LLMSubtype = "openai"
	LLMGitHub    LLMSubtype = "github"
	LLMOllama    LLMSubtype = "ollama"
	LLMAnthropic LLMSubtype = "anthropic"
	LLMGemini    LLMSubtype = "gemini"
)

var validDBSubtypes = map[DBSubtype]bool{
	DBPostgres: true, DBMySQL: true, DBMSSQL: true, DBMongoDB: true,
	DBDuckDB: true, DBSQLite: true, DBHANA: true, DBOracle: true,
}

var validLLMSubtypes = map[LLMSubtype]bool{
	LLMOpenAI: true, LLMGitHub: true, LLMOllama: true, LLMAnthropic: true, LLMGemini: true,
}

// fileBacked subtypes use Database as a file path and need no host.
var fileBacked = map[DBSubtype]bool{DBDuckDB: true, DBSQLite: true}

// keyless providers can run without an API key.
var keyless = map[LLMSubtype]bool{LLMOllama: true}

// ParseDBSubtype validates s against the known database subtypes.
func ParseDBSubtype(s string) (DBSubtype, error) {
	st := DBSubtype(strings.ToLower(strings.TrimSpace(s)))
	if !validDBSubtypes[st] {
		return "", fmt.Errorf("unknown database subtype %q", s)
	}
	return st, nil
}

// ParseLLMSubtype validates s against the known LLM subtypes.
func ParseLLMSubtype(s string) (LLMSubtype, error) {
	st := LLMSubtype(strings.ToLower(strings.TrimSpace(s)))
	if !validLLMSubtypes[st] {
		return "", fmt.Errorf("unknown llm subtype %q", s)
	}
	return st, nil
}

// ConnectionDescriptor describes either a database or an LLM provider.
// Exactly one of DB or LLM is set, matching Kind.
type ConnectionDescriptor struct {
	Name    string            `json:"name" yaml:"name"`
	Kind    ConnectionKind    `json:"kind" yaml:"kind"`
	Enabled bool              `json:"enabled" yaml:"enabled"`
	Extra   map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`

	DB  *DBConnection  `json:"db,omitempty" yaml:"db,omitempty"`
	LLM *LLMConnection `json:"llm,omitempty" yaml:"llm,omitempty"`
}

// DBConnection holds the database-specific fields of a descriptor.
type DBConnection struct {
	Subtype  DBSubtype `json:"subtype" yaml:"subtype"`
	Host     string    `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int       `json:"port,omitempty" yaml:"port,omitempty"`
	Database string    `json:"database,omitempty" yaml:"database,omitempty"`
	Username string    `json:"username,omitempty" yaml:"username,omitempty"`
	Password string    `json:"-" yaml:"-"`
	SSLMode  string    `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
}

// LLMConnection holds the provider-specific fields of a descriptor.
type LLMConnection struct {
	Subtype     LLMSubtype `json:"subtype" yaml:"subtype"`
	BaseURL     string     `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey      string     `json:"-" yaml:"-"`
	Model       string     `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float32    `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// NewDBDescriptor builds and validates a database descriptor.
func NewDBDescriptor(name string, db DBConnection, extra map[string]string) (ConnectionDescriptor, error) {
	d := ConnectionDescriptor{Name: name, Kind: KindDB, Enabled: true, Extra: extra, DB: &db}
	if err := d.Validate(); err != nil {
		return ConnectionDescriptor{}, err
	}
	return d, nil
}

// NewLLMDescriptor builds and validates an LLM descriptor.
func NewLLMDescriptor(name string, llm LLMConnection, extra map[string]string) (ConnectionDescriptor, error) {
	d := ConnectionDescriptor{Name: name, Kind: KindLLM, Enabled: true, Extra: extra, LLM: &llm}
	if err := d.Validate(); err != nil {
		return ConnectionDescriptor{}, err
	}
	return d, nil
}

// Validate checks that the descriptor is internally consistent and that its
// subtype is known.
func (d ConnectionDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("connection name is required")
	}
	switch d.Kind {
	case KindDB:
		if d.DB == nil || d.LLM != nil {
			return fmt.Errorf("connection %q: db descriptor must carry only database fields", d.Name)
		}
		if !validDBSubtypes[d.DB.Subtype] {
			return fmt.Errorf("connection %q: unknown database subtype %q", d.Name, d.DB.Subtype)
		}
		if fileBacked[d.DB.Subtype] {
			return nil
		}
		if d.DB.Host == "" {
			return fmt.Errorf("connection %q: host is required", d.Name)
		}
		if d.DB.Port < 0 || d.DB.Port > 65535 {
			return fmt.Errorf("connection %q: invalid port %d", d.Name, d.DB.Port)
		}
	case KindLLM:
		if d.LLM == nil || d.DB != nil {
			return fmt.Errorf("connection %q: llm descriptor must carry only provider fields", d.Name)
		}
		if !validLLMSubtypes[d.LLM.Subtype] {
			return fmt.Errorf("connection %q: unknown llm subtype %q", d.Name, d.LLM.Subtype)
		}
		if d.LLM.APIKey == "" && !keyless[d.LLM.Subtype] {
			return fmt.Errorf("connection %q: api key is required for %s", d.Name, d.LLM.Subtype)
		}
	default:
		return fmt.Errorf("connection %q: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// Subtype returns the descriptor's subtype as a plain string.
func (d ConnectionDescriptor) Subtype() string {
	switch {
	case d.DB != nil:
		return string(d.DB.Subtype)
	case d.LLM != nil:
		return string(d.LLM.Subtype)
	}
	return ""
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (d ConnectionDescriptor) Clone() ConnectionDescriptor {
	c := d
	if d.Extra != nil {
		c.Extra = make(map[string]string, len(d.Extra))
		for k, v := range d.Extra {
			c.Extra[k] = v
		}
	}
	if d.DB != nil {
		db := *d.DB
		c.DB = &db
	}
	if d.LLM != nil {
		llm := *d.LLM
		c.LLM = &llm
	}
	return c
}

// Redacted returns a copy with credentials masked.
func (d ConnectionDescriptor) Redacted() ConnectionDescriptor {
	c := d.Clone()
	if c.DB != nil && c.DB.Password != "" {
		c.DB.Password = "[REDACTED]"
	}
	if c.LLM != nil && c.LLM.APIKey != "" {
		c.LLM.APIKey = "[REDACTED]"
	}
	for k := range c.Extra {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "password") || strings.Contains(lk, "secret") || strings.Contains(lk, "token") {
			c.Extra[k] = "[REDACTED]"
		}
	}
	return c
}

func (d ConnectionDescriptor) String() string {
	r := d.Redacted()
	switch {
	case r.DB != nil:
		return fmt.Sprintf("%s(db/%s %s:%d/%s)", r.Name, r.DB.Subtype, r.DB.Host, r.DB.Port, r.DB.Database)
	case r.LLM != nil:
		return fmt.Sprintf("%s(llm/%s %s)", r.Name, r.LLM.Subtype, r.LLM.Model)
	}
	return r.Name
}

// SortDescriptors orders descriptors by name in place.
func SortDescriptors(ds []ConnectionDescriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
}

// SplitList splits a comma-separated extra value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
