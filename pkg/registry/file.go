package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// File is the on-disk shape of a connections file.
type File struct {
	DefaultProvider string      `yaml:"default_provider,omitempty"`
	Connections     []FileEntry `yaml:"connections"`
}

// FileEntry is one connection in a connections file. Kind is inferred from
// the subtype when omitted, and a missing database subtype is inferred from
// the port.
type FileEntry struct {
	Name    string            `yaml:"name"`
	Kind    string            `yaml:"kind,omitempty"`
	Subtype string            `yaml:"subtype,omitempty"`
	Enabled *bool             `yaml:"enabled,omitempty"`
	Extra   map[string]string `yaml:"extra,omitempty"`

	Host        string `yaml:"host,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	Database    string `yaml:"database,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`
	SSLMode     string `yaml:"ssl_mode,omitempty"`

	BaseURL     string  `yaml:"base_url,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

var portSubtypes = map[int]models.DBSubtype{
	3306:  models.DBMySQL,
	5432:  models.DBPostgres,
	1433:  models.DBMSSQL,
	27017: models.DBMongoDB,
	30015: models.DBHANA,
	1521:  models.DBOracle,
}

// InferDBSubtype guesses a database subtype from a well-known port.
func InferDBSubtype(port int) (models.DBSubtype, bool) {
	st, ok := portSubtypes[port]
	return st, ok
}

// envLookup is swapped in tests.
var envLookup = os.LookupEnv

func secret(literal, envName string) (string, error) {
	if envName == "" {
		return literal, nil
	}
	v, ok := envLookup(envName)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", envName)
	}
	return v, nil
}

func (e FileEntry) kind() models.ConnectionKind {
	switch models.ConnectionKind(e.Kind) {
	case models.KindDB, models.KindLLM:
		return models.ConnectionKind(e.Kind)
	}
	if _, err := models.ParseLLMSubtype(e.Subtype); err == nil {
		return models.KindLLM
	}
	return models.KindDB
}

// Descriptor converts the entry into a validated descriptor, resolving
// env-referenced secrets.
func (e FileEntry) Descriptor() (models.ConnectionDescriptor, error) {
	enabled := e.Enabled == nil || *e.Enabled

	var (
		desc models.ConnectionDescriptor
		err  error
	)
	switch e.kind() {
	case models.KindLLM:
		st, perr := models.ParseLLMSubtype(e.Subtype)
		if perr != nil {
			return desc, fmt.Errorf("connection %q: %w", e.Name, perr)
		}
		key, serr := secret(e.APIKey, e.APIKeyEnv)
		if serr != nil {
			return desc, fmt.Errorf("connection %q: %w", e.Name, serr)
		}
		desc, err = models.NewLLMDescriptor(e.Name, models.LLMConnection{
			Subtype:     st,
			BaseURL:     e.BaseURL,
			APIKey:      key,
			Model:       e.Model,
			Temperature: e.Temperature,
			MaxTokens:   e.MaxTokens,
		}, e.Extra)
	default:
		var st models.DBSubtype
		if e.Subtype == "" {
			inferred, ok := InferDBSubtype(e.Port)
			if !ok {
				return desc, fmt.Errorf("connection %q: subtype is required (cannot infer from port %d)", e.Name, e.Port)
			}
			st = inferred
		} else if st, err = models.ParseDBSubtype(e.Subtype); err != nil {
			return desc, fmt.Errorf("connection %q: %w", e.Name, err)
		}
		pw, serr := secret(e.Password, e.PasswordEnv)
		if serr != nil {
			return desc, fmt.Errorf("connection %q: %w", e.Name, serr)
		}
		desc, err = models.NewDBDescriptor(e.Name, models.DBConnection{
			Subtype:  st,
			Host:     e.Host,
			Port:     e.Port,
			Database: e.Database,
			Username: e.Username,
			Password: pw,
			SSLMode:  e.SSLMode,
		}, e.Extra)
	}
	if err != nil {
		return models.ConnectionDescriptor{}, err
	}
	desc.Enabled = enabled
	return desc, nil
}

func entryFor(desc models.ConnectionDescriptor, refs secretRefs) FileEntry {
	e := FileEntry{Name: desc.Name, Kind: string(desc.Kind), Subtype: desc.Subtype(), Extra: desc.Redacted().Extra}
	if !desc.Enabled {
		disabled := false
		e.Enabled = &disabled
	}
	switch {
	case desc.DB != nil:
		e.Host = desc.DB.Host
		e.Port = desc.DB.Port
		e.Database = desc.DB.Database
		e.Username = desc.DB.Username
		e.SSLMode = desc.DB.SSLMode
		e.PasswordEnv = refs.PasswordEnv
	case desc.LLM != nil:
		e.BaseURL = desc.LLM.BaseURL
		e.Model = desc.LLM.Model
		e.Temperature = desc.LLM.Temperature
		e.MaxTokens = desc.LLM.MaxTokens
		e.APIKeyEnv = refs.APIKeyEnv
	}
	return e
}

// LoadFile reads a connections file into the registry. Every entry is
// validated before any is stored.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read connections file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse connections file %s: %w", path, err)
	}

	type loaded struct {
		desc models.ConnectionDescriptor
		refs secretRefs
	}
	descs := make([]loaded, 0, len(f.Connections))
	seen := make(map[string]bool, len(f.Connections))
	var errs []error
	for _, e := range f.Connections {
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("connection %q is defined more than once", e.Name))
			continue
		}
		seen[e.Name] = true
		d, err := e.Descriptor()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		descs = append(descs, loaded{desc: d, refs: secretRefs{PasswordEnv: e.PasswordEnv, APIKeyEnv: e.APIKeyEnv}})
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid connections file %s: %w", path, errors.Join(errs...))
	}

	for _, l := range descs {
		if err := r.upsertWithRefs(l.desc, l.refs); err != nil {
			return err
		}
	}
	if f.DefaultProvider != "" {
		if err := r.SetDefaultProvider(f.DefaultProvider); err != nil {
			return fmt.Errorf("invalid default_provider: %w", err)
		}
	}
	return nil
}

// SaveFile writes the registry to path. Literal secrets are never written;
// secrets that came from the environment are kept as env references.
func (r *Registry) SaveFile(path string) error {
	r.mu.RLock()
	f := File{DefaultProvider: r.defaultProvider}
	for _, d := range r.listLocked() {
		f.Connections = append(f.Connections, entryFor(d, r.refs[d.Name]))
	}
	r.mu.RUnlock()

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("failed to encode connections: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write connections file: %w", err)
	}
	return nil
}

func (r *Registry) listLocked() []models.ConnectionDescriptor {
	out := make([]models.ConnectionDescriptor, 0, len(r.conns))
	for _, d := range r.conns {
		out = append(out, d)
	}
	models.SortDescriptors(out)
	return out
}
