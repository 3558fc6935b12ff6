package postgres

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
	// Schemas limits discovery to these schemas. Empty means every
	// non-system schema.
	Schemas []string
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "prefer"
}

// FromDescriptor extracts a Config from a database connection descriptor.
// The optional extra key "schemas" is a comma-separated schema list.
func FromDescriptor(desc models.ConnectionDescriptor) (*Config, error) {
	if desc.DB == nil {
		return nil, fmt.Errorf("connection %q has no database settings", desc.Name)
	}
	db := desc.DB
	cfg := &Config{
		Host:     db.Host,
		Port:     db.Port,
		User:     db.Username,
		Password: db.Password,
		Database: db.Database,
		SSLMode:  db.SSLMode,
		Schemas:  models.SplitList(desc.Extra["schemas"]),
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = DefaultSSLMode()
	}
	return cfg, nil
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// Every user-provided field is URL-escaped so passwords containing @, /, #
// or ? survive URL parsing.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		url.QueryEscape(sslMode),
	)
}
