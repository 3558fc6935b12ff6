package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// Auth methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod is "sql" or "service_principal".
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromDescriptor builds a Config from a descriptor. Service principal auth
// is selected when the extra map carries client_id; it then also needs
// tenant_id and client_secret. Other extra keys: encrypt,
// trust_server_certificate, connection_timeout.
func FromDescriptor(desc models.ConnectionDescriptor) (*Config, error) {
	if desc.DB == nil {
		return nil, fmt.Errorf("connection %q has no database settings", desc.Name)
	}
	db := desc.DB
	extra := desc.Extra

	cfg := &Config{
		Host:              db.Host,
		Port:              db.Port,
		Database:          db.Database,
		Username:          db.Username,
		Password:          db.Password,
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}

	if v, ok := extra["encrypt"]; ok {
		cfg.Encrypt = v == "true" || v == "strict"
	}
	if v := extra["trust_server_certificate"]; v != "" {
		cfg.TrustServerCertificate = v == "true"
	}
	if v := extra["connection_timeout"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid connection_timeout %q", v)
		}
		cfg.ConnectionTimeout = n
	}

	if extra["client_id"] != "" {
		cfg.AuthMethod = AuthServicePrincipal
		cfg.ClientID = extra["client_id"]
		cfg.TenantID = extra["tenant_id"]
		cfg.ClientSecret = extra["client_secret"]
	} else {
		cfg.AuthMethod = AuthSQL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config has all required fields for the selected auth method.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthSQL:
		if c.Username == "" {
			return fmt.Errorf("username is required for SQL authentication")
		}
	case AuthServicePrincipal:
		if c.TenantID == "" {
			return fmt.Errorf("tenant_id is required for service principal")
		}
		if c.ClientSecret == "" {
			return fmt.Errorf("client_secret is required for service principal")
		}
	default:
		return fmt.Errorf("invalid auth method: %s", c.AuthMethod)
	}
	return nil
}

// driverAndDSN returns the database/sql driver name and DSN for the config.
// Service principals go through the azuresql driver registered by the
// azuread package.
func driverAndDSN(cfg *Config) (string, string) {
	query := url.Values{}
	query.Add("database", cfg.Database)
	query.Add("encrypt", strconv.FormatBool(cfg.Encrypt))
	query.Add("app name", "insightpilot")
	query.Add("ApplicationIntent", "ReadOnly")
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(cfg.ConnectionTimeout))
	}

	if cfg.AuthMethod == AuthServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", cfg.ClientID+"@"+cfg.TenantID)
		query.Add("password", cfg.ClientSecret)
		return "azuresql", fmt.Sprintf("sqlserver://%s:%d?%s", cfg.Host, cfg.Port, query.Encode())
	}

	return "sqlserver", fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		query.Encode(),
	)
}
