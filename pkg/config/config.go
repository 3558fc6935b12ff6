package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// DefaultConfigPath is read when no explicit path is given.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for insightpilot.
// Values come from an optional YAML file with environment variable overrides.
// Secrets (JWT keys, Redis password) only come from the environment.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"`

	// ConnectionsFile lists database and LLM connection descriptors.
	ConnectionsFile string `yaml:"connections_file" env:"INSIGHTPILOT_CONNECTIONS" env-default:"connections.yaml"`
	// DefaultLLMConnection names the provider used when a request doesn't pick one.
	DefaultLLMConnection string `yaml:"default_llm_connection" env:"INSIGHTPILOT_DEFAULT_LLM" env-default:""`

	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	History  HistoryConfig  `yaml:"history"`
	Redis    RedisConfig    `yaml:"redis"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	BindAddr string     `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string     `yaml:"port" env:"PORT" env-default:"8470"`
	Auth     AuthConfig `yaml:"auth"`
}

// AuthConfig enables bearer-token checks on the HTTP API.
// With neither JWTSecret nor JWKSURL set, the API is unauthenticated.
type AuthConfig struct {
	JWTSecret string `yaml:"-" env:"INSIGHTPILOT_JWT_SECRET"`
	JWKSURL   string `yaml:"jwks_url" env:"INSIGHTPILOT_JWKS_URL" env-default:""`
	Issuer    string `yaml:"issuer" env:"INSIGHTPILOT_JWT_ISSUER" env-default:""`
}

// Enabled reports whether any token verification is configured.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || a.JWKSURL != ""
}

// PipelineConfig tunes the query orchestrator.
type PipelineConfig struct {
	MaxRetries      int           `yaml:"max_retries" env:"PIPELINE_MAX_RETRIES" env-default:"2"`
	ProviderTimeout time.Duration `yaml:"provider_timeout" env:"PIPELINE_PROVIDER_TIMEOUT" env-default:"180s"`
	ExecTimeout     time.Duration `yaml:"exec_timeout" env:"PIPELINE_EXEC_TIMEOUT" env-default:"60s"`
	AllowFailover   bool          `yaml:"allow_failover" env:"PIPELINE_ALLOW_FAILOVER" env-default:"false"`
	MaxRows         int           `yaml:"max_rows" env:"PIPELINE_MAX_ROWS" env-default:"1000"`
}

// HistoryConfig controls the query history store and its retention.
type HistoryConfig struct {
	Path              string        `yaml:"path" env:"HISTORY_PATH" env-default:""`
	RetentionDays     int           `yaml:"retention_days" env:"HISTORY_RETENTION_DAYS" env-default:"30"`
	RetentionInterval time.Duration `yaml:"retention_interval" env:"HISTORY_RETENTION_INTERVAL" env-default:"24h"`
	KeepFavorites     bool          `yaml:"keep_favorites" env:"HISTORY_KEEP_FAVORITES" env-default:"true"`
}

// RedisConfig configures the optional explanation cache.
type RedisConfig struct {
	Host           string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port           int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password       string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB             int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	ExplanationTTL time.Duration `yaml:"explanation_ttl" env:"REDIS_EXPLANATION_TTL" env-default:"24h"`
}

// Load reads configuration from path (config.yaml when empty) with
// environment overrides. A .env file in the working directory is loaded
// first if present. A missing config file is not an error; defaults and the
// environment are used instead.
func Load(path, version string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path == "" {
		path = DefaultConfigPath
	}

	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.Version = version

	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.History.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		c.History.Path = filepath.Join(home, ".insightpilot", "history.db")
	}
	c.History.Path = expandHome(c.History.Path)
	c.ConnectionsFile = expandHome(c.ConnectionsFile)
	return nil
}

// Validate checks value ranges that cleanenv cannot express.
func (c *Config) Validate() error {
	if c.Pipeline.MaxRetries < 0 || c.Pipeline.MaxRetries > 5 {
		return fmt.Errorf("pipeline.max_retries must be between 0 and 5, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.ProviderTimeout <= 0 {
		return fmt.Errorf("pipeline.provider_timeout must be positive")
	}
	if c.Pipeline.ExecTimeout <= 0 {
		return fmt.Errorf("pipeline.exec_timeout must be positive")
	}
	if c.Pipeline.MaxRows <= 0 || c.Pipeline.MaxRows > 1000 {
		return fmt.Errorf("pipeline.max_rows must be between 1 and 1000, got %d", c.Pipeline.MaxRows)
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days cannot be negative")
	}
	if c.History.RetentionInterval <= 0 {
		return fmt.Errorf("history.retention_interval must be positive")
	}
	return nil
}

// ListenAddr returns host:port for the HTTP server.
func (s ServerConfig) ListenAddr() string {
	return s.BindAddr + ":" + s.Port
}

// RedisAddr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) RedisAddr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
