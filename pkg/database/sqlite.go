package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
)

// FoldFunc is a SQL function that lower-cases text with Go's Unicode tables.
// SQLite's built-in LOWER only folds ASCII.
const FoldFunc = "unicode_lower"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(FoldFunc, 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return FoldCase(v), nil
			case []byte:
				return FoldCase(string(v)), nil
			}
			return args[0], nil
		})
}

// FoldCase is the folding FoldFunc applies. Search terms go through it so
// both sides of a LIKE fold the same way.
func FoldCase(s string) string { return strings.ToLower(s) }

// DB wraps the history store's SQLite handle.
type DB struct {
	*sql.DB
	path string
}

// Config holds history database settings.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

func dsn(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open creates the database file if needed, migrates it to the latest
// schema and returns a ready handle.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	migrationDB, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := RunMigrations(migrationDB, logger); err != nil {
		_ = migrationDB.Close()
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// All access goes through a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	logger.Debug("History database ready", zap.String("path", cfg.Path))
	return &DB{DB: db, path: cfg.Path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }
