package testhelpers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/database"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// PostgresImage is the image used for adapter integration tests.
const PostgresImage = "postgres:16-alpine"

const (
	testDBName     = "sales"
	testDBUser     = "insight"
	testDBPassword = "test_password"
)

// SeedSQL creates the small sales schema the integration tests query.
const SeedSQL = `
CREATE TABLE customers (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	country TEXT
);
CREATE TABLE orders (
	id SERIAL PRIMARY KEY,
	customer_id INTEGER NOT NULL REFERENCES customers(id),
	amount NUMERIC(10,2) NOT NULL,
	placed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
INSERT INTO customers (name, country) VALUES ('Ada', 'UK'), ('Grace', 'US'), ('Linus', 'FI');
INSERT INTO orders (customer_id, amount) VALUES (1, 10.50), (1, 20.00), (2, 99.99), (3, 5.25);
`

// TestDB holds a shared PostgreSQL container seeded with SeedSQL.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

// Descriptor returns a connection descriptor pointing at the container.
func (db *TestDB) Descriptor(name string) models.ConnectionDescriptor {
	return models.ConnectionDescriptor{
		Name:    name,
		Kind:    models.KindDB,
		Enabled: true,
		DB: &models.DBConnection{
			Subtype:  models.DBPostgres,
			Host:     db.Host,
			Port:     db.Port,
			Database: testDBName,
			Username: testDBUser,
			Password: testDBPassword,
			SSLMode:  "disable",
		},
	}
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDBName,
			"POSTGRES_USER":     testDBUser,
			"POSTGRES_PASSWORD": testDBPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}
	portNum, err := strconv.Atoi(port.Port())
	if err != nil {
		return nil, fmt.Errorf("invalid mapped port %q: %w", port.Port(), err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		testDBUser, testDBPassword, host, portNum, testDBName)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if _, err := pool.Exec(ctx, SeedSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to seed test schema: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      portNum,
	}, nil
}

// NewHistoryDB opens a migrated history database in a temp directory. It is
// closed when the test ends.
func NewHistoryDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path: t.TempDir() + "/history.db",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open history database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
