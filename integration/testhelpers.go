//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aqasim81/joke-server/internal/database"
	"github.com/aqasim81/joke-server/internal/migration"
	"github.com/aqasim81/joke-server/internal/schema"
)

const (
	postgresImage = "postgres:16-alpine"
	testDB        = "jokes_db_test"
	testUser      = "jokes"
	testPassword  = "jokes"
)

// SetupPostgres starts a PostgreSQL 16 container and returns its DSN.
// The container is terminated when the test completes.
func SetupPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDB,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return "postgres://" + testUser + ":" + testPassword + "@" + host + ":" + port.Port() + "/" + testDB + "?sslmode=disable"
}

// testSettings mirrors the test profile: pool 1..5 with short timeouts.
func testSettings(dsn string) database.Settings {
	return database.Settings{
		ConnString:          dsn,
		MinConns:            1,
		MaxConns:            5,
		AcquireTimeout:      2 * time.Second,
		BatchAcquireTimeout: 10 * time.Second,
		IdleTimeout:         30 * time.Second,
	}
}

// OpenPool opens a database.Pool against dsn. mutate, when non-nil,
// adjusts the settings first. The pool is torn down after the test.
func OpenPool(t *testing.T, dsn string, mutate func(*database.Settings)) *database.Pool {
	t.Helper()

	s := testSettings(dsn)
	if mutate != nil {
		mutate(&s)
	}

	pool, err := database.Open(context.Background(), s)
	require.NoError(t, err)
	require.NoError(t, pool.LivenessErr())

	t.Cleanup(pool.Teardown)

	return pool
}

// SetupPool starts a container and returns a pool connected to it.
func SetupPool(t *testing.T) *database.Pool {
	t.Helper()

	return OpenPool(t, SetupPostgres(t), nil)
}

// BundledMigrations returns the migrations shipped with the binary.
func BundledMigrations(t *testing.T) []migration.Migration {
	t.Helper()

	ms, err := schema.Migrations()
	require.NoError(t, err)

	return ms
}

func tableExists(t *testing.T, pool *database.Pool, name string) bool {
	t.Helper()

	var exists bool

	err := pool.WithConn(context.Background(), database.Interactive, "checking table", func(conn *pgxpool.Conn) error {
		return conn.QueryRow(context.Background(), `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists)
	})
	require.NoError(t, err)

	return exists
}

func queryInt(t *testing.T, pool *database.Pool, sql string, args ...any) int64 {
	t.Helper()

	var n int64

	err := pool.WithConn(context.Background(), database.Interactive, "test query", func(conn *pgxpool.Conn) error {
		return conn.QueryRow(context.Background(), sql, args...).Scan(&n)
	})
	require.NoError(t, err)

	return n
}

func exec(t *testing.T, pool *database.Pool, sql string, args ...any) {
	t.Helper()

	_, err := pool.Exec(context.Background(), database.Interactive, "test exec", sql, args...)
	require.NoError(t, err)
}
