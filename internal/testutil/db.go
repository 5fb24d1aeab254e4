package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/mailsync/internal/db"
)

// NewTestDB opens a migrated SQLite cache in a fresh temp directory.
// The database is closed when the test finishes.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cache.db")
	database, err := db.Open(context.Background(), db.DriverSQLite, db.SQLiteDSN(path))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		db.CloseConnection(database)
	})

	return database
}

// NewTestPostgresDB starts a Postgres container and returns a migrated cache on it.
// It is skipped in -short mode. The container is terminated when the test finishes.
func NewTestPostgresDB(t *testing.T) *db.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Postgres container in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mailsync_test"),
		postgres.WithUsername("mailsync"),
		postgres.WithPassword("mailsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}

	t.Cleanup(func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	database, err := db.Open(ctx, db.DriverPostgres, connStr)
	if err != nil {
		t.Fatalf("Failed to open Postgres database: %v", err)
	}

	t.Cleanup(func() {
		db.CloseConnection(database)
	})

	return database
}
