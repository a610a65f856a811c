//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	esmigrations "github.com/getpup/pupsourcing/es/migrations"
	_ "github.com/lib/pq"

	"github.com/getpup/leaf-orchestrator/store/sqlstore"
)

// getTestDB returns a database connection for integration tests.
// It reads the DATABASE_URL environment variable and skips the test if not set.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

// setupTables creates the leaf store tables using the default configuration.
func setupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	if err := sqlstore.Migrate(context.Background(), db, sqlstore.DefaultTableConfig(), sqlstore.Postgres); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
}

// setupEventStore creates the pupsourcing event store tables used by the journal.
func setupEventStore(t *testing.T, db *sql.DB) {
	t.Helper()

	tmpDir := t.TempDir()
	migrationConfig := esmigrations.Config{
		OutputFolder:        tmpDir,
		OutputFilename:      "events.sql",
		EventsTable:         "events",
		CheckpointsTable:    "projection_checkpoints",
		AggregateHeadsTable: "aggregate_heads",
	}

	if err := esmigrations.GeneratePostgres(&migrationConfig); err != nil {
		t.Fatalf("failed to generate event store migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, migrationConfig.OutputFilename))
	if err != nil {
		t.Fatalf("failed to read event store migration: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("failed to execute event store migration: %v", err)
	}
}

// cleanupTables truncates the leaf store and event tables to clean up test data.
// Errors are logged but don't fail the test (cleanup is best-effort).
func cleanupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	config := sqlstore.DefaultTableConfig()

	// Leaves reference tracks, so truncate them together
	_, err := db.Exec(fmt.Sprintf("TRUNCATE %s, %s, %s CASCADE", config.PayloadsTable, config.LeavesTable, config.TracksTable))
	if err != nil {
		t.Logf("warning: failed to truncate leaf store tables: %v", err)
	}

	if _, err := db.Exec("TRUNCATE events, aggregate_heads CASCADE"); err != nil {
		t.Logf("warning: failed to truncate event tables (may not exist): %v", err)
	}
}

// teardownTables drops the leaf store tables using the default configuration.
// Errors are logged but don't fail the test.
func teardownTables(t *testing.T, db *sql.DB) {
	t.Helper()

	migrationSQL := sqlstore.MigrationDown(sqlstore.DefaultTableConfig(), sqlstore.Postgres)

	if _, err := db.Exec(migrationSQL); err != nil {
		t.Logf("warning: failed to drop tables: %v", err)
	}
}
