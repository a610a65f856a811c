package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		OutputFolder:   t.TempDir(),
		OutputFilename: "test_migration.sql",
		TracksTable:    "sta_tracks",
		LeavesTable:    "sta_leaves",
		PayloadsTable:  "sta_payloads",
	}
}

func readGenerated(t *testing.T, config Config) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(config.OutputFolder, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}
	return string(content)
}

func TestGeneratePostgres(t *testing.T) {
	config := testConfig(t)

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	sql := readGenerated(t, config)

	required := []string{
		"-- Database: PostgreSQL",
		"CREATE TABLE IF NOT EXISTS sta_tracks",
		"start_time TIMESTAMPTZ NOT NULL",
		"CREATE INDEX IF NOT EXISTS idx_sta_tracks_owner ON sta_tracks(owner)",
		"CREATE TABLE IF NOT EXISTS sta_leaves",
		"REFERENCES sta_tracks(track_hash)",
		"CHECK (status IN ('pending', 'processing', 'processed', 'retry'))",
		"PRIMARY KEY (track_hash, leaf_name)",
		"CREATE TABLE IF NOT EXISTS sta_payloads",
		"body JSONB NOT NULL",
	}
	for _, s := range required {
		if !strings.Contains(sql, s) {
			t.Errorf("postgres migration missing required string: %s", s)
		}
	}
}

func TestGenerateMySQL(t *testing.T) {
	config := testConfig(t)

	if err := GenerateMySQL(&config); err != nil {
		t.Fatalf("GenerateMySQL failed: %v", err)
	}

	sql := readGenerated(t, config)

	required := []string{
		"-- Database: MySQL/MariaDB",
		"CREATE TABLE IF NOT EXISTS sta_tracks",
		"start_time DATETIME(6) NOT NULL",
		"status ENUM('pending', 'processing', 'processed', 'retry') NOT NULL",
		"FOREIGN KEY (track_hash) REFERENCES sta_tracks(track_hash)",
		"ENGINE=InnoDB",
		"body JSON NOT NULL",
	}
	for _, s := range required {
		if !strings.Contains(sql, s) {
			t.Errorf("mysql migration missing required string: %s", s)
		}
	}
}

func TestGenerateSQLite(t *testing.T) {
	config := testConfig(t)

	if err := GenerateSQLite(&config); err != nil {
		t.Fatalf("GenerateSQLite failed: %v", err)
	}

	sql := readGenerated(t, config)

	required := []string{
		"-- Database: SQLite",
		"CREATE TABLE IF NOT EXISTS sta_tracks",
		"CREATE TABLE IF NOT EXISTS sta_leaves",
		"CREATE TABLE IF NOT EXISTS sta_payloads",
		"body TEXT NOT NULL",
	}
	for _, s := range required {
		if !strings.Contains(sql, s) {
			t.Errorf("sqlite migration missing required string: %s", s)
		}
	}
	if strings.Contains(sql, "JSONB") || strings.Contains(sql, "ENGINE=InnoDB") {
		t.Error("sqlite migration contains syntax of another dialect")
	}
}

func TestGenerate_DownMigration(t *testing.T) {
	config := testConfig(t)
	config.Down = true

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(config.OutputFolder, "test_migration.down.sql"))
	if err != nil {
		t.Fatalf("Failed to read down migration: %v", err)
	}

	down := string(content)
	for _, table := range []string{"sta_tracks", "sta_leaves", "sta_payloads"} {
		if !strings.Contains(down, "DROP TABLE IF EXISTS "+table) {
			t.Errorf("down migration does not drop %s", table)
		}
	}

	// Leaves reference tracks and must go first.
	if strings.Index(down, "sta_leaves") > strings.Index(down, "DROP TABLE IF EXISTS sta_tracks") {
		t.Error("leaves table must be dropped before tracks table")
	}
}

func TestGenerate_NoDownByDefault(t *testing.T) {
	config := testConfig(t)

	if err := GenerateSQLite(&config); err != nil {
		t.Fatalf("GenerateSQLite failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(config.OutputFolder, "test_migration.down.sql")); !os.IsNotExist(err) {
		t.Errorf("expected no down migration, stat returned %v", err)
	}
}

func TestGenerate_CreatesOutputFolder(t *testing.T) {
	config := testConfig(t)
	config.OutputFolder = filepath.Join(config.OutputFolder, "nested", "migrations")

	if err := GenerateMySQL(&config); err != nil {
		t.Fatalf("GenerateMySQL failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(config.OutputFolder, config.OutputFilename)); err != nil {
		t.Fatalf("migration file not created: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.OutputFolder != "migrations" {
		t.Errorf("Expected OutputFolder 'migrations', got '%s'", config.OutputFolder)
	}
	if !strings.HasSuffix(config.OutputFilename, "_init_leaf_store.sql") {
		t.Errorf("Unexpected OutputFilename: %s", config.OutputFilename)
	}
	if config.TracksTable != "leaf_tracks" {
		t.Errorf("Expected TracksTable 'leaf_tracks', got '%s'", config.TracksTable)
	}
	if config.LeavesTable != "leaf_records" {
		t.Errorf("Expected LeavesTable 'leaf_records', got '%s'", config.LeavesTable)
	}
	if config.PayloadsTable != "leaf_payloads" {
		t.Errorf("Expected PayloadsTable 'leaf_payloads', got '%s'", config.PayloadsTable)
	}
}

func TestDownPath(t *testing.T) {
	tests := map[string]string{
		"init.sql":           "init.down.sql",
		"dir/001_schema.sql": "dir/001_schema.down.sql",
		"no_extension":       "no_extension.down",
	}
	for in, want := range tests {
		if got := DownPath(in); got != want {
			t.Errorf("DownPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{"valid simple", "leaf_tracks", false},
		{"valid with digits", "leaves2", false},
		{"valid uppercase", "LeafRecords", false},
		{"empty", "", true},
		{"starts with digit", "1leaves", true},
		{"starts with underscore", "_leaves", true},
		{"contains dash", "leaf-records", true},
		{"contains space", "leaf records", true},
		{"sql injection", "leaves; DROP TABLE users", true},
		{"contains quote", "leaves'", true},
		{"contains dot", "public.leaves", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateIdentifier(tt.input, "TestField")
			if (err != nil) != tt.wantError {
				t.Errorf("validateIdentifier(%q) error = %v, wantError %v", tt.input, err, tt.wantError)
			}
		})
	}
}

func TestGenerate_RejectsInvalidTableNames(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tracks", func(c *Config) { c.TracksTable = "tracks; DROP TABLE x" }},
		{"leaves", func(c *Config) { c.LeavesTable = "" }},
		{"payloads", func(c *Config) { c.PayloadsTable = "pay-loads" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(t)
			tt.mutate(&config)

			err := GeneratePostgres(&config)
			if err == nil {
				t.Fatal("expected an error for an invalid table name")
			}
			if !strings.Contains(err.Error(), "invalid configuration") {
				t.Errorf("unexpected error: %v", err)
			}
			if _, statErr := os.Stat(filepath.Join(config.OutputFolder, config.OutputFilename)); !os.IsNotExist(statErr) {
				t.Error("no file must be written for an invalid configuration")
			}
		})
	}
}
