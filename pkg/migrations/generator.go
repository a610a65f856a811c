package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/getpup/leaf-orchestrator/store/sqlstore"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := validateIdentifier(config.TracksTable, "TracksTable"); err != nil {
		return err
	}
	if err := validateIdentifier(config.LeavesTable, "LeavesTable"); err != nil {
		return err
	}
	if err := validateIdentifier(config.PayloadsTable, "PayloadsTable"); err != nil {
		return err
	}
	return nil
}

// Config configures migration generation for the leaf store tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// TracksTable stores track metadata
	TracksTable string

	// LeavesTable stores one record per leaf and track
	LeavesTable string

	// PayloadsTable stores tabular payloads keyed by leaf hash
	PayloadsTable string

	// Down also writes a <name>.down.sql file dropping the tables
	Down bool
}

// DefaultConfig returns the default configuration for leaf store migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	tables := sqlstore.DefaultTableConfig()
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_leaf_store.sql", timestamp),
		TracksTable:    tables.TracksTable,
		LeavesTable:    tables.LeavesTable,
		PayloadsTable:  tables.PayloadsTable,
	}
}

// TableConfig returns the store table configuration matching the generated schema.
func (c Config) TableConfig() sqlstore.TableConfig {
	return sqlstore.TableConfig{
		TracksTable:   c.TracksTable,
		LeavesTable:   c.LeavesTable,
		PayloadsTable: c.PayloadsTable,
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return Generate(config, sqlstore.Postgres)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return Generate(config, sqlstore.MySQL)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return Generate(config, sqlstore.SQLite)
}

// Generate writes the migration file for the given dialect.
func Generate(config *Config, dialect sqlstore.Dialect) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	up := header(dialect) + sqlstore.MigrationUp(config.TableConfig(), dialect)
	if err := os.WriteFile(outputPath, []byte(up), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	if config.Down {
		down := header(dialect) + sqlstore.MigrationDown(config.TableConfig(), dialect)
		if err := os.WriteFile(DownPath(outputPath), []byte(down), 0o600); err != nil {
			return fmt.Errorf("failed to write down migration file: %w", err)
		}
	}

	return nil
}

// DownPath returns the path of the down migration written next to path,
// e.g. "init.sql" becomes "init.down.sql".
func DownPath(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + ".down" + ext
}

func header(dialect sqlstore.Dialect) string {
	names := map[sqlstore.Dialect]string{
		sqlstore.Postgres: "PostgreSQL",
		sqlstore.MySQL:    "MySQL/MariaDB",
		sqlstore.SQLite:   "SQLite",
	}
	return fmt.Sprintf(`-- Leaf Store Migration
-- Generated: %s
-- Database: %s

`, time.Now().Format(time.RFC3339), names[dialect])
}
