package sqlstore

import "fmt"

// TableConfig configures the table names used by the store.
type TableConfig struct {
	// TracksTable stores track metadata.
	TracksTable string

	// LeavesTable stores one record per leaf and track.
	LeavesTable string

	// PayloadsTable stores tabular payloads keyed by leaf hash.
	PayloadsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		TracksTable:   "leaf_tracks",
		LeavesTable:   "leaf_records",
		PayloadsTable: "leaf_payloads",
	}
}

// MigrationUp returns the SQL to create the store tables for the dialect.
func MigrationUp(config TableConfig, dialect Dialect) string {
	switch dialect {
	case MySQL:
		return mysqlUp(config)
	case SQLite:
		return sqliteUp(config)
	default:
		return postgresUp(config)
	}
}

// MigrationDown returns the SQL to drop the store tables.
// Leaves are dropped first because they reference tracks.
func MigrationDown(config TableConfig, dialect Dialect) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;
DROP TABLE IF EXISTS %s;
DROP TABLE IF EXISTS %s;
`, config.PayloadsTable, config.LeavesTable, config.TracksTable)
}

func postgresUp(c TableConfig) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    track_hash TEXT PRIMARY KEY,
    owner TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_owner ON %[1]s(owner);

CREATE TABLE IF NOT EXISTS %[2]s (
    track_hash TEXT NOT NULL REFERENCES %[1]s(track_hash),
    leaf_name TEXT NOT NULL,
    leaf_hash TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'processed', 'retry')),
    columns_json TEXT NOT NULL DEFAULT '[]',
    kind TEXT NOT NULL DEFAULT 'none',
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (track_hash, leaf_name)
);

-- Stale claim scans
CREATE INDEX IF NOT EXISTS idx_%[2]s_status ON %[2]s(status, updated_at);

CREATE TABLE IF NOT EXISTS %[3]s (
    leaf_hash TEXT PRIMARY KEY,
    leaf_name TEXT NOT NULL,
    body JSONB NOT NULL
);
`, c.TracksTable, c.LeavesTable, c.PayloadsTable)
}

func mysqlUp(c TableConfig) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    track_hash VARCHAR(191) PRIMARY KEY,
    owner VARCHAR(191) NOT NULL DEFAULT '',
    name VARCHAR(255) NOT NULL DEFAULT '',
    start_time DATETIME(6) NOT NULL,
    end_time DATETIME(6) NOT NULL,
    INDEX idx_%[1]s_owner (owner)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS %[2]s (
    track_hash VARCHAR(191) NOT NULL,
    leaf_name VARCHAR(191) NOT NULL,
    leaf_hash CHAR(36) NOT NULL,
    status ENUM('pending', 'processing', 'processed', 'retry') NOT NULL,
    columns_json TEXT NOT NULL,
    kind VARCHAR(16) NOT NULL DEFAULT 'none',
    updated_at DATETIME(6) NOT NULL,
    PRIMARY KEY (track_hash, leaf_name),
    INDEX idx_%[2]s_status (status, updated_at),
    FOREIGN KEY (track_hash) REFERENCES %[1]s(track_hash)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS %[3]s (
    leaf_hash CHAR(36) PRIMARY KEY,
    leaf_name VARCHAR(191) NOT NULL,
    body JSON NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`, c.TracksTable, c.LeavesTable, c.PayloadsTable)
}

func sqliteUp(c TableConfig) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    track_hash TEXT PRIMARY KEY,
    owner TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_owner ON %[1]s(owner);

CREATE TABLE IF NOT EXISTS %[2]s (
    track_hash TEXT NOT NULL REFERENCES %[1]s(track_hash),
    leaf_name TEXT NOT NULL,
    leaf_hash TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'processed', 'retry')),
    columns_json TEXT NOT NULL DEFAULT '[]',
    kind TEXT NOT NULL DEFAULT 'none',
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (track_hash, leaf_name)
);

CREATE INDEX IF NOT EXISTS idx_%[2]s_status ON %[2]s(status, updated_at);

CREATE TABLE IF NOT EXISTS %[3]s (
    leaf_hash TEXT PRIMARY KEY,
    leaf_name TEXT NOT NULL,
    body TEXT NOT NULL
);
`, c.TracksTable, c.LeavesTable, c.PayloadsTable)
}
