package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the content database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// ContentMigrations builds the units table and its FTS index
var ContentMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      contentV1Up,
		Down:    contentV1Down,
	},
	{
		Version: "1.1.0",
		Up:      contentV11Up,
		Down:    contentV11Down,
	},
}

// MetadataMigrations builds the per-file fingerprint table and the key
// shape vocabulary
var MetadataMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      metadataV1Up,
		Down:    metadataV1Down,
	},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const contentV1Up = `
-- Units table: one row per extracted Unit
CREATE TABLE IF NOT EXISTS units (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL,
    kind TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    col INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL,
    keys TEXT NOT NULL,
    json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_units_path ON units(path);
CREATE INDEX IF NOT EXISTS idx_units_kind ON units(kind);

-- Full-text search on units
CREATE VIRTUAL TABLE IF NOT EXISTS units_fts USING fts5(
    content, keys,
    content='units',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS units_ai AFTER INSERT ON units BEGIN
    INSERT INTO units_fts(rowid, content, keys)
    VALUES (new.id, new.content, new.keys);
END;

CREATE TRIGGER IF NOT EXISTS units_ad AFTER DELETE ON units BEGIN
    INSERT INTO units_fts(units_fts, rowid, content, keys)
    VALUES ('delete', old.id, old.content, old.keys);
END;
`

const contentV1Down = `
DROP TRIGGER IF EXISTS units_ad;
DROP TRIGGER IF EXISTS units_ai;
DROP TABLE IF EXISTS units_fts;
DROP TABLE IF EXISTS units;
`

// contentV11Up rebuilds the FTS index with '_' as a token character, so
// identifiers such as run_all stay one token
const contentV11Up = `
DROP TRIGGER IF EXISTS units_ad;
DROP TRIGGER IF EXISTS units_ai;
DROP TABLE IF EXISTS units_fts;

CREATE VIRTUAL TABLE units_fts USING fts5(
    content, keys,
    content='units',
    content_rowid='id',
    tokenize="unicode61 tokenchars '_'"
);
` + ftsTriggers + `
INSERT INTO units_fts(units_fts) VALUES('rebuild');
`

const contentV11Down = `
DROP TRIGGER IF EXISTS units_ad;
DROP TRIGGER IF EXISTS units_ai;
DROP TABLE IF EXISTS units_fts;

CREATE VIRTUAL TABLE units_fts USING fts5(
    content, keys,
    content='units',
    content_rowid='id'
);
` + ftsTriggers + `
INSERT INTO units_fts(units_fts) VALUES('rebuild');
`

const ftsTriggers = `
CREATE TRIGGER IF NOT EXISTS units_ai AFTER INSERT ON units BEGIN
    INSERT INTO units_fts(rowid, content, keys)
    VALUES (new.id, new.content, new.keys);
END;

CREATE TRIGGER IF NOT EXISTS units_ad AFTER DELETE ON units BEGIN
    INSERT INTO units_fts(units_fts, rowid, content, keys)
    VALUES ('delete', old.id, old.content, old.keys);
END;
`

const metadataV1Up = `
-- Files table: exact path lookup, never tokenized
CREATE TABLE IF NOT EXISTS files (
    path TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    unit_count INTEGER NOT NULL DEFAULT 0,
    parse_error TEXT,
    indexed_at INTEGER NOT NULL DEFAULT 0
);

-- Generalized key shapes seen across all indexed Units
CREATE TABLE IF NOT EXISTS key_shapes (
    shape TEXT PRIMARY KEY
);
`

const metadataV1Down = `
DROP TABLE IF EXISTS key_shapes;
DROP TABLE IF EXISTS files;
`

// ApplyMigrations runs all pending migrations of one database
func ApplyMigrations(ctx context.Context, db *sql.DB, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	// Run migrations in order
	for _, migration := range migrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// currentSchemaVersion returns the highest applied version, or 0.0.0
func currentSchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// RollbackMigration rolls back the most recent migration of one database
func RollbackMigration(ctx context.Context, db *sql.DB, migrations []Migration) error {
	current, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	var migration *Migration
	for i := range migrations {
		v, err := semver.NewVersion(migrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
