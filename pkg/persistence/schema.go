package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// migrations[i] brings the schema from version i to version i+1. Append only.
//
//nolint:gochecknoglobals // static migration list
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			user_prompt TEXT NOT NULL DEFAULT '',
			response TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id, created_at)`,
	},
	// token counts, for the transcript command
	{
		`ALTER TABLE exchanges ADD COLUMN input_tokens INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE exchanges ADD COLUMN output_tokens INTEGER NOT NULL DEFAULT 0`,
	},
}

// CurrentSchemaVersion is the version a freshly opened database ends up at.
//
//nolint:gochecknoglobals // derived from migrations
var CurrentSchemaVersion = len(migrations)

// migrate applies every migration newer than the recorded version, each in its
// own transaction together with the version bump.
func migrate(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}

	for ; version < CurrentSchemaVersion; version++ {
		if err := applyMigration(db, version+1, migrations[version]); err != nil {
			return err
		}
		dbLogger.Debug("Schema migrated to version %d", version+1)
	}
	return nil
}

func applyMigration(db *sql.DB, target int, statements []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", target, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", target, err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, target); err != nil {
		return fmt.Errorf("failed to record schema version %d: %w", target, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", target, err)
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, 0 for an empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
