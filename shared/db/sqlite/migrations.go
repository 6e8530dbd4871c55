package sqlite

import (
	"database/sql"
	"fmt"
)

// migration represents a single database migration
type migration struct {
	version int
	name    string
	up      string
}

// migrations is the ordered list of all database migrations
// Each migration should be idempotent and safe to run multiple times
var migrations = []migration{
	{
		version: 1,
		name:    "create_images_table",
		up: `
			CREATE TABLE IF NOT EXISTS images (
				id TEXT PRIMARY KEY,
				file_name TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				content BLOB NOT NULL,
				byte_size INTEGER NOT NULL,
				width INTEGER,
				height INTEGER,
				temporary INTEGER NOT NULL DEFAULT 0,
				expires_at INTEGER,
				extra TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_images_temporary_expiry
			ON images(expires_at)
			WHERE temporary = 1;
		`,
	},
	{
		version: 2,
		name:    "create_variants_table",
		up: `
			CREATE TABLE IF NOT EXISTS variants (
				image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
				kind TEXT NOT NULL,
				width INTEGER NOT NULL,
				height INTEGER NOT NULL,
				content BLOB NOT NULL,
				status TEXT NOT NULL DEFAULT 'ready',
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (image_id, kind)
			);
		`,
	},
	{
		version: 3,
		name:    "create_associations_table",
		up: `
			CREATE TABLE IF NOT EXISTS associations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				usage_type TEXT NOT NULL,
				is_primary INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_associations_entity
			ON associations(entity_type, entity_id, usage_type);

			CREATE INDEX IF NOT EXISTS idx_associations_image
			ON associations(image_id);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_associations_single_primary
			ON associations(entity_type, entity_id, usage_type)
			WHERE is_primary = 1;
		`,
	},
}

// RunMigrations executes all pending migrations
func RunMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	currentVersion := 0
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue // Already applied
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		_, err = tx.Exec(m.up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d (%s): %w", m.version, m.name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			m.version,
			m.name,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
