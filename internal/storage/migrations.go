package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all SQLite migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

const migrationV1Up = `
-- Ads (owned by ingestion, read-only to retrieval)
CREATE TABLE IF NOT EXISTS ads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id TEXT NOT NULL UNIQUE,
    brand_name TEXT NOT NULL DEFAULT '',
    product_name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    year INTEGER NOT NULL DEFAULT 0,
    duration_seconds REAL NOT NULL DEFAULT 0,
    one_line_summary TEXT NOT NULL DEFAULT '',
    format TEXT NOT NULL DEFAULT '',
    has_supers BOOLEAN NOT NULL DEFAULT 0,
    has_price_claims BOOLEAN NOT NULL DEFAULT 0,
    has_comparisons BOOLEAN NOT NULL DEFAULT 0,
    has_celebrity BOOLEAN NOT NULL DEFAULT 0,
    impact_scores TEXT,
    emotional_metrics TEXT,
    hero_analysis TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Editorial records (owned by the editorial subsystem)
CREATE TABLE IF NOT EXISTS ad_editorial (
    ad_id INTEGER PRIMARY KEY,
    brand_slug TEXT NOT NULL DEFAULT '',
    slug TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'review', 'published', 'archived')),
    is_hidden BOOLEAN NOT NULL DEFAULT 0,
    publish_date INTEGER,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (ad_id) REFERENCES ads(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_editorial_slug ON ad_editorial(brand_slug, slug) WHERE slug <> '';

-- Satellite entities
CREATE TABLE IF NOT EXISTS ad_segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ad_id INTEGER NOT NULL,
    start_seconds REAL NOT NULL DEFAULT 0,
    end_seconds REAL NOT NULL DEFAULT 0,
    text TEXT NOT NULL,
    FOREIGN KEY (ad_id) REFERENCES ads(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS ad_chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ad_id INTEGER NOT NULL,
    chunk_index INTEGER NOT NULL,
    start_seconds REAL NOT NULL DEFAULT 0,
    end_seconds REAL NOT NULL DEFAULT 0,
    text TEXT NOT NULL,
    FOREIGN KEY (ad_id) REFERENCES ads(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS ad_claims (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ad_id INTEGER NOT NULL,
    text TEXT NOT NULL,
    claim_type TEXT NOT NULL DEFAULT '',
    is_comparative BOOLEAN NOT NULL DEFAULT 0,
    FOREIGN KEY (ad_id) REFERENCES ads(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS ad_supers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ad_id INTEGER NOT NULL,
    text TEXT NOT NULL,
    start_seconds REAL NOT NULL DEFAULT 0,
    end_seconds REAL NOT NULL DEFAULT 0,
    FOREIGN KEY (ad_id) REFERENCES ads(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS ad_storyboards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ad_id INTEGER NOT NULL,
    shot_index INTEGER NOT NULL,
    description TEXT NOT NULL,
    FOREIGN KEY (ad_id) REFERENCES ads(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_segments_ad ON ad_segments(ad_id);
CREATE INDEX IF NOT EXISTS idx_chunks_ad ON ad_chunks(ad_id);
CREATE INDEX IF NOT EXISTS idx_claims_ad ON ad_claims(ad_id);
CREATE INDEX IF NOT EXISTS idx_supers_ad ON ad_supers(ad_id);
CREATE INDEX IF NOT EXISTS idx_storyboards_ad ON ad_storyboards(ad_id);

-- Embedding items: the retrieval unit
CREATE TABLE IF NOT EXISTS embedding_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ad_id INTEGER NOT NULL,
    item_type TEXT NOT NULL CHECK (item_type IN (
        'transcript_chunk', 'segment_summary', 'claim', 'super', 'storyboard_shot',
        'ad_summary', 'implied_claim', 'cta_offer', 'creative_dna', 'impact_summary',
        'memorable_elements', 'emotional_peaks', 'distinctive_assets', 'effectiveness_insight'
    )),
    parent_kind TEXT NOT NULL DEFAULT '' CHECK (parent_kind IN ('', 'chunk', 'segment', 'claim', 'super', 'storyboard_shot')),
    parent_id INTEGER,
    text TEXT NOT NULL,
    embedding BLOB NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    CHECK ((parent_kind = '' AND parent_id IS NULL) OR (parent_kind <> '' AND parent_id IS NOT NULL)),
    FOREIGN KEY (ad_id) REFERENCES ads(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_items_type ON embedding_items(item_type);
CREATE INDEX IF NOT EXISTS idx_items_ad ON embedding_items(ad_id);
CREATE INDEX IF NOT EXISTS idx_items_parent ON embedding_items(parent_kind, parent_id);
CREATE INDEX IF NOT EXISTS idx_items_metadata_source ON embedding_items(json_extract(metadata, '$.source'));
CREATE UNIQUE INDEX IF NOT EXISTS idx_items_ad_summary ON embedding_items(ad_id) WHERE item_type = 'ad_summary';

-- Derived lexical representation: English stemming, lowercased
CREATE VIRTUAL TABLE IF NOT EXISTS embedding_items_fts USING fts5(
    text,
    content='embedding_items',
    content_rowid='id',
    tokenize='porter unicode61'
);

-- Triggers keep the lexical index in the same transaction as the write
CREATE TRIGGER IF NOT EXISTS embedding_items_ai AFTER INSERT ON embedding_items BEGIN
    INSERT INTO embedding_items_fts(rowid, text) VALUES (new.id, new.text);
END;

CREATE TRIGGER IF NOT EXISTS embedding_items_ad AFTER DELETE ON embedding_items BEGIN
    INSERT INTO embedding_items_fts(embedding_items_fts, rowid, text) VALUES ('delete', old.id, old.text);
END;

CREATE TRIGGER IF NOT EXISTS embedding_items_au AFTER UPDATE OF text ON embedding_items BEGIN
    INSERT INTO embedding_items_fts(embedding_items_fts, rowid, text) VALUES ('delete', old.id, old.text);
    INSERT INTO embedding_items_fts(rowid, text) VALUES (new.id, new.text);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS embedding_items_au;
DROP TRIGGER IF EXISTS embedding_items_ad;
DROP TRIGGER IF EXISTS embedding_items_ai;
DROP TABLE IF EXISTS embedding_items_fts;
DROP TABLE IF EXISTS embedding_items;
DROP TABLE IF EXISTS ad_storyboards;
DROP TABLE IF EXISTS ad_supers;
DROP TABLE IF EXISTS ad_claims;
DROP TABLE IF EXISTS ad_chunks;
DROP TABLE IF EXISTS ad_segments;
DROP TABLE IF EXISTS ad_editorial;
DROP TABLE IF EXISTS ads;
`

// Filter columns used by the ranking predicates
const migrationV11Up = `
CREATE INDEX IF NOT EXISTS idx_ads_brand ON ads(lower(brand_name));
CREATE INDEX IF NOT EXISTS idx_ads_category ON ads(lower(category));
CREATE INDEX IF NOT EXISTS idx_ads_year ON ads(year);
CREATE INDEX IF NOT EXISTS idx_editorial_gate ON ad_editorial(status, is_hidden, publish_date);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_editorial_gate;
DROP INDEX IF EXISTS idx_ads_year;
DROP INDEX IF EXISTS idx_ads_category;
DROP INDEX IF EXISTS idx_ads_brand;
`

// ApplyMigrations runs all pending SQLite migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	return applyMigrations(ctx, db, sqliteDialect{}, AllMigrations)
}

// RollbackMigration rolls back the most recent SQLite migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	return rollbackMigration(ctx, db, sqliteDialect{}, AllMigrations)
}

// currentVersion returns the highest applied version, or 0.0.0
func currentVersion(ctx context.Context, q querier) (*semver.Version, error) {
	rows, err := q.QueryContext(ctx, "SELECT version FROM schema_version")
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
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

func applyMigrations(ctx context.Context, db *sql.DB, d dialect, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	// Run migrations in order
	for _, migration := range migrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		if err := runMigrationStep(ctx, db, migration.Up,
			d.rebind("INSERT INTO schema_version (version) VALUES (?)"), migration.Version); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

func rollbackMigration(ctx context.Context, db *sql.DB, d dialect, migrations []Migration) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
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

	if err := runMigrationStep(ctx, db, migration.Down,
		d.rebind("DELETE FROM schema_version WHERE version = ?"), migration.Version); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}
	return nil
}

// runMigrationStep executes a schema script and its version bookkeeping atomically
func runMigrationStep(ctx context.Context, db *sql.DB, script, bookkeeping, version string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion reports the highest applied migration
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	v, err := currentVersion(ctx, db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}
