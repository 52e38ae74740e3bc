package storage

import (
	"context"
	"database/sql"
)

// PostgresMigrations mirrors AllMigrations for PostgreSQL. The vector
// column width is fixed by the schema at DefaultDimension.
var PostgresMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      pgMigrationV1Up,
		Down:    pgMigrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const pgMigrationV1Up = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS ads (
    id BIGSERIAL PRIMARY KEY,
    external_id TEXT NOT NULL UNIQUE,
    brand_name TEXT NOT NULL DEFAULT '',
    product_name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    year INTEGER NOT NULL DEFAULT 0,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    one_line_summary TEXT NOT NULL DEFAULT '',
    format TEXT NOT NULL DEFAULT '',
    has_supers BOOLEAN NOT NULL DEFAULT FALSE,
    has_price_claims BOOLEAN NOT NULL DEFAULT FALSE,
    has_comparisons BOOLEAN NOT NULL DEFAULT FALSE,
    has_celebrity BOOLEAN NOT NULL DEFAULT FALSE,
    impact_scores TEXT,
    emotional_metrics TEXT,
    hero_analysis TEXT,
    created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ad_editorial (
    ad_id BIGINT PRIMARY KEY REFERENCES ads(id) ON DELETE CASCADE,
    brand_slug TEXT NOT NULL DEFAULT '',
    slug TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'review', 'published', 'archived')),
    is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
    publish_date BIGINT,
    updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_editorial_slug ON ad_editorial(brand_slug, slug) WHERE slug <> '';

CREATE TABLE IF NOT EXISTS ad_segments (
    id BIGSERIAL PRIMARY KEY,
    ad_id BIGINT NOT NULL REFERENCES ads(id) ON DELETE CASCADE,
    start_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    text TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_segments_ad ON ad_segments(ad_id);

CREATE TABLE IF NOT EXISTS ad_chunks (
    id BIGSERIAL PRIMARY KEY,
    ad_id BIGINT NOT NULL REFERENCES ads(id) ON DELETE CASCADE,
    chunk_index INTEGER NOT NULL DEFAULT 0,
    start_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    text TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_chunks_ad ON ad_chunks(ad_id);

CREATE TABLE IF NOT EXISTS ad_claims (
    id BIGSERIAL PRIMARY KEY,
    ad_id BIGINT NOT NULL REFERENCES ads(id) ON DELETE CASCADE,
    text TEXT NOT NULL DEFAULT '',
    claim_type TEXT NOT NULL DEFAULT '',
    is_comparative BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_claims_ad ON ad_claims(ad_id);

CREATE TABLE IF NOT EXISTS ad_supers (
    id BIGSERIAL PRIMARY KEY,
    ad_id BIGINT NOT NULL REFERENCES ads(id) ON DELETE CASCADE,
    text TEXT NOT NULL DEFAULT '',
    start_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_supers_ad ON ad_supers(ad_id);

CREATE TABLE IF NOT EXISTS ad_storyboards (
    id BIGSERIAL PRIMARY KEY,
    ad_id BIGINT NOT NULL REFERENCES ads(id) ON DELETE CASCADE,
    shot_index INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_storyboards_ad ON ad_storyboards(ad_id);

CREATE TABLE IF NOT EXISTS embedding_items (
    id BIGSERIAL PRIMARY KEY,
    ad_id BIGINT NOT NULL REFERENCES ads(id) ON DELETE CASCADE,
    item_type TEXT NOT NULL CHECK (item_type IN (
        'transcript_chunk', 'segment_summary', 'claim', 'super', 'storyboard_shot',
        'ad_summary', 'implied_claim', 'cta_offer', 'creative_dna', 'impact_summary',
        'memorable_elements', 'emotional_peaks', 'distinctive_assets', 'effectiveness_insight'
    )),
    parent_kind TEXT NOT NULL DEFAULT '' CHECK (parent_kind IN ('', 'chunk', 'segment', 'claim', 'super', 'storyboard_shot')),
    parent_id BIGINT,
    text TEXT NOT NULL,
    text_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', text)) STORED,
    embedding VECTOR(1536) NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
    CHECK ((parent_kind = '' AND parent_id IS NULL) OR (parent_kind <> '' AND parent_id IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_items_type ON embedding_items(item_type);
CREATE INDEX IF NOT EXISTS idx_items_ad ON embedding_items(ad_id);
CREATE INDEX IF NOT EXISTS idx_items_parent ON embedding_items(parent_kind, parent_id);
CREATE INDEX IF NOT EXISTS idx_items_metadata ON embedding_items USING GIN (metadata);
CREATE INDEX IF NOT EXISTS idx_items_tsv ON embedding_items USING GIN (text_tsv);
CREATE INDEX IF NOT EXISTS idx_items_embedding ON embedding_items USING hnsw (embedding vector_cosine_ops);
CREATE UNIQUE INDEX IF NOT EXISTS idx_items_ad_summary ON embedding_items(ad_id) WHERE item_type = 'ad_summary';
`

const pgMigrationV1Down = `
DROP TABLE IF EXISTS embedding_items;
DROP TABLE IF EXISTS ad_storyboards;
DROP TABLE IF EXISTS ad_supers;
DROP TABLE IF EXISTS ad_claims;
DROP TABLE IF EXISTS ad_chunks;
DROP TABLE IF EXISTS ad_segments;
DROP TABLE IF EXISTS ad_editorial;
DROP TABLE IF EXISTS ads;
`

// ApplyPostgresMigrations runs all pending PostgreSQL migrations
func ApplyPostgresMigrations(ctx context.Context, db *sql.DB) error {
	return applyMigrations(ctx, db, postgresDialect{}, PostgresMigrations)
}

// RollbackPostgresMigration rolls back the most recent PostgreSQL migration
func RollbackPostgresMigration(ctx context.Context, db *sql.DB) error {
	return rollbackMigration(ctx, db, postgresDialect{}, PostgresMigrations)
}
