package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestApplyMigrations(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, db))

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	for _, table := range []string{"ads", "ad_editorial", "ad_chunks", "ad_segments", "ad_claims",
		"ad_supers", "ad_storyboards", "embedding_items", "embedding_items_fts", "idx_ads_brand"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	// Running again is a no-op
	require.NoError(t, ApplyMigrations(ctx, db))
	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&rows))
	assert.Equal(t, len(AllMigrations), rows)
}

func TestRollbackMigration(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	require.NoError(t, ApplyMigrations(ctx, db))

	require.NoError(t, RollbackMigration(ctx, db))
	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)
	assert.False(t, tableExists(t, db, "idx_ads_brand"))
	assert.True(t, tableExists(t, db, "embedding_items"))

	require.NoError(t, RollbackMigration(ctx, db))
	version, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", version)
	assert.False(t, tableExists(t, db, "embedding_items"))

	assert.Error(t, RollbackMigration(ctx, db))

	// And forward again
	require.NoError(t, ApplyMigrations(ctx, db))
	version, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestSchemaRejectsInvalidRows(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	ad := createAd(t, store, "ext-1", "Acme", 2021)
	blob := serializeVector([]float32{1, 0, 0, 0})

	// Writes that bypass the store still hit the table constraints
	_, err := store.db.ExecContext(ctx,
		`INSERT INTO embedding_items (ad_id, item_type, text, embedding) VALUES (?, 'jingle', 'x', ?)`, ad.ID, blob)
	assert.Error(t, err)

	_, err = store.db.ExecContext(ctx,
		`INSERT INTO embedding_items (ad_id, item_type, parent_kind, text, embedding) VALUES (?, 'claim', 'claim', 'x', ?)`, ad.ID, blob)
	assert.Error(t, err)

	_, err = store.db.ExecContext(ctx,
		`INSERT INTO ad_editorial (ad_id, status) VALUES (?, 'live')`, ad.ID)
	assert.Error(t, err)
}

func TestFTSFollowsTextUpdates(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	ad := createAd(t, store, "ext-1", "Acme", 2021)
	item := addItem(t, store, ad.ID, "creative_dna", "sunset beach", []float32{1, 0, 0, 0})

	_, err := store.db.ExecContext(ctx, `UPDATE embedding_items SET text = 'snowy mountain' WHERE id = ?`, item.ID)
	require.NoError(t, err)

	count := func(match string) int {
		var n int
		require.NoError(t, store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM embedding_items_fts WHERE embedding_items_fts MATCH ?`, match).Scan(&n))
		return n
	}
	assert.Equal(t, 0, count("sunset"))
	assert.Equal(t, 1, count("mountain"))

	_, err = store.db.ExecContext(ctx, `DELETE FROM embedding_items WHERE id = ?`, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count("mountain"))
}
