// Package storage persists ads, their extracted satellite rows and the
// embedding items the ranking engine searches over.
//
// # Schema
//
// Tables:
//   - ads: canonical commercial records written by ingestion
//   - ad_editorial: curation state read by the publish gate
//   - ad_segments, ad_chunks, ad_claims, ad_supers, ad_storyboards: satellites
//   - embedding_items: the retrieval unit (text, vector, metadata, parent)
//   - embedding_items_fts: FTS5 index kept in sync by triggers (SQLite)
//
// The lexical representation of an item is always derived from its text by
// the database. Callers cannot write it.
//
// # Hybrid Search
//
// HybridSearch runs two candidate queries under the same filter scope, each
// over-fetching 4x the requested limit:
//
//	rows, err := store.HybridSearch(ctx, storage.HybridQuery{
//	    Embedding:  vec,
//	    Text:       "price comparison",
//	    Limit:      10,
//	    ItemTypes:  []types.ItemType{types.ItemClaim},
//	    PublicOnly: true,
//	})
//
// The semantic side orders by cosine distance, the lexical side by BM25
// (SQLite) or ts_rank_cd (Postgres). The lists are merged with
// rank.Fuse and the survivors are enriched with ad and editorial fields.
// Filters and the publish gate apply before the per-side limit so a narrow
// filter never starves the result set.
//
// # Backends
//
// SQLite has two build configurations:
//
//   - default / purego: modernc.org/sqlite, cosine computed in Go
//   - sqlite_vec: github.com/mattn/go-sqlite3, cosine computed in SQL
//
// PostgreSQL uses lib/pq with pgvector (HNSW, vector_cosine_ops) and a
// generated tsvector column. Both backends share the SQL in sqlstore.go;
// differences live behind the dialect interface.
//
// # Transactions
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.UpsertAd(ctx, ad); err != nil {
//	    return err
//	}
//	if err := tx.ReplaceSatellites(ctx, ad.ID, sat); err != nil {
//	    return err
//	}
//	return tx.Commit()
package storage
