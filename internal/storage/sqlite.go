package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	*sqlStore
}

// sqliteDialect covers both the cgo and pure Go drivers
type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite-" + BuildMode }

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) vectorArg(v []float32) any { return serializeVector(v) }

func (sqliteDialect) newVectorDest() vectorDest { return &blobVector{} }

func (sqliteDialect) isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// blobVector scans the little-endian float32 BLOB encoding
type blobVector struct {
	raw []byte
}

func (b *blobVector) dest() any         { return &b.raw }
func (b *blobVector) vector() []float32 { return deserializeVector(b.raw) }

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys so satellite and item rows cascade with their ad
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance and applies migrations
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{sqlStore: newSQLStore(db, sqliteDialect{}, opts...)}, nil
}

// OpenSQLite opens a database without migrating it, for the migrate command
func OpenSQLite(dbPath string) (*sql.DB, error) {
	return openDatabase(dbPath)
}
