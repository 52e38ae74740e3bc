package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/JQX369/tellyads-rag-sub000/internal/rank"
)

// PostgresStorage implements the Storage interface on PostgreSQL with the
// pgvector extension
type PostgresStorage struct {
	*sqlStore
}

// postgresDialect uses pgvector for distances and tsvector for lexical match
type postgresDialect struct {
	iterativeScan bool // pgvector >= 0.8
}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) rebind(query string) string { return rebindDollar(query) }

func (postgresDialect) vectorArg(v []float32) any { return pgvector.NewVector(v) }

func (postgresDialect) newVectorDest() vectorDest { return &pgVector{} }

func (postgresDialect) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// pgVector scans a vector column
type pgVector struct {
	v pgvector.Vector
}

func (p *pgVector) dest() any         { return &p.v }
func (p *pgVector) vector() []float32 { return p.v.Slice() }

// pgvector's HNSW scan returns at most hnsw.ef_search rows (default 40),
// fewer once filters discard some, so it is raised to the candidate count
const (
	defaultEfSearch = 40
	maxEfSearch     = 1000
)

func efSearch(n int) int {
	switch {
	case n < defaultEfSearch:
		return defaultEfSearch
	case n > maxEfSearch:
		return maxEfSearch
	default:
		return n
	}
}

// txBeginner is satisfied by *sql.DB but not *sql.Tx
type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// semanticCandidates orders by cosine distance using the HNSW index. Scan
// settings are SET LOCAL, so outside a caller's transaction the query gets
// a short read-only one of its own.
func (d postgresDialect) semanticCandidates(ctx context.Context, q querier, scope candidateScope, vector []float32, n int) ([]rank.Candidate, error) {
	if n <= 0 {
		return []rank.Candidate{}, nil
	}

	db, ok := q.(txBeginner)
	if !ok {
		return d.nearest(ctx, q, scope, vector, n)
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin vector search: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	results, err := d.nearest(ctx, tx, scope, vector, n)
	if err != nil {
		return nil, err
	}
	return results, tx.Commit()
}

// tuneScan widens the HNSW candidate list for the current transaction
func (d postgresDialect) tuneScan(ctx context.Context, q querier, n int) error {
	if _, err := q.ExecContext(ctx, "SET LOCAL hnsw.ef_search = "+strconv.Itoa(efSearch(n))); err != nil {
		return fmt.Errorf("failed to set hnsw.ef_search: %w", err)
	}
	if d.iterativeScan {
		if _, err := q.ExecContext(ctx, "SET LOCAL hnsw.iterative_scan = relaxed_order"); err != nil {
			return fmt.Errorf("failed to set hnsw.iterative_scan: %w", err)
		}
	}
	return nil
}

// nearest runs the distance query. relaxed_order may return the index scan
// slightly out of order, so the materialized set is sorted again.
func (d postgresDialect) nearest(ctx context.Context, q querier, scope candidateScope, vector []float32, n int) ([]rank.Candidate, error) {
	if err := d.tuneScan(ctx, q, n); err != nil {
		return nil, err
	}

	query := d.rebind(`
		WITH nearest AS MATERIALIZED (
			SELECT ei.id, ei.embedding <=> ? AS distance` + candidateJoins + `
			WHERE ` + scope.where + `
			ORDER BY distance ASC
			LIMIT ?
		)
		SELECT id, distance FROM nearest
		ORDER BY distance ASC, id ASC
	`)
	args := make([]any, 0, len(scope.args)+2)
	args = append(args, pgvector.NewVector(vector))
	args = append(args, scope.args...)
	args = append(args, n)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]rank.Candidate, 0, n)
	for rows.Next() {
		var c rank.Candidate
		var distance float64
		if err := rows.Scan(&c.ID, &distance); err != nil {
			return nil, err
		}
		c.Score = 1.0 - distance
		results = append(results, c)
	}
	return results, rows.Err()
}

// lexicalCandidates matches any stemmed term of the query. The terms are
// reduced to plain words first so tsquery syntax can't be injected.
func (d postgresDialect) lexicalCandidates(ctx context.Context, q querier, scope candidateScope, text string, n int) ([]rank.Candidate, error) {
	terms := lexicalTerms(text)
	if len(terms) == 0 || n <= 0 {
		return nil, nil
	}
	plain := strings.Join(terms, " ")

	query := d.rebind(`
		WITH tq AS (
			SELECT NULLIF(replace(plainto_tsquery('english', ?)::text, '&', '|'), '')::tsquery AS query
		)
		SELECT ei.id, ts_rank_cd(ei.text_tsv, tq.query) AS score` + candidateJoins + `
		CROSS JOIN tq
		WHERE tq.query IS NOT NULL
		AND ei.text_tsv @@ tq.query
		AND ` + scope.where + `
		ORDER BY score DESC, ei.id ASC
		LIMIT ?
	`)
	args := make([]any, 0, len(scope.args)+2)
	args = append(args, plain)
	args = append(args, scope.args...)
	args = append(args, n)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute text search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]rank.Candidate, 0, n)
	for rows.Next() {
		var c rank.Candidate
		if err := rows.Scan(&c.ID, &c.Score); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// openPostgres opens a pool and checks connectivity
func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStorage connects to PostgreSQL and applies migrations
func NewPostgresStorage(ctx context.Context, dsn string, opts ...Option) (*PostgresStorage, error) {
	db, err := openPostgres(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyPostgresMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	d := postgresDialect{}
	d.iterativeScan, err = supportsIterativeScan(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return newPostgresStorage(db, d, opts...), nil
}

// newPostgresStorage wraps an open pool without migrating it
func newPostgresStorage(db *sql.DB, d postgresDialect, opts ...Option) *PostgresStorage {
	return &PostgresStorage{sqlStore: newSQLStore(db, d, opts...)}
}

var iterativeScanSince = semver.MustParse("0.8.0")

// supportsIterativeScan reports whether the installed pgvector has
// hnsw.iterative_scan
func supportsIterativeScan(ctx context.Context, q querier) (bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&raw)
	if err != nil {
		return false, fmt.Errorf("failed to read pgvector version: %w", err)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return false, fmt.Errorf("invalid pgvector version %q: %w", raw, err)
	}
	return !v.LessThan(iterativeScanSince), nil
}

// OpenPostgres opens a pool without migrating it, for the migrate command
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	return openPostgres(ctx, dsn)
}
