package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/JQX369/tellyads-rag-sub000/internal/rank"
)

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// dialect isolates what differs between the SQLite and Postgres backends.
// Shared SQL is written with ? placeholders and passed through rebind.
type dialect interface {
	name() string
	rebind(query string) string
	vectorArg(v []float32) any
	newVectorDest() vectorDest
	isUniqueViolation(err error) bool

	// semanticCandidates returns up to n item ids within scope ordered by
	// ascending cosine distance to vector, ties broken by id
	semanticCandidates(ctx context.Context, q querier, scope candidateScope, vector []float32, n int) ([]rank.Candidate, error)

	// lexicalCandidates returns up to n item ids within scope matching text,
	// best match first, ties broken by id. An unparseable text yields nil.
	lexicalCandidates(ctx context.Context, q querier, scope candidateScope, text string, n int) ([]rank.Candidate, error)
}

// vectorDest scans a stored embedding column
type vectorDest interface {
	dest() any
	vector() []float32
}

// candidateScope is the shared predicate over embedding_items (alias ei),
// ads (alias a) and ad_editorial (alias ed, left joined)
type candidateScope struct {
	where string
	args  []any
}

const candidateJoins = `
		FROM embedding_items ei
		INNER JOIN ads a ON a.id = ei.ad_id
		LEFT JOIN ad_editorial ed ON ed.ad_id = ei.ad_id
`

// publishGateSQL admits uncurated ads and curated ads that pass the gate
const publishGateSQL = `(ed.ad_id IS NULL OR (ed.status = 'published' AND ed.is_hidden = FALSE AND (ed.publish_date IS NULL OR ed.publish_date <= ?)))`

// buildCandidateScope turns the ranking query into SQL predicates applied
// before any limit
func buildCandidateScope(q HybridQuery) candidateScope {
	var clauses []string
	var args []any

	if len(q.ItemTypes) > 0 {
		placeholders := make([]string, len(q.ItemTypes))
		for i, t := range q.ItemTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "ei.item_type IN ("+strings.Join(placeholders, ",")+")")
	}

	if f := q.Filters; f != nil {
		if f.Brand != "" {
			clauses = append(clauses, "LOWER(a.brand_name) = LOWER(?)")
			args = append(args, f.Brand)
		}
		if f.Year != 0 {
			clauses = append(clauses, "a.year = ?")
			args = append(args, f.Year)
		}
		if f.Category != "" {
			clauses = append(clauses, "LOWER(a.category) = LOWER(?)")
			args = append(args, f.Category)
		}
		flags := []struct {
			column string
			value  *bool
		}{
			{"a.has_supers", f.HasSupers},
			{"a.has_price_claims", f.HasPriceClaims},
			{"a.has_comparisons", f.HasComparisons},
			{"a.has_celebrity", f.HasCelebrity},
		}
		for _, flag := range flags {
			if flag.value != nil {
				clauses = append(clauses, flag.column+" = ?")
				args = append(args, *flag.value)
			}
		}
	}

	if q.PublicOnly {
		now := q.Now
		if now.IsZero() {
			now = time.Now()
		}
		clauses = append(clauses, publishGateSQL)
		args = append(args, now.Unix())
	}

	if len(clauses) == 0 {
		return candidateScope{where: "1 = 1"}
	}
	return candidateScope{where: strings.Join(clauses, " AND "), args: args}
}

// rebindDollar rewrites ? placeholders to $1..$n, skipping quoted literals
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
