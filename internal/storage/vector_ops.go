package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/JQX369/tellyads-rag-sub000/internal/rank"
)

// semanticCandidates ranks items by cosine distance, in SQL when the
// sqlite-vec extension is compiled in and in Go otherwise
func (sqliteDialect) semanticCandidates(ctx context.Context, q querier, scope candidateScope, vector []float32, n int) ([]rank.Candidate, error) {
	if n <= 0 {
		return []rank.Candidate{}, nil
	}
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, scope, vector, n)
	}
	return searchVectorFallback(ctx, q, scope, vector, n)
}

// searchVectorOptimized uses sqlite-vec for SQL-side distance computation
func searchVectorOptimized(ctx context.Context, q querier, scope candidateScope, vector []float32, n int) ([]rank.Candidate, error) {
	query := `
		SELECT ei.id, vec_distance_cosine(ei.embedding, ?) AS distance` + candidateJoins + `
		WHERE ` + scope.where + `
		ORDER BY distance ASC, ei.id ASC
		LIMIT ?
	`
	args := make([]any, 0, len(scope.args)+2)
	args = append(args, serializeVector(vector))
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
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		c.Score = 1.0 - distance
		results = append(results, c)
	}
	return results, rows.Err()
}

// searchVectorFallback scans candidate vectors and ranks them in Go
func searchVectorFallback(ctx context.Context, q querier, scope candidateScope, vector []float32, n int) ([]rank.Candidate, error) {
	query := `
		SELECT ei.id, ei.embedding` + candidateJoins + `
		WHERE ` + scope.where

	rows, err := q.QueryContext(ctx, query, scope.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, vector)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32) ([]rank.Candidate, error) {
	candidates := make([]rank.Candidate, 0, 256)

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		candidates = append(candidates, rank.Candidate{ID: id, Score: cosineSimilarity(queryVector, vector)})
	}

	return candidates, rows.Err()
}

// sortCandidates orders by similarity descending, then id ascending
func sortCandidates(candidates []rank.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
}

// lexicalCandidates runs a BM25-ranked FTS5 match
func (sqliteDialect) lexicalCandidates(ctx context.Context, q querier, scope candidateScope, text string, n int) ([]rank.Candidate, error) {
	match := buildFTSQuery(text)
	if match == "" || n <= 0 {
		return nil, nil
	}

	query := `
		SELECT ei.id, bm25(embedding_items_fts) AS score
		FROM embedding_items_fts
		INNER JOIN embedding_items ei ON ei.id = embedding_items_fts.rowid
		INNER JOIN ads a ON a.id = ei.ad_id
		LEFT JOIN ad_editorial ed ON ed.ad_id = ei.ad_id
		WHERE embedding_items_fts MATCH ?
		AND ` + scope.where + `
		ORDER BY score ASC, ei.id ASC
		LIMIT ?
	`
	args := make([]any, 0, len(scope.args)+2)
	args = append(args, match)
	args = append(args, scope.args...)
	args = append(args, n)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]rank.Candidate, 0, n)
	for rows.Next() {
		var c rank.Candidate
		var bm25 float64
		if err := rows.Scan(&c.ID, &bm25); err != nil {
			return nil, err
		}
		// bm25() is negative with lower being better
		c.Score = -bm25
		results = append(results, c)
	}
	return results, rows.Err()
}

var lexicalTermPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// lexicalTerms extracts lowercased word tokens; operators and punctuation
// never reach the query engine
func lexicalTerms(text string) []string {
	raw := lexicalTermPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(raw))
	terms := make([]string, 0, len(raw))
	for _, t := range raw {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// buildFTSQuery quotes every term and ORs them so bm25 rewards coverage
func buildFTSQuery(text string) string {
	terms := lexicalTerms(text)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
