package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JQX369/tellyads-rag-sub000/internal/rank"
	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

const (
	// DefaultLimit is used when a query does not set one
	DefaultLimit = 10
	// MaxLimit caps the number of fused rows returned
	MaxLimit = 100
)

// HybridSearch ranks embedding items against both the query vector and the
// query text and fuses the two lists with reciprocal rank fusion
func (s *sqlStore) HybridSearch(ctx context.Context, q HybridQuery) ([]HybridRow, error) {
	return s.hybridSearchWithQuerier(ctx, s.querier(), q, true)
}

// normalizeLimit clamps a requested limit into [1, MaxLimit]
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func (s *sqlStore) hybridSearchWithQuerier(ctx context.Context, q querier, query HybridQuery, concurrent bool) ([]HybridRow, error) {
	if len(query.Embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query vector has %d values, index uses %d",
			ErrDimensionMismatch, len(query.Embedding), s.dimension)
	}

	limit := normalizeLimit(query.Limit)
	query.ItemTypes = types.ResolveItemTypes(types.ItemTypeStrings(query.ItemTypes))
	if query.PublicOnly && query.Now.IsZero() {
		query.Now = time.Now()
	}

	scope := buildCandidateScope(query)
	n := rank.CandidateLimit(limit)
	text := strings.TrimSpace(query.Text)

	var semantic, lexical []rank.Candidate
	semanticFn := func(ctx context.Context) error {
		var err error
		semantic, err = s.dialect.semanticCandidates(ctx, q, scope, query.Embedding, n)
		if err != nil {
			return fmt.Errorf("semantic candidates: %w", err)
		}
		return nil
	}
	lexicalFn := func(ctx context.Context) error {
		if text == "" {
			return nil
		}
		var err error
		lexical, err = s.dialect.lexicalCandidates(ctx, q, scope, text, n)
		if err != nil {
			return fmt.Errorf("lexical candidates: %w", err)
		}
		return nil
	}

	if concurrent {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return semanticFn(gctx) })
		g.Go(func() error { return lexicalFn(gctx) })
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		if err := semanticFn(ctx); err != nil {
			return nil, err
		}
		if err := lexicalFn(ctx); err != nil {
			return nil, err
		}
	}

	fused := rank.Fuse(semantic, lexical, query.RRFK, limit)
	if len(fused) == 0 {
		return []HybridRow{}, nil
	}
	return s.enrich(ctx, q, fused)
}

// enrich loads item text, ad display fields and the editorial record for
// the fused ids and returns rows in fused order
func (s *sqlStore) enrich(ctx context.Context, q querier, fused []rank.Fused) ([]HybridRow, error) {
	placeholders := make([]string, len(fused))
	args := make([]any, len(fused))
	for i, f := range fused {
		placeholders[i] = "?"
		args[i] = f.ID
	}

	query := s.dialect.rebind(`
		SELECT ei.id, ei.ad_id, ei.item_type, ei.text, ei.metadata,
		       a.brand_name, a.product_name, a.one_line_summary, a.format, a.category, a.year,
		       a.hero_analysis, a.impact_scores,
		       ed.ad_id, ed.brand_slug, ed.slug, ed.status, ed.is_hidden, ed.publish_date
		FROM embedding_items ei
		INNER JOIN ads a ON a.id = ei.ad_id
		LEFT JOIN ad_editorial ed ON ed.ad_id = ei.ad_id
		WHERE ei.id IN (` + strings.Join(placeholders, ",") + `)
	`)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranked items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]*HybridRow, len(fused))
	for rows.Next() {
		var row HybridRow
		var itemType string
		var metadata []byte
		var hero, impact sql.NullString
		var edAdID, edPublish sql.NullInt64
		var edBrandSlug, edSlug, edStatus sql.NullString
		var edHidden sql.NullBool

		if err := rows.Scan(
			&row.ItemID, &row.AdID, &itemType, &row.Text, &metadata,
			&row.Ad.BrandName, &row.Ad.ProductName, &row.Ad.OneLineSummary, &row.Ad.Format,
			&row.Ad.Category, &row.Ad.Year, &hero, &impact,
			&edAdID, &edBrandSlug, &edSlug, &edStatus, &edHidden, &edPublish,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ranked item: %w", err)
		}

		row.ItemType = types.ItemType(itemType)
		row.Ad.HeroAnalysis = rawJSON(hero)
		row.Ad.ImpactScores = rawJSON(impact)
		if row.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		if edAdID.Valid {
			ed := &Editorial{
				AdID:      edAdID.Int64,
				BrandSlug: edBrandSlug.String,
				Slug:      edSlug.String,
				Status:    EditorialStatus(edStatus.String),
				IsHidden:  edHidden.Bool,
			}
			if edPublish.Valid {
				t := time.Unix(edPublish.Int64, 0).UTC()
				ed.PublishDate = &t
			}
			row.Editorial = ed
		}
		byID[row.ItemID] = &row
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]HybridRow, 0, len(fused))
	for _, f := range fused {
		row, ok := byID[f.ID]
		if !ok {
			// Deleted between ranking and enrichment
			continue
		}
		row.Score = f.Score
		row.SemanticRank = rankPtr(f.SemanticRank)
		row.LexicalRank = rankPtr(f.LexicalRank)
		row.Rank = f.Rank
		results = append(results, *row)
	}
	return results, nil
}

// rankPtr maps the 0-means-absent convention onto a nil pointer
func rankPtr(r int) *int {
	if r <= 0 {
		return nil
	}
	return &r
}
