package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JQX369/tellyads-rag-sub000/internal/embedder"
	"github.com/JQX369/tellyads-rag-sub000/internal/ratelimit"
	"github.com/JQX369/tellyads-rag-sub000/internal/rerank"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

// Defaults applied by New for zero Config fields
const (
	DefaultMinQueryLength = 2
	DefaultMaxQueryLength = 500
	DefaultLimit          = storage.DefaultLimit
	DefaultMaxLimit       = storage.MaxLimit
	DefaultRerankTopK     = rerank.DefaultTopK
)

// Ranker is the storage capability the gateway needs
type Ranker interface {
	HybridSearch(ctx context.Context, q storage.HybridQuery) ([]storage.HybridRow, error)
}

// RateLimiter charges one request against a key
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

// Config tunes the gateway
type Config struct {
	MinQueryLength int
	MaxQueryLength int
	DefaultLimit   int
	MaxLimit       int
	RRFK           float64

	// Dimension is the index vector width; the embedder must match it
	Dimension int

	RerankEnabled bool
	RerankTopK    int

	// RateLimitSalt is mixed into hashed rate-limit keys
	RateLimitSalt string
}

// Request is one search call
type Request struct {
	Query     string
	Limit     int
	SessionID string
	ClientIP  string
	Filters   *storage.SearchFilters
	ItemTypes []string // Unknown names are ignored; empty means all
	Admin     bool     // Bypasses the publish gate
	Rerank    *bool    // Overrides Config.RerankEnabled when set
	RRFK      float64  // Overrides Config.RRFK when positive
}

// Response is the shaped result of a search
type Response struct {
	Query     string               `json:"query"`
	Total     int                  `json:"total"`
	Results   []types.SearchResult `json:"results"`
	Reranked  bool                 `json:"reranked,omitempty"`
	Duration  time.Duration        `json:"-"`
	RateLimit ratelimit.Result     `json:"-"`
}

// Searcher coordinates validation, rate limiting, embedding, ranking and
// reranking for one query
type Searcher struct {
	ranker   Ranker
	embedder embedder.Embedder
	limiter  RateLimiter
	reranker rerank.Reranker
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Searcher
type Option func(*Searcher)

// WithReranker enables the optional rerank step
func WithReranker(r rerank.Reranker) Option {
	return func(s *Searcher) { s.reranker = r }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// WithClock overrides the clock used for the publish gate
func WithClock(now func() time.Time) Option {
	return func(s *Searcher) { s.now = now }
}

// New creates a Searcher. It fails when the embedder's dimension differs
// from cfg.Dimension.
func New(ranker Ranker, emb embedder.Embedder, limiter RateLimiter, cfg Config, opts ...Option) (*Searcher, error) {
	if ranker == nil || emb == nil || limiter == nil {
		return nil, errors.New("searcher: ranker, embedder and limiter are required")
	}

	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = DefaultMinQueryLength
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = DefaultMaxQueryLength
	}
	if cfg.MinQueryLength > cfg.MaxQueryLength {
		return nil, fmt.Errorf("searcher: min query length %d exceeds max %d", cfg.MinQueryLength, cfg.MaxQueryLength)
	}
	if cfg.MaxLimit <= 0 || cfg.MaxLimit > storage.MaxLimit {
		cfg.MaxLimit = DefaultMaxLimit
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if cfg.RerankTopK <= 0 {
		cfg.RerankTopK = DefaultRerankTopK
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = storage.DefaultDimension
	}
	if emb.Dimension() != cfg.Dimension {
		return nil, fmt.Errorf("searcher: %w: embedder %s/%s produces %d, index expects %d",
			storage.ErrDimensionMismatch, emb.Provider(), emb.Model(), emb.Dimension(), cfg.Dimension)
	}

	s := &Searcher{
		ranker:   ranker,
		embedder: emb,
		limiter:  limiter,
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/JQX369/tellyads-rag-sub000/internal/searcher"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Search runs one query through the gateway
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "searcher.search")
	defer span.End()

	query, err := s.validate(req.Query)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	queryHash := embedder.ComputeHash(query)[:12]
	limit := s.normalizeLimit(req.Limit)
	span.SetAttributes(
		attribute.String("search.query_hash", queryHash),
		attribute.Int("search.limit", limit),
		attribute.Bool("search.admin", req.Admin),
	)

	usage, err := s.charge(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	vector, err := s.embed(ctx, query)
	if err != nil {
		s.logger.Error("query embedding failed",
			"query_hash", queryHash,
			"provider", s.embedder.Provider(),
			"model", s.embedder.Model(),
			"error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, &EmbeddingError{Err: err, RateLimit: usage}
	}

	rows, err := s.rank(ctx, req, query, vector, limit)
	if err != nil {
		s.logger.Error("hybrid search failed", "query_hash", queryHash, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "ranking failed")
		return nil, &RankingError{Err: err, RateLimit: usage}
	}

	results := s.shape(rows, req.Admin)

	reranked := false
	if s.rerankEnabled(req) && len(results) > 1 {
		reranked = s.rerank(ctx, query, results)
	}

	span.SetAttributes(attribute.Int("search.results", len(results)), attribute.Bool("search.reranked", reranked))

	resp := &Response{
		Query:    query,
		Total:    len(results),
		Results:  results,
		Reranked: reranked,
		Duration: time.Since(start),
	}
	if usage != nil {
		resp.RateLimit = *usage
	}
	return resp, nil
}

// validate trims the query and checks its rune length
func (s *Searcher) validate(raw string) (string, error) {
	query := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(query)
	if n < s.cfg.MinQueryLength {
		return "", &ValidationError{
			Field:  "query",
			Reason: fmt.Sprintf("must be at least %d characters", s.cfg.MinQueryLength),
		}
	}
	if n > s.cfg.MaxQueryLength {
		return "", &ValidationError{
			Field:  "query",
			Reason: fmt.Sprintf("must be at most %d characters", s.cfg.MaxQueryLength),
		}
	}
	return query, nil
}

func (s *Searcher) normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.cfg.DefaultLimit
	case limit > s.cfg.MaxLimit:
		return s.cfg.MaxLimit
	default:
		return limit
	}
}

// rateLimitKey picks the caller identity: session id, else client IP
func (s *Searcher) rateLimitKey(req Request) string {
	kind, raw := "ip", req.ClientIP
	if req.SessionID != "" {
		kind, raw = "session", req.SessionID
	}
	if raw == "" {
		raw = "unknown"
	}
	if req.Admin {
		kind = "admin-" + kind
	}
	return ratelimit.HashKey(s.cfg.RateLimitSalt, kind, raw)
}

// charge consumes one unit of quota. A failing counter store lets the
// request through and returns nil usage.
func (s *Searcher) charge(ctx context.Context, req Request) (*ratelimit.Result, error) {
	res, err := s.limiter.Allow(ctx, s.rateLimitKey(req))
	if err != nil {
		s.logger.Warn("rate limiter unavailable, allowing request", "error", err)
		return nil, nil
	}
	if !res.Allowed {
		return nil, &RateLimitError{
			Limit:      res.Limit,
			Remaining:  res.Remaining,
			ResetAt:    res.ResetAt,
			RetryAfter: res.RetryAfter,
		}
	}
	return &res, nil
}

func (s *Searcher) embed(ctx context.Context, query string) ([]float32, error) {
	ctx, span := s.tracer.Start(ctx, "searcher.embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedder.provider", s.embedder.Provider()),
		attribute.String("embedder.model", s.embedder.Model()),
	)

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query, Kind: embedder.KindQuery})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(emb.Vector) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(emb.Vector), s.cfg.Dimension)
	}
	return emb.Vector, nil
}

func (s *Searcher) rank(ctx context.Context, req Request, query string, vector []float32, limit int) ([]storage.HybridRow, error) {
	ctx, span := s.tracer.Start(ctx, "searcher.rank")
	defer span.End()

	k := s.cfg.RRFK
	if req.RRFK > 0 {
		k = req.RRFK
	}

	rows, err := s.ranker.HybridSearch(ctx, storage.HybridQuery{
		Embedding:  vector,
		Text:       query,
		Limit:      limit,
		ItemTypes:  types.ResolveItemTypes(req.ItemTypes),
		Filters:    req.Filters,
		RRFK:       k,
		PublicOnly: !req.Admin,
		Now:        s.now(),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("rank.rows", len(rows)))
	return rows, nil
}

// shape converts ranked rows to response results
func (s *Searcher) shape(rows []storage.HybridRow, admin bool) []types.SearchResult {
	now := s.now()
	results := make([]types.SearchResult, len(rows))
	for i, row := range rows {
		results[i] = types.SearchResult{
			ItemID:       row.ItemID,
			AdID:         row.AdID,
			ItemType:     row.ItemType,
			Rank:         row.Rank,
			Score:        row.Score,
			SemanticRank: row.SemanticRank,
			LexicalRank:  row.LexicalRank,
			Text:         row.Text,
			Metadata:     row.Metadata,
			Brand:        row.Ad.BrandName,
			Product:      row.Ad.ProductName,
			Summary:      row.Ad.OneLineSummary,
			Format:       row.Ad.Format,
			Category:     row.Ad.Category,
			Year:         row.Ad.Year,
			URL:          CanonicalURL(row.AdID, row.Editorial, admin, now),
		}
	}
	return results
}

// CanonicalURL returns the editorial URL when the ad has both slugs and the
// caller may see it, else the id-based fallback
func CanonicalURL(adID int64, ed *storage.Editorial, admin bool, now time.Time) string {
	if ed != nil && ed.BrandSlug != "" && ed.Slug != "" && (admin || ed.IsPublic(now)) {
		return "/advert/" + ed.BrandSlug + "/" + ed.Slug
	}
	return "/ads/" + strconv.FormatInt(adID, 10)
}

func (s *Searcher) rerankEnabled(req Request) bool {
	if s.reranker == nil {
		return false
	}
	if req.Rerank != nil {
		return *req.Rerank
	}
	return s.cfg.RerankEnabled
}

// rerank reorders the top results in place. Items the reranker scored come
// first by score; the rest keep fused order. Any failure leaves results
// untouched.
func (s *Searcher) rerank(ctx context.Context, query string, results []types.SearchResult) bool {
	ctx, span := s.tracer.Start(ctx, "searcher.rerank")
	defer span.End()

	k := s.cfg.RerankTopK
	if k > len(results) {
		k = len(results)
	}
	docs := make([]rerank.Document, k)
	for i := 0; i < k; i++ {
		docs[i] = rerank.Document{ID: results[i].ItemID, Text: results[i].Text}
	}

	scores, err := s.reranker.Rerank(ctx, query, docs)
	if err != nil {
		s.logger.Warn("rerank failed, keeping fused order", "reranker", s.reranker.Name(), "error", err)
		span.RecordError(err)
		return false
	}

	head := make([]types.SearchResult, k)
	copy(head, results[:k])

	scored := make(map[int]float64, len(scores))
	for _, sc := range scores {
		if sc.Index >= 0 && sc.Index < k {
			if _, dup := scored[sc.Index]; !dup {
				scored[sc.Index] = sc.Score
			}
		}
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, oka := scored[order[a]]
		sb, okb := scored[order[b]]
		if oka != okb {
			return oka
		}
		return oka && sa > sb
	})

	for pos, idx := range order {
		r := head[idx]
		if score, ok := scored[idx]; ok {
			r.RerankScore = &score
		}
		r.Rank = pos + 1
		results[pos] = r
	}
	for i := k; i < len(results); i++ {
		results[i].Rank = i + 1
	}
	span.SetAttributes(attribute.Int("rerank.documents", k))
	return true
}
