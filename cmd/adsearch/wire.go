package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/JQX369/tellyads-rag-sub000/internal/config"
	"github.com/JQX369/tellyads-rag-sub000/internal/embedder"
	"github.com/JQX369/tellyads-rag-sub000/internal/ratelimit"
	"github.com/JQX369/tellyads-rag-sub000/internal/rerank"
	"github.com/JQX369/tellyads-rag-sub000/internal/searcher"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
)

// components is everything a search-serving command needs
type components struct {
	store    storage.Storage
	embedder embedder.Embedder
	searcher *searcher.Searcher
	closers  []func() error
}

// Close releases resources in reverse creation order
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	opt := storage.WithDimension(cfg.EmbeddingDimension)
	switch cfg.DBDriver {
	case "postgres":
		return storage.NewPostgresStorage(ctx, cfg.DatabaseURL, opt)
	default:
		return storage.NewSQLiteStorage(cfg.DBPath, opt)
	}
}

// openRawDB opens the database without migrating it
func openRawDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.DBDriver == "postgres" {
		return storage.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return storage.OpenSQLite(cfg.DBPath)
}

func newEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	return embedder.New(cfg.EmbedderConfig())
}

// newLimiter builds the sliding-window limiter on the configured counter store
func newLimiter(ctx context.Context, cfg *config.Config) (*ratelimit.Limiter, func() error, error) {
	var (
		store   ratelimit.CounterStore
		closeFn func() error
	)
	switch cfg.RateLimitBackend {
	case "redis":
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store = ratelimit.NewRedisStore(client, "adsearch:rl:")
		closeFn = client.Close
	default:
		mem := ratelimit.NewMemoryStore(time.Minute)
		store = mem
		closeFn = mem.Close
	}

	limiter, err := ratelimit.New(store, cfg.RateLimitRequests, cfg.RateLimitWindow)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return limiter, closeFn, nil
}

func newReranker(cfg *config.Config, logger *slog.Logger) (rerank.Reranker, error) {
	if cfg.RerankURL == "" {
		return rerank.Noop{}, nil
	}
	return rerank.NewHTTPReranker(rerank.Config{
		URL:     cfg.RerankURL,
		APIKey:  cfg.RerankAPIKey,
		Model:   cfg.RerankModel,
		Timeout: cfg.RerankTimeout,
		Logger:  logger,
	})
}

// buildComponents wires storage, embedder, limiter, reranker and gateway
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	c.store = store
	c.closers = append(c.closers, store.Close)

	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	c.embedder = emb
	c.closers = append(c.closers, emb.Close)

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	c.closers = append(c.closers, closeLimiter)

	reranker, err := newReranker(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	srch, err := searcher.New(store, emb, limiter, searcher.Config{
		MinQueryLength: cfg.QueryMinLength,
		MaxQueryLength: cfg.QueryMaxLength,
		DefaultLimit:   cfg.SearchDefaultLimit,
		MaxLimit:       cfg.SearchMaxLimit,
		RRFK:           cfg.RRFK,
		Dimension:      cfg.EmbeddingDimension,
		RerankEnabled:  cfg.RerankEnabled,
		RerankTopK:     cfg.RerankTopK,
		RateLimitSalt:  cfg.RateLimitSalt,
	}, searcher.WithReranker(reranker), searcher.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create searcher: %w", err)
	}
	c.searcher = srch

	logger.Info("components ready",
		"db_driver", cfg.DBDriver,
		"embedding_provider", emb.Provider(),
		"embedding_model", emb.Model(),
		"rate_limit_backend", cfg.RateLimitBackend,
		"reranker", reranker.Name(),
	)

	ok = true
	return c, nil
}
