// Package api exposes the search gateway over HTTP with gin.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JQX369/tellyads-rag-sub000/internal/searcher"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
)

// Searcher is the gateway capability the handlers need
type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
}

// Reporter serves counts and health
type Reporter interface {
	AdCounts(ctx context.Context, adIDs []int64) (map[int64]storage.AdCount, error)
	GetStatus(ctx context.Context) (*storage.Status, error)
}

// Config wires the router
type Config struct {
	Searcher    Searcher
	Reporter    Reporter
	JWTSecret   string
	ServiceName string
	Logger      *slog.Logger
}

// Server holds handler dependencies
type Server struct {
	searcher Searcher
	reporter Reporter
	logger   *slog.Logger
}

// NewRouter builds the gin engine with middleware and routes
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	service := cfg.ServiceName
	if service == "" {
		service = "adsearch"
	}

	s := &Server{searcher: cfg.Searcher, reporter: cfg.Reporter, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Tracing(service))
	r.Use(EnrichTrace())
	r.Use(RequestLogger(logger))

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.POST("/search", s.handleSearch(false))

	admin := api.Group("/admin", AdminAuth(cfg.JWTSecret))
	admin.POST("/search", s.handleSearch(true))
	admin.GET("/ads/counts", s.handleAdCounts)

	return r
}

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully
func Run(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
