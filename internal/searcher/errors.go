package searcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/JQX369/tellyads-rag-sub000/internal/ratelimit"
)

// Sentinels matched by the typed errors' Unwrap
var (
	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ValidationError rejects a request before any downstream call
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitError reports an exhausted quota
type RateLimitError struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// EmbeddingError wraps a failure to embed the query
type EmbeddingError struct {
	Err error

	// RateLimit is the quota state charged before the failure
	RateLimit *ratelimit.Result
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed query: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// RankingError wraps a storage failure during hybrid search
type RankingError struct {
	Err error

	// RateLimit is the quota state charged before the failure
	RateLimit *ratelimit.Result
}

func (e *RankingError) Error() string {
	return fmt.Sprintf("rank results: %v", e.Err)
}

func (e *RankingError) Unwrap() error { return e.Err }
