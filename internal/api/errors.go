package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JQX369/tellyads-rag-sub000/internal/ratelimit"
	"github.com/JQX369/tellyads-rag-sub000/internal/searcher"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

// Error codes
const (
	CodeValidation    = "validation_error"
	CodeRateLimited   = "rate_limit_exceeded"
	CodeEmbedding     = "embedding_failed"
	CodeRanking       = "ranking_failed"
	CodeUnauthorized  = "unauthorized"
	CodeForbidden     = "forbidden"
	CodeInternal      = "internal_error"
	CodeUnavailable   = "service_unavailable"
	CodeInvalidParams = "bad_request"
)

func respondWithError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   message,
		Details:   details,
	})
}

// setRateLimitHeaders writes the quota headers for a charged request
func setRateLimitHeaders(c *gin.Context, limit, remaining int, resetAt time.Time) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func usageHeaders(c *gin.Context, res *ratelimit.Result) {
	if res != nil && res.Limit > 0 {
		setRateLimitHeaders(c, res.Limit, res.Remaining, res.ResetAt)
	}
}

// retryAfterSeconds rounds up so clients never retry early
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// respondWithSearchError maps gateway errors to HTTP responses
func respondWithSearchError(c *gin.Context, err error) {
	var (
		verr   *searcher.ValidationError
		rlErr  *searcher.RateLimitError
		embErr *searcher.EmbeddingError
		rnkErr *searcher.RankingError
	)

	switch {
	case errors.As(err, &verr):
		respondWithError(c, http.StatusBadRequest, CodeValidation, verr.Error(),
			gin.H{"field": verr.Field, "reason": verr.Reason})

	case errors.As(err, &rlErr):
		retryAfter := retryAfterSeconds(rlErr.RetryAfter)
		setRateLimitHeaders(c, rlErr.Limit, rlErr.Remaining, rlErr.ResetAt)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		respondWithError(c, http.StatusTooManyRequests, CodeRateLimited,
			"Too many requests. Please try again later.",
			gin.H{
				"retry_after": retryAfter,
				"remaining":   rlErr.Remaining,
				"reset_at":    rlErr.ResetAt.UTC().Format(time.RFC3339),
			})

	case errors.As(err, &embErr):
		usageHeaders(c, embErr.RateLimit)
		respondWithError(c, http.StatusInternalServerError, CodeEmbedding, "Failed to process query", nil)

	case errors.As(err, &rnkErr):
		usageHeaders(c, rnkErr.RateLimit)
		respondWithError(c, http.StatusInternalServerError, CodeRanking, "Search failed", nil)

	default:
		respondWithError(c, http.StatusInternalServerError, CodeInternal, "Internal server error", nil)
	}
}
