// Package rerank reorders a short list of search hits with a cross-encoder
// service. Callers treat every failure as "keep the original order".
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const (
	DefaultTopK    = 20
	DefaultTimeout = 2 * time.Second
)

// ErrUnavailable is returned while the breaker is open
var ErrUnavailable = errors.New("reranker unavailable")

// Document is one candidate passed to the reranker
type Document struct {
	ID   int64
	Text string
}

// Score is the relevance the reranker assigned to Documents[Index]
type Score struct {
	Index int
	Score float64
}

// Reranker scores documents against a query. Scores come back best first
// and may cover only part of the input.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document) ([]Score, error)
	Name() string
}

// Noop keeps the input order
type Noop struct{}

// Rerank returns descending pseudo-scores in input order
func (Noop) Rerank(_ context.Context, _ string, docs []Document) ([]Score, error) {
	scores := make([]Score, len(docs))
	for i := range docs {
		scores[i] = Score{Index: i, Score: float64(len(docs) - i)}
	}
	return scores, nil
}

// Name returns "noop"
func (Noop) Name() string { return "noop" }

// Config configures an HTTPReranker
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// HTTPReranker calls a Cohere/Jina style /rerank endpoint behind a circuit
// breaker.
type HTTPReranker struct {
	url     string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPReranker creates a reranker for cfg.URL
func NewHTTPReranker(cfg Config) (*HTTPReranker, error) {
	if cfg.URL == "" {
		return nil, errors.New("rerank URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reranker",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &HTTPReranker{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  &http.Client{},
		breaker: breaker,
	}, nil
}

// Name returns the configured model, or "http"
func (r *HTTPReranker) Name() string {
	if r.model != "" {
		return r.model
	}
	return "http"
}

// State exposes the breaker state
func (r *HTTPReranker) State() gobreaker.State { return r.breaker.State() }

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores docs within the configured timeout
func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []Document) ([]Score, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.call(ctx, query, docs)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result.([]Score), nil
}

func (r *HTTPReranker) call(ctx context.Context, query string, docs []Document) ([]Score, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: texts, TopN: len(docs)})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank returned status %d: %s", resp.StatusCode, respBody)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	scores := make([]Score, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(docs) {
			return nil, fmt.Errorf("rerank returned index %d for %d documents", res.Index, len(docs))
		}
		scores = append(scores, Score{Index: res.Index, Score: res.RelevanceScore})
	}
	return scores, nil
}
