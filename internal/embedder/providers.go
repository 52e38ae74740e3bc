package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"

	// Default endpoints
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	DefaultTimeout = 30 * time.Second
)

// HTTPProvider implements Embedder against an OpenAI-compatible /embeddings
// endpoint. Jina and OpenAI share the wire format.
type HTTPProvider struct {
	provider   string
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	cache      *Cache
	retry      RetryConfig
}

// HTTPConfig configures an HTTPProvider
type HTTPConfig struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	Dimension         int
	RequestsPerSecond float64 // 0 disables throttling
	Timeout           time.Duration
	Retry             *RetryConfig
}

// NewHTTPProvider creates an embedder for the Jina or OpenAI API
func NewHTTPProvider(cfg HTTPConfig, cache *Cache) (*HTTPProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s requires an API key", ErrNoProviderEnabled, cfg.Provider)
	}

	switch cfg.Provider {
	case ProviderJina:
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultJinaBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultJinaModel
		}
		if cfg.Dimension == 0 {
			cfg.Dimension = JinaDimension
		}
	case ProviderOpenAI:
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultOpenAIBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
		if cfg.Dimension == 0 {
			cfg.Dimension = OpenAIDimension
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, cfg.Provider)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if cache == nil {
		cache = NewCache(0)
	}

	return &HTTPProvider{
		provider:   cfg.Provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		timeout:    cfg.Timeout,
		limiter:    rate.NewLimiter(limit, 1),
		cache:      cache,
		retry:      retry,
	}, nil
}

// GenerateEmbedding embeds a single query. Cache hits skip the API.
func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	model, kind := p.modelFor(req.Model), req.kind()
	key := keyFor(model, kind, req.Text)
	if vector, ok := p.cache.get(key); ok {
		return p.newEmbedding(vector, model, kind), nil
	}

	vectors, err := p.callAPI(ctx, []string{req.Text}, model, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	p.cache.put(key, vectors[0])
	return p.newEmbedding(vectors[0], model, kind), nil
}

// GenerateBatch embeds texts with retry on transient failures
func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	model, kind := p.modelFor(req.Model), req.kind()
	vectors, err := retryWithBackoff(ctx, p.retry, func() ([][]float32, error) {
		return p.callAPI(ctx, req.Texts, model, kind)
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d retries: %w", ErrProviderFailed, p.retry.MaxRetries, err)
	}

	embeddings := make([]*Embedding, len(vectors))
	for i, vector := range vectors {
		p.cache.put(keyFor(model, kind, req.Texts[i]), vector)
		embeddings[i] = p.newEmbedding(vector, model, kind)
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.provider,
		Model:      model,
	}, nil
}

type embeddingsRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
	Task       string   `json:"task,omitempty"` // Jina only
}

// jinaTasks maps input kinds onto Jina's retrieval adapters
var jinaTasks = map[InputKind]string{
	KindQuery:    "retrieval.query",
	KindFragment: "retrieval.passage",
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// statusError is a non-2xx API response
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.code, e.body)
}

// callAPI makes a single HTTP request. The throttle wait counts against the
// same timeout as the request itself. Client errors other than 429 are
// permanent and stop batch retries.
func (p *HTTPProvider) callAPI(ctx context.Context, texts []string, model string, kind InputKind) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	payload := embeddingsRequest{Input: texts, Model: model, Dimensions: p.dimension}
	if p.provider == ProviderJina {
		payload.Task = jinaTasks[kind]
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		serr := &statusError{code: resp.StatusCode, body: string(respBody)}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(serr)
		}
		return nil, serr
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	if len(parsed.Data) != len(texts) {
		return nil, backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data)))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != p.dimension {
			return nil, backoff.Permanent(fmt.Errorf("embedding %d has dimension %d, want %d", i, len(d.Embedding), p.dimension))
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (p *HTTPProvider) modelFor(model string) string {
	if model != "" {
		return model
	}
	return p.model
}

func (p *HTTPProvider) newEmbedding(vector []float32, model string, kind InputKind) *Embedding {
	return &Embedding{Vector: vector, Kind: kind, Provider: p.provider, Model: model}
}

// Dimension returns the embedding dimension
func (p *HTTPProvider) Dimension() int { return p.dimension }

// Provider returns the provider name
func (p *HTTPProvider) Provider() string { return p.provider }

// Model returns the default model name
func (p *HTTPProvider) Model() string { return p.model }

// Close releases resources
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider produces deterministic hashed bag-of-words vectors without
// any network access. Texts sharing words land near each other, which is
// enough for offline development and tests.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a local embedder with the given dimension
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = OpenAIDimension
	}
	return &LocalProvider{dimension: dimension}
}

// GenerateEmbedding hashes each lowercased word into a bucket and
// normalizes. Queries and fragments share one vector space.
func (p *LocalProvider) GenerateEmbedding(_ context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return &Embedding{
		Vector:   p.vectorize(req.Text),
		Kind:     req.kind(),
		Provider: ProviderLocal,
		Model:    p.Model(),
	}, nil
}

// GenerateBatch embeds each text in turn
func (p *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Kind: req.kind()})
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      p.Model(),
	}, nil
}

func (p *LocalProvider) vectorize(text string) []float32 {
	vector := make([]float32, p.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, word := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vector[(sum>>1)%uint64(p.dimension)] += sign
	}
	return NormalizeVector(vector)
}

// Dimension returns the embedding dimension
func (p *LocalProvider) Dimension() int { return p.dimension }

// Provider returns the provider name
func (p *LocalProvider) Provider() string { return ProviderLocal }

// Model returns the model name
func (p *LocalProvider) Model() string { return "hashed-bow" }

// Close releases resources
func (p *LocalProvider) Close() error { return nil }

// NormalizeVector scales v to unit length in place. Zero vectors are
// returned unchanged.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
