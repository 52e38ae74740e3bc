package embedder

import (
	"fmt"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider          string // jina, openai, local; empty auto-detects
	APIKey            string
	JinaAPIKey        string
	OpenAIAPIKey      string
	Model             string
	Dimension         int
	BaseURL           string
	CacheSize         int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// New creates an embedder from explicit configuration. The result is
// wrapped in Coalescing so identical concurrent queries share one call.
func New(cfg Config) (*Coalescing, error) {
	provider := DetectProvider(cfg)
	cache := NewCache(cfg.CacheSize)

	var (
		emb Embedder
		err error
	)
	switch provider {
	case ProviderJina, ProviderOpenAI:
		emb, err = NewHTTPProvider(HTTPConfig{
			Provider:          provider,
			BaseURL:           cfg.BaseURL,
			APIKey:            apiKeyFor(cfg, provider),
			Model:             cfg.Model,
			Dimension:         cfg.Dimension,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.Timeout,
		}, cache)
	case ProviderLocal:
		emb = NewLocalProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewCoalescing(emb), nil
}

// DetectProvider returns the provider that New would use.
// Priority:
// 1. cfg.Provider when set
// 2. A Jina key, then an OpenAI key
// 3. local
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	if cfg.JinaAPIKey != "" {
		return ProviderJina
	}
	if cfg.OpenAIAPIKey != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

func apiKeyFor(cfg Config, provider string) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	if provider == ProviderJina {
		return cfg.JinaAPIKey
	}
	return cfg.OpenAIAPIKey
}
