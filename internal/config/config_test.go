package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 1536, cfg.EmbeddingDimension)
	assert.Equal(t, 20, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 2, cfg.QueryMinLength)
	assert.Equal(t, 500, cfg.QueryMaxLength)
	assert.Equal(t, 60.0, cfg.RRFK)
	assert.Equal(t, "memory", cfg.RateLimitBackend)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ADSEARCH_DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/ads")
	t.Setenv("RATE_LIMIT_WINDOW", "30")
	t.Setenv("RERANK_TIMEOUT", "750ms")
	t.Setenv("RERANK_ENABLED", "true")
	t.Setenv("RERANK_URL", "http://rerank")
	t.Setenv("EMBEDDING_RPS", "2.5")
	t.Setenv("QUERY_MAX_LENGTH", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 750*time.Millisecond, cfg.RerankTimeout)
	assert.True(t, cfg.RerankEnabled)
	assert.Equal(t, 2.5, cfg.EmbeddingRPS)
	assert.Equal(t, 500, cfg.QueryMaxLength, "bad values fall back to defaults")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"postgres without url", func(c *Config) { c.DBDriver = "postgres" }},
		{"inverted bounds", func(c *Config) { c.QueryMinLength, c.QueryMaxLength = 10, 5 }},
		{"max limit too high", func(c *Config) { c.SearchMaxLimit = 500 }},
		{"default above max", func(c *Config) { c.SearchDefaultLimit = 50; c.SearchMaxLimit = 20 }},
		{"zero quota", func(c *Config) { c.RateLimitRequests = 0 }},
		{"unknown backend", func(c *Config) { c.RateLimitBackend = "etcd" }},
		{"rerank without url", func(c *Config) { c.RerankEnabled = true }},
		{"sample ratio", func(c *Config) { c.OTELSampleRatio = 2 }},
		{"workers", func(c *Config) { c.ImportWorkers = 0 }},
		{"jina key with openai width", func(c *Config) { c.JinaAPIKey = "j" }},
		{"explicit jina too wide", func(c *Config) { c.EmbeddingProvider = "jina"; c.EmbeddingDimension = 1025 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}

func TestValidateJinaDimension(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"jina at its width", func(c *Config) { c.JinaAPIKey = "j"; c.EmbeddingDimension = 1024 }},
		{"jina truncated", func(c *Config) { c.EmbeddingProvider = "jina"; c.EmbeddingDimension = 512 }},
		{"openai chosen over jina key", func(c *Config) { c.JinaAPIKey = "j"; c.EmbeddingProvider = "openai" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestEmbedderConfig(t *testing.T) {
	cfg := &Config{EmbeddingProvider: "jina", JinaAPIKey: "j", EmbeddingDimension: 1024, EmbeddingRPS: 3}
	ec := cfg.EmbedderConfig()
	assert.Equal(t, "jina", ec.Provider)
	assert.Equal(t, "j", ec.JinaAPIKey)
	assert.Equal(t, 1024, ec.Dimension)
	assert.Equal(t, 3.0, ec.RequestsPerSecond)
}
