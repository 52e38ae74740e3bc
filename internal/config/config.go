// Package config loads runtime settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/JQX369/tellyads-rag-sub000/internal/embedder"
)

// Config is the full set of runtime settings
type Config struct {
	// Storage
	DBDriver    string // sqlite or postgres
	DBPath      string
	DatabaseURL string

	// Embedding
	EmbeddingProvider  string
	OpenAIAPIKey       string
	JinaAPIKey         string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingRPS       float64
	EmbeddingCacheSize int

	// Gateway
	QueryMinLength     int
	QueryMaxLength     int
	SearchDefaultLimit int
	SearchMaxLimit     int
	RRFK               float64

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitBackend  string // memory or redis
	RateLimitSalt     string
	RedisURL          string

	// Reranking
	RerankEnabled bool
	RerankURL     string
	RerankAPIKey  string
	RerankModel   string
	RerankTopK    int
	RerankTimeout time.Duration

	// HTTP
	JWTSecret string
	HTTPAddr  string
	GinMode   string

	// Observability
	OTELEndpoint    string
	OTELServiceName string
	OTELSampleRatio float64
	LogLevel        string

	// Import
	ImportWorkers int
}

// Load reads .env (when present) and the environment
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		DBDriver:    strings.ToLower(getEnv("ADSEARCH_DB_DRIVER", "sqlite")),
		DBPath:      getEnv("ADSEARCH_DB_PATH", "adsearch.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		EmbeddingProvider:  strings.ToLower(getEnv("EMBEDDING_PROVIDER", "")),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		JinaAPIKey:         getEnv("JINA_API_KEY", ""),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", ""),
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		EmbeddingRPS:       getEnvFloat("EMBEDDING_RPS", 0),
		EmbeddingCacheSize: getEnvInt("EMBEDDING_CACHE_SIZE", 10000),

		QueryMinLength:     getEnvInt("QUERY_MIN_LENGTH", 2),
		QueryMaxLength:     getEnvInt("QUERY_MAX_LENGTH", 500),
		SearchDefaultLimit: getEnvInt("SEARCH_DEFAULT_LIMIT", 10),
		SearchMaxLimit:     getEnvInt("SEARCH_MAX_LIMIT", 100),
		RRFK:               getEnvFloat("RANK_RRF_K", 60),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitBackend:  strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		RateLimitSalt:     getEnv("RATE_LIMIT_SALT", ""),
		RedisURL:          getEnv("REDIS_URL", "localhost:6379"),

		RerankEnabled: getEnvBool("RERANK_ENABLED", false),
		RerankURL:     getEnv("RERANK_URL", ""),
		RerankAPIKey:  getEnv("RERANK_API_KEY", ""),
		RerankModel:   getEnv("RERANK_MODEL", ""),
		RerankTopK:    getEnvInt("RERANK_TOP_K", 20),
		RerankTimeout: getEnvDuration("RERANK_TIMEOUT", 2*time.Second),

		JWTSecret: getEnv("JWT_SECRET", ""),
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		GinMode:   getEnv("GIN_MODE", "release"),

		OTELEndpoint:    getEnv("OTEL_ENDPOINT", ""),
		OTELServiceName: getEnv("OTEL_SERVICE_NAME", "adsearch"),
		OTELSampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 0.1),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		ImportWorkers: getEnvInt("IMPORT_WORKERS", 4),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("ADSEARCH_DB_PATH is required for sqlite"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("ADSEARCH_DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver))
	}

	if c.EmbeddingDimension <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIMENSION must be positive"))
	}
	if embedder.DetectProvider(c.EmbedderConfig()) == embedder.ProviderJina && c.EmbeddingDimension > embedder.JinaDimension {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION %d exceeds the jina maximum of %d", c.EmbeddingDimension, embedder.JinaDimension))
	}
	if c.EmbeddingRPS < 0 {
		errs = append(errs, errors.New("EMBEDDING_RPS must not be negative"))
	}
	if c.QueryMinLength < 1 || c.QueryMaxLength < c.QueryMinLength {
		errs = append(errs, fmt.Errorf("query length bounds [%d, %d] are invalid", c.QueryMinLength, c.QueryMaxLength))
	}
	if c.SearchMaxLimit < 1 || c.SearchMaxLimit > 100 {
		errs = append(errs, errors.New("SEARCH_MAX_LIMIT must be between 1 and 100"))
	}
	if c.SearchDefaultLimit < 1 || c.SearchDefaultLimit > c.SearchMaxLimit {
		errs = append(errs, errors.New("SEARCH_DEFAULT_LIMIT must be between 1 and SEARCH_MAX_LIMIT"))
	}
	if c.RRFK <= 0 {
		errs = append(errs, errors.New("RANK_RRF_K must be positive"))
	}
	if c.RateLimitRequests < 1 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis rate limit backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimitBackend))
	}
	if c.RerankEnabled && c.RerankURL == "" {
		errs = append(errs, errors.New("RERANK_URL is required when RERANK_ENABLED is set"))
	}
	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATIO must be between 0 and 1"))
	}
	if c.ImportWorkers < 1 {
		errs = append(errs, errors.New("IMPORT_WORKERS must be positive"))
	}

	return errors.Join(errs...)
}

// EmbedderConfig is the subset of settings the embedder factory needs
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:          c.EmbeddingProvider,
		JinaAPIKey:        c.JinaAPIKey,
		OpenAIAPIKey:      c.OpenAIAPIKey,
		Model:             c.EmbeddingModel,
		Dimension:         c.EmbeddingDimension,
		CacheSize:         c.EmbeddingCacheSize,
		RequestsPerSecond: c.EmbeddingRPS,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("60")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
