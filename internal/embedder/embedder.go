package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrInvalidInput      = errors.New("embedder: invalid input")
	ErrProviderFailed    = errors.New("embedder: provider call failed")
	ErrUnsupportedModel  = errors.New("embedder: unsupported provider")
	ErrEmptyText         = errors.New("embedder: empty text")
	ErrBatchTooLarge     = errors.New("embedder: batch too large")
	ErrNoProviderEnabled = errors.New("embedder: no provider configured")
)

// InputKind is the retrieval side a text sits on. Asymmetric models embed
// a shopper's short query differently from a stored ad fragment, so the
// two must never share a cached vector.
type InputKind string

const (
	KindQuery    InputKind = "query"
	KindFragment InputKind = "fragment"
)

func (k InputKind) valid() bool {
	return k == KindQuery || k == KindFragment
}

// EmbeddingRequest asks for the vector of one text. Kind defaults to
// KindQuery; Model overrides the provider's model.
type EmbeddingRequest struct {
	Text  string
	Kind  InputKind
	Model string
}

func (r EmbeddingRequest) kind() InputKind {
	if r.Kind == "" {
		return KindQuery
	}
	return r.Kind
}

func (r EmbeddingRequest) validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if !r.kind().valid() {
		return fmt.Errorf("%w: input kind %q", ErrInvalidInput, r.Kind)
	}
	return nil
}

// BatchEmbeddingRequest embeds many texts of one kind. Kind defaults to
// KindFragment since batches come from ingestion.
type BatchEmbeddingRequest struct {
	Texts []string
	Kind  InputKind
	Model string
}

func (r BatchEmbeddingRequest) kind() InputKind {
	if r.Kind == "" {
		return KindFragment
	}
	return r.Kind
}

func (r BatchEmbeddingRequest) validate() error {
	switch {
	case len(r.Texts) == 0:
		return fmt.Errorf("%w: no texts", ErrInvalidInput)
	case len(r.Texts) > MaxBatchSize:
		return fmt.Errorf("%w: %d texts, max %d", ErrBatchTooLarge, len(r.Texts), MaxBatchSize)
	case !r.kind().valid():
		return fmt.Errorf("%w: input kind %q", ErrInvalidInput, r.Kind)
	}
	for i, text := range r.Texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text %d is blank", ErrInvalidInput, i)
		}
	}
	return nil
}

// Embedding is one vector and where it came from
type Embedding struct {
	Vector   []float32
	Kind     InputKind
	Provider string
	Model    string
}

func (e *Embedding) clone() *Embedding {
	out := *e
	out.Vector = cloneVector(e.Vector)
	return &out
}

// BatchEmbeddingResponse holds vectors in request order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder produces vectors for queries and ad fragments. Implementations
// are safe for concurrent use.
type Embedder interface {
	// GenerateEmbedding embeds one query. It never retries.
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch embeds fragments for ingestion, retrying transient failures
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// ComputeHash is the hex SHA-256 of text. Logs use a prefix of it in place
// of raw query text.
func ComputeHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// vectorKey identifies a vector: same text under another model or kind is
// a different vector
type vectorKey struct {
	model string
	kind  InputKind
	sum   [sha256.Size]byte
}

func keyFor(model string, kind InputKind, text string) vectorKey {
	return vectorKey{model: model, kind: kind, sum: sha256.Sum256([]byte(text))}
}

func (k vectorKey) String() string {
	return k.model + "/" + string(k.kind) + "/" + hex.EncodeToString(k.sum[:])
}

const defaultCacheSize = 10000

// Cache is an LRU of vectors. Values are copied on the way in and out so
// callers may mutate what they get.
type Cache struct {
	vectors *lru.Cache[vectorKey, []float32]
}

// NewCache creates a cache holding up to size vectors (default 10000)
func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	vectors, err := lru.New[vectorKey, []float32](size)
	if err != nil {
		panic(err) // size is positive
	}
	return &Cache{vectors: vectors}
}

func (c *Cache) get(k vectorKey) ([]float32, bool) {
	v, ok := c.vectors.Get(k)
	if !ok {
		return nil, false
	}
	return cloneVector(v), true
}

func (c *Cache) put(k vectorKey, v []float32) {
	c.vectors.Add(k, cloneVector(v))
}

// Len reports how many vectors are cached
func (c *Cache) Len() int {
	return c.vectors.Len()
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
