package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	cache := NewCache(2)
	a := keyFor("m", KindQuery, "a")
	vec := []float32{1, 2}
	cache.put(a, vec)

	// Mutating the original does not leak into the cache
	vec[0] = 99
	got, ok := cache.get(a)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)

	// Nor does mutating what get returned
	got[1] = 99
	again, _ := cache.get(a)
	assert.Equal(t, []float32{1, 2}, again)

	cache.put(keyFor("m", KindQuery, "b"), []float32{3})
	cache.put(keyFor("m", KindQuery, "c"), []float32{4})
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.get(a)
	assert.False(t, ok, "oldest entry evicted")
}

func TestVectorKey(t *testing.T) {
	base := keyFor("m1", KindQuery, "x")
	assert.Equal(t, base, keyFor("m1", KindQuery, "x"))
	assert.NotEqual(t, base, keyFor("m2", KindQuery, "x"))
	assert.NotEqual(t, base, keyFor("m1", KindFragment, "x"))
	assert.NotEqual(t, base, keyFor("m1", KindQuery, "y"))
	assert.NotEqual(t, base.String(), keyFor("m1", KindFragment, "x").String())
}

func TestEmbeddingRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     EmbeddingRequest
		wantErr error
	}{
		{"empty", EmbeddingRequest{Text: ""}, ErrEmptyText},
		{"blank", EmbeddingRequest{Text: "  \t"}, ErrEmptyText},
		{"unknown kind", EmbeddingRequest{Text: "beer", Kind: "caption"}, ErrInvalidInput},
		{"default kind", EmbeddingRequest{Text: "beer"}, nil},
		{"fragment", EmbeddingRequest{Text: "beer", Kind: KindFragment}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
	assert.Equal(t, KindQuery, EmbeddingRequest{}.kind())
}

func TestBatchEmbeddingRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     BatchEmbeddingRequest
		wantErr error
	}{
		{"empty", BatchEmbeddingRequest{}, ErrInvalidInput},
		{"blank entry", BatchEmbeddingRequest{Texts: []string{"ok", " "}}, ErrInvalidInput},
		{"too large", BatchEmbeddingRequest{Texts: make([]string, MaxBatchSize+1)}, ErrBatchTooLarge},
		{"unknown kind", BatchEmbeddingRequest{Texts: []string{"a"}, Kind: "caption"}, ErrInvalidInput},
		{"valid", BatchEmbeddingRequest{Texts: []string{"a", "b"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
	assert.Equal(t, KindFragment, BatchEmbeddingRequest{}.kind())
}

func TestComputeHash(t *testing.T) {
	assert.Equal(t, ComputeHash("x"), ComputeHash("x"))
	assert.NotEqual(t, ComputeHash("x"), ComputeHash("y"))
	assert.Len(t, ComputeHash("x"), 64)
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(64)
	assert.Equal(t, 64, p.Dimension())
	assert.Equal(t, ProviderLocal, p.Provider())

	a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Crisp cold lager"})
	require.NoError(t, err)
	b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "crisp, cold LAGER!"})
	require.NoError(t, err)
	assert.Equal(t, a.Vector, b.Vector, "case and punctuation insensitive")
	assert.Len(t, a.Vector, 64)

	var norm float64
	for _, x := range a.Vector {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: " "})
	assert.ErrorIs(t, err, ErrEmptyText)

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"one", "two"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, ProviderLocal, resp.Provider)
	assert.Equal(t, KindFragment, resp.Embeddings[0].Kind)
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit", Config{Provider: "OpenAI", JinaAPIKey: "j"}, ProviderOpenAI},
		{"jina key", Config{JinaAPIKey: "j", OpenAIAPIKey: "o"}, ProviderJina},
		{"openai key", Config{OpenAIAPIKey: "o"}, ProviderOpenAI},
		{"fallback", Config{}, ProviderLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectProvider(tt.cfg))
		})
	}
}

func TestNew(t *testing.T) {
	emb, err := New(Config{Dimension: 8})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, emb.Provider())
	assert.Equal(t, 8, emb.Dimension())
	assert.IsType(t, &LocalProvider{}, emb.Unwrap())

	_, err = New(Config{Provider: "openai"})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	_, err = New(Config{Provider: "word2vec"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	emb, err = New(Config{OpenAIAPIKey: "sk", Dimension: 1536})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, emb.Provider())
	assert.Equal(t, DefaultOpenAIModel, emb.Model())
}
