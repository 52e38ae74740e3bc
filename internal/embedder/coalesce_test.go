package embedder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowEmbedder blocks until release is closed or its context ends
type slowEmbedder struct {
	LocalProvider
	calls    atomic.Int32
	canceled atomic.Int32
	release  chan struct{}
}

func newSlowEmbedder() *slowEmbedder {
	return &slowEmbedder{LocalProvider: LocalProvider{dimension: 8}, release: make(chan struct{})}
}

func (s *slowEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	s.calls.Add(1)
	select {
	case <-s.release:
		return s.LocalProvider.GenerateEmbedding(ctx, req)
	case <-ctx.Done():
		s.canceled.Add(1)
		return nil, ctx.Err()
	}
}

func TestCoalescingSharesInFlightCalls(t *testing.T) {
	inner := newSlowEmbedder()
	c := NewCoalescing(inner)

	const n = 10
	var wg sync.WaitGroup
	results := make([]*Embedding, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			emb, err := c.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "same query"})
			assert.NoError(t, err)
			results[i] = emb
		}(i)
	}

	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.Equal(t, int32(1), inner.calls.Load())
	for _, r := range results[1:] {
		assert.Equal(t, results[0].Vector, r.Vector)
	}
	// Callers get independent copies
	results[0].Vector[0] = 42
	assert.NotEqual(t, float32(42), results[1].Vector[0])
	assert.Zero(t, c.inFlight())
}

func TestCoalescingKindsDoNotShare(t *testing.T) {
	inner := newSlowEmbedder()
	close(inner.release)
	c := NewCoalescing(inner)

	q, err := c.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "lager"})
	require.NoError(t, err)
	f, err := c.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "lager", Kind: KindFragment})
	require.NoError(t, err)

	assert.Equal(t, KindQuery, q.Kind)
	assert.Equal(t, KindFragment, f.Kind)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCoalescingLastCallerCancelsUpstream(t *testing.T) {
	inner := newSlowEmbedder()
	defer close(inner.release)
	c := NewCoalescing(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GenerateEmbedding(ctx, EmbeddingRequest{Text: "abandoned"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return inner.canceled.Load() == 1 }, time.Second, time.Millisecond,
		"provider call should stop once nobody waits for it")
	assert.Zero(t, c.inFlight())
}

func TestCoalescingRemainingCallerKeepsUpstream(t *testing.T) {
	inner := newSlowEmbedder()
	c := NewCoalescing(inner)
	req := EmbeddingRequest{Text: "shared"}

	done := make(chan error, 1)
	go func() {
		_, err := c.GenerateEmbedding(context.Background(), req)
		done <- err
	}()
	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GenerateEmbedding(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)

	close(inner.release)
	require.NoError(t, <-done)
	assert.Zero(t, inner.canceled.Load())
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCoalescingFreshCallAfterAbandon(t *testing.T) {
	inner := newSlowEmbedder()
	c := NewCoalescing(inner)
	req := EmbeddingRequest{Text: "retry me"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.GenerateEmbedding(ctx, req)
	require.Error(t, err)

	// A later caller starts its own call instead of joining the cancelled one
	close(inner.release)
	emb, err := c.GenerateEmbedding(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, emb.Vector, 8)
}

func TestCoalescingValidates(t *testing.T) {
	c := NewCoalescing(NewLocalProvider(8))
	_, err := c.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: ""})
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = c.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x", Kind: "caption"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
