package embedder

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Coalescing wraps an Embedder so that concurrent GenerateEmbedding calls
// for the same model, kind and text share one upstream request. The shared
// request keeps running while at least one caller is still waiting for it
// and is cancelled as soon as the last one gives up.
type Coalescing struct {
	Embedder
	group singleflight.Group

	mu      sync.Mutex
	seq     uint64
	flights map[string]*flight
}

// flight is the cancellable context shared by everyone waiting on a key
type flight struct {
	key     string // singleflight key, unique per flight
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewCoalescing wraps emb
func NewCoalescing(emb Embedder) *Coalescing {
	return &Coalescing{Embedder: emb, flights: make(map[string]*flight)}
}

// Unwrap returns the wrapped embedder
func (c *Coalescing) Unwrap() Embedder { return c.Embedder }

// GenerateEmbedding embeds one query, sharing in-flight work
func (c *Coalescing) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.Model()
	}
	key := keyFor(model, req.kind(), req.Text).String()

	f := c.join(ctx, key)
	defer c.leave(key, f)

	ch := c.group.DoChan(f.key, func() (any, error) {
		return c.Embedder.GenerateEmbedding(f.ctx, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Embedding).clone(), nil
	}
}

// join registers a waiter on key. The first waiter creates the shared
// context; it keeps the caller's values but not its cancellation.
func (c *Coalescing) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flights[key]
	if !ok {
		c.seq++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{key: key + "#" + strconv.FormatUint(c.seq, 10), ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter and cancels the flight when none remain
func (c *Coalescing) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

func (c *Coalescing) inFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flights)
}
