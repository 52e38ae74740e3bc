package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often idle keys are purged
const DefaultSweepInterval = time.Minute

type memoryEntry struct {
	hits   []time.Time // Ascending
	window time.Duration
}

// MemoryStore keeps sliding-window logs in process
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMemoryStore starts a store whose sweeper runs every interval. Call
// Close to stop it.
func NewMemoryStore(interval time.Duration) *MemoryStore {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweepLoop(interval)
	return s
}

// Hit implements CounterStore
func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	e.window = window
	e.hits = prune(e.hits, now.Add(-window))

	allowed := len(e.hits) < limit
	if allowed {
		e.hits = append(e.hits, now)
	}

	usage := Usage{Allowed: allowed, Count: len(e.hits)}
	if len(e.hits) > 0 {
		usage.Oldest = e.hits[0]
	}
	return usage, nil
}

// prune drops hits at or before cutoff
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

// Len returns the number of tracked keys
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep purges keys with no hits left in their window
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		e.hits = prune(e.hits, now.Add(-e.window))
		if len(e.hits) == 0 {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Close stops the sweeper and waits for it to exit
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
