package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/JQX369/tellyads-rag-sub000/internal/embedder"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

// ErrImportInProgress is returned when another import holds the lock
var ErrImportInProgress = errors.New("import already in progress")

// maxErrorMessages caps the failures kept in Statistics
const maxErrorMessages = 50

// BatchEmbedder generates vectors for items shipped without one
type BatchEmbedder interface {
	GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error)
	Dimension() int
}

// Importer loads ad documents: ad row, editorial, satellites and embedding
// items, replaced per ad inside one transaction
type Importer struct {
	store     storage.Storage
	embedder  BatchEmbedder
	lock      ImportLock
	workers   int
	batchSize int
	logger    *slog.Logger
}

// Option configures an Importer
type Option func(*Importer)

// WithWorkers sets the worker pool size (default runtime.NumCPU())
func WithWorkers(n int) Option {
	return func(i *Importer) {
		if n > 0 {
			i.workers = n
		}
	}
}

// WithBatchSize sets how many texts go into one embedding request
func WithBatchSize(n int) Option {
	return func(i *Importer) {
		if n > 0 && n <= embedder.MaxBatchSize {
			i.batchSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(i *Importer) {
		if l != nil {
			i.logger = l
		}
	}
}

// Statistics summarises one import run
type Statistics struct {
	AdsImported   int
	AdsFailed     int
	ItemsWritten  int
	ItemsEmbedded int // Vectors generated during this run
	ItemsReused   int // Vectors carried over from the stored items
	Duration      time.Duration
	ErrorMessages []string
}

// New creates an Importer
func New(store storage.Storage, emb BatchEmbedder, opts ...Option) *Importer {
	imp := &Importer{
		store:     store,
		embedder:  emb,
		workers:   runtime.NumCPU(),
		batchSize: embedder.DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// ImportFile reads documents from path and imports them
func (imp *Importer) ImportFile(ctx context.Context, path string) (*Statistics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	docs, err := ReadDocuments(f)
	if err != nil {
		return nil, err
	}
	return imp.Import(ctx, docs)
}

// Import writes every document concurrently. A failing document is
// recorded in the statistics and does not stop the others.
func (imp *Importer) Import(ctx context.Context, docs []Document) (*Statistics, error) {
	if !imp.lock.TryAcquire() {
		return nil, ErrImportInProgress
	}
	defer imp.lock.Release()

	start := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	pool, err := ants.NewPool(imp.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		imported, failed         int32
		written, embedded, reuse int32
		mu                       sync.Mutex
		wg                       sync.WaitGroup
	)
	fail := func(doc *Document, err error) {
		atomic.AddInt32(&failed, 1)
		imp.logger.Warn("ad import failed", "external_id", doc.ExternalID, "error", err)
		mu.Lock()
		if len(stats.ErrorMessages) < maxErrorMessages {
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", doc.ExternalID, err))
		}
		mu.Unlock()
	}

	for i := range docs {
		if ctx.Err() != nil {
			break
		}
		doc := &docs[i]
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			res, err := imp.importDocument(ctx, doc)
			if err != nil {
				fail(doc, err)
				return
			}
			atomic.AddInt32(&imported, 1)
			atomic.AddInt32(&written, int32(res.written))
			atomic.AddInt32(&embedded, int32(res.embedded))
			atomic.AddInt32(&reuse, int32(res.reused))
		})
		if err != nil {
			wg.Done()
			fail(doc, err)
		}
	}
	wg.Wait()

	stats.AdsImported = int(imported)
	stats.AdsFailed = int(failed)
	stats.ItemsWritten = int(written)
	stats.ItemsEmbedded = int(embedded)
	stats.ItemsReused = int(reuse)
	stats.Duration = time.Since(start)

	imp.logger.Info("import finished",
		"ads_imported", stats.AdsImported,
		"ads_failed", stats.AdsFailed,
		"items_written", stats.ItemsWritten,
		"items_embedded", stats.ItemsEmbedded,
		"duration_ms", stats.Duration.Milliseconds(),
	)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

type documentResult struct {
	written  int
	embedded int
	reused   int
}

// importDocument embeds outside the transaction, then replaces the ad's
// rows atomically
func (imp *Importer) importDocument(ctx context.Context, doc *Document) (*documentResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	pending := doc.pendingItems()
	res := &documentResult{written: len(pending)}

	reused, err := imp.reuseEmbeddings(ctx, doc.ExternalID, pending)
	if err != nil {
		return nil, err
	}
	res.reused = reused

	embedded, err := imp.embedMissing(ctx, pending)
	if err != nil {
		return nil, err
	}
	res.embedded = embedded

	tx, err := imp.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ad := doc.toAd()
	if err := tx.UpsertAd(ctx, ad); err != nil {
		return nil, fmt.Errorf("failed to store ad: %w", err)
	}
	if doc.Editorial != nil {
		if err := tx.UpsertEditorial(ctx, doc.toEditorial(ad.ID)); err != nil {
			return nil, fmt.Errorf("failed to store editorial: %w", err)
		}
	}

	sat := doc.toSatellites()
	if err := tx.ReplaceSatellites(ctx, ad.ID, sat); err != nil {
		return nil, fmt.Errorf("failed to store satellites: %w", err)
	}

	items := make([]*storage.EmbeddingItem, len(pending))
	for i, p := range pending {
		items[i] = &storage.EmbeddingItem{
			AdID:      ad.ID,
			ItemType:  p.itemType,
			Parent:    resolveParent(p.parent, sat),
			Text:      p.text,
			Embedding: p.embedding,
			Metadata:  p.metadata,
		}
	}
	if err := tx.ReplaceAdItems(ctx, ad.ID, items); err != nil {
		return nil, fmt.Errorf("failed to store items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res, nil
}

// reuseEmbeddings copies stored vectors onto pending items with the same
// type and text, so a re-import only embeds what changed
func (imp *Importer) reuseEmbeddings(ctx context.Context, externalID string, pending []*pendingItem) (int, error) {
	ad, err := imp.store.GetAdByExternalID(ctx, externalID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up ad: %w", err)
	}

	existing, err := imp.store.ListEmbeddingItems(ctx, ad.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list stored items: %w", err)
	}

	dim := imp.embedder.Dimension()
	known := make(map[string][]float32, len(existing))
	for _, it := range existing {
		if len(it.Embedding) == dim {
			known[reuseKey(it.ItemType, it.Text)] = it.Embedding
		}
	}

	reused := 0
	for _, p := range pending {
		if p.embedding != nil {
			continue
		}
		if vec, ok := known[reuseKey(p.itemType, p.text)]; ok {
			p.embedding = vec
			reused++
		}
	}
	return reused, nil
}

func reuseKey(t types.ItemType, text string) string {
	return string(t) + "\x00" + text
}

// embedMissing fills every pending item that has no vector, batchSize
// texts per request
func (imp *Importer) embedMissing(ctx context.Context, pending []*pendingItem) (int, error) {
	var missing []*pendingItem
	for _, p := range pending {
		if p.embedding == nil {
			missing = append(missing, p)
		}
	}

	for start := 0; start < len(missing); start += imp.batchSize {
		end := start + imp.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.text
		}

		resp, err := imp.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts, Kind: embedder.KindFragment})
		if err != nil {
			return 0, fmt.Errorf("failed to embed items: %w", err)
		}
		if len(resp.Embeddings) != len(batch) {
			return 0, fmt.Errorf("%w: got %d embeddings for %d texts", embedder.ErrProviderFailed, len(resp.Embeddings), len(batch))
		}
		for i, emb := range resp.Embeddings {
			batch[i].embedding = emb.Vector
		}
	}
	return len(missing), nil
}
