package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JQX369/tellyads-rag-sub000/internal/embedder"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

const testDim = 16

// countingEmbedder wraps the local provider and records batch calls
type countingEmbedder struct {
	*embedder.LocalProvider
	mu       sync.Mutex
	calls    int
	texts    []string
	kinds    []embedder.InputKind
	batchErr error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{LocalProvider: embedder.NewLocalProvider(testDim)}
}

func (c *countingEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	c.mu.Lock()
	c.calls++
	c.texts = append(c.texts, req.Texts...)
	c.kinds = append(c.kinds, req.Kind)
	err := c.batchErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.LocalProvider.GenerateBatch(ctx, req)
}

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:", storage.WithDimension(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleDocument(externalID string) Document {
	return Document{
		ExternalID: externalID,
		Brand:      "Brewco",
		Product:    "Session Lager",
		Category:   "beer",
		Year:       2021,
		Summary:    "Friends share a crisp lager at a summer barbecue",
		Editorial: &EditorialDocument{
			BrandSlug: "brewco",
			Slug:      "summer-barbecue-" + externalID,
			Status:    "published",
		},
		Chunks: []ChunkDocument{
			{Start: 0, End: 5, Text: "Fire up the grill"},
			{Start: 5, End: 10, Text: "Crack open a cold one"},
		},
		Claims: []ClaimDocument{
			{Text: "Brewed with British barley", ClaimType: "origin"},
			{Text: "Fewer calories than the leading brand", ClaimType: "comparison", IsComparative: true},
		},
		Supers:     []SuperDocument{{Start: 8, End: 10, Text: "Please drink responsibly"}},
		Storyboard: []ShotDocument{{Description: "Close-up of condensation on a bottle"}},
	}
}

func TestReadDocuments(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		docs, err := ReadDocuments(strings.NewReader(`[{"external_id":"a"},{"external_id":"b"}]`))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "b", docs[1].ExternalID)
	})

	t.Run("single object", func(t *testing.T) {
		docs, err := ReadDocuments(strings.NewReader(` {"external_id":"a","items":[{"type":"claim","text":"x","parent":{"kind":"claim","index":0}}]}`))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		require.Len(t, docs[0].Items, 1)
		assert.Equal(t, "claim", docs[0].Items[0].Parent.Kind)
	})

	t.Run("empty input", func(t *testing.T) {
		docs, err := ReadDocuments(strings.NewReader("  \n"))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ReadDocuments(strings.NewReader(`[{"external_id":`))
		assert.Error(t, err)
	})
}

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Document)
		wantErr bool
	}{
		{"valid", func(d *Document) {}, false},
		{"missing external id", func(d *Document) { d.ExternalID = " " }, true},
		{"unknown status", func(d *Document) { d.Editorial.Status = "live" }, true},
		{"empty status is draft", func(d *Document) { d.Editorial.Status = "" }, false},
		{"editorial without slug", func(d *Document) { d.Editorial.Slug = "" }, true},
		{"unknown item type", func(d *Document) {
			d.Items = []ItemDocument{{Type: "jingle", Text: "la la"}}
		}, true},
		{"empty item text", func(d *Document) {
			d.Items = []ItemDocument{{Type: "claim", Text: "  "}}
		}, true},
		{"parent index out of range", func(d *Document) {
			d.Items = []ItemDocument{{Type: "claim", Text: "x", Parent: &ParentDocument{Kind: "claim", Index: 2}}}
		}, true},
		{"parent kind mismatch", func(d *Document) {
			d.Items = []ItemDocument{{Type: "super", Text: "x", Parent: &ParentDocument{Kind: "claim", Index: 0}}}
		}, true},
		{"insight cannot have parent", func(d *Document) {
			d.Items = []ItemDocument{{Type: "creative_dna", Text: "x", Parent: &ParentDocument{Kind: "chunk", Index: 0}}}
		}, true},
		{"implied claim references claim", func(d *Document) {
			d.Items = []ItemDocument{{Type: "implied_claim", Text: "x", Parent: &ParentDocument{Kind: "claim", Index: 1}}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sampleDocument("ext-1")
			tt.mutate(&doc)
			err := doc.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDocument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPendingItemsDerived(t *testing.T) {
	doc := sampleDocument("ext-1")
	doc.Chunks = append(doc.Chunks, ChunkDocument{Text: "   "})

	items := doc.pendingItems()
	kinds := make([]types.ItemType, len(items))
	for i, it := range items {
		kinds[i] = it.itemType
	}
	assert.Equal(t, []types.ItemType{
		types.ItemAdSummary,
		types.ItemTranscriptChunk, types.ItemTranscriptChunk,
		types.ItemClaim, types.ItemClaim,
		types.ItemSuper,
		types.ItemStoryboardShot,
	}, kinds)
	assert.Nil(t, items[0].parent)
	assert.Equal(t, &ParentDocument{Kind: "claim", Index: 1}, items[4].parent)
}

func TestImport_Success(t *testing.T) {
	store := newTestStore(t)
	emb := newCountingEmbedder()
	imp := New(store, emb, WithWorkers(2))
	ctx := context.Background()

	stats, err := imp.Import(ctx, []Document{sampleDocument("ext-1"), sampleDocument("ext-2")})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.AdsImported)
	assert.Zero(t, stats.AdsFailed)
	assert.Equal(t, 14, stats.ItemsWritten)
	assert.Equal(t, 14, stats.ItemsEmbedded)
	assert.Zero(t, stats.ItemsReused)

	ad, err := store.GetAdByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "Brewco", ad.BrandName)
	assert.True(t, ad.HasSupers)
	assert.True(t, ad.HasComparisons)

	ed, err := store.GetEditorial(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, "summer-barbecue-ext-1", ed.Slug)
	assert.True(t, ed.IsPublic(ed.UpdatedAt))

	for _, kind := range emb.kinds {
		assert.Equal(t, embedder.KindFragment, kind)
	}

	sat, err := store.GetSatellites(ctx, ad.ID)
	require.NoError(t, err)
	require.Len(t, sat.Claims, 2)

	items, err := store.ListEmbeddingItems(ctx, ad.ID)
	require.NoError(t, err)
	require.Len(t, items, 7)
	var claimParents []types.ParentRef
	for _, it := range items {
		assert.Len(t, it.Embedding, testDim)
		if it.ItemType == types.ItemClaim {
			claimParents = append(claimParents, it.Parent)
		}
	}
	assert.Equal(t, []types.ParentRef{types.ClaimParent(sat.Claims[0].ID), types.ClaimParent(sat.Claims[1].ID)}, claimParents)
}

func TestImport_ExplicitEmbeddingsSkipProvider(t *testing.T) {
	store := newTestStore(t)
	emb := newCountingEmbedder()
	imp := New(store, emb)

	vec := make([]float32, testDim)
	vec[0] = 1
	doc := Document{
		ExternalID: "ext-1",
		Claims:     []ClaimDocument{{Text: "Half price"}},
		Items: []ItemDocument{
			{Type: "claim", Text: "Half price", Parent: &ParentDocument{Kind: "claim", Index: 0}, Embedding: vec},
			{Type: "cta_offer", Text: "Buy now", Metadata: map[string]any{"source": "vision"}},
		},
	}

	stats, err := imp.Import(context.Background(), []Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsEmbedded)
	assert.Equal(t, []string{"Buy now"}, emb.texts)
}

func TestImport_ReimportReusesVectors(t *testing.T) {
	store := newTestStore(t)
	emb := newCountingEmbedder()
	imp := New(store, emb)
	ctx := context.Background()

	_, err := imp.Import(ctx, []Document{sampleDocument("ext-1")})
	require.NoError(t, err)

	changed := sampleDocument("ext-1")
	changed.Supers[0].Text = "Enjoy responsibly"
	stats, err := imp.Import(ctx, []Document{changed})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsEmbedded)
	assert.Equal(t, 6, stats.ItemsReused)

	ad, err := store.GetAdByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	items, err := store.ListEmbeddingItems(ctx, ad.ID)
	require.NoError(t, err)
	assert.Len(t, items, 7, "items are replaced, not appended")
}

func TestImport_PartialFailure(t *testing.T) {
	store := newTestStore(t)
	imp := New(store, newCountingEmbedder())

	bad := sampleDocument("")
	stats, err := imp.Import(context.Background(), []Document{sampleDocument("ext-1"), bad})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AdsImported)
	assert.Equal(t, 1, stats.AdsFailed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "external_id is required")
}

func TestImport_EmbeddingFailureWritesNothing(t *testing.T) {
	store := newTestStore(t)
	emb := newCountingEmbedder()
	emb.batchErr = errors.New("provider down")
	imp := New(store, emb)
	ctx := context.Background()

	stats, err := imp.Import(ctx, []Document{sampleDocument("ext-1")})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AdsFailed)

	_, err = store.GetAdByExternalID(ctx, "ext-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImport_BatchSize(t *testing.T) {
	store := newTestStore(t)
	emb := newCountingEmbedder()
	imp := New(store, emb, WithBatchSize(3))

	_, err := imp.Import(context.Background(), []Document{sampleDocument("ext-1")})
	require.NoError(t, err)
	assert.Equal(t, 3, emb.calls, "7 texts in batches of 3")
}

func TestImport_LockHeld(t *testing.T) {
	imp := New(newTestStore(t), newCountingEmbedder())
	require.True(t, imp.lock.TryAcquire())

	_, err := imp.Import(context.Background(), []Document{sampleDocument("ext-1")})
	assert.ErrorIs(t, err, ErrImportInProgress)

	imp.lock.Release()
	_, err = imp.Import(context.Background(), []Document{sampleDocument("ext-1")})
	assert.NoError(t, err)
}

func TestImport_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	emb := newCountingEmbedder()
	imp := New(store, emb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := imp.Import(ctx, []Document{sampleDocument("ext-1")})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, stats)
	assert.Zero(t, stats.AdsImported)
	assert.Zero(t, emb.calls)
}

func TestImportFile(t *testing.T) {
	store := newTestStore(t)
	imp := New(store, newCountingEmbedder())

	path := filepath.Join(t.TempDir(), "ads.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"external_id": "ext-9", "brand": "Rideco", "one_line_summary": "An electric scooter weaves through the city",
		 "supers": [{"start": 1, "end": 3, "text": "0% finance"}]}
	]`), 0o644))

	stats, err := imp.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AdsImported)
	assert.Equal(t, 2, stats.ItemsWritten)

	_, err = imp.ImportFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestImportLock(t *testing.T) {
	var l ImportLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestImport_DuplicateSlugFailsOnlyThatAd(t *testing.T) {
	store := newTestStore(t)
	imp := New(store, newCountingEmbedder(), WithWorkers(1))
	ctx := context.Background()

	first := sampleDocument("ext-1")
	second := sampleDocument("ext-2")
	second.Editorial.Slug = first.Editorial.Slug

	stats, err := imp.Import(ctx, []Document{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AdsImported)
	assert.Equal(t, 1, stats.AdsFailed)
	require.Len(t, stats.ErrorMessages, 1)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalAds, "the failed ad is rolled back")
}
