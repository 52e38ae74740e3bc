package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

func boolPtr(b bool) *bool { return &b }

func rowIDs(rows []HybridRow) []int64 {
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ItemID
	}
	return ids
}

func adIDs(rows []HybridRow) map[int64]bool {
	set := make(map[int64]bool, len(rows))
	for _, r := range rows {
		set[r.AdID] = true
	}
	return set
}

func TestHybridSearchFusesBothSides(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	ad := createAd(t, store, "ext-1", "Brewco", 2020)

	a := addItem(t, store, ad.ID, types.ItemCreativeDNA, "family car advert", []float32{1, 0, 0, 0})
	b := addItem(t, store, ad.ID, types.ItemImpactSummary, "crisp refreshing lager", []float32{0.9, 0.1, 0, 0})
	c := addItem(t, store, ad.ID, types.ItemMemorableElements, "lager lager", []float32{0, 1, 0, 0})

	rows, err := store.HybridSearch(ctx, HybridQuery{
		Embedding: []float32{1, 0, 0, 0},
		Text:      "crisp lager",
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// b is second semantically and first lexically; c is in both lists;
	// a is semantic only
	assert.Equal(t, []int64{b.ID, c.ID, a.ID}, rowIDs(rows))

	top := rows[0]
	require.NotNil(t, top.SemanticRank)
	require.NotNil(t, top.LexicalRank)
	assert.Equal(t, 2, *top.SemanticRank)
	assert.Equal(t, 1, *top.LexicalRank)
	assert.InDelta(t, 1.0/62+1.0/61, top.Score, 1e-12)
	assert.Equal(t, 1, top.Rank)

	last := rows[2]
	require.NotNil(t, last.SemanticRank)
	assert.Nil(t, last.LexicalRank)
	assert.InDelta(t, 1.0/61, last.Score, 1e-12)

	assert.Equal(t, "Brewco", top.Ad.BrandName)
	assert.Nil(t, top.Editorial)
}

func TestHybridSearchStemming(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	ad := createAd(t, store, "ext-1", "Sporty", 2020)

	target := addItem(t, store, ad.ID, types.ItemCreativeDNA, "athletes running through rain", []float32{0, 0, 0, 1})
	addItem(t, store, ad.ID, types.ItemImpactSummary, "quiet library scene", []float32{0, 0, 1, 0})

	rows, err := store.HybridSearch(ctx, HybridQuery{Embedding: []float32{1, 0, 0, 0}, Text: "Runs!"})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, target.ID, rows[0].ItemID)
	require.NotNil(t, rows[0].LexicalRank)
}

func TestHybridSearchWithoutText(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	ad := createAd(t, store, "ext-1", "Acme", 2020)
	near := addItem(t, store, ad.ID, types.ItemCreativeDNA, "close", []float32{1, 0, 0, 0})
	far := addItem(t, store, ad.ID, types.ItemCreativeDNA, "far", []float32{0, 1, 0, 0})

	for _, text := range []string{"", "   ", "?!*()\""} {
		rows, err := store.HybridSearch(ctx, HybridQuery{Embedding: []float32{1, 0, 0, 0}, Text: text})
		require.NoError(t, err, "text %q", text)
		assert.Equal(t, []int64{near.ID, far.ID}, rowIDs(rows))
		for _, r := range rows {
			assert.Nil(t, r.LexicalRank)
		}
	}
}

func TestHybridSearchFiltersApplyBeforeLimit(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	// Plenty of closer matches from another brand
	for i := 0; i < 20; i++ {
		ad := createAd(t, store, fmt.Sprintf("noise-%d", i), "Noise", 2020)
		addItem(t, store, ad.ID, types.ItemAdSummary, "crowded result", []float32{1, 0, 0, 0})
	}
	wanted := createAd(t, store, "target", "Target", 2019)
	item := addItem(t, store, wanted.ID, types.ItemAdSummary, "distant result", []float32{0, 0, 0, 1})

	rows, err := store.HybridSearch(ctx, HybridQuery{
		Embedding: []float32{1, 0, 0, 0},
		Limit:     1,
		Filters:   &SearchFilters{Brand: "target"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, item.ID, rows[0].ItemID)

	rows, err = store.HybridSearch(ctx, HybridQuery{
		Embedding: []float32{1, 0, 0, 0},
		Limit:     5,
		Filters:   &SearchFilters{Year: 2019},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{item.ID}, rowIDs(rows))
}

func TestHybridSearchFlagFilters(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	plain := createAd(t, store, "plain", "Acme", 2020)
	flagged := &Ad{ExternalID: "flagged", BrandName: "Acme", Category: "Finance", HasPriceClaims: true, HasCelebrity: true}
	require.NoError(t, store.UpsertAd(ctx, flagged))

	addItem(t, store, plain.ID, types.ItemAdSummary, "plain ad", []float32{1, 0, 0, 0})
	addItem(t, store, flagged.ID, types.ItemAdSummary, "flagged ad", []float32{1, 0, 0, 0})

	rows, err := store.HybridSearch(ctx, HybridQuery{
		Embedding: []float32{1, 0, 0, 0},
		Filters:   &SearchFilters{HasPriceClaims: boolPtr(true), Category: "FINANCE"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{flagged.ID: true}, adIDs(rows))

	rows, err = store.HybridSearch(ctx, HybridQuery{
		Embedding: []float32{1, 0, 0, 0},
		Filters:   &SearchFilters{HasCelebrity: boolPtr(false)},
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{plain.ID: true}, adIDs(rows))
}

func TestHybridSearchItemTypes(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	ad := createAd(t, store, "ext-1", "Acme", 2020)

	summary := addItem(t, store, ad.ID, types.ItemAdSummary, "summary", []float32{0, 1, 0, 0})
	addItem(t, store, ad.ID, types.ItemCTAOffer, "call now", []float32{1, 0, 0, 0})

	rows, err := store.HybridSearch(ctx, HybridQuery{
		Embedding: []float32{1, 0, 0, 0},
		ItemTypes: []types.ItemType{types.ItemAdSummary},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{summary.ID}, rowIDs(rows))

	// Unknown types alone mean no restriction
	rows, err = store.HybridSearch(ctx, HybridQuery{
		Embedding: []float32{1, 0, 0, 0},
		ItemTypes: []types.ItemType{"jingle"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestHybridSearchPublishGate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	uncurated := createAd(t, store, "uncurated", "Acme", 2020)
	published := createAd(t, store, "published", "Acme", 2020)
	pastDated := createAd(t, store, "past", "Acme", 2020)
	draft := createAd(t, store, "draft", "Acme", 2020)
	hidden := createAd(t, store, "hidden", "Acme", 2020)
	scheduled := createAd(t, store, "scheduled", "Acme", 2020)

	eds := []*Editorial{
		{AdID: published.ID, BrandSlug: "acme", Slug: "published", Status: EditorialPublished},
		{AdID: pastDated.ID, BrandSlug: "acme", Slug: "past", Status: EditorialPublished, PublishDate: &past},
		{AdID: draft.ID, BrandSlug: "acme", Slug: "draft", Status: EditorialDraft},
		{AdID: hidden.ID, BrandSlug: "acme", Slug: "hidden", Status: EditorialPublished, IsHidden: true},
		{AdID: scheduled.ID, BrandSlug: "acme", Slug: "scheduled", Status: EditorialPublished, PublishDate: &future},
	}
	for _, ed := range eds {
		require.NoError(t, store.UpsertEditorial(ctx, ed))
	}
	for _, ad := range []*Ad{uncurated, published, pastDated, draft, hidden, scheduled} {
		addItem(t, store, ad.ID, types.ItemAdSummary, "lager advert", []float32{1, 0, 0, 0})
	}

	rows, err := store.HybridSearch(ctx, HybridQuery{
		Embedding:  []float32{1, 0, 0, 0},
		Text:       "lager",
		PublicOnly: true,
		Now:        now,
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{uncurated.ID: true, published.ID: true, pastDated.ID: true}, adIDs(rows))

	for _, r := range rows {
		if r.AdID == published.ID {
			require.NotNil(t, r.Editorial)
			assert.Equal(t, "published", r.Editorial.Slug)
			assert.True(t, r.Editorial.IsPublic(now))
		}
	}

	rows, err = store.HybridSearch(ctx, HybridQuery{Embedding: []float32{1, 0, 0, 0}, Text: "lager"})
	require.NoError(t, err)
	assert.Len(t, adIDs(rows), 6)
}

func TestHybridSearchLimitsAndErrors(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rows, err := store.HybridSearch(ctx, HybridQuery{Embedding: []float32{1, 0, 0, 0}, Text: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	_, err = store.HybridSearch(ctx, HybridQuery{Embedding: []float32{1, 0}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	ad := createAd(t, store, "ext-1", "Acme", 2020)
	for i := 0; i < 15; i++ {
		addItem(t, store, ad.ID, types.ItemCreativeDNA, fmt.Sprintf("element %d", i), []float32{1, float32(i), 0, 0})
	}

	rows, err = store.HybridSearch(ctx, HybridQuery{Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	assert.Len(t, rows, DefaultLimit)

	rows, err = store.HybridSearch(ctx, HybridQuery{Embedding: []float32{1, 0, 0, 0}, Limit: 3})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		assert.GreaterOrEqual(t, rows[i-1].Score, rows[i].Score)
		assert.LessOrEqual(t, rows[i-1].Rank, rows[i].Rank)
	}
}

func TestHybridSearchDeterministic(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	ad := createAd(t, store, "ext-1", "Acme", 2020)
	for i := 0; i < 8; i++ {
		addItem(t, store, ad.ID, types.ItemCreativeDNA, "identical text", []float32{1, 0, 0, 0})
	}

	q := HybridQuery{Embedding: []float32{1, 0, 0, 0}, Text: "identical", Limit: 8}
	first, err := store.HybridSearch(ctx, q)
	require.NoError(t, err)
	second, err := store.HybridSearch(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, rowIDs(first), rowIDs(second))

	// Identical items tie on both sides, so ids break the tie
	ids := rowIDs(first)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}
