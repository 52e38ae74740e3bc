package searcher

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JQX369/tellyads-rag-sub000/internal/embedder"
	"github.com/JQX369/tellyads-rag-sub000/internal/ratelimit"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

const integrationDim = 64

type stack struct {
	store    *storage.SQLiteStorage
	embedder *embedder.LocalProvider
	searcher *Searcher
}

func newStack(t *testing.T, limit int) *stack {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:", storage.WithDimension(integrationDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	mem := ratelimit.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })
	limiter, err := ratelimit.New(mem, limit, time.Minute, ratelimit.WithClock(clock))
	require.NoError(t, err)

	emb := embedder.NewLocalProvider(integrationDim)
	s, err := New(store, emb, limiter, Config{Dimension: integrationDim, RateLimitSalt: "test"}, WithClock(clock))
	require.NoError(t, err)

	return &stack{store: store, embedder: emb, searcher: s}
}

func (st *stack) addAd(t *testing.T, externalID, brand string, ed *storage.Editorial) *storage.Ad {
	t.Helper()
	ad := &storage.Ad{ExternalID: externalID, BrandName: brand, Year: 2021}
	require.NoError(t, st.store.UpsertAd(context.Background(), ad))
	if ed != nil {
		ed.AdID = ad.ID
		require.NoError(t, st.store.UpsertEditorial(context.Background(), ed))
	}
	return ad
}

func (st *stack) addItem(t *testing.T, adID int64, itemType types.ItemType, text string) *storage.EmbeddingItem {
	t.Helper()
	emb, err := st.embedder.GenerateEmbedding(context.Background(), embedder.EmbeddingRequest{Text: text, Kind: embedder.KindFragment})
	require.NoError(t, err)
	item := &storage.EmbeddingItem{AdID: adID, ItemType: itemType, Text: text, Embedding: emb.Vector}
	require.NoError(t, st.store.InsertEmbeddingItem(context.Background(), item))
	return item
}

func TestIntegrationItemTypeAllowlist(t *testing.T) {
	st := newStack(t, 100)
	ad := st.addAd(t, "ext-1", "Brewco", nil)
	st.addItem(t, ad.ID, types.ItemClaim, "half price lager this weekend")
	cta := st.addItem(t, ad.ID, types.ItemCTAOffer, "buy two lager get one free")
	st.addItem(t, ad.ID, types.ItemSuper, "lager offer ends sunday")

	resp, err := st.searcher.Search(context.Background(), Request{
		Query:     "lager offer",
		ItemTypes: []string{"cta_offer"},
		ClientIP:  "10.0.0.1",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, cta.ID, resp.Results[0].ItemID)
	assert.Equal(t, types.ItemCTAOffer, resp.Results[0].ItemType)
	assert.Equal(t, "/ads/"+strconv.FormatInt(ad.ID, 10), resp.Results[0].URL)
}

func TestIntegrationDraftHiddenFromPublic(t *testing.T) {
	st := newStack(t, 100)
	draft := st.addAd(t, "ext-draft", "Secretco", &storage.Editorial{BrandSlug: "secretco", Slug: "launch", Status: storage.EditorialDraft})
	st.addItem(t, draft.ID, types.ItemAdSummary, "unreleased electric scooter launch")
	live := st.addAd(t, "ext-live", "Rideco", &storage.Editorial{BrandSlug: "rideco", Slug: "scooter", Status: storage.EditorialPublished})
	st.addItem(t, live.ID, types.ItemAdSummary, "electric scooter city ride")

	ctx := context.Background()
	public, err := st.searcher.Search(ctx, Request{Query: "electric scooter", ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	require.Len(t, public.Results, 1)
	assert.Equal(t, live.ID, public.Results[0].AdID)
	assert.Equal(t, "/advert/rideco/scooter", public.Results[0].URL)

	admin, err := st.searcher.Search(ctx, Request{Query: "electric scooter", ClientIP: "10.0.0.1", Admin: true})
	require.NoError(t, err)
	require.Len(t, admin.Results, 2)
	urls := map[int64]string{}
	for _, r := range admin.Results {
		assert.NoError(t, r.Validate())
		urls[r.AdID] = r.URL
	}
	assert.Equal(t, "/advert/secretco/launch", urls[draft.ID])
}

func TestIntegrationExactTextRanksFirst(t *testing.T) {
	st := newStack(t, 100)
	ad := st.addAd(t, "ext-1", "Motors", nil)
	st.addItem(t, ad.ID, types.ItemCreativeDNA, "family road trip at sunset")
	target := st.addItem(t, ad.ID, types.ItemClaim, "zero emissions hatchback")
	st.addItem(t, ad.ID, types.ItemSuper, "finance available")

	resp, err := st.searcher.Search(context.Background(), Request{Query: "zero emissions hatchback", ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, target.ID, resp.Results[0].ItemID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.LessOrEqual(t, len(resp.Results), 3)
}

func TestIntegrationRateLimit(t *testing.T) {
	st := newStack(t, 20)
	ad := st.addAd(t, "ext-1", "Brewco", nil)
	st.addItem(t, ad.ID, types.ItemClaim, "crisp lager")
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		resp, err := st.searcher.Search(ctx, Request{Query: "lager", SessionID: "s1"})
		require.NoError(t, err, "request %d", i+1)
		assert.Equal(t, 19-i, resp.RateLimit.Remaining)
	}

	_, err := st.searcher.Search(ctx, Request{Query: "lager", SessionID: "s1"})
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Greater(t, rlErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, rlErr.RetryAfter, 60*time.Second)

	// Other sessions are unaffected
	_, err = st.searcher.Search(ctx, Request{Query: "lager", SessionID: "s2"})
	assert.NoError(t, err)
}

func TestIntegrationDeterministic(t *testing.T) {
	st := newStack(t, 100)
	for _, brand := range []string{"A", "B", "C", "D"} {
		ad := st.addAd(t, "ext-"+brand, brand, nil)
		st.addItem(t, ad.ID, types.ItemClaim, "same words every time")
	}

	var first []int64
	for i := 0; i < 5; i++ {
		resp, err := st.searcher.Search(context.Background(), Request{Query: "same words", ClientIP: "10.0.0.1"})
		require.NoError(t, err)
		ids := make([]int64, len(resp.Results))
		for j, r := range resp.Results {
			ids[j] = r.ItemID
		}
		if first == nil {
			first = ids
			continue
		}
		assert.Equal(t, first, ids)
	}
	require.Len(t, first, 4)
	assert.Equal(t, []int64{1, 2, 3, 4}, first, "ties broken by id")
}
