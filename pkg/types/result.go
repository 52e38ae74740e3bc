package types

// SearchResult is one ranked ad fragment as returned to callers
type SearchResult struct {
	// Identification
	ItemID   int64    `json:"item_id"`
	AdID     int64    `json:"ad_id"`
	ItemType ItemType `json:"item_type"`
	Rank     int      `json:"rank"` // Dense rank within the result set (1-based)

	// Scoring
	Score        float64  `json:"score"` // Fused RRF score
	SemanticRank *int     `json:"semantic_rank,omitempty"`
	LexicalRank  *int     `json:"lexical_rank,omitempty"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`

	// Content
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Ad display fields
	Brand    string `json:"brand"`
	Product  string `json:"product,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Format   string `json:"format,omitempty"`
	Category string `json:"category,omitempty"`
	Year     int    `json:"year,omitempty"`

	URL string `json:"url"`
}

// Validate checks if the search result is well formed
func (sr *SearchResult) Validate() error {
	if sr.ItemID <= 0 || sr.AdID <= 0 {
		return ErrInvalidItemID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < 0 {
		return ErrInvalidRelevanceScore
	}

	if sr.URL == "" {
		return ErrMissingURL
	}

	if sr.Text == "" {
		return ErrEmptyContent
	}

	return nil
}
