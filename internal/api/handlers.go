package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/JQX369/tellyads-rag-sub000/internal/searcher"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

// SearchRequest is the JSON body of both search routes
type SearchRequest struct {
	Query     string         `json:"query"`
	Limit     int            `json:"limit"`
	SessionID string         `json:"session_id"`
	Filters   *SearchFilters `json:"filters"`
	ItemTypes []string       `json:"item_types"`
	Rerank    *bool          `json:"rerank"`
}

// SearchFilters mirrors storage.SearchFilters for the wire
type SearchFilters struct {
	Brand          string `json:"brand"`
	Year           int    `json:"year"`
	Category       string `json:"category"`
	HasSupers      *bool  `json:"has_supers"`
	HasPriceClaims *bool  `json:"has_price_claims"`
	HasComparisons *bool  `json:"has_comparisons"`
	HasCelebrity   *bool  `json:"has_celebrity"`
}

func (f *SearchFilters) toStorage() *storage.SearchFilters {
	if f == nil {
		return nil
	}
	return &storage.SearchFilters{
		Brand:          f.Brand,
		Year:           f.Year,
		Category:       f.Category,
		HasSupers:      f.HasSupers,
		HasPriceClaims: f.HasPriceClaims,
		HasComparisons: f.HasComparisons,
		HasCelebrity:   f.HasCelebrity,
	}
}

// SearchResponse is the JSON body of a successful search
type SearchResponse struct {
	Query   string               `json:"query"`
	Total   int                  `json:"total"`
	Results []types.SearchResult `json:"results"`
}

func (s *Server) handleSearch(admin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body SearchRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			respondWithError(c, http.StatusBadRequest, CodeValidation, "Invalid request body", gin.H{"reason": err.Error()})
			return
		}

		sessionID := body.SessionID
		if sessionID == "" {
			sessionID = c.GetHeader(SessionIDHeader)
		}
		if admin && sessionID == "" {
			sessionID = c.GetString(ctxAdminSubject)
		}

		resp, err := s.searcher.Search(c.Request.Context(), searcher.Request{
			Query:     body.Query,
			Limit:     body.Limit,
			SessionID: sessionID,
			ClientIP:  c.ClientIP(),
			Filters:   body.Filters.toStorage(),
			ItemTypes: body.ItemTypes,
			Admin:     admin,
			Rerank:    body.Rerank,
		})
		if err != nil {
			respondWithSearchError(c, err)
			return
		}

		usageHeaders(c, &resp.RateLimit)
		results := resp.Results
		if results == nil {
			results = []types.SearchResult{}
		}
		c.JSON(http.StatusOK, SearchResponse{Query: resp.Query, Total: resp.Total, Results: results})
	}
}

// AdCountResponse is one ad's row counts
type AdCountResponse struct {
	Chunks         int `json:"chunks"`
	Segments       int `json:"segments"`
	Storyboards    int `json:"storyboards"`
	Claims         int `json:"claims"`
	Supers         int `json:"supers"`
	EmbeddingItems int `json:"embedding_items"`
}

func (s *Server) handleAdCounts(c *gin.Context) {
	var ids []int64
	for _, raw := range c.QueryArray("ad_id") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondWithError(c, http.StatusBadRequest, CodeInvalidParams, "ad_id must be a positive integer", gin.H{"ad_id": raw})
			return
		}
		ids = append(ids, id)
	}

	counts, err := s.reporter.AdCounts(c.Request.Context(), ids)
	if err != nil {
		s.logger.Error("ad counts failed", "request_id", GetRequestID(c), "error", err)
		respondWithError(c, http.StatusInternalServerError, CodeInternal, "Failed to load counts", nil)
		return
	}

	out := make(map[string]AdCountResponse, len(counts))
	for id, ct := range counts {
		out[strconv.FormatInt(id, 10)] = AdCountResponse(ct)
	}
	c.JSON(http.StatusOK, gin.H{"counts": out})
}

func (s *Server) handleHealth(c *gin.Context) {
	status, err := s.reporter.GetStatus(c.Request.Context())
	if err != nil || !status.Healthy {
		s.logger.Error("health check failed", "error", err)
		respondWithError(c, http.StatusServiceUnavailable, CodeUnavailable, "Storage unavailable", nil)
		return
	}

	byType := make(map[string]int, len(status.ItemsByType))
	for t, n := range status.ItemsByType {
		byType[string(t)] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"backend":        status.Backend,
		"schema_version": status.SchemaVersion,
		"dimension":      status.Dimension,
		"total_ads":      status.TotalAds,
		"total_items":    status.TotalItems,
		"items_by_type":  byType,
	})
}
