package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/JQX369/tellyads-rag-sub000/internal/searcher"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
	ErrorCodeRateLimited   = -32005 // Caller exhausted its quota
)

// DefaultSessionID keys the rate limit when the client sends no session_id
const DefaultSessionID = "mcp-stdio"

// handleSearchAds handles the search_ads tool invocation
func (s *Server) handleSearchAds(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", 0)
	if limit < 0 || limit > storage.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", storage.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	filters, err := parseFilters(args["filters"])
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid filters", map[string]interface{}{
			"param":  "filters",
			"reason": err.Error(),
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.Request{
		Query:     query,
		Limit:     limit,
		SessionID: getStringDefault(args, "session_id", DefaultSessionID),
		Filters:   filters,
		ItemTypes: getStringSlice(args, "item_types"),
	})
	if err != nil {
		return nil, s.searchError(err)
	}

	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleGetAdCounts handles the get_ad_counts tool invocation
func (s *Server) handleGetAdCounts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	ids, err := getInt64Slice(args, "ad_ids")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "ad_ids must be an array of integers", map[string]interface{}{
			"param":  "ad_ids",
			"reason": err.Error(),
		})
	}

	counts, err := s.reporter.AdCounts(ctx, ids)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to count ad items", map[string]interface{}{
			"error": err.Error(),
		})
	}

	out := make(map[string]interface{}, len(counts))
	for id, c := range counts {
		out[fmt.Sprintf("%d", id)] = map[string]interface{}{
			"chunks":          c.Chunks,
			"segments":        c.Segments,
			"storyboards":     c.Storyboards,
			"claims":          c.Claims,
			"supers":          c.Supers,
			"embedding_items": c.EmbeddingItems,
		}
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"counts": out})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.reporter.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	byType := make(map[string]int, len(status.ItemsByType))
	for t, n := range status.ItemsByType {
		byType[string(t)] = n
	}

	response := map[string]interface{}{
		"healthy":        status.Healthy,
		"backend":        status.Backend,
		"schema_version": status.SchemaVersion,
		"dimension":      status.Dimension,
		"statistics": map[string]interface{}{
			"ads":           status.TotalAds,
			"items":         status.TotalItems,
			"items_by_type": byType,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// searchError maps gateway failures onto protocol errors
func (s *Server) searchError(err error) error {
	var (
		valErr  *searcher.ValidationError
		rateErr *searcher.RateLimitError
		embErr  *searcher.EmbeddingError
		rankErr *searcher.RankingError
	)
	switch {
	case errors.As(err, &valErr):
		return newMCPError(ErrorCodeInvalidParams, valErr.Error(), map[string]interface{}{
			"param":  valErr.Field,
			"reason": valErr.Reason,
		})
	case errors.As(err, &rateErr):
		return newMCPError(ErrorCodeRateLimited, "rate limit exceeded", map[string]interface{}{
			"limit":       rateErr.Limit,
			"remaining":   rateErr.Remaining,
			"retry_after": int(math.Ceil(rateErr.RetryAfter.Seconds())),
			"reset_at":    rateErr.ResetAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	case errors.As(err, &embErr):
		s.logger.Error("search_ads embedding failed", "error", embErr.Err)
		return newMCPError(ErrorCodeInternalError, "failed to embed query", nil)
	case errors.As(err, &rankErr):
		s.logger.Error("search_ads ranking failed", "error", rankErr.Err)
		return newMCPError(ErrorCodeInternalError, "failed to rank results", nil)
	default:
		s.logger.Error("search_ads failed", "error", err)
		return newMCPError(ErrorCodeInternalError, "search failed", nil)
	}
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// parseFilters converts the filters object into storage filters
func parseFilters(raw interface{}) (*storage.SearchFilters, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New("filters must be an object")
	}

	f := &storage.SearchFilters{
		Brand:    getStringDefault(m, "brand", ""),
		Year:     getIntDefault(m, "year", 0),
		Category: getStringDefault(m, "category", ""),
	}
	for key, dst := range map[string]**bool{
		"has_supers":       &f.HasSupers,
		"has_price_claims": &f.HasPriceClaims,
		"has_comparisons":  &f.HasComparisons,
		"has_celebrity":    &f.HasCelebrity,
	} {
		v, present := m[key]
		if !present {
			continue
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s must be a boolean", key)
		}
		*dst = &b
	}
	if f.IsEmpty() {
		return nil, nil
	}
	return f, nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array, skipping non-string entries
func getStringSlice(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// getInt64Slice extracts an integer array
func getInt64Slice(args map[string]interface{}, key string) ([]int64, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case []int64:
		return v, nil
	case []interface{}:
		out := make([]int64, 0, len(v))
		for _, e := range v {
			switch n := e.(type) {
			case float64:
				if n != math.Trunc(n) {
					return nil, fmt.Errorf("%v is not an integer", n)
				}
				out = append(out, int64(n))
			case int:
				out = append(out, int64(n))
			default:
				return nil, fmt.Errorf("unexpected element %v", e)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s must be an array", key)
}
