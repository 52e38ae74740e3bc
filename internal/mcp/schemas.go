package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

// searchAdsTool returns the tool definition for search_ads
func searchAdsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_ads",
		Description: "Search published TV commercial fragments (claims, supers, CTAs, storyboard shots, transcript chunks) with natural language",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free-text query, 2-500 characters",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"item_types": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these fragment kinds; unknown kinds are ignored",
					"items": map[string]interface{}{
						"type": "string",
						"enum": types.ItemTypeStrings(types.AllItemTypes()),
					},
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional ad-level filters",
					"properties": map[string]interface{}{
						"brand": map[string]interface{}{
							"type":        "string",
							"description": "Exact brand name",
						},
						"year": map[string]interface{}{
							"type":        "integer",
							"description": "Broadcast year",
						},
						"category": map[string]interface{}{
							"type":        "string",
							"description": "Product category",
						},
						"has_supers": map[string]interface{}{
							"type": "boolean",
						},
						"has_price_claims": map[string]interface{}{
							"type": "boolean",
						},
						"has_comparisons": map[string]interface{}{
							"type": "boolean",
						},
						"has_celebrity": map[string]interface{}{
							"type": "boolean",
						},
					},
				},
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Caller identity used for rate limiting",
				},
			},
			Required: []string{"query"},
		},
	}
}

// getAdCountsTool returns the tool definition for get_ad_counts
func getAdCountsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_ad_counts",
		Description: "Count transcript chunks, segments, storyboard shots, claims, supers and embedding items per ad",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ad_ids": map[string]interface{}{
					"type":        "array",
					"description": "Ad ids to count; empty means every ad",
					"items": map[string]interface{}{
						"type": "integer",
					},
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index health: backend, schema version, ad and item totals",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
