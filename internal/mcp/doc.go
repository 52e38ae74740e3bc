// Package mcp exposes ad search to MCP clients over stdio.
//
// Three tools are registered:
//   - search_ads: public hybrid search over ad fragments
//   - get_ad_counts: per-ad counts of chunks, segments, storyboards, claims, supers and items
//   - get_status: backend, schema version and index totals
//
// # Tool: search_ads
//
//	Request:
//	{
//	  "name": "search_ads",
//	  "arguments": {
//	    "query": "buy one get one free",
//	    "limit": 5,
//	    "item_types": ["cta_offer"],
//	    "filters": {"year": 2021}
//	  }
//	}
//
// The response body is the gateway result serialized as JSON, each result
// carrying item_id, ad_id, item_type, rank, score and the public url.
// Tool calls never run as admin, so drafts and withdrawn ads are never
// returned.
//
// # Error Handling
//
// Handler failures are returned as *MCPError:
//   - -32602: invalid params (bad limit, filters or query length)
//   - -32603: internal error (embedding, ranking, storage)
//   - -32004: empty query
//   - -32005: rate limited; data carries retry_after, remaining and reset_at
//
// Calls are rate limited per session_id argument, falling back to a single
// shared key for the stdio connection.
package mcp
