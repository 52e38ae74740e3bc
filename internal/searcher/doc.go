// Package searcher is the query gateway in front of the hybrid ranking
// engine.
//
// A Search call runs these steps in order and stops at the first failure:
//
//  1. Validate and trim the query (rune length bounds).
//  2. Charge the caller's rate-limit key (session id, else client IP).
//  3. Embed the query once, with no retries.
//  4. Run storage.HybridSearch with filters, the item-type allowlist and,
//     for public callers, the publish gate pushed into the query.
//  5. Optionally rerank the top results; any rerank failure keeps the
//     fused order.
//  6. Shape results and attach canonical URLs.
//
// Each failure has its own type (ValidationError, RateLimitError,
// EmbeddingError, RankingError) so transports can map them to status codes
// with errors.As.
package searcher
