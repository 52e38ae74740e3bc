// Package embedder turns query and fragment text into vectors.
//
// Three providers are available: Jina and OpenAI over their shared
// /embeddings wire format, and a local hashed bag-of-words provider for
// offline use. New picks one from Config and wraps it in Coalescing.
//
// The two call paths behave differently on failure:
//
//	// Read path: one attempt, cached by model, kind and content hash
//	emb, err := e.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
//
//	// Ingestion path: retried with exponential backoff
//	resp, err := e.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts, Kind: embedder.KindFragment})
//
// Outbound calls are throttled by Config.RequestsPerSecond. Client errors
// other than 429 are not retried.
package embedder
