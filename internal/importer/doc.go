// Package importer loads analysed commercials into the index.
//
// Input is JSON: either an array of documents or one document. Each
// document carries the ad record, an optional editorial record, the
// satellites (segments, chunks, claims, supers, storyboard) and optionally
// explicit embedding items. Items reference satellites by position:
//
//	{"type": "claim", "text": "Fewer calories", "parent": {"kind": "claim", "index": 1}}
//
// When a document has no items, one item is derived per non-empty summary,
// chunk, segment, claim, super and storyboard shot.
//
// # Pipeline
//
// Documents run on an ants worker pool. Per document:
//
//  1. validate
//  2. copy vectors of unchanged items (same type and text) from the stored ad
//  3. embed the rest with GenerateBatch, which retries transient failures
//  4. in one transaction: upsert ad and editorial, replace satellites,
//     resolve parent positions to ids, replace items
//
// A failing document is counted in Statistics and leaves the stored ad
// untouched. Only one import runs at a time per Importer.
package importer
