// Package types provides shared type definitions for the ad retrieval engine.
//
// # Item types
//
// Every indexed fragment of a commercial is an embedding item carrying an
// ItemType from a fixed enumeration of fourteen values. Callers narrow a
// search with an allowlist of item types; ResolveItemTypes applies the
// lenient policy used everywhere:
//
//	types.ResolveItemTypes(nil)                      // all fourteen types
//	types.ResolveItemTypes([]string{"cta_offer"})    // [cta_offer]
//	types.ResolveItemTypes([]string{"bogus"})        // all fourteen types
//	types.ResolveItemTypes([]string{"claim", "x"})   // [claim]
//
// # Parent references
//
// An item may point at the satellite entity it was extracted from. ParentRef
// is a small tagged union over {none, chunk, segment, claim, super,
// storyboard_shot}; ValidateParent enforces that the kind agrees with the
// item type, so a claim item can never reference a segment:
//
//	ref := types.ClaimParent(42)
//	err := types.ValidateParent(types.ItemClaim, ref)       // nil
//	err = types.ValidateParent(types.ItemSegmentSummary, ref) // ErrInvalidParent
//
// # Search results
//
// SearchResult is the caller-facing shape produced by the query gateway:
// fused score, per-side ranks, the fragment text, ad display fields and a
// canonical link.
package types
