package types

import "strings"

// ItemType discriminates what kind of ad fragment an embedding item indexes
type ItemType string

const (
	ItemTranscriptChunk      ItemType = "transcript_chunk"
	ItemSegmentSummary       ItemType = "segment_summary"
	ItemClaim                ItemType = "claim"
	ItemSuper                ItemType = "super"
	ItemStoryboardShot       ItemType = "storyboard_shot"
	ItemAdSummary            ItemType = "ad_summary"
	ItemImpliedClaim         ItemType = "implied_claim"
	ItemCTAOffer             ItemType = "cta_offer"
	ItemCreativeDNA          ItemType = "creative_dna"
	ItemImpactSummary        ItemType = "impact_summary"
	ItemMemorableElements    ItemType = "memorable_elements"
	ItemEmotionalPeaks       ItemType = "emotional_peaks"
	ItemDistinctiveAssets    ItemType = "distinctive_assets"
	ItemEffectivenessInsight ItemType = "effectiveness_insight"
)

// allItemTypes is kept in declaration order; AllItemTypes hands out copies.
var allItemTypes = []ItemType{
	ItemTranscriptChunk,
	ItemSegmentSummary,
	ItemClaim,
	ItemSuper,
	ItemStoryboardShot,
	ItemAdSummary,
	ItemImpliedClaim,
	ItemCTAOffer,
	ItemCreativeDNA,
	ItemImpactSummary,
	ItemMemorableElements,
	ItemEmotionalPeaks,
	ItemDistinctiveAssets,
	ItemEffectivenessInsight,
}

// AllItemTypes returns the full fixed enumeration of item types
func AllItemTypes() []ItemType {
	out := make([]ItemType, len(allItemTypes))
	copy(out, allItemTypes)
	return out
}

// Valid reports whether t is one of the known item types
func (t ItemType) Valid() bool {
	for _, known := range allItemTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseItemType normalizes s and reports whether it names a known item type
func ParseItemType(s string) (ItemType, bool) {
	t := ItemType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// ResolveItemTypes turns a caller-supplied allowlist into the set used for ranking.
//
// Unknown entries are dropped. A nil or empty list, or one made up only of
// unknown entries, means no restriction and resolves to every known type.
// Duplicates are removed and the result keeps enumeration order.
func ResolveItemTypes(requested []string) []ItemType {
	if len(requested) == 0 {
		return AllItemTypes()
	}

	wanted := make(map[ItemType]bool, len(requested))
	for _, raw := range requested {
		if t, ok := ParseItemType(raw); ok {
			wanted[t] = true
		}
	}
	if len(wanted) == 0 {
		return AllItemTypes()
	}

	out := make([]ItemType, 0, len(wanted))
	for _, t := range allItemTypes {
		if wanted[t] {
			out = append(out, t)
		}
	}
	return out
}

// ItemTypeStrings converts item types for use as query arguments
func ItemTypeStrings(types []ItemType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
