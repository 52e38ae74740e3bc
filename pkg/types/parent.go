package types

import "fmt"

// ParentKind names the satellite table an embedding item may point at
type ParentKind string

const (
	ParentNone           ParentKind = ""
	ParentChunk          ParentKind = "chunk"
	ParentSegment        ParentKind = "segment"
	ParentClaim          ParentKind = "claim"
	ParentSuper          ParentKind = "super"
	ParentStoryboardShot ParentKind = "storyboard_shot"
)

// ParentRef is the optional link from an embedding item to exactly one
// satellite entity of its ad. The zero value means "no parent".
type ParentRef struct {
	Kind ParentKind
	ID   int64
}

// NoParent is the empty reference
var NoParent = ParentRef{}

// ChunkParent references an ad chunk
func ChunkParent(id int64) ParentRef { return ParentRef{Kind: ParentChunk, ID: id} }

// SegmentParent references an ad segment
func SegmentParent(id int64) ParentRef { return ParentRef{Kind: ParentSegment, ID: id} }

// ClaimParent references an ad claim
func ClaimParent(id int64) ParentRef { return ParentRef{Kind: ParentClaim, ID: id} }

// SuperParent references an on-screen super
func SuperParent(id int64) ParentRef { return ParentRef{Kind: ParentSuper, ID: id} }

// ShotParent references a storyboard shot
func ShotParent(id int64) ParentRef { return ParentRef{Kind: ParentStoryboardShot, ID: id} }

// IsNone reports whether the reference is empty
func (p ParentRef) IsNone() bool {
	return p.Kind == ParentNone
}

func (p ParentRef) String() string {
	if p.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%s:%d", p.Kind, p.ID)
}

// allowedParents maps item types to the only satellite kind they may reference
var allowedParents = map[ItemType]ParentKind{
	ItemTranscriptChunk: ParentChunk,
	ItemSegmentSummary:  ParentSegment,
	ItemClaim:           ParentClaim,
	ItemImpliedClaim:    ParentClaim,
	ItemSuper:           ParentSuper,
	ItemStoryboardShot:  ParentStoryboardShot,
}

// ParentKindFor returns the satellite kind an item type may reference, or
// ParentNone for derived insight types that never have one.
func ParentKindFor(t ItemType) ParentKind {
	return allowedParents[t]
}

// ValidateParent checks that ref agrees with the item type. Every type may
// omit its parent.
func ValidateParent(t ItemType, ref ParentRef) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownItemType, t)
	}
	if ref.IsNone() {
		return nil
	}
	if ref.ID <= 0 {
		return fmt.Errorf("%w: %s parent has no id", ErrInvalidParent, ref.Kind)
	}
	want := ParentKindFor(t)
	if want == ParentNone || ref.Kind != want {
		return fmt.Errorf("%w: item type %s cannot reference %s", ErrInvalidParent, t, ref.Kind)
	}
	return nil
}

// ParseParentKind converts a stored parent kind back into its typed form
func ParseParentKind(s string) (ParentKind, error) {
	switch k := ParentKind(s); k {
	case ParentNone, ParentChunk, ParentSegment, ParentClaim, ParentSuper, ParentStoryboardShot:
		return k, nil
	default:
		return ParentNone, fmt.Errorf("%w: unknown parent kind %q", ErrInvalidParent, s)
	}
}
