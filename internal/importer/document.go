package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

// ErrInvalidDocument marks a document that cannot be imported
var ErrInvalidDocument = errors.New("invalid ad document")

// Document is one analysed commercial as produced by the ingestion pipeline
type Document struct {
	ExternalID      string  `json:"external_id"`
	Brand           string  `json:"brand"`
	Product         string  `json:"product"`
	Category        string  `json:"category"`
	Year            int     `json:"year"`
	DurationSeconds float64 `json:"duration_seconds"`
	Summary         string  `json:"one_line_summary"`
	Format          string  `json:"format"`

	HasSupers      bool `json:"has_supers"`
	HasPriceClaims bool `json:"has_price_claims"`
	HasComparisons bool `json:"has_comparisons"`
	HasCelebrity   bool `json:"has_celebrity"`

	ImpactScores     json.RawMessage `json:"impact_scores,omitempty"`
	EmotionalMetrics json.RawMessage `json:"emotional_metrics,omitempty"`
	HeroAnalysis     json.RawMessage `json:"hero_analysis,omitempty"`

	Editorial *EditorialDocument `json:"editorial,omitempty"`

	Segments   []SegmentDocument `json:"segments,omitempty"`
	Chunks     []ChunkDocument   `json:"chunks,omitempty"`
	Claims     []ClaimDocument   `json:"claims,omitempty"`
	Supers     []SuperDocument   `json:"supers,omitempty"`
	Storyboard []ShotDocument    `json:"storyboard,omitempty"`

	// Items lists explicit embedding items. When empty, items are derived
	// from the summary and satellites.
	Items []ItemDocument `json:"items,omitempty"`
}

// EditorialDocument is the curated record shipped with an ad
type EditorialDocument struct {
	BrandSlug   string     `json:"brand_slug"`
	Slug        string     `json:"slug"`
	Status      string     `json:"status"`
	IsHidden    bool       `json:"is_hidden"`
	PublishDate *time.Time `json:"publish_date,omitempty"`
}

type SegmentDocument struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type ChunkDocument struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type ClaimDocument struct {
	Text          string `json:"text"`
	ClaimType     string `json:"claim_type"`
	IsComparative bool   `json:"is_comparative"`
}

type SuperDocument struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type ShotDocument struct {
	Description string `json:"description"`
}

// ItemDocument is one embedding item. Embedding may be omitted, in which
// case the importer generates it.
type ItemDocument struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Parent    *ParentDocument `json:"parent,omitempty"`
	Embedding []float32       `json:"embedding,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// ParentDocument points at a satellite of the same document by position
type ParentDocument struct {
	Kind  string `json:"kind"`
	Index int    `json:"index"`
}

// ReadDocuments decodes a JSON array of documents or a single document
func ReadDocuments(r io.Reader) ([]Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var docs []Document
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("failed to decode documents: %w", err)
		}
		return docs, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return []Document{doc}, nil
}

// pendingItem is an item whose parent is still a document position
type pendingItem struct {
	itemType  types.ItemType
	text      string
	parent    *ParentDocument
	embedding []float32
	metadata  map[string]any
}

// Validate checks the document before anything is written
func (d *Document) Validate() error {
	if strings.TrimSpace(d.ExternalID) == "" {
		return fmt.Errorf("%w: external_id is required", ErrInvalidDocument)
	}
	if d.Editorial != nil {
		if _, err := parseStatus(d.Editorial.Status); err != nil {
			return err
		}
		if d.Editorial.BrandSlug == "" || d.Editorial.Slug == "" {
			return fmt.Errorf("%w: editorial needs brand_slug and slug", ErrInvalidDocument)
		}
	}
	for i, it := range d.Items {
		t := types.ItemType(it.Type)
		if !t.Valid() {
			return fmt.Errorf("%w: item %d has unknown type %q", ErrInvalidDocument, i, it.Type)
		}
		if strings.TrimSpace(it.Text) == "" {
			return fmt.Errorf("%w: item %d has no text", ErrInvalidDocument, i)
		}
		if it.Parent != nil {
			if err := d.checkParent(t, it.Parent); err != nil {
				return fmt.Errorf("%w: item %d: %w", ErrInvalidDocument, i, err)
			}
		}
	}
	return nil
}

func (d *Document) checkParent(t types.ItemType, p *ParentDocument) error {
	kind, err := types.ParseParentKind(p.Kind)
	if err != nil {
		return err
	}
	if kind != types.ParentKindFor(t) || kind == types.ParentNone {
		return fmt.Errorf("item type %s cannot reference %s", t, kind)
	}
	if p.Index < 0 || p.Index >= d.satelliteCount(kind) {
		return fmt.Errorf("%s index %d out of range", kind, p.Index)
	}
	return nil
}

func (d *Document) satelliteCount(kind types.ParentKind) int {
	switch kind {
	case types.ParentChunk:
		return len(d.Chunks)
	case types.ParentSegment:
		return len(d.Segments)
	case types.ParentClaim:
		return len(d.Claims)
	case types.ParentSuper:
		return len(d.Supers)
	case types.ParentStoryboardShot:
		return len(d.Storyboard)
	}
	return 0
}

func parseStatus(s string) (storage.EditorialStatus, error) {
	switch st := storage.EditorialStatus(s); st {
	case "":
		return storage.EditorialDraft, nil
	case storage.EditorialDraft, storage.EditorialReview, storage.EditorialPublished, storage.EditorialArchived:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown editorial status %q", ErrInvalidDocument, s)
	}
}

func (d *Document) toAd() *storage.Ad {
	return &storage.Ad{
		ExternalID:       d.ExternalID,
		BrandName:        d.Brand,
		ProductName:      d.Product,
		Category:         d.Category,
		Year:             d.Year,
		DurationSeconds:  d.DurationSeconds,
		OneLineSummary:   d.Summary,
		Format:           d.Format,
		HasSupers:        d.HasSupers || len(d.Supers) > 0,
		HasPriceClaims:   d.HasPriceClaims,
		HasComparisons:   d.HasComparisons || d.hasComparativeClaim(),
		HasCelebrity:     d.HasCelebrity,
		ImpactScores:     d.ImpactScores,
		EmotionalMetrics: d.EmotionalMetrics,
		HeroAnalysis:     d.HeroAnalysis,
	}
}

func (d *Document) hasComparativeClaim() bool {
	for _, c := range d.Claims {
		if c.IsComparative {
			return true
		}
	}
	return false
}

func (d *Document) toEditorial(adID int64) *storage.Editorial {
	status, _ := parseStatus(d.Editorial.Status)
	return &storage.Editorial{
		AdID:        adID,
		BrandSlug:   d.Editorial.BrandSlug,
		Slug:        d.Editorial.Slug,
		Status:      status,
		IsHidden:    d.Editorial.IsHidden,
		PublishDate: d.Editorial.PublishDate,
	}
}

func (d *Document) toSatellites() *storage.Satellites {
	sat := &storage.Satellites{}
	for _, s := range d.Segments {
		sat.Segments = append(sat.Segments, &storage.Segment{StartSeconds: s.Start, EndSeconds: s.End, Text: s.Text})
	}
	for i, c := range d.Chunks {
		sat.Chunks = append(sat.Chunks, &storage.Chunk{ChunkIndex: i, StartSeconds: c.Start, EndSeconds: c.End, Text: c.Text})
	}
	for _, c := range d.Claims {
		sat.Claims = append(sat.Claims, &storage.Claim{Text: c.Text, ClaimType: c.ClaimType, IsComparative: c.IsComparative})
	}
	for _, s := range d.Supers {
		sat.Supers = append(sat.Supers, &storage.Super{Text: s.Text, StartSeconds: s.Start, EndSeconds: s.End})
	}
	for i, s := range d.Storyboard {
		sat.Shots = append(sat.Shots, &storage.StoryboardShot{ShotIndex: i, Description: s.Description})
	}
	return sat
}

// pendingItems returns the explicit items, or derives one item per
// non-empty summary and satellite
func (d *Document) pendingItems() []*pendingItem {
	if len(d.Items) > 0 {
		out := make([]*pendingItem, len(d.Items))
		for i, it := range d.Items {
			out[i] = &pendingItem{
				itemType:  types.ItemType(it.Type),
				text:      strings.TrimSpace(it.Text),
				parent:    it.Parent,
				embedding: it.Embedding,
				metadata:  it.Metadata,
			}
		}
		return out
	}

	var out []*pendingItem
	add := func(t types.ItemType, text string, kind types.ParentKind, idx int) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		item := &pendingItem{itemType: t, text: text}
		if kind != types.ParentNone {
			item.parent = &ParentDocument{Kind: string(kind), Index: idx}
		}
		out = append(out, item)
	}

	add(types.ItemAdSummary, d.Summary, types.ParentNone, 0)
	for i, c := range d.Chunks {
		add(types.ItemTranscriptChunk, c.Text, types.ParentChunk, i)
	}
	for i, s := range d.Segments {
		add(types.ItemSegmentSummary, s.Text, types.ParentSegment, i)
	}
	for i, c := range d.Claims {
		add(types.ItemClaim, c.Text, types.ParentClaim, i)
	}
	for i, s := range d.Supers {
		add(types.ItemSuper, s.Text, types.ParentSuper, i)
	}
	for i, s := range d.Storyboard {
		add(types.ItemStoryboardShot, s.Description, types.ParentStoryboardShot, i)
	}
	return out
}

// resolveParent maps a document position onto the stored satellite id
func resolveParent(p *ParentDocument, sat *storage.Satellites) types.ParentRef {
	if p == nil {
		return types.NoParent
	}
	switch types.ParentKind(p.Kind) {
	case types.ParentChunk:
		return types.ChunkParent(sat.Chunks[p.Index].ID)
	case types.ParentSegment:
		return types.SegmentParent(sat.Segments[p.Index].ID)
	case types.ParentClaim:
		return types.ClaimParent(sat.Claims[p.Index].ID)
	case types.ParentSuper:
		return types.SuperParent(sat.Supers[p.Index].ID)
	case types.ParentStoryboardShot:
		return types.ShotParent(sat.Shots[p.Index].ID)
	}
	return types.NoParent
}
