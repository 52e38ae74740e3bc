package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

// Storage defines the interface for persisting ads, their extracted fragments
// and the embedding items the ranking engine searches over
type Storage interface {
	// Ad operations
	UpsertAd(ctx context.Context, ad *Ad) error
	GetAd(ctx context.Context, adID int64) (*Ad, error)
	GetAdByExternalID(ctx context.Context, externalID string) (*Ad, error)
	DeleteAd(ctx context.Context, adID int64) error

	// Editorial operations (read by the publish gate)
	UpsertEditorial(ctx context.Context, ed *Editorial) error
	GetEditorial(ctx context.Context, adID int64) (*Editorial, error)

	// Satellite operations
	ReplaceSatellites(ctx context.Context, adID int64, sat *Satellites) error
	GetSatellites(ctx context.Context, adID int64) (*Satellites, error)

	// Embedding item operations
	InsertEmbeddingItem(ctx context.Context, item *EmbeddingItem) error
	ReplaceAdItems(ctx context.Context, adID int64, items []*EmbeddingItem) error
	ListEmbeddingItems(ctx context.Context, adID int64) ([]*EmbeddingItem, error)

	// Search operations
	HybridSearch(ctx context.Context, q HybridQuery) ([]HybridRow, error)

	// Reporting operations
	AdCounts(ctx context.Context, adIDs []int64) (map[int64]AdCount, error)
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Ad is the canonical record for one commercial
type Ad struct {
	ID              int64
	ExternalID      string // Identifier assigned by the ingestion pipeline
	BrandName       string
	ProductName     string
	Category        string
	Year            int
	DurationSeconds float64
	OneLineSummary  string
	Format          string

	// Content flags used as search filters
	HasSupers      bool
	HasPriceClaims bool
	HasComparisons bool
	HasCelebrity   bool

	// Analysis blobs produced by ingestion, stored as JSON
	ImpactScores     json.RawMessage
	EmotionalMetrics json.RawMessage
	HeroAnalysis     json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EditorialStatus is the workflow state owned by the editorial subsystem
type EditorialStatus string

const (
	EditorialDraft     EditorialStatus = "draft"
	EditorialReview    EditorialStatus = "review"
	EditorialPublished EditorialStatus = "published"
	EditorialArchived  EditorialStatus = "archived"
)

// Editorial is the curated record for an ad. At most one exists per ad.
type Editorial struct {
	AdID        int64
	BrandSlug   string
	Slug        string
	Status      EditorialStatus
	IsHidden    bool
	PublishDate *time.Time
	UpdatedAt   time.Time
}

// IsPublic evaluates the publish gate: published, not hidden, and the
// publish date (if any) has been reached
func (e *Editorial) IsPublic(now time.Time) bool {
	if e == nil {
		return false
	}
	if e.Status != EditorialPublished || e.IsHidden {
		return false
	}
	return e.PublishDate == nil || !e.PublishDate.After(now)
}

// Segment is a time-bounded dialogue segment
type Segment struct {
	ID           int64
	AdID         int64
	StartSeconds float64
	EndSeconds   float64
	Text         string
}

// Chunk is a slice of the transcript
type Chunk struct {
	ID           int64
	AdID         int64
	ChunkIndex   int
	StartSeconds float64
	EndSeconds   float64
	Text         string
}

// Claim is a factual or comparative statement made by the ad
type Claim struct {
	ID            int64
	AdID          int64
	Text          string
	ClaimType     string
	IsComparative bool
}

// Super is an on-screen text overlay
type Super struct {
	ID           int64
	AdID         int64
	Text         string
	StartSeconds float64
	EndSeconds   float64
}

// StoryboardShot describes one shot
type StoryboardShot struct {
	ID          int64
	AdID        int64
	ShotIndex   int
	Description string
}

// Satellites groups every extracted structure of one ad
type Satellites struct {
	Segments []*Segment
	Chunks   []*Chunk
	Claims   []*Claim
	Supers   []*Super
	Shots    []*StoryboardShot
}

// EmbeddingItem is the retrieval unit: one indexable fragment of an ad.
// Its lexical representation is derived from Text by the store and cannot
// be set directly.
type EmbeddingItem struct {
	ID        int64
	AdID      int64
	ItemType  types.ItemType
	Parent    types.ParentRef
	Text      string
	Embedding []float32
	Metadata  map[string]any
	CreatedAt time.Time
}

// SearchFilters restrict ranking candidates by ad attributes. Nil flag
// pointers mean "don't care".
type SearchFilters struct {
	Brand          string
	Year           int
	Category       string
	HasSupers      *bool
	HasPriceClaims *bool
	HasComparisons *bool
	HasCelebrity   *bool
}

// IsEmpty reports whether no filter is set
func (f *SearchFilters) IsEmpty() bool {
	return f == nil || (f.Brand == "" && f.Year == 0 && f.Category == "" &&
		f.HasSupers == nil && f.HasPriceClaims == nil && f.HasComparisons == nil && f.HasCelebrity == nil)
}

// HybridQuery is the input of the ranking operation
type HybridQuery struct {
	Embedding []float32
	Text      string // Optional; empty disables the lexical side
	Limit     int
	ItemTypes []types.ItemType // Empty means every known type
	Filters   *SearchFilters
	RRFK      float64 // Zero uses rank.DefaultK

	// PublicOnly pushes the publish gate into candidate generation
	PublicOnly bool
	Now        time.Time
}

// AdSummary carries the ad display fields attached to every ranked row
type AdSummary struct {
	BrandName      string
	ProductName    string
	OneLineSummary string
	Format         string
	Category       string
	Year           int
	HeroAnalysis   json.RawMessage
	ImpactScores   json.RawMessage
}

// HybridRow is one ranked embedding item enriched with its ad
type HybridRow struct {
	ItemID   int64
	AdID     int64
	ItemType types.ItemType
	Text     string
	Metadata map[string]any

	Ad        AdSummary
	Editorial *Editorial // Nil when the ad was never curated

	Score        float64
	SemanticRank *int
	LexicalRank  *int
	Rank         int
}

// AdCount holds per-ad counts of associated rows
type AdCount struct {
	Chunks         int
	Segments       int
	Storyboards    int
	Claims         int
	Supers         int
	EmbeddingItems int
}

// Status reports overall index health
type Status struct {
	Backend       string
	SchemaVersion string
	Dimension     int
	TotalAds      int
	TotalItems    int
	ItemsByType   map[types.ItemType]int
	Healthy       bool
}
