package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidAd is returned for ads missing required fields
	ErrInvalidAd = errors.New("invalid ad")
	// ErrInvalidItem is returned for embedding items that fail validation
	ErrInvalidItem = errors.New("invalid embedding item")
	// ErrDimensionMismatch is returned when a vector has the wrong length
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DefaultDimension is the embedding width the index is built for
const DefaultDimension = 1536

// Option configures a store
type Option func(*sqlStore)

// WithDimension sets the required embedding dimension
func WithDimension(dim int) Option {
	return func(s *sqlStore) {
		if dim > 0 {
			s.dimension = dim
		}
	}
}

// sqlStore holds the SQL shared by the SQLite and Postgres backends
type sqlStore struct {
	db        *sql.DB
	dialect   dialect
	dimension int
}

func newSQLStore(db *sql.DB, d dialect, opts ...Option) *sqlStore {
	s := &sqlStore{db: db, dialect: d, dimension: DefaultDimension}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dimension returns the embedding width enforced on writes
func (s *sqlStore) Dimension() int {
	return s.dimension
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *sqlStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, store: s}, nil
}

// querier returns the DB querier
func (s *sqlStore) querier() querier {
	return s.db
}

// inTx runs fn inside a transaction that is committed only if fn succeeds
func (s *sqlStore) inTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// sqlTx wraps a SQL transaction
type sqlTx struct {
	tx    *sql.Tx
	store *sqlStore
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

// Ad operations

const adColumns = `id, external_id, brand_name, product_name, category, year, duration_seconds,
		       one_line_summary, format, has_supers, has_price_claims, has_comparisons, has_celebrity,
		       impact_scores, emotional_metrics, hero_analysis, created_at, updated_at`

// nullJSON stores empty blobs as NULL
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

// upsertAdWithQuerier inserts or updates an ad keyed by its external id
func (s *sqlStore) upsertAdWithQuerier(ctx context.Context, q querier, ad *Ad) error {
	if ad == nil || strings.TrimSpace(ad.ExternalID) == "" {
		return fmt.Errorf("%w: external id is required", ErrInvalidAd)
	}

	query := s.dialect.rebind(`
		INSERT INTO ads (external_id, brand_name, product_name, category, year, duration_seconds,
		                 one_line_summary, format, has_supers, has_price_claims, has_comparisons,
		                 has_celebrity, impact_scores, emotional_metrics, hero_analysis)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			brand_name = excluded.brand_name,
			product_name = excluded.product_name,
			category = excluded.category,
			year = excluded.year,
			duration_seconds = excluded.duration_seconds,
			one_line_summary = excluded.one_line_summary,
			format = excluded.format,
			has_supers = excluded.has_supers,
			has_price_claims = excluded.has_price_claims,
			has_comparisons = excluded.has_comparisons,
			has_celebrity = excluded.has_celebrity,
			impact_scores = excluded.impact_scores,
			emotional_metrics = excluded.emotional_metrics,
			hero_analysis = excluded.hero_analysis,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`)

	var id int64
	err := q.QueryRowContext(ctx, query,
		ad.ExternalID, ad.BrandName, ad.ProductName, ad.Category, ad.Year, ad.DurationSeconds,
		ad.OneLineSummary, ad.Format, ad.HasSupers, ad.HasPriceClaims, ad.HasComparisons,
		ad.HasCelebrity, nullJSON(ad.ImpactScores), nullJSON(ad.EmotionalMetrics), nullJSON(ad.HeroAnalysis),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert ad: %w", err)
	}
	ad.ID = id
	return nil
}

func (s *sqlStore) UpsertAd(ctx context.Context, ad *Ad) error {
	return s.upsertAdWithQuerier(ctx, s.querier(), ad)
}

func scanAd(row interface{ Scan(...any) error }) (*Ad, error) {
	var ad Ad
	var impact, emotional, hero sql.NullString
	err := row.Scan(
		&ad.ID, &ad.ExternalID, &ad.BrandName, &ad.ProductName, &ad.Category, &ad.Year,
		&ad.DurationSeconds, &ad.OneLineSummary, &ad.Format, &ad.HasSupers, &ad.HasPriceClaims,
		&ad.HasComparisons, &ad.HasCelebrity, &impact, &emotional, &hero, &ad.CreatedAt, &ad.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ad.ImpactScores = rawJSON(impact)
	ad.EmotionalMetrics = rawJSON(emotional)
	ad.HeroAnalysis = rawJSON(hero)
	return &ad, nil
}

// getAdWithQuerier is the internal implementation that uses a querier
func (s *sqlStore) getAdWithQuerier(ctx context.Context, q querier, adID int64) (*Ad, error) {
	query := s.dialect.rebind(`SELECT ` + adColumns + ` FROM ads WHERE id = ?`)
	return scanAd(q.QueryRowContext(ctx, query, adID))
}

func (s *sqlStore) GetAd(ctx context.Context, adID int64) (*Ad, error) {
	return s.getAdWithQuerier(ctx, s.querier(), adID)
}

func (s *sqlStore) getAdByExternalIDWithQuerier(ctx context.Context, q querier, externalID string) (*Ad, error) {
	query := s.dialect.rebind(`SELECT ` + adColumns + ` FROM ads WHERE external_id = ?`)
	return scanAd(q.QueryRowContext(ctx, query, externalID))
}

func (s *sqlStore) GetAdByExternalID(ctx context.Context, externalID string) (*Ad, error) {
	return s.getAdByExternalIDWithQuerier(ctx, s.querier(), externalID)
}

// deleteAdWithQuerier removes an ad; satellites, editorial and items cascade
func (s *sqlStore) deleteAdWithQuerier(ctx context.Context, q querier, adID int64) error {
	result, err := q.ExecContext(ctx, s.dialect.rebind(`DELETE FROM ads WHERE id = ?`), adID)
	if err != nil {
		return fmt.Errorf("failed to delete ad: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) DeleteAd(ctx context.Context, adID int64) error {
	return s.deleteAdWithQuerier(ctx, s.querier(), adID)
}

func (s *sqlStore) adExists(ctx context.Context, q querier, adID int64) error {
	var one int
	err := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM ads WHERE id = ?`), adID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("ad %d: %w", adID, ErrNotFound)
	}
	return err
}

// Editorial operations

func validStatus(st EditorialStatus) bool {
	switch st {
	case EditorialDraft, EditorialReview, EditorialPublished, EditorialArchived:
		return true
	}
	return false
}

// upsertEditorialWithQuerier is the internal implementation that uses a querier
func (s *sqlStore) upsertEditorialWithQuerier(ctx context.Context, q querier, ed *Editorial) error {
	if ed == nil || ed.AdID <= 0 {
		return fmt.Errorf("%w: editorial record needs an ad id", ErrInvalidAd)
	}
	if ed.Status == "" {
		ed.Status = EditorialDraft
	}
	if !validStatus(ed.Status) {
		return fmt.Errorf("%w: unknown editorial status %q", ErrInvalidAd, ed.Status)
	}

	var publish any
	if ed.PublishDate != nil {
		publish = ed.PublishDate.Unix()
	}

	query := s.dialect.rebind(`
		INSERT INTO ad_editorial (ad_id, brand_slug, slug, status, is_hidden, publish_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ad_id) DO UPDATE SET
			brand_slug = excluded.brand_slug,
			slug = excluded.slug,
			status = excluded.status,
			is_hidden = excluded.is_hidden,
			publish_date = excluded.publish_date,
			updated_at = CURRENT_TIMESTAMP
	`)
	_, err := q.ExecContext(ctx, query, ed.AdID, ed.BrandSlug, ed.Slug, string(ed.Status), ed.IsHidden, publish)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("%w: slug %s/%s", ErrAlreadyExists, ed.BrandSlug, ed.Slug)
		}
		return fmt.Errorf("failed to upsert editorial: %w", err)
	}
	return nil
}

func (s *sqlStore) UpsertEditorial(ctx context.Context, ed *Editorial) error {
	return s.upsertEditorialWithQuerier(ctx, s.querier(), ed)
}

func (s *sqlStore) getEditorialWithQuerier(ctx context.Context, q querier, adID int64) (*Editorial, error) {
	query := s.dialect.rebind(`
		SELECT ad_id, brand_slug, slug, status, is_hidden, publish_date, updated_at
		FROM ad_editorial
		WHERE ad_id = ?
	`)
	var ed Editorial
	var status string
	var publish sql.NullInt64
	err := q.QueryRowContext(ctx, query, adID).Scan(
		&ed.AdID, &ed.BrandSlug, &ed.Slug, &status, &ed.IsHidden, &publish, &ed.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ed.Status = EditorialStatus(status)
	if publish.Valid {
		t := time.Unix(publish.Int64, 0).UTC()
		ed.PublishDate = &t
	}
	return &ed, nil
}

func (s *sqlStore) GetEditorial(ctx context.Context, adID int64) (*Editorial, error) {
	return s.getEditorialWithQuerier(ctx, s.querier(), adID)
}

// Satellite operations

// replaceSatellitesWithQuerier swaps every satellite row of an ad. Items that
// pointed at the old rows lose their parent reference.
func (s *sqlStore) replaceSatellitesWithQuerier(ctx context.Context, q querier, adID int64, sat *Satellites) error {
	if err := s.adExists(ctx, q, adID); err != nil {
		return err
	}
	if sat == nil {
		sat = &Satellites{}
	}

	for _, table := range []string{"ad_segments", "ad_chunks", "ad_claims", "ad_supers", "ad_storyboards"} {
		if _, err := q.ExecContext(ctx, s.dialect.rebind(`DELETE FROM `+table+` WHERE ad_id = ?`), adID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if _, err := q.ExecContext(ctx, s.dialect.rebind(
		`UPDATE embedding_items SET parent_kind = '', parent_id = NULL WHERE ad_id = ? AND parent_kind <> ''`), adID); err != nil {
		return fmt.Errorf("failed to detach item parents: %w", err)
	}

	insert := func(query string, args ...any) (int64, error) {
		var id int64
		err := q.QueryRowContext(ctx, s.dialect.rebind(query), args...).Scan(&id)
		return id, err
	}

	var err error
	for _, seg := range sat.Segments {
		seg.AdID = adID
		if seg.ID, err = insert(`INSERT INTO ad_segments (ad_id, start_seconds, end_seconds, text) VALUES (?, ?, ?, ?) RETURNING id`,
			adID, seg.StartSeconds, seg.EndSeconds, seg.Text); err != nil {
			return fmt.Errorf("failed to insert segment: %w", err)
		}
	}
	for _, ch := range sat.Chunks {
		ch.AdID = adID
		if ch.ID, err = insert(`INSERT INTO ad_chunks (ad_id, chunk_index, start_seconds, end_seconds, text) VALUES (?, ?, ?, ?, ?) RETURNING id`,
			adID, ch.ChunkIndex, ch.StartSeconds, ch.EndSeconds, ch.Text); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	for _, cl := range sat.Claims {
		cl.AdID = adID
		if cl.ID, err = insert(`INSERT INTO ad_claims (ad_id, text, claim_type, is_comparative) VALUES (?, ?, ?, ?) RETURNING id`,
			adID, cl.Text, cl.ClaimType, cl.IsComparative); err != nil {
			return fmt.Errorf("failed to insert claim: %w", err)
		}
	}
	for _, su := range sat.Supers {
		su.AdID = adID
		if su.ID, err = insert(`INSERT INTO ad_supers (ad_id, text, start_seconds, end_seconds) VALUES (?, ?, ?, ?) RETURNING id`,
			adID, su.Text, su.StartSeconds, su.EndSeconds); err != nil {
			return fmt.Errorf("failed to insert super: %w", err)
		}
	}
	for _, sh := range sat.Shots {
		sh.AdID = adID
		if sh.ID, err = insert(`INSERT INTO ad_storyboards (ad_id, shot_index, description) VALUES (?, ?, ?) RETURNING id`,
			adID, sh.ShotIndex, sh.Description); err != nil {
			return fmt.Errorf("failed to insert storyboard shot: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) ReplaceSatellites(ctx context.Context, adID int64, sat *Satellites) error {
	return s.inTx(ctx, func(q querier) error {
		return s.replaceSatellitesWithQuerier(ctx, q, adID, sat)
	})
}

// getSatellitesWithQuerier loads every satellite row of an ad in stable order
func (s *sqlStore) getSatellitesWithQuerier(ctx context.Context, q querier, adID int64) (*Satellites, error) {
	if err := s.adExists(ctx, q, adID); err != nil {
		return nil, err
	}
	sat := &Satellites{}

	err := s.each(ctx, q, `SELECT id, start_seconds, end_seconds, text FROM ad_segments WHERE ad_id = ? ORDER BY start_seconds, id`,
		adID, func(rows *sql.Rows) error {
			seg := &Segment{AdID: adID}
			if err := rows.Scan(&seg.ID, &seg.StartSeconds, &seg.EndSeconds, &seg.Text); err != nil {
				return err
			}
			sat.Segments = append(sat.Segments, seg)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, q, `SELECT id, chunk_index, start_seconds, end_seconds, text FROM ad_chunks WHERE ad_id = ? ORDER BY chunk_index, id`,
		adID, func(rows *sql.Rows) error {
			ch := &Chunk{AdID: adID}
			if err := rows.Scan(&ch.ID, &ch.ChunkIndex, &ch.StartSeconds, &ch.EndSeconds, &ch.Text); err != nil {
				return err
			}
			sat.Chunks = append(sat.Chunks, ch)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, q, `SELECT id, text, claim_type, is_comparative FROM ad_claims WHERE ad_id = ? ORDER BY id`,
		adID, func(rows *sql.Rows) error {
			cl := &Claim{AdID: adID}
			if err := rows.Scan(&cl.ID, &cl.Text, &cl.ClaimType, &cl.IsComparative); err != nil {
				return err
			}
			sat.Claims = append(sat.Claims, cl)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, q, `SELECT id, text, start_seconds, end_seconds FROM ad_supers WHERE ad_id = ? ORDER BY start_seconds, id`,
		adID, func(rows *sql.Rows) error {
			su := &Super{AdID: adID}
			if err := rows.Scan(&su.ID, &su.Text, &su.StartSeconds, &su.EndSeconds); err != nil {
				return err
			}
			sat.Supers = append(sat.Supers, su)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, q, `SELECT id, shot_index, description FROM ad_storyboards WHERE ad_id = ? ORDER BY shot_index, id`,
		adID, func(rows *sql.Rows) error {
			sh := &StoryboardShot{AdID: adID}
			if err := rows.Scan(&sh.ID, &sh.ShotIndex, &sh.Description); err != nil {
				return err
			}
			sat.Shots = append(sat.Shots, sh)
			return nil
		})
	if err != nil {
		return nil, err
	}

	return sat, nil
}

func (s *sqlStore) GetSatellites(ctx context.Context, adID int64) (*Satellites, error) {
	return s.getSatellitesWithQuerier(ctx, s.querier(), adID)
}

// each runs a single-argument query and hands every row to fn
func (s *sqlStore) each(ctx context.Context, q querier, query string, arg any, fn func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, s.dialect.rebind(query), arg)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Embedding item operations

var parentTables = map[types.ParentKind]string{
	types.ParentChunk:          "ad_chunks",
	types.ParentSegment:        "ad_segments",
	types.ParentClaim:          "ad_claims",
	types.ParentSuper:          "ad_supers",
	types.ParentStoryboardShot: "ad_storyboards",
}

// validateItem checks everything that can be checked without the database
func (s *sqlStore) validateItem(item *EmbeddingItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil item", ErrInvalidItem)
	}
	if item.AdID <= 0 {
		return fmt.Errorf("%w: ad id is required", ErrInvalidItem)
	}
	if err := types.ValidateParent(item.ItemType, item.Parent); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if strings.TrimSpace(item.Text) == "" {
		return fmt.Errorf("%w: text is empty", ErrInvalidItem)
	}
	if len(item.Embedding) != s.dimension {
		return fmt.Errorf("%w: got %d, index uses %d", ErrDimensionMismatch, len(item.Embedding), s.dimension)
	}
	return nil
}

// insertEmbeddingItemWithQuerier is the internal implementation that uses a querier
func (s *sqlStore) insertEmbeddingItemWithQuerier(ctx context.Context, q querier, item *EmbeddingItem) error {
	if err := s.validateItem(item); err != nil {
		return err
	}
	if err := s.adExists(ctx, q, item.AdID); err != nil {
		return err
	}

	var parentID any
	if !item.Parent.IsNone() {
		var one int
		table := parentTables[item.Parent.Kind]
		err := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM `+table+` WHERE id = ? AND ad_id = ?`),
			item.Parent.ID, item.AdID).Scan(&one)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: parent %s does not belong to ad %d", ErrInvalidItem, item.Parent, item.AdID)
		}
		if err != nil {
			return err
		}
		parentID = item.Parent.ID
	}

	metadata := []byte("{}")
	if len(item.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(item.Metadata); err != nil {
			return fmt.Errorf("%w: metadata: %v", ErrInvalidItem, err)
		}
	}

	query := s.dialect.rebind(`
		INSERT INTO embedding_items (ad_id, item_type, parent_kind, parent_id, text, embedding, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	var id int64
	err := q.QueryRowContext(ctx, query,
		item.AdID, string(item.ItemType), string(item.Parent.Kind), parentID,
		item.Text, s.dialect.vectorArg(item.Embedding), string(metadata),
	).Scan(&id)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("%w: %s item for ad %d", ErrAlreadyExists, item.ItemType, item.AdID)
		}
		return fmt.Errorf("failed to insert embedding item: %w", err)
	}
	item.ID = id
	return nil
}

func (s *sqlStore) InsertEmbeddingItem(ctx context.Context, item *EmbeddingItem) error {
	return s.insertEmbeddingItemWithQuerier(ctx, s.querier(), item)
}

// replaceAdItemsWithQuerier drops every item of an ad and inserts the new set
func (s *sqlStore) replaceAdItemsWithQuerier(ctx context.Context, q querier, adID int64, items []*EmbeddingItem) error {
	if err := s.adExists(ctx, q, adID); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, s.dialect.rebind(`DELETE FROM embedding_items WHERE ad_id = ?`), adID); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	for i, item := range items {
		if item == nil {
			return fmt.Errorf("%w: nil item at index %d", ErrInvalidItem, i)
		}
		if item.AdID == 0 {
			item.AdID = adID
		}
		if item.AdID != adID {
			return fmt.Errorf("%w: item %d belongs to ad %d, not %d", ErrInvalidItem, i, item.AdID, adID)
		}
		if err := s.insertEmbeddingItemWithQuerier(ctx, q, item); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func (s *sqlStore) ReplaceAdItems(ctx context.Context, adID int64, items []*EmbeddingItem) error {
	return s.inTx(ctx, func(q querier) error {
		return s.replaceAdItemsWithQuerier(ctx, q, adID, items)
	})
}

func (s *sqlStore) listEmbeddingItemsWithQuerier(ctx context.Context, q querier, adID int64) ([]*EmbeddingItem, error) {
	query := s.dialect.rebind(`
		SELECT id, ad_id, item_type, parent_kind, parent_id, text, embedding, metadata, created_at
		FROM embedding_items
		WHERE ad_id = ?
		ORDER BY id
	`)
	rows, err := q.QueryContext(ctx, query, adID)
	if err != nil {
		return nil, fmt.Errorf("failed to list embedding items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]*EmbeddingItem, 0)
	for rows.Next() {
		var item EmbeddingItem
		var itemType, parentKind string
		var parentID sql.NullInt64
		var metadata []byte
		vec := s.dialect.newVectorDest()
		if err := rows.Scan(&item.ID, &item.AdID, &itemType, &parentKind, &parentID,
			&item.Text, vec.dest(), &metadata, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.ItemType = types.ItemType(itemType)
		kind, err := types.ParseParentKind(parentKind)
		if err != nil {
			return nil, err
		}
		if kind != types.ParentNone && parentID.Valid {
			item.Parent = types.ParentRef{Kind: kind, ID: parentID.Int64}
		}
		item.Embedding = vec.vector()
		if item.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (s *sqlStore) ListEmbeddingItems(ctx context.Context, adID int64) ([]*EmbeddingItem, error) {
	return s.listEmbeddingItemsWithQuerier(ctx, s.querier(), adID)
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// Reporting operations

// adCountsWithQuerier computes per-ad counts in a single statement
func (s *sqlStore) adCountsWithQuerier(ctx context.Context, q querier, adIDs []int64) (map[int64]AdCount, error) {
	query := `
		SELECT a.id,
		       (SELECT COUNT(*) FROM ad_chunks c WHERE c.ad_id = a.id),
		       (SELECT COUNT(*) FROM ad_segments sg WHERE sg.ad_id = a.id),
		       (SELECT COUNT(*) FROM ad_storyboards sb WHERE sb.ad_id = a.id),
		       (SELECT COUNT(*) FROM ad_claims cl WHERE cl.ad_id = a.id),
		       (SELECT COUNT(*) FROM ad_supers su WHERE su.ad_id = a.id),
		       (SELECT COUNT(*) FROM embedding_items ei WHERE ei.ad_id = a.id)
		FROM ads a
	`
	args := make([]any, 0, len(adIDs))
	if len(adIDs) > 0 {
		placeholders := make([]string, len(adIDs))
		for i, id := range adIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += " WHERE a.id IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY a.id"

	rows, err := q.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count ad rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[int64]AdCount)
	for rows.Next() {
		var id int64
		var c AdCount
		if err := rows.Scan(&id, &c.Chunks, &c.Segments, &c.Storyboards, &c.Claims, &c.Supers, &c.EmbeddingItems); err != nil {
			return nil, err
		}
		counts[id] = c
	}
	return counts, rows.Err()
}

func (s *sqlStore) AdCounts(ctx context.Context, adIDs []int64) (map[int64]AdCount, error) {
	return s.adCountsWithQuerier(ctx, s.querier(), adIDs)
}

func (s *sqlStore) getStatusWithQuerier(ctx context.Context, q querier) (*Status, error) {
	status := &Status{
		Backend:     s.dialect.name(),
		Dimension:   s.dimension,
		ItemsByType: make(map[types.ItemType]int),
	}

	version, err := currentVersion(ctx, q)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()

	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM ads").Scan(&status.TotalAds); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, "SELECT item_type, COUNT(*) FROM embedding_items GROUP BY item_type")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		status.ItemsByType[types.ItemType(t)] = n
		status.TotalItems += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	status.Healthy = true
	return status, nil
}

// GetStatus reports index totals
func (s *sqlStore) GetStatus(ctx context.Context) (*Status, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction methods delegate to the querier implementations

func (t *sqlTx) UpsertAd(ctx context.Context, ad *Ad) error {
	return t.store.upsertAdWithQuerier(ctx, t.tx, ad)
}

func (t *sqlTx) GetAd(ctx context.Context, adID int64) (*Ad, error) {
	return t.store.getAdWithQuerier(ctx, t.tx, adID)
}

func (t *sqlTx) GetAdByExternalID(ctx context.Context, externalID string) (*Ad, error) {
	return t.store.getAdByExternalIDWithQuerier(ctx, t.tx, externalID)
}

func (t *sqlTx) DeleteAd(ctx context.Context, adID int64) error {
	return t.store.deleteAdWithQuerier(ctx, t.tx, adID)
}

func (t *sqlTx) UpsertEditorial(ctx context.Context, ed *Editorial) error {
	return t.store.upsertEditorialWithQuerier(ctx, t.tx, ed)
}

func (t *sqlTx) GetEditorial(ctx context.Context, adID int64) (*Editorial, error) {
	return t.store.getEditorialWithQuerier(ctx, t.tx, adID)
}

func (t *sqlTx) ReplaceSatellites(ctx context.Context, adID int64, sat *Satellites) error {
	return t.store.replaceSatellitesWithQuerier(ctx, t.tx, adID, sat)
}

func (t *sqlTx) GetSatellites(ctx context.Context, adID int64) (*Satellites, error) {
	return t.store.getSatellitesWithQuerier(ctx, t.tx, adID)
}

func (t *sqlTx) InsertEmbeddingItem(ctx context.Context, item *EmbeddingItem) error {
	return t.store.insertEmbeddingItemWithQuerier(ctx, t.tx, item)
}

func (t *sqlTx) ReplaceAdItems(ctx context.Context, adID int64, items []*EmbeddingItem) error {
	return t.store.replaceAdItemsWithQuerier(ctx, t.tx, adID, items)
}

func (t *sqlTx) ListEmbeddingItems(ctx context.Context, adID int64) ([]*EmbeddingItem, error) {
	return t.store.listEmbeddingItemsWithQuerier(ctx, t.tx, adID)
}

func (t *sqlTx) HybridSearch(ctx context.Context, q HybridQuery) ([]HybridRow, error) {
	// A transaction owns one connection, so the two candidate queries run in turn
	return t.store.hybridSearchWithQuerier(ctx, t.tx, q, false)
}

func (t *sqlTx) AdCounts(ctx context.Context, adIDs []int64) (map[int64]AdCount, error) {
	return t.store.adCountsWithQuerier(ctx, t.tx, adIDs)
}

func (t *sqlTx) GetStatus(ctx context.Context) (*Status, error) {
	return t.store.getStatusWithQuerier(ctx, t.tx)
}

func (t *sqlTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqlTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, errors.New("nested transactions not supported")
}
