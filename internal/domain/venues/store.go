package venues

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calmmap/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Repository struct {
	q dbx.Querier
}

func NewRepository(q dbx.Querier) Store {
	return &Repository{q: q}
}

const venueColumns = `
	id, name, description, website, phone,
	address_line1, address_line2, city, postcode,
	tags, cover_image_url, image_urls, sensory, facilities,
	lat, lng, geohash,
	verified_at, archived_at,
	visible_review_count, hidden_review_count, avg_rating, last_reviewed_at,
	created_at, updated_at`

func scanVenue(row pgx.Row) (*Venue, error) {
	var (
		v          Venue
		sensory    []byte
		facilities []byte
		lat, lng   *float64
		geohash    *string
		verifiedAt *time.Time
		archivedAt *time.Time
	)

	err := row.Scan(
		&v.ID, &v.Name, &v.Description, &v.Website, &v.Phone,
		&v.AddressLine1, &v.AddressLine2, &v.City, &v.Postcode,
		&v.Tags, &v.CoverImage, &v.Gallery, &sensory, &facilities,
		&lat, &lng, &geohash,
		&verifiedAt, &archivedAt,
		&v.Stats.VisibleCount, &v.Stats.HiddenCount, &v.Stats.AvgRating, &v.Stats.LastReviewedAt,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVenueNotFound
		}
		return nil, fmt.Errorf("scan venue: %w", err)
	}

	v.Sensory = sensory
	v.Facilities = facilities
	if lat != nil && lng != nil && geohash != nil {
		v.Geo = &GeoTag{Lat: *lat, Lng: *lng, Geohash: *geohash}
	}
	v.Verified = StampFrom(verifiedAt)
	v.Archived = StampFrom(archivedAt)

	return &v, nil
}

// geoArgs flattens the tag into the three nullable columns.
func geoArgs(g *GeoTag) (lat, lng *float64, geohash *string) {
	if g == nil {
		return nil, nil, nil
	}
	return &g.Lat, &g.Lng, &g.Geohash
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Create inserts the venue and fills ID, CreatedAt and UpdatedAt.
func (r *Repository) Create(ctx context.Context, v *Venue) error {
	const query = `
	INSERT INTO venues (
		name, description, website, phone,
		address_line1, address_line2, city, postcode,
		tags, cover_image_url, image_urls, sensory, facilities,
		lat, lng, geohash, verified_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8,
		$9, $10, $11, $12, $13,
		$14, $15, $16, $17
	)
	RETURNING id, created_at, updated_at`

	lat, lng, geohash := geoArgs(v.Geo)

	err := r.q.QueryRow(ctx, query,
		v.Name, v.Description, v.Website, v.Phone,
		v.AddressLine1, v.AddressLine2, v.City, v.Postcode,
		nonNil(v.Tags), v.CoverImage, nonNil(v.Gallery), v.Sensory, v.Facilities,
		lat, lng, geohash, v.Verified.Ptr(),
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create venue: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, venueID int64) (*Venue, error) {
	row := r.q.QueryRow(ctx, `SELECT `+venueColumns+` FROM venues WHERE id = $1`, venueID)
	return scanVenue(row)
}

func (r *Repository) GetForUpdate(ctx context.Context, venueID int64) (*Venue, error) {
	row := r.q.QueryRow(ctx, `SELECT `+venueColumns+` FROM venues WHERE id = $1 FOR UPDATE`, venueID)
	return scanVenue(row)
}

func (r *Repository) LockStats(ctx context.Context, venueID int64) error {
	var id int64
	err := r.q.QueryRow(ctx, `SELECT id FROM venues WHERE id = $1 FOR NO KEY UPDATE`, venueID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVenueNotFound
	}
	if err != nil {
		return fmt.Errorf("lock venue stats: %w", err)
	}
	return nil
}

func (r *Repository) UpdateFields(ctx context.Context, venueID int64, f Fields, g *GeoTag, verifiedAt *time.Time) error {
	const query = `
	UPDATE venues SET
		name = $1, description = $2, website = $3, phone = $4,
		address_line1 = $5, address_line2 = $6, city = $7, postcode = $8,
		tags = $9, cover_image_url = $10, image_urls = $11,
		sensory = $12, facilities = $13,
		lat = $14, lng = $15, geohash = $16,
		verified_at = COALESCE($17, verified_at),
		updated_at = NOW()
	WHERE id = $18`

	lat, lng, geohash := geoArgs(g)

	ct, err := r.q.Exec(ctx, query,
		f.Name, f.Description, f.Website, f.Phone,
		f.AddressLine1, f.AddressLine2, f.City, f.Postcode,
		nonNil(f.Tags), f.CoverImage, nonNil(f.Gallery),
		f.Sensory, f.Facilities,
		lat, lng, geohash,
		verifiedAt,
		venueID,
	)
	if err != nil {
		return fmt.Errorf("update venue: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrVenueNotFound
	}
	return nil
}

func (r *Repository) FindActiveByPostcodes(ctx context.Context, codes []string, excludeID *int64, limit int) ([]Summary, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	const query = `
	SELECT id, name, city, postcode
	FROM venues
	WHERE postcode = ANY($1)
	  AND archived_at IS NULL
	  AND ($2::BIGINT IS NULL OR id <> $2)
	ORDER BY id
	LIMIT $3`

	rows, err := r.q.Query(ctx, query, codes, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("find venues by postcode: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Name, &s.City, &s.Postcode); err != nil {
			return nil, fmt.Errorf("scan venue summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows venue summaries: %w", err)
	}
	return out, nil
}

func (r *Repository) SetReviewStats(ctx context.Context, venueID int64, s ReviewStats) error {
	const query = `
	UPDATE venues SET
		visible_review_count = $1,
		hidden_review_count = $2,
		avg_rating = $3,
		last_reviewed_at = $4
	WHERE id = $5`

	ct, err := r.q.Exec(ctx, query, s.VisibleCount, s.HiddenCount, s.AvgRating, s.LastReviewedAt, venueID)
	if err != nil {
		return fmt.Errorf("set venue review stats: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrVenueNotFound
	}
	return nil
}

func (r *Repository) SetArchived(ctx context.Context, venueID int64, archivedAt *time.Time) error {
	ct, err := r.q.Exec(ctx,
		`UPDATE venues SET archived_at = $1, updated_at = NOW() WHERE id = $2`,
		archivedAt, venueID,
	)
	if err != nil {
		return fmt.Errorf("archive venue: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrVenueNotFound
	}
	return nil
}

func (r *Repository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM venues ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list venue ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
