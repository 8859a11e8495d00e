package reviews

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calmmap/internal/domain/venues"
	"calmmap/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

const venueAuthorKey = "reviews_venue_author_key"

type Repository struct {
	q dbx.Querier
}

func NewRepository(q dbx.Querier) Store {
	return &Repository{q: q}
}

const reviewColumns = `
	id, venue_id, author_id, rating, title, content, visit_time,
	noise_level, lighting, crowding, quiet_space, sensory_hours,
	hidden_at, created_at, updated_at`

func scanReview(row pgx.Row) (*Review, error) {
	var (
		r        Review
		hiddenAt *time.Time
	)
	err := row.Scan(
		&r.ID, &r.VenueID, &r.AuthorID, &r.Rating, &r.Title, &r.Content, &r.VisitTime,
		&r.NoiseLevel, &r.Lighting, &r.Crowding, &r.QuietSpace, &r.SensoryHours,
		&hiddenAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}
	r.Visibility = VisibilityFrom(hiddenAt)
	return &r, nil
}

func (r *Repository) Create(ctx context.Context, rv *Review) error {
	const query = `
	INSERT INTO reviews (
		venue_id, author_id, rating, title, content, visit_time,
		noise_level, lighting, crowding, quiet_space, sensory_hours, hidden_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id, created_at, updated_at`

	err := r.q.QueryRow(ctx, query,
		rv.VenueID, rv.AuthorID, rv.Rating, rv.Title, rv.Content, rv.VisitTime,
		rv.NoiseLevel, rv.Lighting, rv.Crowding, rv.QuietSpace, rv.SensoryHours,
		rv.Visibility.HiddenSince(),
	).Scan(&rv.ID, &rv.CreatedAt, &rv.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, venueAuthorKey) {
			return ErrDuplicateReview
		}
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Review, error) {
	return scanReview(r.q.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
}

func (r *Repository) GetForUpdate(ctx context.Context, id int64) (*Review, error) {
	return scanReview(r.q.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) SetVisibility(ctx context.Context, id int64, v Visibility) error {
	ct, err := r.q.Exec(ctx,
		`UPDATE reviews SET hidden_at = $1, updated_at = NOW() WHERE id = $2`,
		v.HiddenSince(), id,
	)
	if err != nil {
		return fmt.Errorf("set review visibility: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrReviewNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	ct, err := r.q.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrReviewNotFound
	}
	return nil
}

// Aggregate reads all four stats in a single statement so they describe the
// same snapshot of the venue's reviews.
func (r *Repository) Aggregate(ctx context.Context, venueID int64) (venues.ReviewStats, error) {
	const query = `
	SELECT
		COUNT(*) FILTER (WHERE hidden_at IS NULL),
		COUNT(*) FILTER (WHERE hidden_at IS NOT NULL),
		(AVG(rating) FILTER (WHERE hidden_at IS NULL))::DOUBLE PRECISION,
		MAX(created_at) FILTER (WHERE hidden_at IS NULL)
	FROM reviews
	WHERE venue_id = $1`

	var s venues.ReviewStats
	err := r.q.QueryRow(ctx, query, venueID).Scan(
		&s.VisibleCount, &s.HiddenCount, &s.AvgRating, &s.LastReviewedAt,
	)
	if err != nil {
		return venues.ReviewStats{}, fmt.Errorf("aggregate reviews: %w", err)
	}
	return s, nil
}

func (r *Repository) ListByVenue(ctx context.Context, venueID int64, includeHidden bool, limit, offset int) ([]Review, error) {
	query := `SELECT ` + reviewColumns + `
	FROM reviews
	WHERE venue_id = $1 AND ($2::BOOLEAN OR hidden_at IS NULL)
	ORDER BY created_at DESC, id DESC
	LIMIT $3 OFFSET $4`

	rows, err := r.q.Query(ctx, query, venueID, includeHidden, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rv)
	}
	return out, rows.Err()
}
