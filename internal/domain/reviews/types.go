package reviews

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"calmmap/internal/domain/venues"
)

var (
	ErrReviewNotFound  = errors.New("review not found")
	ErrDuplicateReview = errors.New("author already reviewed this venue")
)

// Visibility is whether a review counts toward the public venue stats.
// It is stored as a nullable hidden_at column.
type Visibility struct {
	hiddenAt time.Time
	hidden   bool
}

func Visible() Visibility { return Visibility{} }

func HiddenAt(t time.Time) Visibility { return Visibility{hiddenAt: t, hidden: true} }

func VisibilityFrom(hiddenAt *time.Time) Visibility {
	if hiddenAt == nil {
		return Visible()
	}
	return HiddenAt(*hiddenAt)
}

func (v Visibility) IsHidden() bool { return v.hidden }

// HiddenSince returns when the review was hidden, or nil if it is visible.
func (v Visibility) HiddenSince() *time.Time {
	if !v.hidden {
		return nil
	}
	t := v.hiddenAt
	return &t
}

func (v Visibility) String() string {
	if v.hidden {
		return "hidden"
	}
	return "visible"
}

func (v Visibility) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.HiddenSince())
}

func (v *Visibility) UnmarshalJSON(data []byte) error {
	var p *time.Time
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*v = VisibilityFrom(p)
	return nil
}

type Review struct {
	ID           int64      `json:"id"`
	VenueID      int64      `json:"venue_id"`
	AuthorID     int64      `json:"author_id"`
	Rating       int        `json:"rating"`
	Title        *string    `json:"title,omitempty"`
	Content      *string    `json:"content,omitempty"`
	VisitTime    *string    `json:"visit_time,omitempty"`
	NoiseLevel   *int       `json:"noise_level,omitempty"`
	Lighting     *int       `json:"lighting,omitempty"`
	Crowding     *int       `json:"crowding,omitempty"`
	QuietSpace   *bool      `json:"quiet_space,omitempty"`
	SensoryHours *bool      `json:"sensory_hours,omitempty"`
	Visibility   Visibility `json:"hidden_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Store interface {
	// Create returns ErrDuplicateReview when the author already reviewed the venue.
	Create(ctx context.Context, r *Review) error
	GetByID(ctx context.Context, id int64) (*Review, error)
	GetForUpdate(ctx context.Context, id int64) (*Review, error)
	SetVisibility(ctx context.Context, id int64, v Visibility) error
	Delete(ctx context.Context, id int64) error
	// Aggregate computes the venue's review stats from the current rows.
	Aggregate(ctx context.Context, venueID int64) (venues.ReviewStats, error)
	ListByVenue(ctx context.Context, venueID int64, includeHidden bool, limit, offset int) ([]Review, error)
}
