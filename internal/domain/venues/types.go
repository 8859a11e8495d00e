package venues

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"calmmap/internal/geo"
)

var ErrVenueNotFound = errors.New("venue not found")

// MaxGallery caps the number of gallery images on a venue.
const MaxGallery = 10

// Stamp is a moderation flag that is either unset or set at a point in time.
// It maps to a nullable timestamp column only at the persistence boundary.
type Stamp struct {
	at  time.Time
	set bool
}

func StampAt(t time.Time) Stamp { return Stamp{at: t, set: true} }

func StampFrom(p *time.Time) Stamp {
	if p == nil {
		return Stamp{}
	}
	return StampAt(*p)
}

func (s Stamp) IsSet() bool { return s.set }

func (s Stamp) Time() (time.Time, bool) { return s.at, s.set }

func (s Stamp) Ptr() *time.Time {
	if !s.set {
		return nil
	}
	t := s.at
	return &t
}

func (s Stamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Ptr())
}

func (s *Stamp) UnmarshalJSON(data []byte) error {
	var p *time.Time
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = StampFrom(p)
	return nil
}

// GeoTag holds the coordinates and geohash of a venue. A venue either has all
// three or none, so the whole tag is nil when the location is unknown.
type GeoTag struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Geohash string  `json:"geohash"`
}

func NewGeoTag(p geo.Point) *GeoTag {
	return &GeoTag{Lat: p.Lat, Lng: p.Lng, Geohash: p.Geohash()}
}

// Fields are the venue attributes a submission may set.
type Fields struct {
	Name         string          `json:"name"`
	Description  *string         `json:"description,omitempty"`
	Website      *string         `json:"website,omitempty"`
	Phone        *string         `json:"phone,omitempty"`
	AddressLine1 *string         `json:"address_line1,omitempty"`
	AddressLine2 *string         `json:"address_line2,omitempty"`
	City         string          `json:"city"`
	Postcode     string          `json:"postcode"`
	Tags         []string        `json:"tags"`
	CoverImage   *string         `json:"cover_image_url,omitempty"`
	Gallery      []string        `json:"image_urls"`
	Sensory      json.RawMessage `json:"sensory,omitempty"`
	Facilities   json.RawMessage `json:"facilities,omitempty"`
}

// ReviewStats are the denormalized review aggregates kept on a venue.
// AvgRating and LastReviewedAt are nil when no review is visible.
type ReviewStats struct {
	VisibleCount   int        `json:"visible_review_count"`
	HiddenCount    int        `json:"hidden_review_count"`
	AvgRating      *float64   `json:"avg_rating"`
	LastReviewedAt *time.Time `json:"last_reviewed_at"`
}

// Venue is a canonical directory entry.
type Venue struct {
	ID int64 `json:"id"`
	Fields
	Geo       *GeoTag     `json:"geo"`
	Verified  Stamp       `json:"verified_at"`
	Archived  Stamp       `json:"archived_at"`
	Stats     ReviewStats `json:"review_stats"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Summary is the short form used when listing possible duplicates.
type Summary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
}

type Store interface {
	Create(ctx context.Context, v *Venue) error
	GetByID(ctx context.Context, venueID int64) (*Venue, error)
	// GetForUpdate locks the venue row for the rest of the transaction.
	GetForUpdate(ctx context.Context, venueID int64) (*Venue, error)
	// UpdateFields overwrites the submission-editable fields and the geo tag.
	// verifiedAt only ever sets the verification stamp; nil leaves it as is.
	UpdateFields(ctx context.Context, venueID int64, f Fields, g *GeoTag, verifiedAt *time.Time) error
	// FindActiveByPostcodes lists non-archived venues whose stored postcode is
	// any of codes, ordered by id.
	FindActiveByPostcodes(ctx context.Context, codes []string, excludeID *int64, limit int) ([]Summary, error)
	// LockStats takes the venue row lock that serializes stats writers. It
	// does not block inserts of reviews referencing the venue.
	LockStats(ctx context.Context, venueID int64) error
	SetReviewStats(ctx context.Context, venueID int64, s ReviewStats) error
	SetArchived(ctx context.Context, venueID int64, archivedAt *time.Time) error
	ListIDs(ctx context.Context) ([]int64, error)
}
