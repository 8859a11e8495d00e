package submissions

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrStatusChanged is returned by the status-guarded writes when the row
	// is no longer PENDING (or no longer at the expected version).
	ErrStatusChanged = errors.New("submission is no longer pending")
)

type Type string

const (
	TypeNewVenue  Type = "NEW_VENUE"
	TypeEditVenue Type = "EDIT_VENUE"
)

func (t Type) Valid() bool { return t == TypeNewVenue || t == TypeEditVenue }

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// Sensory is the optional sensory profile of a proposed venue. Levels run
// from 1 (very low) to 5 (very high).
type Sensory struct {
	NoiseLevel    *int    `json:"noise_level,omitempty" validate:"omitempty,min=1,max=5"`
	Lighting      *int    `json:"lighting,omitempty" validate:"omitempty,min=1,max=5"`
	Crowding      *int    `json:"crowding,omitempty" validate:"omitempty,min=1,max=5"`
	QuietSpace    *bool   `json:"quiet_space,omitempty"`
	SensoryHours  *bool   `json:"sensory_hours,omitempty"`
	SensoryNotes  *string `json:"sensory_notes,omitempty" validate:"omitempty,max=1000"`
	QuietestTimes *string `json:"quietest_times,omitempty" validate:"omitempty,max=200"`
}

type Facilities struct {
	StepFreeAccess   *bool   `json:"step_free_access,omitempty"`
	AccessibleToilet *bool   `json:"accessible_toilet,omitempty"`
	ChangingPlaces   *bool   `json:"changing_places,omitempty"`
	Parking          *bool   `json:"parking,omitempty"`
	AssistanceDogs   *bool   `json:"assistance_dogs,omitempty"`
	Notes            *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// Payload is the proposed venue as entered by the submitter. Name is filled
// from the submission's proposed name before validation.
type Payload struct {
	Name         string      `json:"name" validate:"required,notblank,min=2,max=120"`
	Description  *string     `json:"description,omitempty" validate:"omitempty,max=4000"`
	Website      *string     `json:"website,omitempty" validate:"omitempty,blank_or_http_url"`
	Phone        *string     `json:"phone,omitempty" validate:"omitempty,max=32"`
	AddressLine1 *string     `json:"address_line1,omitempty" validate:"omitempty,max=200"`
	AddressLine2 *string     `json:"address_line2,omitempty" validate:"omitempty,max=200"`
	City         string      `json:"city" validate:"required,notblank,max=100"`
	Postcode     string      `json:"postcode" validate:"required,notblank,max=16"`
	Tags         []string    `json:"tags" validate:"required,min=1,max=20,dive,required,notblank,max=40"`
	CoverImage   *string     `json:"cover_image_url,omitempty" validate:"omitempty,blank_or_http_url"`
	Gallery      []string    `json:"image_urls,omitempty" validate:"max=10,dive,omitempty,http_url"`
	Sensory      *Sensory    `json:"sensory,omitempty"`
	Facilities   *Facilities `json:"facilities,omitempty"`
}

// WithName returns a copy of the payload carrying proposedName when it is
// non-empty.
func (p Payload) WithName(proposedName string) Payload {
	if proposedName != "" {
		p.Name = proposedName
	}
	return p
}

type Submission struct {
	ID              int64      `json:"id"`
	Type            Type       `json:"type"`
	Status          Status     `json:"status"`
	ProposedName    string     `json:"proposed_name"`
	Payload         Payload    `json:"payload"`
	VenueID         *int64     `json:"venue_id,omitempty"`
	SubmittedBy     int64      `json:"submitted_by"`
	ReviewedBy      *int64     `json:"reviewed_by,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
}

type Filter struct {
	Status *Status
	Limit  int
	Offset int
}

// Decision records who moved a submission out of PENDING and when.
type Decision struct {
	ReviewerID int64
	At         time.Time
}

type Store interface {
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id int64) (*Submission, error)
	// GetForUpdate locks the submission row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id int64) (*Submission, error)
	List(ctx context.Context, f Filter) ([]Submission, int, error)

	// The writes below only touch a PENDING row and return ErrStatusChanged
	// otherwise.
	UpdatePending(ctx context.Context, id int64, proposedName string, p Payload) error
	MarkApproved(ctx context.Context, id int64, venueID int64, d Decision) error
	MarkRejected(ctx context.Context, id int64, reason *string, d Decision) error
}
