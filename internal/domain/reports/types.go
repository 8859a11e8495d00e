package reports

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReportNotFound = errors.New("report not found")
	// ErrStatusChanged is returned when a guarded status write finds the
	// report in a different state than expected.
	ErrStatusChanged = errors.New("report status changed")
)

type Reason string

const (
	ReasonSpam               Reason = "SPAM"
	ReasonOffensive          Reason = "OFFENSIVE"
	ReasonInaccurate         Reason = "INACCURATE"
	ReasonConflictOfInterest Reason = "CONFLICT_OF_INTEREST"
	ReasonOther              Reason = "OTHER"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonSpam, ReasonOffensive, ReasonInaccurate, ReasonConflictOfInterest, ReasonOther:
		return true
	}
	return false
}

type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusResolved  Status = "RESOLVED"
	StatusDismissed Status = "DISMISSED"
)

type Report struct {
	ID             int64      `json:"id"`
	ReviewID       *int64     `json:"review_id"`
	Reason         Reason     `json:"reason"`
	Message        *string    `json:"message,omitempty"`
	Status         Status     `json:"status"`
	ReporterID     *int64     `json:"reporter_id,omitempty"`
	ReporterIP     *string    `json:"reporter_ip,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     *int64     `json:"resolved_by,omitempty"`
	ResolutionNote *string    `json:"resolution_note,omitempty"`
}

// Closure is the outcome written when a report leaves OPEN.
type Closure struct {
	Status Status
	By     int64
	At     time.Time
	Note   *string
}

type Filter struct {
	Status *Status
	Limit  int
	Offset int
}

type Store interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id int64) (*Report, error)
	GetForUpdate(ctx context.Context, id int64) (*Report, error)
	// Close moves an OPEN report to c.Status and returns ErrStatusChanged if
	// it was not OPEN.
	Close(ctx context.Context, id int64, c Closure) error
	List(ctx context.Context, f Filter) ([]Report, int, error)
}
