// Package events carries moderation outcomes to other parts of the system.
// Publishing happens after the owning transaction has committed and is best
// effort: a failed publish never changes the result of the action.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	VenueApproved            Type = "venue.approved"
	SubmissionRejected       Type = "submission.rejected"
	ReviewCreated            Type = "review.created"
	ReviewVisibilityChanged  Type = "review.visibility_changed"
	ReviewDeleted            Type = "review.deleted"
	ReportCreated            Type = "report.created"
	ReportResolved           Type = "report.resolved"
	ReportDismissed          Type = "report.dismissed"
	AdminDemoted             Type = "admin.demoted"
	AdminPromoted            Type = "admin.promoted"
	VenueArchiveStateChanged Type = "venue.archive_state_changed"
)

type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	ActorID      int64     `json:"actor_id,omitempty"`
	SubmissionID int64     `json:"submission_id,omitempty"`
	SubmitterID  int64     `json:"submitter_id,omitempty"`
	VenueID      int64     `json:"venue_id,omitempty"`
	ReviewID     int64     `json:"review_id,omitempty"`
	ReportID     int64     `json:"report_id,omitempty"`
	UserID       int64     `json:"user_id,omitempty"`
	Hidden       *bool     `json:"hidden,omitempty"`
	Archived     *bool     `json:"archived,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// New stamps a fresh id and time on an event of type t.
func New(t Type, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: at.UTC()}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Handler processes one consumed event. A returned error rejects the
// delivery without requeueing it.
type Handler func(ctx context.Context, e Event) error
