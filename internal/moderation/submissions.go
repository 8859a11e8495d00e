package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"calmmap/internal/domain/storage"
	"calmmap/internal/domain/submissions"
	"calmmap/internal/domain/venues"
	"calmmap/internal/events"
	"calmmap/internal/validate"
)

// Validate checks payload with proposedName merged in as the venue name.
func Validate(payload submissions.Payload, proposedName string) error {
	fields := validate.Struct(payload.WithName(strings.TrimSpace(proposedName)))
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

type NewSubmission struct {
	Type         submissions.Type
	ProposedName string
	Payload      submissions.Payload
	VenueID      *int64
	SubmitterID  int64
}

// Submit stores a PENDING submission. An edit must target an existing,
// non-archived venue.
func (s *Service) Submit(ctx context.Context, in NewSubmission) (*submissions.Submission, error) {
	if !in.Type.Valid() {
		return nil, invalid("type", fmt.Sprintf("must be one of: %s %s", submissions.TypeNewVenue, submissions.TypeEditVenue))
	}
	switch {
	case in.Type == submissions.TypeEditVenue && in.VenueID == nil:
		return nil, invalid("venue_id", "is required")
	case in.Type == submissions.TypeNewVenue && in.VenueID != nil:
		return nil, invalid("venue_id", "must be empty for a new venue")
	}

	name := strings.TrimSpace(in.ProposedName)
	if name == "" {
		name = strings.TrimSpace(in.Payload.Name)
	}
	if err := Validate(in.Payload, name); err != nil {
		return nil, err
	}

	sub := &submissions.Submission{
		Type:         in.Type,
		ProposedName: name,
		Payload:      in.Payload.WithName(name),
		VenueID:      in.VenueID,
		SubmittedBy:  in.SubmitterID,
	}

	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if in.VenueID != nil {
			v, err := tx.Venues.GetByID(ctx, *in.VenueID)
			if err != nil {
				return lookupErr("venue", *in.VenueID, err)
			}
			if v.Archived.IsSet() {
				return &ConflictError{Reason: "venue is archived"}
			}
		}
		if err := tx.Submissions.Create(ctx, sub); err != nil {
			return fmt.Errorf("create submission: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("submission received", "submission_id", sub.ID, "type", sub.Type, "submitted_by", sub.SubmittedBy)
	return sub, nil
}

func (s *Service) GetSubmission(ctx context.Context, id int64) (*submissions.Submission, error) {
	var sub *submissions.Submission
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		sub, err = tx.Submissions.GetByID(ctx, id)
		if err != nil {
			return lookupErr("submission", id, err)
		}
		return nil
	})
	return sub, err
}

func (s *Service) ListSubmissions(ctx context.Context, f submissions.Filter) ([]submissions.Submission, int, error) {
	var (
		out   []submissions.Submission
		total int
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		out, total, err = tx.Submissions.List(ctx, f)
		return err
	})
	return out, total, err
}

type ApproveOptions struct {
	// Force skips the duplicate guard. It applies to this call only.
	Force bool
	// Verify stamps the venue as verified. An existing stamp is never cleared.
	Verify  bool
	ActorID int64
}

// Approve materializes a PENDING submission into a venue and returns the
// venue id.
//
// The submission is read and checked first, then geocoded with no
// transaction open, then written in one transaction that re-locks the
// submission and gives up with a ConflictError if it moved in between.
func (s *Service) Approve(ctx context.Context, id int64, opts ApproveOptions) (int64, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return 0, err
	}
	if sub.Status != submissions.StatusPending {
		return 0, statusConflict("submission", string(sub.Status))
	}
	if sub.Type == submissions.TypeEditVenue && sub.VenueID == nil {
		return 0, invalid("venue_id", "is required")
	}

	payload := sub.Payload.WithName(sub.ProposedName)
	if err := Validate(payload, ""); err != nil {
		return 0, err
	}
	fields, err := venueFields(payload)
	if err != nil {
		return 0, fmt.Errorf("normalize submission %d: %w", id, err)
	}

	var exclude *int64
	if sub.Type == submissions.TypeEditVenue {
		exclude = sub.VenueID
	}

	log := s.logger.With("submission_id", id, "actor_id", opts.ActorID)

	if opts.Force {
		log.Warnw("duplicate guard overridden", "postcode", fields.Postcode)
	} else {
		dups, err := s.FindDuplicates(ctx, fields.Postcode, exclude)
		if err != nil {
			return 0, err
		}
		if len(dups) > 0 {
			return 0, &ConflictError{
				Reason:     "possible duplicate venues at " + fields.Postcode,
				Status:     string(sub.Status),
				Duplicates: dups,
			}
		}
	}

	var geoTag *venues.GeoTag
	if p, ok := s.geocoder.Resolve(ctx, fields.Postcode); ok {
		geoTag = venues.NewGeoTag(p)
	} else {
		log.Infow("approving without coordinates", "postcode", fields.Postcode)
	}

	var venueID int64
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		cur, err := tx.Submissions.GetForUpdate(ctx, id)
		if err != nil {
			return lookupErr("submission", id, err)
		}
		if cur.Status != submissions.StatusPending {
			return statusConflict("submission", string(cur.Status))
		}
		if !cur.UpdatedAt.Equal(sub.UpdatedAt) {
			return &ConflictError{Reason: "submission was edited during approval", Status: string(cur.Status)}
		}

		now := s.now()
		switch cur.Type {
		case submissions.TypeNewVenue:
			v := &venues.Venue{Fields: fields, Geo: geoTag}
			if opts.Verify {
				v.Verified = venues.StampAt(now)
			}
			if err := tx.Venues.Create(ctx, v); err != nil {
				return fmt.Errorf("create venue: %w", err)
			}
			venueID = v.ID

		case submissions.TypeEditVenue:
			venueID = *cur.VenueID
			existing, err := tx.Venues.GetForUpdate(ctx, venueID)
			if err != nil {
				return lookupErr("venue", venueID, err)
			}
			tag := geoTag
			// An unresolved postcode only clears coordinates it no longer
			// describes.
			if tag == nil && existing.Postcode == fields.Postcode {
				tag = existing.Geo
			}
			var verifiedAt *time.Time
			if opts.Verify {
				verifiedAt = &now
			}
			if err := tx.Venues.UpdateFields(ctx, venueID, fields, tag, verifiedAt); err != nil {
				return lookupErr("venue", venueID, err)
			}
		}

		err = tx.Submissions.MarkApproved(ctx, id, venueID, submissions.Decision{ReviewerID: opts.ActorID, At: now})
		if errors.Is(err, submissions.ErrStatusChanged) {
			return &ConflictError{Reason: "submission is no longer pending"}
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	log.Infow("submission approved", "venue_id", venueID, "type", sub.Type, "verified", opts.Verify, "forced", opts.Force)

	e := s.event(events.VenueApproved)
	e.ActorID = opts.ActorID
	e.SubmissionID = id
	e.SubmitterID = sub.SubmittedBy
	e.VenueID = venueID
	s.publish(ctx, e)

	return venueID, nil
}

// Reject closes a PENDING submission. A blank reason is stored as nil.
func (s *Service) Reject(ctx context.Context, id int64, reason *string, actorID int64) (*submissions.Submission, error) {
	reason = trimmed(reason)

	var out *submissions.Submission
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		cur, err := tx.Submissions.GetForUpdate(ctx, id)
		if err != nil {
			return lookupErr("submission", id, err)
		}
		if cur.Status != submissions.StatusPending {
			return statusConflict("submission", string(cur.Status))
		}

		err = tx.Submissions.MarkRejected(ctx, id, reason, submissions.Decision{ReviewerID: actorID, At: s.now()})
		if errors.Is(err, submissions.ErrStatusChanged) {
			return &ConflictError{Reason: "submission is no longer pending"}
		}
		if err != nil {
			return err
		}

		out, err = tx.Submissions.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("submission rejected", "submission_id", id, "actor_id", actorID)

	e := s.event(events.SubmissionRejected)
	e.ActorID = actorID
	e.SubmissionID = id
	e.SubmitterID = out.SubmittedBy
	if reason != nil {
		e.Reason = *reason
	}
	s.publish(ctx, e)

	return out, nil
}

// Edit replaces the payload (and the proposed name when given) of a PENDING
// submission.
func (s *Service) Edit(ctx context.Context, id int64, proposedName *string, payload submissions.Payload) (*submissions.Submission, error) {
	var out *submissions.Submission
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		cur, err := tx.Submissions.GetForUpdate(ctx, id)
		if err != nil {
			return lookupErr("submission", id, err)
		}
		if cur.Status != submissions.StatusPending {
			return statusConflict("submission", string(cur.Status))
		}

		name := cur.ProposedName
		if proposedName != nil {
			name = strings.TrimSpace(*proposedName)
		}
		if name == "" {
			name = strings.TrimSpace(payload.Name)
		}
		if err := Validate(payload, name); err != nil {
			return err
		}

		err = tx.Submissions.UpdatePending(ctx, id, name, payload.WithName(name))
		if errors.Is(err, submissions.ErrStatusChanged) {
			return &ConflictError{Reason: "submission is no longer pending"}
		}
		if err != nil {
			return err
		}

		out, err = tx.Submissions.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
