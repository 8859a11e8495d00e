package moderation

import (
	"context"
	"errors"
	"fmt"

	"calmmap/internal/domain/reports"
	"calmmap/internal/domain/reviews"
	"calmmap/internal/domain/storage"
	"calmmap/internal/events"
	"calmmap/internal/validate"
)

type NewReport struct {
	ReviewID   int64          `json:"review_id" validate:"required"`
	Reason     reports.Reason `json:"reason" validate:"required,oneof=SPAM OFFENSIVE INACCURATE CONFLICT_OF_INTEREST OTHER"`
	Message    *string        `json:"message,omitempty" validate:"omitempty,max=1000"`
	ReporterID *int64         `json:"reporter_id,omitempty"`
	ReporterIP *string        `json:"reporter_ip,omitempty" validate:"omitempty,ip"`
}

// CreateReport files an OPEN report against an existing review. Anonymous
// reporters are identified by IP.
func (s *Service) CreateReport(ctx context.Context, in NewReport) (*reports.Report, error) {
	if fields := validate.Struct(in); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	if in.ReporterID == nil && in.ReporterIP == nil {
		return nil, invalid("reporter", "is required")
	}

	rp := &reports.Report{
		ReviewID:   &in.ReviewID,
		Reason:     in.Reason,
		Message:    trimmed(in.Message),
		ReporterID: in.ReporterID,
		ReporterIP: in.ReporterIP,
	}
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.Reviews.GetByID(ctx, in.ReviewID); err != nil {
			return lookupErr("review", in.ReviewID, err)
		}
		if err := tx.Reports.Create(ctx, rp); err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e := s.event(events.ReportCreated)
	e.ReviewID = in.ReviewID
	e.ReportID = rp.ID
	if in.ReporterID != nil {
		e.ActorID = *in.ReporterID
	}
	s.publish(ctx, e)

	return rp, nil
}

func (s *Service) ListReports(ctx context.Context, f reports.Filter) ([]reports.Report, int, error) {
	var (
		out   []reports.Report
		total int
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		out, total, err = tx.Reports.List(ctx, f)
		return err
	})
	return out, total, err
}

func reviewGone(reviewID int64) error {
	return &NotFoundError{Entity: "review", ID: reviewID, Err: ErrReviewGone}
}

func (s *Service) closeReport(ctx context.Context, tx *storage.Tx, id int64, status reports.Status, actorID int64, note *string) (*reports.Report, error) {
	err := tx.Reports.Close(ctx, id, reports.Closure{Status: status, By: actorID, At: s.now(), Note: trimmed(note)})
	if errors.Is(err, reports.ErrStatusChanged) {
		return nil, &ConflictError{Reason: "report is no longer open"}
	}
	if err != nil {
		return nil, err
	}
	return tx.Reports.GetByID(ctx, id)
}

// ResolveReport hides the reported review (leaving it hidden if it already
// is), refreshes the venue stats and marks the report RESOLVED, all at once.
// Resolving a RESOLVED report returns it unchanged. If the review has been
// deleted the error wraps ErrReviewGone.
func (s *Service) ResolveReport(ctx context.Context, reportID, actorID int64, note *string) (*reports.Report, error) {
	var (
		out      *reports.Report
		reviewID int64
		venueID  int64
		changed  bool
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		rp, err := tx.Reports.GetForUpdate(ctx, reportID)
		if err != nil {
			return lookupErr("report", reportID, err)
		}
		switch rp.Status {
		case reports.StatusResolved:
			out = rp
			return nil
		case reports.StatusDismissed:
			return statusConflict("report", string(rp.Status))
		}

		if rp.ReviewID == nil {
			return &NotFoundError{Entity: "review", Err: ErrReviewGone}
		}
		reviewID = *rp.ReviewID

		rv, err := tx.Reviews.GetForUpdate(ctx, reviewID)
		if errors.Is(err, reviews.ErrReviewNotFound) {
			return reviewGone(reviewID)
		}
		if err != nil {
			return lookupErr("review", reviewID, err)
		}
		venueID = rv.VenueID

		if !rv.Visibility.IsHidden() {
			if err := tx.Reviews.SetVisibility(ctx, reviewID, reviews.HiddenAt(s.now())); err != nil {
				return lookupErr("review", reviewID, err)
			}
		}
		if _, err := Recompute(ctx, tx, venueID); err != nil {
			return err
		}

		out, err = s.closeReport(ctx, tx, reportID, reports.StatusResolved, actorID, note)
		changed = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Infow("report resolved", "report_id", reportID, "review_id", reviewID, "venue_id", venueID, "actor_id", actorID)
		e := s.event(events.ReportResolved)
		e.ActorID = actorID
		e.ReportID = reportID
		e.ReviewID = reviewID
		e.VenueID = venueID
		s.publish(ctx, e)
	}
	return out, nil
}

// DismissReport closes a report without touching the review. Dismissing a
// DISMISSED report returns it unchanged.
func (s *Service) DismissReport(ctx context.Context, reportID, actorID int64, note *string) (*reports.Report, error) {
	var (
		out     *reports.Report
		changed bool
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		rp, err := tx.Reports.GetForUpdate(ctx, reportID)
		if err != nil {
			return lookupErr("report", reportID, err)
		}
		switch rp.Status {
		case reports.StatusDismissed:
			out = rp
			return nil
		case reports.StatusResolved:
			return statusConflict("report", string(rp.Status))
		}

		out, err = s.closeReport(ctx, tx, reportID, reports.StatusDismissed, actorID, note)
		changed = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Infow("report dismissed", "report_id", reportID, "actor_id", actorID)
		e := s.event(events.ReportDismissed)
		e.ActorID = actorID
		e.ReportID = reportID
		s.publish(ctx, e)
	}
	return out, nil
}

// DeleteAndResolveReport deletes the reported review, then resolves the
// report, in two units of work. When the second fails after the first
// committed the deletion stands and a PartialFailureError is returned; a
// retry finds the review gone and only resolves the report.
func (s *Service) DeleteAndResolveReport(ctx context.Context, reportID, actorID int64, note *string) (*reports.Report, error) {
	var (
		out             *reports.Report
		reviewID        int64
		venueID         int64
		deleted         bool
		alreadyResolved bool
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		rp, err := tx.Reports.GetForUpdate(ctx, reportID)
		if err != nil {
			return lookupErr("report", reportID, err)
		}
		if rp.Status == reports.StatusDismissed {
			return statusConflict("report", string(rp.Status))
		}
		alreadyResolved = rp.Status == reports.StatusResolved
		out = rp

		if rp.ReviewID == nil {
			return nil
		}
		reviewID = *rp.ReviewID
		venueID, _, err = deleteReview(ctx, tx, reviewID)
		var nf *NotFoundError
		if errors.As(err, &nf) && nf.Entity == "review" {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deleted {
		s.logger.Infow("review deleted", "review_id", reviewID, "venue_id", venueID, "report_id", reportID, "actor_id", actorID)
		s.publishReviewDeleted(ctx, reviewID, venueID, actorID)
	}
	if alreadyResolved {
		if deleted {
			out.ReviewID = nil
		}
		return out, nil
	}

	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		out, err = s.closeReport(ctx, tx, reportID, reports.StatusResolved, actorID, note)
		return err
	})
	if err != nil {
		if deleted {
			s.logger.Errorw("review deleted but report left open", "report_id", reportID, "review_id", reviewID, "error", err)
			return nil, &PartialFailureError{
				Completed: fmt.Sprintf("delete review %d", reviewID),
				Failed:    fmt.Sprintf("resolve report %d", reportID),
				Err:       err,
			}
		}
		return nil, err
	}

	e := s.event(events.ReportResolved)
	e.ActorID = actorID
	e.ReportID = reportID
	e.ReviewID = reviewID
	e.VenueID = venueID
	s.publish(ctx, e)

	return out, nil
}
