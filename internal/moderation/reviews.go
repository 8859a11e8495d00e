package moderation

import (
	"context"
	"errors"
	"fmt"

	"calmmap/internal/domain/reviews"
	"calmmap/internal/domain/storage"
	"calmmap/internal/domain/venues"
	"calmmap/internal/events"
	"calmmap/internal/validate"
)

type NewReview struct {
	VenueID      int64   `json:"venue_id" validate:"required"`
	AuthorID     int64   `json:"author_id" validate:"required"`
	Rating       int     `json:"rating" validate:"required,min=1,max=5"`
	Title        *string `json:"title,omitempty" validate:"omitempty,max=120"`
	Content      *string `json:"content,omitempty" validate:"omitempty,max=5000"`
	VisitTime    *string `json:"visit_time,omitempty" validate:"omitempty,max=64"`
	NoiseLevel   *int    `json:"noise_level,omitempty" validate:"omitempty,min=1,max=5"`
	Lighting     *int    `json:"lighting,omitempty" validate:"omitempty,min=1,max=5"`
	Crowding     *int    `json:"crowding,omitempty" validate:"omitempty,min=1,max=5"`
	QuietSpace   *bool   `json:"quiet_space,omitempty"`
	SensoryHours *bool   `json:"sensory_hours,omitempty"`
}

// CreateReview stores a visible review and refreshes the venue stats.
// An author gets one review per venue.
func (s *Service) CreateReview(ctx context.Context, in NewReview) (*reviews.Review, error) {
	if fields := validate.Struct(in); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	rv := &reviews.Review{
		VenueID:      in.VenueID,
		AuthorID:     in.AuthorID,
		Rating:       in.Rating,
		Title:        trimmed(in.Title),
		Content:      trimmed(in.Content),
		VisitTime:    trimmed(in.VisitTime),
		NoiseLevel:   in.NoiseLevel,
		Lighting:     in.Lighting,
		Crowding:     in.Crowding,
		QuietSpace:   in.QuietSpace,
		SensoryHours: in.SensoryHours,
		Visibility:   reviews.Visible(),
	}

	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		v, err := tx.Venues.GetByID(ctx, in.VenueID)
		if err != nil {
			return lookupErr("venue", in.VenueID, err)
		}
		if v.Archived.IsSet() {
			return &ConflictError{Reason: "venue is archived"}
		}

		if err := tx.Reviews.Create(ctx, rv); err != nil {
			if errors.Is(err, reviews.ErrDuplicateReview) {
				return &ConflictError{Reason: "you have already reviewed this venue"}
			}
			return fmt.Errorf("create review: %w", err)
		}
		_, err = Recompute(ctx, tx, in.VenueID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e := s.event(events.ReviewCreated)
	e.ActorID = in.AuthorID
	e.VenueID = in.VenueID
	e.ReviewID = rv.ID
	s.publish(ctx, e)

	return rv, nil
}

func (s *Service) ListVenueReviews(ctx context.Context, venueID int64, includeHidden bool, limit, offset int) ([]reviews.Review, error) {
	var out []reviews.Review
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.Venues.GetByID(ctx, venueID); err != nil {
			return lookupErr("venue", venueID, err)
		}
		var err error
		out, err = tx.Reviews.ListByVenue(ctx, venueID, includeHidden, limit, offset)
		return err
	})
	return out, err
}

// ToggleReviewVisibility hides a visible review or restores a hidden one and
// returns the new visibility.
func (s *Service) ToggleReviewVisibility(ctx context.Context, reviewID, actorID int64) (reviews.Visibility, venues.ReviewStats, error) {
	var (
		next    reviews.Visibility
		st      venues.ReviewStats
		venueID int64
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		rv, err := tx.Reviews.GetForUpdate(ctx, reviewID)
		if err != nil {
			return lookupErr("review", reviewID, err)
		}
		venueID = rv.VenueID

		next = reviews.HiddenAt(s.now())
		if rv.Visibility.IsHidden() {
			next = reviews.Visible()
		}
		if err := tx.Reviews.SetVisibility(ctx, reviewID, next); err != nil {
			return lookupErr("review", reviewID, err)
		}
		st, err = Recompute(ctx, tx, venueID)
		return err
	})
	if err != nil {
		return reviews.Visibility{}, venues.ReviewStats{}, err
	}

	s.logger.Infow("review visibility changed", "review_id", reviewID, "venue_id", venueID, "visibility", next.String(), "actor_id", actorID)

	hidden := next.IsHidden()
	e := s.event(events.ReviewVisibilityChanged)
	e.ActorID = actorID
	e.VenueID = venueID
	e.ReviewID = reviewID
	e.Hidden = &hidden
	s.publish(ctx, e)

	return next, st, nil
}

// DeleteReview removes the review row and refreshes the venue stats. Reports
// against it stay behind with no review attached.
func (s *Service) DeleteReview(ctx context.Context, reviewID, actorID int64) (venues.ReviewStats, error) {
	var (
		st      venues.ReviewStats
		venueID int64
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		venueID, st, err = deleteReview(ctx, tx, reviewID)
		return err
	})
	if err != nil {
		return venues.ReviewStats{}, err
	}

	s.logger.Infow("review deleted", "review_id", reviewID, "venue_id", venueID, "actor_id", actorID)
	s.publishReviewDeleted(ctx, reviewID, venueID, actorID)
	return st, nil
}

func deleteReview(ctx context.Context, tx *storage.Tx, reviewID int64) (int64, venues.ReviewStats, error) {
	rv, err := tx.Reviews.GetForUpdate(ctx, reviewID)
	if err != nil {
		return 0, venues.ReviewStats{}, lookupErr("review", reviewID, err)
	}
	if err := tx.Reviews.Delete(ctx, reviewID); err != nil {
		return 0, venues.ReviewStats{}, lookupErr("review", reviewID, err)
	}
	st, err := Recompute(ctx, tx, rv.VenueID)
	return rv.VenueID, st, err
}

func (s *Service) publishReviewDeleted(ctx context.Context, reviewID, venueID, actorID int64) {
	e := s.event(events.ReviewDeleted)
	e.ActorID = actorID
	e.VenueID = venueID
	e.ReviewID = reviewID
	s.publish(ctx, e)
}
