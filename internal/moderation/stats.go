package moderation

import (
	"context"
	"fmt"

	"calmmap/internal/domain/storage"
	"calmmap/internal/domain/venues"
)

// Recompute derives the venue's review stats from its reviews and writes them
// back, inside the caller's transaction. It never adjusts counters
// incrementally, so running it again is harmless.
//
// The venue row is locked before aggregating so concurrent writers on the
// same venue take turns and the last one sees every committed change.
func Recompute(ctx context.Context, tx *storage.Tx, venueID int64) (venues.ReviewStats, error) {
	if err := tx.Venues.LockStats(ctx, venueID); err != nil {
		return venues.ReviewStats{}, lookupErr("venue", venueID, err)
	}
	st, err := tx.Reviews.Aggregate(ctx, venueID)
	if err != nil {
		return venues.ReviewStats{}, fmt.Errorf("recompute venue %d: %w", venueID, err)
	}
	if err := tx.Venues.SetReviewStats(ctx, venueID, st); err != nil {
		return venues.ReviewStats{}, lookupErr("venue", venueID, err)
	}
	return st, nil
}

// RecomputeVenue runs Recompute in its own unit of work.
func (s *Service) RecomputeVenue(ctx context.Context, venueID int64) (venues.ReviewStats, error) {
	var st venues.ReviewStats
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		st, err = Recompute(ctx, tx, venueID)
		return err
	})
	return st, err
}

type SweepResult struct {
	Venues int
	Failed int
}

// Sweep recomputes every venue, one transaction each. A failing venue is
// logged and skipped. Only a listing failure or cancellation aborts the run.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var ids []int64
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		ids, err = tx.Venues.ListIDs(ctx)
		return err
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("list venues: %w", err)
	}

	var res SweepResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := s.RecomputeVenue(ctx, id); err != nil {
			s.logger.Errorw("stats recompute failed", "venue_id", id, "error", err)
			res.Failed++
			continue
		}
		res.Venues++
	}

	s.logger.Infow("stats sweep finished", "venues", res.Venues, "failed", res.Failed)
	return res, nil
}
