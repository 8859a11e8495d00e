package moderation

import (
	"context"
	"fmt"

	"calmmap/internal/domain/storage"
	"calmmap/internal/domain/venues"
	"calmmap/internal/events"
	"calmmap/internal/postcode"
)

// FindDuplicates lists up to DuplicateLimit non-archived venues stored under
// either the spaced or the compact form of code, skipping excludeVenueID.
func (s *Service) FindDuplicates(ctx context.Context, code string, excludeVenueID *int64) ([]venues.Summary, error) {
	variants := postcode.Variants(code)
	if len(variants) == 0 {
		return nil, nil
	}

	var out []venues.Summary
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		out, err = tx.Venues.FindActiveByPostcodes(ctx, variants, excludeVenueID, DuplicateLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}
	return out, nil
}

func (s *Service) GetVenue(ctx context.Context, id int64) (*venues.Venue, error) {
	var v *venues.Venue
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		if v, err = tx.Venues.GetByID(ctx, id); err != nil {
			return lookupErr("venue", id, err)
		}
		return nil
	})
	return v, err
}

// SetArchived archives or restores a venue. Archived venues drop out of
// duplicate detection. Repeating the current state is a no-op.
func (s *Service) SetArchived(ctx context.Context, id int64, archived bool, actorID int64) (*venues.Venue, error) {
	var (
		v       *venues.Venue
		changed bool
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		cur, err := tx.Venues.GetForUpdate(ctx, id)
		if err != nil {
			return lookupErr("venue", id, err)
		}
		if cur.Archived.IsSet() != archived {
			var at venues.Stamp
			if archived {
				at = venues.StampAt(s.now())
			}
			if err := tx.Venues.SetArchived(ctx, id, at.Ptr()); err != nil {
				return lookupErr("venue", id, err)
			}
			changed = true
		}
		v, err = tx.Venues.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Infow("venue archive state changed", "venue_id", id, "archived", archived, "actor_id", actorID)
		e := s.event(events.VenueArchiveStateChanged)
		e.ActorID = actorID
		e.VenueID = id
		e.Archived = &archived
		s.publish(ctx, e)
	}
	return v, nil
}
