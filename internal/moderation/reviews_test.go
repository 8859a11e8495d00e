package moderation_test

import (
	"context"
	"math/rand"
	"slices"
	"testing"
	"time"

	"calmmap/internal/domain/reviews"
	"calmmap/internal/domain/storage"
	"calmmap/internal/domain/venues"
	"calmmap/internal/events"
	"calmmap/internal/moderation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) review(t *testing.T, venueID, author int64, rating int) *reviews.Review {
	t.Helper()
	rv, err := f.svc.CreateReview(context.Background(), moderation.NewReview{
		VenueID: venueID, AuthorID: author, Rating: rating,
	})
	require.NoError(t, err)
	return rv
}

func (f *fixture) stats(t *testing.T, venueID int64) venues.ReviewStats {
	t.Helper()
	v, err := f.svc.GetVenue(context.Background(), venueID)
	require.NoError(t, err)
	return v.Stats
}

func TestCreateReviewRecomputesStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := f.seedVenue(t, "Calm Café", "LS1 2AB")

	f.review(t, v.ID, 1, 4)
	f.clock.Advance(time.Hour)
	second := f.review(t, v.ID, 2, 5)

	st := f.stats(t, v.ID)
	assert.Equal(t, 2, st.VisibleCount)
	assert.Zero(t, st.HiddenCount)
	require.NotNil(t, st.AvgRating)
	assert.InDelta(t, 4.5, *st.AvgRating, 1e-9)
	require.NotNil(t, st.LastReviewedAt)
	assert.Equal(t, second.CreatedAt, *st.LastReviewedAt)
	assert.Equal(t, events.ReviewCreated, f.events.last().Type)
}

func TestCreateReviewRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("second review by same author", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		v := f.seedVenue(t, "Calm Café", "LS1 2AB")
		f.review(t, v.ID, 1, 4)

		_, err := f.svc.CreateReview(ctx, moderation.NewReview{VenueID: v.ID, AuthorID: 1, Rating: 2})
		assert.ErrorIs(t, err, moderation.ErrConflict)
		assert.Equal(t, 1, f.stats(t, v.ID).VisibleCount)
	})

	t.Run("rating out of range", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		v := f.seedVenue(t, "Calm Café", "LS1 2AB")

		_, err := f.svc.CreateReview(ctx, moderation.NewReview{VenueID: v.ID, AuthorID: 1, Rating: 6, NoiseLevel: ptr(9)})
		var ve *moderation.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "must be at most 5", ve.Fields["rating"])
		assert.Contains(t, ve.Fields, "noise_level")
	})

	t.Run("unknown venue", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.svc.CreateReview(ctx, moderation.NewReview{VenueID: 77, AuthorID: 1, Rating: 3})
		assert.ErrorIs(t, err, moderation.ErrNotFound)
	})

	t.Run("archived venue", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		v := f.seedVenue(t, "Calm Café", "LS1 2AB")
		_, err := f.svc.SetArchived(ctx, v.ID, true, 1)
		require.NoError(t, err)

		_, err = f.svc.CreateReview(ctx, moderation.NewReview{VenueID: v.ID, AuthorID: 1, Rating: 3})
		assert.ErrorIs(t, err, moderation.ErrConflict)
	})
}

func TestToggleReviewVisibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	v := f.seedVenue(t, "Calm Café", "LS1 2AB")
	rv := f.review(t, v.ID, 1, 2)
	f.review(t, v.ID, 2, 4)

	vis, st, err := f.svc.ToggleReviewVisibility(ctx, rv.ID, 9)
	require.NoError(t, err)
	assert.True(t, vis.IsHidden())
	assert.Equal(t, 1, st.VisibleCount)
	assert.Equal(t, 1, st.HiddenCount)
	assert.InDelta(t, 4.0, *st.AvgRating, 1e-9)
	assert.Equal(t, st, f.stats(t, v.ID))

	e := f.events.last()
	assert.Equal(t, events.ReviewVisibilityChanged, e.Type)
	require.NotNil(t, e.Hidden)
	assert.True(t, *e.Hidden)

	vis, st, err = f.svc.ToggleReviewVisibility(ctx, rv.ID, 9)
	require.NoError(t, err)
	assert.False(t, vis.IsHidden())
	assert.Equal(t, 2, st.VisibleCount)
	assert.Zero(t, st.HiddenCount)
	assert.InDelta(t, 3.0, *st.AvgRating, 1e-9)

	_, _, err = f.svc.ToggleReviewVisibility(ctx, 999, 9)
	assert.ErrorIs(t, err, moderation.ErrNotFound)
}

func TestHidingEveryReviewNullsAverage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := f.seedVenue(t, "Calm Café", "LS1 2AB")
	rv := f.review(t, v.ID, 1, 3)

	_, st, err := f.svc.ToggleReviewVisibility(context.Background(), rv.ID, 9)
	require.NoError(t, err)
	assert.Zero(t, st.VisibleCount)
	assert.Equal(t, 1, st.HiddenCount)
	assert.Nil(t, st.AvgRating)
	assert.Nil(t, st.LastReviewedAt)
}

func TestDeleteReview(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	v := f.seedVenue(t, "Calm Café", "LS1 2AB")
	rv := f.review(t, v.ID, 1, 1)

	st, err := f.svc.DeleteReview(ctx, rv.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, venues.ReviewStats{}, st)
	assert.Equal(t, venues.ReviewStats{}, f.stats(t, v.ID))

	_, err = f.svc.DeleteReview(ctx, rv.ID, 9)
	assert.ErrorIs(t, err, moderation.ErrNotFound)

	// The author may review again once the old review is gone.
	f.review(t, v.ID, 1, 5)
}

// The stored aggregates must match the review set after every operation of
// an arbitrary sequence.
func TestStatsInvariantOverRandomSequences(t *testing.T) {
	t.Parallel()

	for seed := int64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewSource(seed))
		f := newFixture(t)
		v := f.seedVenue(t, "Calm Café", "LS1 2AB")
		ctx := context.Background()

		type model struct {
			rating int
			hidden bool
		}
		live := map[int64]*model{}
		nextAuthor := int64(1)

		for step := 0; step < 60; step++ {
			f.clock.Advance(time.Minute)

			ids := make([]int64, 0, len(live))
			for id := range live {
				ids = append(ids, id)
			}
			slices.Sort(ids)

			switch op := rng.Intn(4); {
			case op == 0 || len(ids) == 0:
				rating := rng.Intn(5) + 1
				rv := f.review(t, v.ID, nextAuthor, rating)
				nextAuthor++
				live[rv.ID] = &model{rating: rating}
			case op == 1 || op == 2:
				id := ids[rng.Intn(len(ids))]
				vis, _, err := f.svc.ToggleReviewVisibility(ctx, id, 9)
				require.NoError(t, err)
				live[id].hidden = !live[id].hidden
				require.Equal(t, live[id].hidden, vis.IsHidden())
			default:
				id := ids[rng.Intn(len(ids))]
				_, err := f.svc.DeleteReview(ctx, id, 9)
				require.NoError(t, err)
				delete(live, id)
			}

			var visible, hidden, sum int
			for _, m := range live {
				if m.hidden {
					hidden++
					continue
				}
				visible++
				sum += m.rating
			}

			st := f.stats(t, v.ID)
			require.Equal(t, visible, st.VisibleCount, "seed %d step %d", seed, step)
			require.Equal(t, hidden, st.HiddenCount, "seed %d step %d", seed, step)
			if visible == 0 {
				require.Nil(t, st.AvgRating, "seed %d step %d", seed, step)
				require.Nil(t, st.LastReviewedAt)
			} else {
				require.NotNil(t, st.AvgRating)
				require.InDelta(t, float64(sum)/float64(visible), *st.AvgRating, 1e-9, "seed %d step %d", seed, step)
			}
		}
	}
}

func TestSweepRepairsDriftedStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedVenue(t, "Calm Café", "LS1 2AB")
	b := f.seedVenue(t, "Quiet Library", "LS2 7EW")
	f.review(t, a.ID, 1, 5)
	f.review(t, a.ID, 2, 3)

	bogus := 1.0
	f.store.Seed(func(tx *storage.Tx) {
		require.NoError(t, tx.Venues.SetReviewStats(ctx, a.ID, venues.ReviewStats{VisibleCount: 40, AvgRating: &bogus}))
		require.NoError(t, tx.Venues.SetReviewStats(ctx, b.ID, venues.ReviewStats{HiddenCount: 3}))
	})

	res, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, moderation.SweepResult{Venues: 2}, res)

	st := f.stats(t, a.ID)
	assert.Equal(t, 2, st.VisibleCount)
	assert.InDelta(t, 4.0, *st.AvgRating, 1e-9)
	assert.Equal(t, venues.ReviewStats{}, f.stats(t, b.ID))

	// Running it again changes nothing.
	_, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, f.stats(t, a.ID))
}

func TestSweepStopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedVenue(t, "Calm Café", "LS1 2AB")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListVenueReviews(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	v := f.seedVenue(t, "Calm Café", "LS1 2AB")
	hidden := f.review(t, v.ID, 1, 1)
	f.clock.Advance(time.Minute)
	f.review(t, v.ID, 2, 5)
	_, _, err := f.svc.ToggleReviewVisibility(ctx, hidden.ID, 9)
	require.NoError(t, err)

	public, err := f.svc.ListVenueReviews(ctx, v.ID, false, 10, 0)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, int64(2), public[0].AuthorID)

	all, err := f.svc.ListVenueReviews(ctx, v.ID, true, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.ListVenueReviews(ctx, 999, true, 10, 0)
	assert.ErrorIs(t, err, moderation.ErrNotFound)
}
