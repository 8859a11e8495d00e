package main

import (
	"net/http"

	"calmmap/internal/domain/reviews"
	"calmmap/internal/domain/venues"
	"calmmap/internal/moderation"
	"calmmap/internal/params"
)

type createReviewPayload struct {
	Rating       int     `json:"rating"`
	Title        *string `json:"title,omitempty"`
	Content      *string `json:"content,omitempty"`
	VisitTime    *string `json:"visit_time,omitempty"`
	NoiseLevel   *int    `json:"noise_level,omitempty"`
	Lighting     *int    `json:"lighting,omitempty"`
	Crowding     *int    `json:"crowding,omitempty"`
	QuietSpace   *bool   `json:"quiet_space,omitempty"`
	SensoryHours *bool   `json:"sensory_hours,omitempty"`
}

// CreateReview godoc
//
//	@Summary		Review a venue
//	@Description	One review per user and venue. The venue's stats are refreshed in the same transaction.
//	@Tags			Reviews
//	@Accept			json
//	@Produce		json
//	@Param			venueID	path		int					true	"Venue ID"
//	@Param			payload	body		createReviewPayload	true	"Review"
//	@Success		201		{object}	reviews.Review
//	@Failure		400		{object}	error
//	@Failure		404		{object}	error
//	@Failure		409		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/venues/{venueID}/reviews [post]
func (app *application) createReviewHandler(w http.ResponseWriter, r *http.Request) {
	venueID, err := readIDParam(r, "venueID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var payload createReviewPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	rv, err := app.moderation.CreateReview(r.Context(), moderation.NewReview{
		VenueID:      venueID,
		AuthorID:     getUserIDFromContext(r),
		Rating:       payload.Rating,
		Title:        payload.Title,
		Content:      payload.Content,
		VisitTime:    payload.VisitTime,
		NoiseLevel:   payload.NoiseLevel,
		Lighting:     payload.Lighting,
		Crowding:     payload.Crowding,
		QuietSpace:   payload.QuietSpace,
		SensoryHours: payload.SensoryHours,
	})
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusCreated, rv); err != nil {
		app.internalServerError(w, r, err)
	}
}

// listVenueReviewsHandler returns the visible reviews of a venue, newest
// first.
func (app *application) listVenueReviewsHandler(w http.ResponseWriter, r *http.Request) {
	venueID, err := readIDParam(r, "venueID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	p := params.ParsePagination(r.URL.Query())

	list, err := app.moderation.ListVenueReviews(r.Context(), venueID, false, p.Limit, p.Offset)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if list == nil {
		list = []reviews.Review{}
	}
	if err := app.jsonResponse(w, http.StatusOK, list); err != nil {
		app.internalServerError(w, r, err)
	}
}

type visibilityResponse struct {
	Visibility reviews.Visibility `json:"visibility"`
	Stats      venues.ReviewStats `json:"stats"`
}

// ToggleReviewVisibility godoc
//
//	@Summary		Hide a visible review or restore a hidden one (admin)
//	@Tags			Admin Reviews
//	@Produce		json
//	@Param			reviewID	path		int	true	"Review ID"
//	@Success		200			{object}	visibilityResponse
//	@Failure		404			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/reviews/{reviewID}/visibility [post]
func (app *application) toggleReviewVisibilityHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "reviewID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	vis, st, err := app.moderation.ToggleReviewVisibility(r.Context(), id, getUserIDFromContext(r))
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, visibilityResponse{Visibility: vis, Stats: st}); err != nil {
		app.internalServerError(w, r, err)
	}
}

// DeleteReview godoc
//
//	@Summary		Delete a review (admin)
//	@Description	Reports on the review are kept and lose their review reference.
//	@Tags			Admin Reviews
//	@Produce		json
//	@Param			reviewID	path		int	true	"Review ID"
//	@Success		200			{object}	venues.ReviewStats
//	@Failure		404			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/reviews/{reviewID} [delete]
func (app *application) deleteReviewHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "reviewID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	st, err := app.moderation.DeleteReview(r.Context(), id, getUserIDFromContext(r))
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, st); err != nil {
		app.internalServerError(w, r, err)
	}
}
