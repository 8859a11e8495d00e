package main

import (
	"net/http"
	"strings"

	"calmmap/internal/domain/venues"
	"calmmap/internal/postcode"
)

// GetVenue godoc
//
//	@Summary		Fetch a venue with its review stats
//	@Tags			Venue
//	@Produce		json
//	@Param			venueID	path		int	true	"Venue ID"
//	@Success		200		{object}	venues.Venue
//	@Failure		404		{object}	error
//	@Router			/venues/{venueID} [get]
func (app *application) getVenueHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "venueID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v, err := app.moderation.GetVenue(r.Context(), id)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, v); err != nil {
		app.internalServerError(w, r, err)
	}
}

// FindDuplicates godoc
//
//	@Summary		Active venues sharing a postcode (admin)
//	@Description	Matches the spaced and compact forms of the postcode. exclude_venue_id leaves one venue out.
//	@Tags			Admin Venue
//	@Produce		json
//	@Param			postcode			query		string	true	"Postcode"
//	@Param			exclude_venue_id	query		int		false	"Venue to leave out"
//	@Success		200					{array}		venues.Summary
//	@Failure		400					{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/duplicates [get]
func (app *application) findDuplicatesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := strings.TrimSpace(q.Get("postcode"))
	if postcode.Normalize(code) == "" {
		app.badRequestResponse(w, r, errInvalidRequest("postcode is required"))
		return
	}

	var exclude *int64
	if raw := q.Get("exclude_venue_id"); raw != "" {
		id, err := parsePositiveInt(raw)
		if err != nil {
			app.badRequestResponse(w, r, errInvalidRequest("invalid exclude_venue_id"))
			return
		}
		exclude = &id
	}

	dups, err := app.moderation.FindDuplicates(r.Context(), code, exclude)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if dups == nil {
		dups = []venues.Summary{}
	}
	if err := app.jsonResponse(w, http.StatusOK, dups); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) archiveVenueHandler(w http.ResponseWriter, r *http.Request) {
	app.setArchived(w, r, true)
}

func (app *application) unarchiveVenueHandler(w http.ResponseWriter, r *http.Request) {
	app.setArchived(w, r, false)
}

func (app *application) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	id, err := readIDParam(r, "venueID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v, err := app.moderation.SetArchived(r.Context(), id, archived, getUserIDFromContext(r))
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, v); err != nil {
		app.internalServerError(w, r, err)
	}
}

// recomputeStatsHandler rebuilds one venue's review stats from its reviews.
func (app *application) recomputeStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "venueID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	st, err := app.moderation.RecomputeVenue(r.Context(), id)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, st); err != nil {
		app.internalServerError(w, r, err)
	}
}
