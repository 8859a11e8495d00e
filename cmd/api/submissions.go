package main

import (
	"fmt"
	"net/http"
	"strings"

	"calmmap/internal/domain/submissions"
	"calmmap/internal/moderation"
	"calmmap/internal/params"
)

type submitPayload struct {
	Type         submissions.Type    `json:"type"`
	ProposedName string              `json:"proposed_name"`
	VenueID      *int64              `json:"venue_id,omitempty"`
	Payload      submissions.Payload `json:"payload"`
}

// Submit godoc
//
//	@Summary		Submit a new venue or an edit to an existing one
//	@Description	Stores a PENDING submission for moderators to review.
//	@Tags			Submissions
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		submitPayload	true	"Submission"
//	@Success		201		{object}	submissions.Submission
//	@Failure		400		{object}	error
//	@Failure		404		{object}	error
//	@Failure		409		{object}	error
//	@Failure		429		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/submissions [post]
func (app *application) submitHandler(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	sub, err := app.moderation.Submit(r.Context(), moderation.NewSubmission{
		Type:         payload.Type,
		ProposedName: payload.ProposedName,
		Payload:      payload.Payload,
		VenueID:      payload.VenueID,
		SubmitterID:  getUserIDFromContext(r),
	})
	if err != nil {
		app.moderationError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusCreated, sub); err != nil {
		app.internalServerError(w, r, err)
	}
}

type submissionList struct {
	Submissions []submissions.Submission `json:"submissions"`
	Pagination  params.Pagination        `json:"pagination"`
}

// ListSubmissions godoc
//
//	@Summary		List submissions (admin)
//	@Description	Newest first. Optional status filter: PENDING, APPROVED or REJECTED.
//	@Tags			Admin Submissions
//	@Produce		json
//	@Param			status	query		string	false	"Status filter"
//	@Param			page	query		int		false	"Page"
//	@Param			limit	query		int		false	"Page size"
//	@Success		200		{object}	submissionList
//	@Failure		400		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/submissions [get]
func (app *application) listSubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := params.ParsePagination(q)

	f := submissions.Filter{Limit: p.Limit, Offset: p.Offset}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := submissions.Status(strings.ToUpper(raw))
		if !status.Valid() {
			app.badRequestResponse(w, r, fmt.Errorf("invalid status %q", raw))
			return
		}
		f.Status = &status
	}

	list, total, err := app.moderation.ListSubmissions(r.Context(), f)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	p.ComputeMeta(total)

	if list == nil {
		list = []submissions.Submission{}
	}
	if err := app.jsonResponse(w, http.StatusOK, submissionList{Submissions: list, Pagination: p}); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) getSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "submissionID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	sub, err := app.moderation.GetSubmission(r.Context(), id)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, sub); err != nil {
		app.internalServerError(w, r, err)
	}
}

// ApproveSubmission godoc
//
//	@Summary		Approve a submission (admin)
//	@Description	Creates or updates the venue. Blocked with 409 and the candidate list when active venues share the postcode, unless force=true.
//	@Tags			Admin Submissions
//	@Produce		json
//	@Param			submissionID	path		int		true	"Submission ID"
//	@Param			force			query		bool	false	"Skip the duplicate check for this call"
//	@Param			verify			query		bool	false	"Mark the venue verified"
//	@Success		200				{object}	map[string]int64
//	@Failure		400				{object}	error
//	@Failure		404				{object}	error
//	@Failure		409				{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/submissions/{submissionID}/approve [post]
func (app *application) approveSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "submissionID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	q := r.URL.Query()
	venueID, err := app.moderation.Approve(r.Context(), id, moderation.ApproveOptions{
		Force:   params.Bool(q, "force"),
		Verify:  params.Bool(q, "verify"),
		ActorID: getUserIDFromContext(r),
	})
	if err != nil {
		app.moderationError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, map[string]int64{"venue_id": venueID}); err != nil {
		app.internalServerError(w, r, err)
	}
}

type rejectPayload struct {
	Reason *string `json:"reason,omitempty"`
}

// RejectSubmission godoc
//
//	@Summary		Reject a submission (admin)
//	@Tags			Admin Submissions
//	@Accept			json
//	@Produce		json
//	@Param			submissionID	path		int				true	"Submission ID"
//	@Param			payload			body		rejectPayload	false	"Optional reason"
//	@Success		200				{object}	submissions.Submission
//	@Failure		404				{object}	error
//	@Failure		409				{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/submissions/{submissionID}/reject [post]
func (app *application) rejectSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "submissionID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var payload rejectPayload
	if err := readOptionalJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	sub, err := app.moderation.Reject(r.Context(), id, payload.Reason, getUserIDFromContext(r))
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, sub); err != nil {
		app.internalServerError(w, r, err)
	}
}

type editPayload struct {
	ProposedName *string             `json:"proposed_name,omitempty"`
	Payload      submissions.Payload `json:"payload"`
}

// EditSubmission godoc
//
//	@Summary		Correct a pending submission before deciding (admin)
//	@Tags			Admin Submissions
//	@Accept			json
//	@Produce		json
//	@Param			submissionID	path		int			true	"Submission ID"
//	@Param			payload			body		editPayload	true	"Replacement payload"
//	@Success		200				{object}	submissions.Submission
//	@Failure		400				{object}	error
//	@Failure		404				{object}	error
//	@Failure		409				{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/submissions/{submissionID} [patch]
func (app *application) editSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "submissionID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var payload editPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	sub, err := app.moderation.Edit(r.Context(), id, payload.ProposedName, payload.Payload)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, sub); err != nil {
		app.internalServerError(w, r, err)
	}
}
