package main

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"calmmap/internal/domain/reports"
	"calmmap/internal/moderation"
	"calmmap/internal/params"
)

type createReportPayload struct {
	Reason  reports.Reason `json:"reason"`
	Message *string        `json:"message,omitempty"`
}

// clientIP strips the port RealIP may leave on RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// CreateReport godoc
//
//	@Summary		Report a review
//	@Tags			Reports
//	@Accept			json
//	@Produce		json
//	@Param			reviewID	path		int					true	"Review ID"
//	@Param			payload		body		createReportPayload	true	"Report"
//	@Success		201			{object}	reports.Report
//	@Failure		400			{object}	error
//	@Failure		404			{object}	error
//	@Failure		429			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/reviews/{reviewID}/reports [post]
func (app *application) createReportHandler(w http.ResponseWriter, r *http.Request) {
	reviewID, err := readIDParam(r, "reviewID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var payload createReportPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	in := moderation.NewReport{
		ReviewID: reviewID,
		Reason:   payload.Reason,
		Message:  payload.Message,
	}
	if id := getUserIDFromContext(r); id > 0 {
		in.ReporterID = &id
	}
	if ip := clientIP(r); net.ParseIP(ip) != nil {
		in.ReporterIP = &ip
	}

	rp, err := app.moderation.CreateReport(r.Context(), in)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusCreated, rp); err != nil {
		app.internalServerError(w, r, err)
	}
}

type reportList struct {
	Reports    []reports.Report  `json:"reports"`
	Pagination params.Pagination `json:"pagination"`
}

// ListReports godoc
//
//	@Summary		List review reports (admin)
//	@Description	Oldest first. Optional status filter: OPEN, RESOLVED or DISMISSED.
//	@Tags			Admin Reports
//	@Produce		json
//	@Param			status	query		string	false	"Status filter"
//	@Success		200		{object}	reportList
//	@Failure		400		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/reports [get]
func (app *application) listReportsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := params.ParsePagination(q)

	f := reports.Filter{Limit: p.Limit, Offset: p.Offset}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := reports.Status(strings.ToUpper(raw))
		switch status {
		case reports.StatusOpen, reports.StatusResolved, reports.StatusDismissed:
			f.Status = &status
		default:
			app.badRequestResponse(w, r, fmt.Errorf("invalid status %q", raw))
			return
		}
	}

	list, total, err := app.moderation.ListReports(r.Context(), f)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	p.ComputeMeta(total)
	if list == nil {
		list = []reports.Report{}
	}
	if err := app.jsonResponse(w, http.StatusOK, reportList{Reports: list, Pagination: p}); err != nil {
		app.internalServerError(w, r, err)
	}
}

type closeReportPayload struct {
	Note *string `json:"note,omitempty"`
}

type reportAction func(r *http.Request, reportID, actorID int64, note *string) (*reports.Report, error)

func (app *application) closeReport(w http.ResponseWriter, r *http.Request, action reportAction) {
	id, err := readIDParam(r, "reportID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var payload closeReportPayload
	if err := readOptionalJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	rp, err := action(r, id, getUserIDFromContext(r), payload.Note)
	if err != nil {
		app.moderationError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, rp); err != nil {
		app.internalServerError(w, r, err)
	}
}

// ResolveReport godoc
//
//	@Summary		Resolve a report by hiding the review (admin)
//	@Description	404 when the review was deleted in the meantime; dismiss the report instead.
//	@Tags			Admin Reports
//	@Accept			json
//	@Produce		json
//	@Param			reportID	path		int					true	"Report ID"
//	@Param			payload		body		closeReportPayload	false	"Optional note"
//	@Success		200			{object}	reports.Report
//	@Failure		404			{object}	error
//	@Failure		409			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/reports/{reportID}/resolve [post]
func (app *application) resolveReportHandler(w http.ResponseWriter, r *http.Request) {
	app.closeReport(w, r, func(r *http.Request, id, actor int64, note *string) (*reports.Report, error) {
		return app.moderation.ResolveReport(r.Context(), id, actor, note)
	})
}

func (app *application) dismissReportHandler(w http.ResponseWriter, r *http.Request) {
	app.closeReport(w, r, func(r *http.Request, id, actor int64, note *string) (*reports.Report, error) {
		return app.moderation.DismissReport(r.Context(), id, actor, note)
	})
}

// DeleteAndResolveReport godoc
//
//	@Summary		Delete the reported review and resolve the report (admin)
//	@Description	Two steps. If only the deletion went through the response is 500 with details; retrying resolves the report.
//	@Tags			Admin Reports
//	@Accept			json
//	@Produce		json
//	@Param			reportID	path		int					true	"Report ID"
//	@Param			payload		body		closeReportPayload	false	"Optional note"
//	@Success		200			{object}	reports.Report
//	@Failure		404			{object}	error
//	@Failure		409			{object}	error
//	@Failure		500			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/reports/{reportID}/delete-review [post]
func (app *application) deleteAndResolveReportHandler(w http.ResponseWriter, r *http.Request) {
	app.closeReport(w, r, func(r *http.Request, id, actor int64, note *string) (*reports.Report, error) {
		return app.moderation.DeleteAndResolveReport(r.Context(), id, actor, note)
	})
}
