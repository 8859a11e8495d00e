package main

import (
	"errors"
	"net/http"

	"calmmap/internal/moderation"
)

func (app *application) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Errorw("internal error", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusInternalServerError, "the server encountered a problem")
}

func (app *application) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("bad request", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusBadRequest, err.Error())
}

func (app *application) notFoundResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("not found", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusNotFound, err.Error())
}

func (app *application) unauthorizedErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("unauthorized", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusUnauthorized, "unauthorized")
}

func (app *application) unauthorizedBasicErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("unauthorized basic", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)
	writeJSONError(w, http.StatusUnauthorized, "unauthorized")
}

func (app *application) forbiddenResponse(w http.ResponseWriter, r *http.Request) {
	app.logger.Warnw("forbidden", "method", r.Method, "path", r.URL.Path)
	writeJSONError(w, http.StatusForbidden, "forbidden")
}

func (app *application) rateLimitExceededResponse(w http.ResponseWriter, r *http.Request, retryAfter string) {
	app.logger.Warnw("rate limit exceeded", "method", r.Method, "path", r.URL.Path)
	w.Header().Set("Retry-After", retryAfter)
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded, retry after: "+retryAfter)
}

// moderationError maps the moderation error taxonomy onto HTTP responses.
func (app *application) moderationError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *moderation.ValidationError
		nf *moderation.NotFoundError
		ce *moderation.ConflictError
		pf *moderation.PartialFailureError
	)
	switch {
	case errors.As(err, &ve):
		app.logger.Warnw("validation failed", "method", r.Method, "path", r.URL.Path, "fields", ve.Fields)
		writeJSONDetail(w, http.StatusBadRequest, "validation failed", ve.Fields)
	case errors.As(err, &nf):
		app.notFoundResponse(w, r, err)
	case errors.As(err, &ce):
		app.logger.Warnw("conflict", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		var details any
		if len(ce.Duplicates) > 0 {
			details = map[string]any{"duplicates": ce.Duplicates}
		} else if ce.Status != "" {
			details = map[string]string{"status": ce.Status}
		}
		writeJSONDetail(w, http.StatusConflict, ce.Reason, details)
	case errors.As(err, &pf):
		app.logger.Errorw("partial failure", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		writeJSONDetail(w, http.StatusInternalServerError, "action partially applied", map[string]string{
			"completed": pf.Completed,
			"failed":    pf.Failed,
		})
	default:
		app.internalServerError(w, r, err)
	}
}
