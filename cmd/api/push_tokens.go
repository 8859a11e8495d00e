package main

import (
	"encoding/json"
	"net/http"
	"time"

	"calmmap/internal/validate"
)

type savePushTokenPayload struct {
	Token      string          `json:"token" validate:"required,notblank,max=255"`
	DeviceInfo json.RawMessage `json:"device_info,omitempty"`
}

type removePushTokenPayload struct {
	Token string `json:"token" validate:"required"`
}

// {"older_than": "1680h"} prunes tokens untouched for 70 days.
type pruneTokensPayload struct {
	OlderThan string `json:"older_than" validate:"required"`
}

func (p *pruneTokensPayload) Duration() (time.Duration, error) {
	return time.ParseDuration(p.OlderThan)
}

// SavePushToken godoc
//
//	@Summary		Save or update a push notification token
//	@Description	Stores or refreshes the caller's Expo push token. Used to tell submitters about moderation decisions.
//	@Tags			Notifications
//	@Accept			json
//	@Param			payload	body	savePushTokenPayload	true	"Push token data"
//	@Success		204
//	@Failure		400	{object}	error	"Bad Request"
//	@Failure		401	{object}	error	"Unauthorized"
//	@Security		ApiKeyAuth
//	@Router			/users/push-tokens [post]
func (app *application) savePushTokenHandler(w http.ResponseWriter, r *http.Request) {
	var payload savePushTokenPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if fields := validate.Struct(payload); len(fields) > 0 {
		writeJSONDetail(w, http.StatusBadRequest, "validation failed", fields)
		return
	}

	if err := app.pushTokens.Upsert(r.Context(), getUserIDFromContext(r), payload.Token, payload.DeviceInfo); err != nil {
		app.internalServerError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (app *application) removePushTokenHandler(w http.ResponseWriter, r *http.Request) {
	var payload removePushTokenPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if fields := validate.Struct(payload); len(fields) > 0 {
		writeJSONDetail(w, http.StatusBadRequest, "validation failed", fields)
		return
	}

	if err := app.pushTokens.Remove(r.Context(), getUserIDFromContext(r), payload.Token); err != nil {
		app.internalServerError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PruneStaleTokens godoc
//
//	@Summary		Prune stale push tokens (admin)
//	@Tags			Notifications
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		pruneTokensPayload	true	"Age threshold"
//	@Success		200		{object}	map[string]int64
//	@Failure		400		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/push-tokens/prune [post]
func (app *application) pruneStaleTokensHandler(w http.ResponseWriter, r *http.Request) {
	var payload pruneTokensPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	dur, err := payload.Duration()
	if err != nil || dur <= 0 {
		app.badRequestResponse(w, r, errInvalidRequest("older_than must be a positive duration"))
		return
	}

	n, err := app.pushTokens.PruneStale(r.Context(), dur)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, map[string]int64{"removed": n}); err != nil {
		app.internalServerError(w, r, err)
	}
}
