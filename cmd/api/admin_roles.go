package main

import (
	"net/http"
)

// PromoteAdmin godoc
//
//	@Summary		Grant the admin role
//	@Description	Idempotent.
//	@Tags			Admin Roles
//	@Produce		json
//	@Param			userID	path		int	true	"User ID"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/users/{userID}/admin [put]
func (app *application) promoteAdminHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := readIDParam(r, "userID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := app.moderation.Promote(r.Context(), userID, getUserIDFromContext(r)); err != nil {
		app.moderationError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, map[string]string{
		"message": "admin role granted",
	})
}

// DemoteAdmin godoc
//
//	@Summary		Revoke the admin role
//	@Description	409 when the user is the last admin.
//	@Tags			Admin Roles
//	@Produce		json
//	@Param			userID	path		int	true	"User ID"
//	@Success		200		{object}	map[string]string
//	@Failure		404		{object}	error	"User is not an admin"
//	@Failure		409		{object}	error	"Last admin"
//	@Security		ApiKeyAuth
//	@Router			/admin/users/{userID}/admin [delete]
func (app *application) demoteAdminHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := readIDParam(r, "userID")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := app.moderation.Demote(r.Context(), userID, getUserIDFromContext(r)); err != nil {
		app.moderationError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, map[string]string{
		"message": "admin role revoked",
	})
}
