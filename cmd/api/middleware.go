package main

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

type userKey string

const userCtx userKey = "user_id"

func getUserIDFromContext(r *http.Request) int64 {
	id, _ := r.Context().Value(userCtx).(int64)
	return id
}

// authorization returns the credentials of an Authorization header using
// the given scheme.
func authorization(r *http.Request, scheme string) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("authorization header is missing")
	}
	got, creds, ok := strings.Cut(header, " ")
	if !ok || got != scheme || creds == "" {
		return "", errors.New("authorization header is malformed")
	}
	return creds, nil
}

func (app *application) BasicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, err := authorization(r, "Basic")
			if err != nil {
				app.unauthorizedBasicErrorResponse(w, r, err)
				return
			}

			decoded, err := base64.StdEncoding.DecodeString(creds)
			if err != nil {
				app.unauthorizedBasicErrorResponse(w, r, err)
				return
			}

			want := app.config.auth.basic
			user, pass, ok := strings.Cut(string(decoded), ":")
			if want.user == "" || !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(want.user)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(want.pass)) != 1 {
				app.unauthorizedBasicErrorResponse(w, r, errors.New("invalid credentials"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthTokenMiddleware puts the bearer token's user id on the request context.
func (app *application) AuthTokenMiddleware(next http.Handler) http.Handler {
	return app.tokenAuth(next, false)
}

// OptionalAuthTokenMiddleware lets requests without an Authorization header
// through anonymously. A header that is present must still be valid.
func (app *application) OptionalAuthTokenMiddleware(next http.Handler) http.Handler {
	return app.tokenAuth(next, true)
}

func (app *application) tokenAuth(next http.Handler, optional bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if optional && r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := authorization(r, "Bearer")
		if err != nil {
			app.unauthorizedErrorResponse(w, r, err)
			return
		}

		userID, err := app.authenticator.Verify(token)
		if err != nil {
			app.unauthorizedErrorResponse(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userCtx, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (app *application) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isAdmin, err := app.moderation.IsAdmin(r.Context(), getUserIDFromContext(r))
		if err != nil {
			app.internalServerError(w, r, err)
			return
		}
		if !isAdmin {
			app.forbiddenResponse(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiterMiddleware limits writes per user, falling back to the client
// address for anonymous requests.
func (app *application) RateLimiterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if app.rateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := "ip:" + clientIP(r)
		if id := getUserIDFromContext(r); id > 0 {
			key = "user:" + strconv.FormatInt(id, 10)
		}
		if allow, retryAfter := app.rateLimiter.Allow(key); !allow {
			app.rateLimitExceededResponse(w, r, retryAfter.String())
			return
		}
		next.ServeHTTP(w, r)
	})
}
