package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"calmmap/internal/auth"
	"calmmap/internal/domain/accesscontrol"
	"calmmap/internal/domain/storage"
	"calmmap/internal/domain/storage/memstore"
	"calmmap/internal/domain/venues"
	"calmmap/internal/events"
	"calmmap/internal/geo"
	"calmmap/internal/moderation"
	"calmmap/internal/ratelimiter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminID, userID = int64(1), int64(501)

type staticGeocoder map[string]geo.Point

func (g staticGeocoder) Resolve(_ context.Context, code string) (geo.Point, bool) {
	p, ok := g[code]
	return p, ok
}

type noTokens struct{}

func (noTokens) Upsert(context.Context, int64, string, json.RawMessage) error { return nil }
func (noTokens) Remove(context.Context, int64, string) error                  { return nil }
func (noTokens) ForUsers(context.Context, []int64) (map[int64][]string, error) {
	return map[int64][]string{}, nil
}
func (noTokens) PruneStale(context.Context, time.Duration) (int64, error) { return 0, nil }

type testServer struct {
	t       *testing.T
	app     *application
	handler http.Handler
	store   *memstore.Store
	authn   *auth.JWTAuthenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memstore.New()
	store.Seed(func(tx *storage.Tx) {
		require.NoError(t, tx.AccessControl.AssignRole(context.Background(), adminID, accesscontrol.RoleAdmin))
	})
	logger := zap.NewNop().Sugar()
	authn := auth.NewJWTAuthenticator("test-secret", "calmmap", "calmmap")

	app := &application{
		config:        config{env: "test", auth: authConfig{basic: basicConfig{user: "ops", pass: "s3cret"}}},
		logger:        logger,
		moderation:    moderation.New(store, staticGeocoder{"LS1 2AB": {Lat: 53.8, Lng: -1.55}}, events.Nop{}, logger),
		pushTokens:    noTokens{},
		authenticator: authn,
		rateLimiter:   ratelimiter.NewFixedWindowLimiter(100, time.Minute),
	}
	return &testServer{t: t, app: app, handler: app.mount(), store: store, authn: authn}
}

func (s *testServer) do(method, path string, as int64, body any) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as > 0 {
		token, err := s.authn.Issue(as)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (s *testServer) seedVenue(name, code string) int64 {
	v := &venues.Venue{Fields: venues.Fields{Name: name, City: "Leeds", Postcode: code, Tags: []string{"cafe"}}}
	s.store.Seed(func(tx *storage.Tx) {
		require.NoError(s.t, tx.Venues.Create(context.Background(), v))
	})
	return v.ID
}

func submission(name string) map[string]any {
	return map[string]any{
		"type":          "NEW_VENUE",
		"proposed_name": name,
		"payload": map[string]any{
			"city":     "Leeds",
			"postcode": "ls12ab",
			"tags":     []string{"Cafe"},
		},
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(http.MethodPost, "/v1/submissions", 0, submission("Calm Café"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(http.MethodGet, "/v1/admin/submissions", userID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(http.MethodGet, "/v1/admin/submissions", adminID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitAndApprove(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(http.MethodPost, "/v1/submissions", userID, submission("Calm Café"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := body["data"].(map[string]any)
	assert.Equal(t, "PENDING", sub["status"])
	id := int64(sub["id"].(float64))

	rec, body = s.do(http.MethodPost, "/v1/admin/submissions/"+itoa(id)+"/approve?verify=true", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	venueID := int64(body["data"].(map[string]any)["venue_id"].(float64))

	rec, body = s.do(http.MethodGet, "/v1/venues/"+itoa(venueID), 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := body["data"].(map[string]any)
	assert.Equal(t, "LS1 2AB", v["postcode"])

	rec, body = s.do(http.MethodPost, "/v1/admin/submissions/"+itoa(id)+"/approve", adminID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "APPROVED", body["details"].(map[string]any)["status"])
}

func TestApproveDuplicateGuard(t *testing.T) {
	s := newTestServer(t)
	s.seedVenue("Quiet Corner", "LS1 2AB")

	_, body := s.do(http.MethodPost, "/v1/submissions", userID, submission("Calm Café"))
	id := itoa(int64(body["data"].(map[string]any)["id"].(float64)))

	rec, body := s.do(http.MethodPost, "/v1/admin/submissions/"+id+"/approve", adminID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	dups := body["details"].(map[string]any)["duplicates"].([]any)
	assert.Len(t, dups, 1)

	rec, _ = s.do(http.MethodPost, "/v1/admin/submissions/"+id+"/approve?force=true", adminID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidationDetails(t *testing.T) {
	s := newTestServer(t)

	bad := submission("x")
	bad["payload"].(map[string]any)["tags"] = []string{}
	rec, body := s.do(http.MethodPost, "/v1/submissions", userID, bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := body["details"].(map[string]any)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "tags")

	rec, _ = s.do(http.MethodPost, "/v1/admin/submissions/abc/reject", adminID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPost, "/v1/admin/submissions/999/reject", adminID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewReportFlow(t *testing.T) {
	s := newTestServer(t)
	venueID := itoa(s.seedVenue("Calm Café", "LS1 2AB"))

	rec, body := s.do(http.MethodPost, "/v1/venues/"+venueID+"/reviews", userID, map[string]any{"rating": 2, "content": "loud music"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reviewID := itoa(int64(body["data"].(map[string]any)["id"].(float64)))

	rec, _ = s.do(http.MethodPost, "/v1/venues/"+venueID+"/reviews", userID, map[string]any{"rating": 4})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = s.do(http.MethodPost, "/v1/reviews/"+reviewID+"/reports", 502, map[string]any{"reason": "INACCURATE"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reportID := itoa(int64(body["data"].(map[string]any)["id"].(float64)))

	rec, body = s.do(http.MethodPost, "/v1/admin/reports/"+reportID+"/resolve", adminID, map[string]any{"note": "checked"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "RESOLVED", body["data"].(map[string]any)["status"])

	rec, body = s.do(http.MethodGet, "/v1/venues/"+venueID+"/reviews", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["data"])

	rec, _ = s.do(http.MethodPost, "/v1/admin/reports/"+reportID+"/dismiss", adminID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnonymousReport(t *testing.T) {
	s := newTestServer(t)
	venueID := itoa(s.seedVenue("Calm Café", "LS1 2AB"))

	_, body := s.do(http.MethodPost, "/v1/venues/"+venueID+"/reviews", userID, map[string]any{"rating": 1})
	reviewID := itoa(int64(body["data"].(map[string]any)["id"].(float64)))
	path := "/v1/reviews/" + reviewID + "/reports"

	rec, body := s.do(http.MethodPost, path, 0, map[string]any{"reason": "SPAM"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rp := body["data"].(map[string]any)
	assert.Equal(t, "192.0.2.1", rp["reporter_ip"])
	assert.NotContains(t, rp, "reporter_id")

	rec, body = s.do(http.MethodPost, path, 502, map[string]any{"reason": "OTHER"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(502), body["data"].(map[string]any)["reporter_id"])

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"reason":"SPAM"}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	bad := httptest.NewRecorder()
	s.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
}

func TestAnonymousReportsRateLimitedByIP(t *testing.T) {
	s := newTestServer(t)
	s.app.rateLimiter = ratelimiter.NewFixedWindowLimiter(2, time.Minute)
	venueID := itoa(s.seedVenue("Calm Café", "LS1 2AB"))

	_, body := s.do(http.MethodPost, "/v1/venues/"+venueID+"/reviews", userID, map[string]any{"rating": 1})
	path := "/v1/reviews/" + itoa(int64(body["data"].(map[string]any)["id"].(float64))) + "/reports"

	for i := 0; i < 2; i++ {
		rec, _ := s.do(http.MethodPost, path, 0, map[string]any{"reason": "SPAM"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec, _ := s.do(http.MethodPost, path, 0, map[string]any{"reason": "SPAM"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A signed-in user from the same address has their own window.
	rec, _ = s.do(http.MethodPost, path, 502, map[string]any{"reason": "SPAM"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestLastAdminCannotBeDemoted(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(http.MethodDelete, "/v1/admin/users/1/admin", adminID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = s.do(http.MethodPut, "/v1/admin/users/7/admin", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodDelete, "/v1/admin/users/1/admin", adminID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodGet, "/v1/admin/submissions", adminID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthBasicAuth(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Bearer abc", http.StatusUnauthorized},
		{"not base64", "Basic !!!", http.StatusUnauthorized},
		{"wrong password", "Basic " + base64.StdEncoding.EncodeToString([]byte("ops:nope")), http.StatusUnauthorized},
		{"ok", "Basic " + base64.StdEncoding.EncodeToString([]byte("ops:s3cret")), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
