package geocode_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"calmmap/internal/geo"
	"calmmap/internal/geocode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newServer(t *testing.T, status int, body string, hits *atomic.Int32, seenPath *string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if seenPath != nil {
			mu.Lock()
			*seenPath = r.URL.Path
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPostcodesIO_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   geo.Point
		ok     bool
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"status":200,"result":{"latitude":53.8,"longitude":-1.55}}`,
			want:   geo.Point{Lat: 53.8, Lng: -1.55},
			ok:     true,
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{"status":404,"error":"Postcode not found"}`,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{}`,
		},
		{
			name:   "missing coordinates",
			status: http.StatusOK,
			body:   `{"status":200,"result":{"latitude":null,"longitude":-1.55}}`,
		},
		{
			name:   "non numeric coordinates",
			status: http.StatusOK,
			body:   `{"status":200,"result":{"latitude":"53.8","longitude":"-1.55"}}`,
		},
		{
			name:   "no result",
			status: http.StatusOK,
			body:   `{"status":200}`,
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `{"status":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newServer(t, tt.status, tt.body, nil, nil)
			client := geocode.NewPostcodesIO(srv.URL, time.Second, zap.NewNop().Sugar())

			got, ok := client.Resolve(context.Background(), "ls1 2ab")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPostcodesIO_LookupNormalizesPath(t *testing.T) {
	t.Parallel()

	var path string
	srv := newServer(t, http.StatusOK, `{"status":200,"result":{"latitude":1,"longitude":2}}`, nil, &path)
	client := geocode.NewPostcodesIO(srv.URL, time.Second, zap.NewNop().Sugar())

	_, err := client.Lookup(context.Background(), "  ls12ab ")
	require.NoError(t, err)
	assert.Equal(t, "/postcodes/LS1 2AB", path)
}

func TestPostcodesIO_LookupReportsStatus(t *testing.T) {
	t.Parallel()

	srv := newServer(t, http.StatusServiceUnavailable, `{}`, nil, nil)
	client := geocode.NewPostcodesIO(srv.URL, time.Second, zap.NewNop().Sugar())

	_, err := client.Lookup(context.Background(), "LS1 2AB")

	var extErr *geocode.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, http.StatusServiceUnavailable, extErr.StatusCode)
}

func TestPostcodesIO_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	client := geocode.NewPostcodesIO(srv.URL, 50*time.Millisecond, zap.NewNop().Sugar())

	start := time.Now()
	_, ok := client.Resolve(context.Background(), "LS1 2AB")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

type stubGeocoder struct {
	mu    sync.Mutex
	calls int
	point geo.Point
	ok    bool
	seen  []string
}

func (s *stubGeocoder) Resolve(_ context.Context, code string) (geo.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.seen = append(s.seen, code)
	return s.point, s.ok
}

func TestCached_HitsCacheWithinTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := geocode.NewMemoryCache(time.Hour).WithClock(func() time.Time { return now })
	inner := &stubGeocoder{point: geo.Point{Lat: 53.8, Lng: -1.55}, ok: true}
	g := geocode.NewCached(inner, cache, zap.NewNop().Sugar())

	p1, ok1 := g.Resolve(context.Background(), "ls1 2ab")
	p2, ok2 := g.Resolve(context.Background(), "LS12AB")

	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, []string{"LS1 2AB"}, inner.seen)
}

func TestCached_ExpiresLazily(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := geocode.NewMemoryCache(time.Hour).WithClock(func() time.Time { return now })
	inner := &stubGeocoder{point: geo.Point{Lat: 1, Lng: 2}, ok: true}
	g := geocode.NewCached(inner, cache, zap.NewNop().Sugar())

	_, _ = g.Resolve(context.Background(), "LS1 2AB")
	now = now.Add(59 * time.Minute)
	_, _ = g.Resolve(context.Background(), "LS1 2AB")
	assert.Equal(t, 1, inner.calls)

	now = now.Add(2 * time.Minute)
	_, _ = g.Resolve(context.Background(), "LS1 2AB")
	assert.Equal(t, 2, inner.calls)
}

func TestCached_DoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	cache := geocode.NewMemoryCache(time.Hour)
	inner := &stubGeocoder{ok: false}
	g := geocode.NewCached(inner, cache, zap.NewNop().Sugar())

	_, ok := g.Resolve(context.Background(), "LS1 2AB")
	assert.False(t, ok)
	_, _ = g.Resolve(context.Background(), "LS1 2AB")

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, cache.Len())
}

func TestCached_EmptyCodeSkipsLookup(t *testing.T) {
	t.Parallel()

	inner := &stubGeocoder{ok: true}
	g := geocode.NewCached(inner, geocode.NewMemoryCache(0), zap.NewNop().Sugar())

	_, ok := g.Resolve(context.Background(), "   ")
	assert.False(t, ok)
	assert.Equal(t, 0, inner.calls)
}

func TestCached_ThroughHTTP(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, http.StatusOK, `{"status":200,"result":{"latitude":53.8,"longitude":-1.55}}`, &hits, nil)
	g := geocode.NewCached(
		geocode.NewPostcodesIO(srv.URL, time.Second, zap.NewNop().Sugar()),
		geocode.NewMemoryCache(time.Hour),
		zap.NewNop().Sugar(),
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, ok := g.Resolve(context.Background(), "LS1 2AB")
			assert.True(t, ok)
			assert.Equal(t, geo.Point{Lat: 53.8, Lng: -1.55}, p)
		}()
	}
	wg.Wait()

	_, _ = g.Resolve(context.Background(), "LS1 2AB")
	assert.LessOrEqual(t, hits.Load(), int32(8))
	assert.GreaterOrEqual(t, hits.Load(), int32(1))
}

func TestTiered_BackfillsNear(t *testing.T) {
	t.Parallel()

	near := geocode.NewMemoryCache(time.Hour)
	far := geocode.NewMemoryCache(time.Hour)
	far.Set(context.Background(), "LS1 2AB", geo.Point{Lat: 1, Lng: 2})

	tiered := geocode.Tiered{Near: near, Far: far}
	p, ok := tiered.Get(context.Background(), "LS1 2AB")

	require.True(t, ok)
	assert.Equal(t, geo.Point{Lat: 1, Lng: 2}, p)
	assert.Equal(t, 1, near.Len())
}
