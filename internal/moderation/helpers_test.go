package moderation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"calmmap/internal/domain/accesscontrol"
	"calmmap/internal/domain/storage"
	"calmmap/internal/domain/storage/memstore"
	"calmmap/internal/domain/submissions"
	"calmmap/internal/domain/venues"
	"calmmap/internal/events"
	"calmmap/internal/geo"
	"calmmap/internal/moderation"
	"calmmap/internal/postcode"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeGeocoder struct {
	mu        sync.Mutex
	points    map[string]geo.Point
	calls     []string
	onResolve func()
}

func (g *fakeGeocoder) Resolve(_ context.Context, code string) (geo.Point, bool) {
	g.mu.Lock()
	g.calls = append(g.calls, code)
	hook := g.onResolve
	p, ok := g.points[postcode.Normalize(code)]
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return p, ok
}

func (g *fakeGeocoder) set(code string, p geo.Point) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[postcode.Normalize(code)] = p
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// flakyStore counts units of work and fails the failOn-th one without
// running it.
type flakyStore struct {
	inner  storage.UnitOfWork
	mu     sync.Mutex
	calls  int
	failOn int
}

var errStoreDown = errors.New("store unavailable")

func (f *flakyStore) WithTx(ctx context.Context, fn func(tx *storage.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failOn
	f.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return f.inner.WithTx(ctx, fn)
}

func (f *flakyStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc      *moderation.Service
	store    *memstore.Store
	geocoder *fakeGeocoder
	events   *recorder
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := newClock()
	store := memstore.New(memstore.WithClock(clk.Now))
	f := &fixture{
		store:    store,
		geocoder: &fakeGeocoder{points: map[string]geo.Point{}},
		events:   &recorder{},
		clock:    clk,
	}
	f.svc = f.service(store)
	return f
}

// service builds another Service over uow sharing the fixture's fakes.
func (f *fixture) service(uow storage.UnitOfWork) *moderation.Service {
	return moderation.New(uow, f.geocoder, f.events, zap.NewNop().Sugar(), moderation.WithClock(f.clock.Now))
}

func (f *fixture) seedVenue(t *testing.T, name, code string) *venues.Venue {
	t.Helper()
	v := &venues.Venue{Fields: venues.Fields{Name: name, City: "Leeds", Postcode: code, Tags: []string{"cafe"}}}
	f.store.Seed(func(tx *storage.Tx) {
		require.NoError(t, tx.Venues.Create(context.Background(), v))
	})
	return v
}

func (f *fixture) seedAdmins(t *testing.T, ids ...int64) {
	t.Helper()
	f.store.Seed(func(tx *storage.Tx) {
		for _, id := range ids {
			require.NoError(t, tx.AccessControl.AssignRole(context.Background(), id, accesscontrol.RoleAdmin))
		}
	})
}

func (f *fixture) venueCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.WithTx(context.Background(), func(tx *storage.Tx) error {
		ids, err := tx.Venues.ListIDs(context.Background())
		n = len(ids)
		return err
	}))
	return n
}

func leedsPayload() submissions.Payload {
	return submissions.Payload{
		City:     "Leeds",
		Postcode: "ls1 2ab",
		Tags:     []string{"cafe"},
	}
}

func (f *fixture) submitNew(t *testing.T, name string, p submissions.Payload) *submissions.Submission {
	t.Helper()
	sub, err := f.svc.Submit(context.Background(), moderation.NewSubmission{
		Type:         submissions.TypeNewVenue,
		ProposedName: name,
		Payload:      p,
		SubmitterID:  501,
	})
	require.NoError(t, err)
	return sub
}

func ptr[T any](v T) *T { return &v }
