// Package memstore is an in-memory storage.UnitOfWork. Units of work are
// serialized and a failed unit restores the state it started from.
package memstore

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"calmmap/internal/domain/accesscontrol"
	"calmmap/internal/domain/reports"
	"calmmap/internal/domain/reviews"
	"calmmap/internal/domain/storage"
	"calmmap/internal/domain/submissions"
	"calmmap/internal/domain/venues"
)

type data struct {
	nextID      int64
	venues      map[int64]venues.Venue
	submissions map[int64]submissions.Submission
	reviews     map[int64]reviews.Review
	reports     map[int64]reports.Report
	roles       map[int64]map[accesscontrol.RoleName]time.Time
}

func newData() *data {
	return &data{
		venues:      make(map[int64]venues.Venue),
		submissions: make(map[int64]submissions.Submission),
		reviews:     make(map[int64]reviews.Review),
		reports:     make(map[int64]reports.Report),
		roles:       make(map[int64]map[accesscontrol.RoleName]time.Time),
	}
}

// clone copies the maps. Stored values are replaced wholesale on write and
// their slices are cloned on the way in and out, so a shallow copy suffices.
func (d *data) clone() *data {
	c := &data{
		nextID:      d.nextID,
		venues:      make(map[int64]venues.Venue, len(d.venues)),
		submissions: make(map[int64]submissions.Submission, len(d.submissions)),
		reviews:     make(map[int64]reviews.Review, len(d.reviews)),
		reports:     make(map[int64]reports.Report, len(d.reports)),
		roles:       make(map[int64]map[accesscontrol.RoleName]time.Time, len(d.roles)),
	}
	for k, v := range d.venues {
		c.venues[k] = v
	}
	for k, v := range d.submissions {
		c.submissions[k] = v
	}
	for k, v := range d.reviews {
		c.reviews[k] = v
	}
	for k, v := range d.reports {
		c.reports[k] = v
	}
	for k, v := range d.roles {
		m := make(map[accesscontrol.RoleName]time.Time, len(v))
		for r, t := range v {
			m[r] = t
		}
		c.roles[k] = m
	}
	return c
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

type Option func(*Store)

// WithClock sets the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu  sync.Mutex
	now func() time.Time
	d   *data
}

var _ storage.UnitOfWork = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{now: time.Now, d: newData()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(tx *storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(s.tx()); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

func (s *Store) tx() *storage.Tx {
	return &storage.Tx{
		Venues:        venueRepo{s},
		Submissions:   submissionRepo{s},
		Reviews:       reviewRepo{s},
		Reports:       reportRepo{s},
		AccessControl: accessRepo{s},
	}
}

// Seed runs fn outside of any unit of work. It is meant for test fixtures.
func (s *Store) Seed(fn func(tx *storage.Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.tx())
}

// tick returns a timestamp strictly after prev so consecutive writes to the
// same row are distinguishable even with a frozen clock.
func (s *Store) tick(prev time.Time) time.Time {
	t := s.now()
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

type venueRepo struct{ s *Store }

func cloneFields(f venues.Fields) venues.Fields {
	f.Tags = slices.Clone(f.Tags)
	f.Gallery = slices.Clone(f.Gallery)
	f.Sensory = slices.Clone(f.Sensory)
	f.Facilities = slices.Clone(f.Facilities)
	return f
}

func cloneVenue(v venues.Venue) *venues.Venue {
	v.Fields = cloneFields(v.Fields)
	if v.Geo != nil {
		g := *v.Geo
		v.Geo = &g
	}
	return &v
}

func (r venueRepo) Create(_ context.Context, v *venues.Venue) error {
	d := r.s.d
	now := r.s.now()
	v.ID = d.id()
	v.CreatedAt, v.UpdatedAt = now, now
	d.venues[v.ID] = *cloneVenue(*v)
	return nil
}

func (r venueRepo) GetByID(_ context.Context, id int64) (*venues.Venue, error) {
	v, ok := r.s.d.venues[id]
	if !ok {
		return nil, venues.ErrVenueNotFound
	}
	return cloneVenue(v), nil
}

func (r venueRepo) GetForUpdate(ctx context.Context, id int64) (*venues.Venue, error) {
	return r.GetByID(ctx, id)
}

func (r venueRepo) UpdateFields(_ context.Context, id int64, f venues.Fields, g *venues.GeoTag, verifiedAt *time.Time) error {
	v, ok := r.s.d.venues[id]
	if !ok {
		return venues.ErrVenueNotFound
	}
	v.Fields = cloneFields(f)
	v.Geo = nil
	if g != nil {
		gc := *g
		v.Geo = &gc
	}
	if verifiedAt != nil {
		v.Verified = venues.StampAt(*verifiedAt)
	}
	v.UpdatedAt = r.s.tick(v.UpdatedAt)
	r.s.d.venues[id] = v
	return nil
}

func (r venueRepo) FindActiveByPostcodes(_ context.Context, codes []string, excludeID *int64, limit int) ([]venues.Summary, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var out []venues.Summary
	for _, id := range sortedKeys(r.s.d.venues) {
		v := r.s.d.venues[id]
		if v.Archived.IsSet() || !slices.Contains(codes, v.Postcode) {
			continue
		}
		if excludeID != nil && *excludeID == id {
			continue
		}
		out = append(out, venues.Summary{ID: v.ID, Name: v.Name, City: v.City, Postcode: v.Postcode})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r venueRepo) LockStats(_ context.Context, id int64) error {
	if _, ok := r.s.d.venues[id]; !ok {
		return venues.ErrVenueNotFound
	}
	return nil
}

func (r venueRepo) SetReviewStats(_ context.Context, id int64, st venues.ReviewStats) error {
	v, ok := r.s.d.venues[id]
	if !ok {
		return venues.ErrVenueNotFound
	}
	v.Stats = st
	r.s.d.venues[id] = v
	return nil
}

func (r venueRepo) SetArchived(_ context.Context, id int64, archivedAt *time.Time) error {
	v, ok := r.s.d.venues[id]
	if !ok {
		return venues.ErrVenueNotFound
	}
	v.Archived = venues.StampFrom(archivedAt)
	v.UpdatedAt = r.s.tick(v.UpdatedAt)
	r.s.d.venues[id] = v
	return nil
}

func (r venueRepo) ListIDs(context.Context) ([]int64, error) {
	return sortedKeys(r.s.d.venues), nil
}

type submissionRepo struct{ s *Store }

func cloneSubmission(sub submissions.Submission) *submissions.Submission {
	sub.Payload = clonePayload(sub.Payload)
	return &sub
}

func clonePayload(p submissions.Payload) submissions.Payload {
	// Round-trip through JSON so nested pointers are not shared.
	b, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	var out submissions.Payload
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return out
}

func (r submissionRepo) Create(_ context.Context, sub *submissions.Submission) error {
	d := r.s.d
	now := r.s.now()
	sub.ID = d.id()
	sub.Status = submissions.StatusPending
	sub.CreatedAt, sub.UpdatedAt = now, now
	d.submissions[sub.ID] = *cloneSubmission(*sub)
	return nil
}

func (r submissionRepo) GetByID(_ context.Context, id int64) (*submissions.Submission, error) {
	sub, ok := r.s.d.submissions[id]
	if !ok {
		return nil, submissions.ErrSubmissionNotFound
	}
	return cloneSubmission(sub), nil
}

func (r submissionRepo) GetForUpdate(ctx context.Context, id int64) (*submissions.Submission, error) {
	return r.GetByID(ctx, id)
}

func (r submissionRepo) List(_ context.Context, f submissions.Filter) ([]submissions.Submission, int, error) {
	var all []submissions.Submission
	for _, sub := range r.s.d.submissions {
		if f.Status != nil && sub.Status != *f.Status {
			continue
		}
		all = append(all, *cloneSubmission(sub))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return page(all, f.Limit, f.Offset), len(all), nil
}

func (r submissionRepo) pending(id int64) (submissions.Submission, error) {
	sub, ok := r.s.d.submissions[id]
	if !ok || sub.Status != submissions.StatusPending {
		return submissions.Submission{}, submissions.ErrStatusChanged
	}
	return sub, nil
}

func (r submissionRepo) UpdatePending(_ context.Context, id int64, proposedName string, p submissions.Payload) error {
	sub, err := r.pending(id)
	if err != nil {
		return err
	}
	sub.ProposedName = proposedName
	sub.Payload = clonePayload(p)
	sub.UpdatedAt = r.s.tick(sub.UpdatedAt)
	r.s.d.submissions[id] = sub
	return nil
}

func (r submissionRepo) MarkApproved(_ context.Context, id int64, venueID int64, dec submissions.Decision) error {
	sub, err := r.pending(id)
	if err != nil {
		return err
	}
	at := dec.At
	sub.Status = submissions.StatusApproved
	sub.VenueID = &venueID
	sub.ReviewedBy = &dec.ReviewerID
	sub.ReviewedAt = &at
	sub.UpdatedAt = at
	r.s.d.submissions[id] = sub
	return nil
}

func (r submissionRepo) MarkRejected(_ context.Context, id int64, reason *string, dec submissions.Decision) error {
	sub, err := r.pending(id)
	if err != nil {
		return err
	}
	at := dec.At
	sub.Status = submissions.StatusRejected
	sub.RejectionReason = reason
	sub.ReviewedBy = &dec.ReviewerID
	sub.ReviewedAt = &at
	sub.UpdatedAt = at
	r.s.d.submissions[id] = sub
	return nil
}

type reviewRepo struct{ s *Store }

func (r reviewRepo) Create(_ context.Context, rv *reviews.Review) error {
	d := r.s.d
	for _, other := range d.reviews {
		if other.VenueID == rv.VenueID && other.AuthorID == rv.AuthorID {
			return reviews.ErrDuplicateReview
		}
	}
	if _, ok := d.venues[rv.VenueID]; !ok {
		return venues.ErrVenueNotFound
	}
	now := r.s.now()
	rv.ID = d.id()
	rv.CreatedAt, rv.UpdatedAt = now, now
	d.reviews[rv.ID] = *rv
	return nil
}

func (r reviewRepo) GetByID(_ context.Context, id int64) (*reviews.Review, error) {
	rv, ok := r.s.d.reviews[id]
	if !ok {
		return nil, reviews.ErrReviewNotFound
	}
	return &rv, nil
}

func (r reviewRepo) GetForUpdate(ctx context.Context, id int64) (*reviews.Review, error) {
	return r.GetByID(ctx, id)
}

func (r reviewRepo) SetVisibility(_ context.Context, id int64, v reviews.Visibility) error {
	rv, ok := r.s.d.reviews[id]
	if !ok {
		return reviews.ErrReviewNotFound
	}
	rv.Visibility = v
	rv.UpdatedAt = r.s.tick(rv.UpdatedAt)
	r.s.d.reviews[id] = rv
	return nil
}

func (r reviewRepo) Delete(_ context.Context, id int64) error {
	d := r.s.d
	if _, ok := d.reviews[id]; !ok {
		return reviews.ErrReviewNotFound
	}
	delete(d.reviews, id)
	for rid, rp := range d.reports {
		if rp.ReviewID != nil && *rp.ReviewID == id {
			rp.ReviewID = nil
			d.reports[rid] = rp
		}
	}
	return nil
}

func (r reviewRepo) Aggregate(_ context.Context, venueID int64) (venues.ReviewStats, error) {
	var (
		st  venues.ReviewStats
		sum int
	)
	for _, rv := range r.s.d.reviews {
		if rv.VenueID != venueID {
			continue
		}
		if rv.Visibility.IsHidden() {
			st.HiddenCount++
			continue
		}
		st.VisibleCount++
		sum += rv.Rating
		if st.LastReviewedAt == nil || rv.CreatedAt.After(*st.LastReviewedAt) {
			t := rv.CreatedAt
			st.LastReviewedAt = &t
		}
	}
	if st.VisibleCount > 0 {
		avg := float64(sum) / float64(st.VisibleCount)
		st.AvgRating = &avg
	}
	return st, nil
}

func (r reviewRepo) ListByVenue(_ context.Context, venueID int64, includeHidden bool, limit, offset int) ([]reviews.Review, error) {
	var out []reviews.Review
	for _, rv := range r.s.d.reviews {
		if rv.VenueID != venueID || (!includeHidden && rv.Visibility.IsHidden()) {
			continue
		}
		out = append(out, rv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, limit, offset), nil
}

type reportRepo struct{ s *Store }

func (r reportRepo) Create(_ context.Context, rp *reports.Report) error {
	d := r.s.d
	rp.ID = d.id()
	rp.Status = reports.StatusOpen
	rp.CreatedAt = r.s.now()
	d.reports[rp.ID] = *rp
	return nil
}

func (r reportRepo) GetByID(_ context.Context, id int64) (*reports.Report, error) {
	rp, ok := r.s.d.reports[id]
	if !ok {
		return nil, reports.ErrReportNotFound
	}
	return &rp, nil
}

func (r reportRepo) GetForUpdate(ctx context.Context, id int64) (*reports.Report, error) {
	return r.GetByID(ctx, id)
}

func (r reportRepo) Close(_ context.Context, id int64, c reports.Closure) error {
	rp, ok := r.s.d.reports[id]
	if !ok || rp.Status != reports.StatusOpen {
		return reports.ErrStatusChanged
	}
	at, by := c.At, c.By
	rp.Status = c.Status
	rp.ResolvedAt = &at
	rp.ResolvedBy = &by
	rp.ResolutionNote = c.Note
	r.s.d.reports[id] = rp
	return nil
}

func (r reportRepo) List(_ context.Context, f reports.Filter) ([]reports.Report, int, error) {
	var all []reports.Report
	for _, rp := range r.s.d.reports {
		if f.Status != nil && rp.Status != *f.Status {
			continue
		}
		all = append(all, rp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return page(all, f.Limit, f.Offset), len(all), nil
}

type accessRepo struct{ s *Store }

var knownRoles = map[accesscontrol.RoleName]int64{
	accesscontrol.RoleAdmin: 1,
	accesscontrol.RoleUser:  2,
}

func (r accessRepo) AssignRole(_ context.Context, userID int64, role accesscontrol.RoleName) error {
	if _, ok := knownRoles[role]; !ok {
		return accesscontrol.ErrRoleNotFound
	}
	held, ok := r.s.d.roles[userID]
	if !ok {
		held = make(map[accesscontrol.RoleName]time.Time)
		r.s.d.roles[userID] = held
	}
	if _, ok := held[role]; !ok {
		held[role] = r.s.now()
	}
	return nil
}

func (r accessRepo) RemoveRole(_ context.Context, userID int64, role accesscontrol.RoleName) error {
	held := r.s.d.roles[userID]
	if _, ok := held[role]; !ok {
		return accesscontrol.ErrAssignmentNotFound
	}
	delete(held, role)
	return nil
}

func (r accessRepo) GetUserRoles(_ context.Context, userID int64) ([]accesscontrol.Role, error) {
	var out []accesscontrol.Role
	for name, at := range r.s.d.roles[userID] {
		out = append(out, accesscontrol.Role{ID: knownRoles[name], Name: string(name), CreatedAt: at, UpdatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r accessRepo) UserHasRole(_ context.Context, userID int64, role accesscontrol.RoleName) (bool, error) {
	_, ok := r.s.d.roles[userID][role]
	return ok, nil
}

func (r accessRepo) LockRoleHolders(_ context.Context, role accesscontrol.RoleName) ([]int64, error) {
	var ids []int64
	for uid, held := range r.s.d.roles {
		if _, ok := held[role]; ok {
			ids = append(ids, uid)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
