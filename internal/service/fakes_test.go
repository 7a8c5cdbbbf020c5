package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/theater-booking/internal/audit"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/queue"
	"github.com/iliyamo/theater-booking/internal/repository"
)

// memDB is an in-memory stand-in for MySQL.  Each method takes the lock
// once, so like a single SQL statement it is atomic; WithTx records undo
// steps instead of serialising transactions.
type memDB struct {
	mu       sync.Mutex
	nextID   uint64
	shows    map[uint64]model.Show
	sessions map[uint64]model.Session
	bookings map[uint64]model.Booking
	orgs     map[uint64]model.Organization
	docs     map[uint64]model.Document
}

func newMemDB() *memDB {
	return &memDB{
		shows:    map[uint64]model.Show{},
		sessions: map[uint64]model.Session{},
		bookings: map[uint64]model.Booking{},
		orgs:     map[uint64]model.Organization{},
		docs:     map[uint64]model.Document{},
	}
}

func (db *memDB) id() uint64 {
	db.nextID++
	return db.nextID
}

type undoKey struct{}

type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

// onRollback registers fn to run if the surrounding transaction fails.
// db.mu must be held.
func onRollback(ctx context.Context, fn func()) {
	if l, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		l.mu.Lock()
		l.steps = append(l.steps, fn)
		l.mu.Unlock()
	}
}

func (db *memDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		return fn(ctx)
	}
	l := &undoLog{}
	if err := fn(context.WithValue(ctx, undoKey{}, l)); err != nil {
		db.mu.Lock()
		for i := len(l.steps) - 1; i >= 0; i-- {
			l.steps[i]()
		}
		db.mu.Unlock()
		return err
	}
	return nil
}

// memShows

type memShows struct{ *memDB }

func (r memShows) Create(_ context.Context, s *model.Show) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = r.id()
	r.shows[s.ID] = *s
	return nil
}

func (r memShows) Update(_ context.Context, s *model.Show) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shows[s.ID]; !ok {
		return fmt.Errorf("%w: show %d", model.ErrNotFound, s.ID)
	}
	r.shows[s.ID] = *s
	return nil
}

func (r memShows) GetByID(_ context.Context, id uint64) (model.Show, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shows[id]
	if !ok {
		return model.Show{}, fmt.Errorf("%w: show %d", model.ErrNotFound, id)
	}
	return s, nil
}

func (r memShows) List(context.Context) ([]model.Show, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Show{}
	for _, s := range r.shows {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// memSessions

type memSessions struct{ *memDB }

func (r memSessions) get(id uint64) (model.Session, bool) {
	s, ok := r.sessions[id]
	if ok {
		s.ShowTitle = r.shows[s.ShowID].Title
	}
	return s, ok
}

func (r memSessions) Create(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = r.id()
	if s.Status == "" {
		s.Status = model.SessionDraft
	}
	r.sessions[s.ID] = *s
	*s, _ = r.get(s.ID)
	return nil
}

func (r memSessions) Update(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok {
		return fmt.Errorf("%w: session %d", model.ErrNotFound, s.ID)
	}
	if cur.BookedSeats > s.TotalCapacity {
		return fmt.Errorf("%w: capacity below seats already booked", model.ErrInvalidInput)
	}
	s.Status = cur.Status
	s.BookedSeats, s.BookedB2C, s.BookedPartner, s.BookedSchool = cur.BookedSeats, cur.BookedB2C, cur.BookedPartner, cur.BookedSchool
	r.sessions[s.ID] = *s
	*s, _ = r.get(s.ID)
	return nil
}

func (r memSessions) SetStatus(_ context.Context, id uint64, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %d", model.ErrNotFound, id)
	}
	if s.Status != from {
		return fmt.Errorf("%w: session %d is %s", model.ErrInvalidTransition, id, s.Status)
	}
	s.Status = to
	r.sessions[id] = s
	return nil
}

func (r memSessions) GetByID(_ context.Context, id uint64) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.get(id)
	if !ok {
		return model.Session{}, fmt.Errorf("%w: session %d", model.ErrNotFound, id)
	}
	return s, nil
}

func (r memSessions) filter(keep func(model.Session) bool) []model.Session {
	out := []model.Session{}
	for id := range r.sessions {
		s, _ := r.get(id)
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

func (r memSessions) ListByShow(_ context.Context, showID uint64, publishedOnly bool) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(s model.Session) bool {
		return s.ShowID == showID && (!publishedOnly || s.Status == model.SessionPublished)
	}), nil
}

func (r memSessions) ListAlternatives(_ context.Context, showID, excludeID uint64, seats int, after time.Time) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(s model.Session) bool {
		return s.ShowID == showID && s.ID != excludeID && s.Status == model.SessionPublished &&
			s.StartsAt.After(after) && s.Available() >= seats
	}), nil
}

func (r memSessions) ListStartedBefore(_ context.Context, t time.Time) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(s model.Session) bool {
		return s.Status == model.SessionPublished && s.StartsAt.Before(t)
	}), nil
}

func (r memSessions) Search(_ context.Context, q repository.SessionSearchQuery) ([]model.Session, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	contains := func(s, sub string) bool { return strings.Contains(strings.ToLower(s), strings.ToLower(sub)) }
	all := r.filter(func(s model.Session) bool {
		return s.Status == model.SessionPublished && s.StartsAt.After(q.From) &&
			(q.To.IsZero() || s.StartsAt.Before(q.To)) &&
			contains(s.ShowTitle, q.Title) && contains(s.City, q.City) && contains(s.Venue, q.Venue) &&
			s.Available() >= q.MinSeats
	})
	start := (q.Page - 1) * q.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + q.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

// poolCounter returns the capacity and a pointer to the counter of pool p.
func poolCounter(s *model.Session, p model.Pool) (*int, *int) {
	switch p {
	case model.PoolB2C:
		return s.B2CCapacity, &s.BookedB2C
	case model.PoolPartner:
		return s.PartnerQuota, &s.BookedPartner
	default:
		return s.SchoolCapacity, &s.BookedSchool
	}
}

// Reserve mirrors the conditional UPDATE of the MySQL repository.
func (r memSessions) Reserve(ctx context.Context, id uint64, p model.Pool, seats int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %d", model.ErrNotFound, id)
	}
	if s.Status != model.SessionPublished {
		return fmt.Errorf("%w: session not open", model.ErrInvalidInput)
	}
	limit, counter := poolCounter(&s, p)
	if s.BookedSeats+seats > s.TotalCapacity || (limit != nil && *counter+seats > *limit) {
		return fmt.Errorf("%w: session %d", model.ErrCapacityExceeded, id)
	}
	s.BookedSeats += seats
	*counter += seats
	r.sessions[id] = s
	onRollback(ctx, func() {
		cur := r.sessions[id]
		_, c := poolCounter(&cur, p)
		cur.BookedSeats -= seats
		*c -= seats
		r.sessions[id] = cur
	})
	return nil
}

func (r memSessions) Release(ctx context.Context, id uint64, p model.Pool, seats int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %d", model.ErrNotFound, id)
	}
	_, counter := poolCounter(&s, p)
	if s.BookedSeats < seats || *counter < seats {
		return fmt.Errorf("%w: release %d", repository.ErrConflict, seats)
	}
	s.BookedSeats -= seats
	*counter -= seats
	r.sessions[id] = s
	onRollback(ctx, func() {
		cur := r.sessions[id]
		_, c := poolCounter(&cur, p)
		cur.BookedSeats += seats
		*c += seats
		r.sessions[id] = cur
	})
	return nil
}

// memBookings

type memBookings struct{ *memDB }

func (r memBookings) Create(ctx context.Context, b *model.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b.ID = r.id()
	b.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(b.ID) * time.Second)
	b.UpdatedAt = b.CreatedAt
	r.bookings[b.ID] = *b
	id := b.ID
	onRollback(ctx, func() { delete(r.bookings, id) })
	return nil
}

func (r memBookings) GetByID(_ context.Context, id uint64) (model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return model.Booking{}, fmt.Errorf("%w: booking %d", model.ErrNotFound, id)
	}
	return b, nil
}

func (r memBookings) List(_ context.Context, f repository.BookingFilter) ([]model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Booking{}
	for _, b := range r.bookings {
		if (f.Status != "" && b.Status != f.Status) || (f.SessionID != 0 && b.SessionID != f.SessionID) ||
			(f.RequesterID != 0 && b.RequesterID != f.RequesterID) ||
			(f.OrganizationID != 0 && (b.OrganizationID == nil || *b.OrganizationID != f.OrganizationID)) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r memBookings) ListOverdue(_ context.Context, now time.Time, limit int) ([]model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Booking{}
	for _, b := range r.bookings {
		if (b.Status == model.StatusPending || b.Status == model.StatusQuoted) && b.PaymentDueAt != nil && b.PaymentDueAt.Before(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentDueAt.Before(*out[j].PaymentDueAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memBookings) Transition(ctx context.Context, t repository.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[t.ID]
	if !ok {
		return fmt.Errorf("%w: booking %d", model.ErrNotFound, t.ID)
	}
	if b.Status != t.From || !model.CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: booking %d is %s", model.ErrInvalidTransition, t.ID, b.Status)
	}
	before := b
	at := t.At
	b.Status = t.To
	switch t.To {
	case model.StatusQuoted:
		b.QuotedAt = &at
	case model.StatusPaymentSent:
		b.PaymentSentAt = &at
	case model.StatusConfirmed:
		b.ConfirmedAt = &at
	}
	if t.Reason != "" {
		b.ClosedReason = t.Reason
	}
	if t.PaymentDueAt != nil {
		due := *t.PaymentDueAt
		b.PaymentDueAt = &due
	}
	if model.IsTerminal(t.To) {
		b.PaymentDueAt = nil
	}
	r.bookings[t.ID] = b
	onRollback(ctx, func() { r.bookings[t.ID] = before })
	return nil
}

// memOrgs

type memOrgs struct{ *memDB }

func (r memOrgs) Create(_ context.Context, o *model.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.ID = r.id()
	o.VerificationStatus = model.VerificationPending
	r.orgs[o.ID] = *o
	return nil
}

func (r memOrgs) GetByID(_ context.Context, id uint64) (model.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return model.Organization{}, fmt.Errorf("%w: organization %d", model.ErrNotFound, id)
	}
	return o, nil
}

func (r memOrgs) List(_ context.Context, status string) ([]model.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Organization{}
	for _, o := range r.orgs {
		if status == "" || o.VerificationStatus == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memOrgs) SetVerification(_ context.Context, id uint64, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return fmt.Errorf("%w: organization %d", model.ErrNotFound, id)
	}
	if o.VerificationStatus != from {
		return fmt.Errorf("%w: organization %d is %s", model.ErrInvalidTransition, id, o.VerificationStatus)
	}
	o.VerificationStatus = to
	r.orgs[id] = o
	return nil
}

func (r memOrgs) SetAPIKeyHash(_ context.Context, id uint64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return fmt.Errorf("%w: organization %d", model.ErrNotFound, id)
	}
	o.APIKeyHash = &hash
	r.orgs[id] = o
	return nil
}

// memDocs

type memDocs struct{ *memDB }

func (r memDocs) Create(ctx context.Context, d *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = r.id()
	r.docs[d.ID] = *d
	id := d.ID
	onRollback(ctx, func() { delete(r.docs, id) })
	return nil
}

func (r memDocs) GetByID(_ context.Context, id uint64) (model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return model.Document{}, fmt.Errorf("%w: document %d", model.ErrNotFound, id)
	}
	return d, nil
}

func (r memDocs) ListByBooking(_ context.Context, bookingID uint64) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Document{}
	for _, d := range r.docs {
		if d.BookingID == bookingID {
			d.Content = nil
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// side effects

type recordingNotifier struct {
	mu     sync.Mutex
	events []queue.NotificationEvent
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, ev queue.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []string{}
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Write(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingAudit) Close() error { return nil }

func (a *recordingAudit) byAction(action string) []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Entry
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type countingCache struct {
	mu sync.Mutex
	n  int
}

func (c *countingCache) Invalidate(context.Context) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

var errBroker = errors.New("broker unreachable")
