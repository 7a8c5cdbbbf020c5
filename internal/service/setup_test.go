package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/clock"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/repository"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

var admin = auth.Principal{UserID: 1, Role: auth.RoleAdmin}

func requester(id uint64) auth.Principal {
	return auth.Principal{UserID: id, Role: auth.RoleRequester, Category: model.CategoryIndividual}
}

func member(id, orgID uint64, category string) auth.Principal {
	return auth.Principal{UserID: id, Role: auth.RoleRequester, OrganizationID: &orgID, Category: category}
}

func partnerOf(orgID uint64) auth.Principal {
	id := orgID
	return auth.Principal{Role: auth.RolePartner, OrganizationID: &id, Category: model.CategoryPartner}
}

func bookingFilterAll() repository.BookingFilter { return repository.BookingFilter{} }

type fixture struct {
	t        *testing.T
	db       *memDB
	shows    memShows
	sessions memSessions
	bookings memBookings
	orgs     memOrgs
	docs     memDocs
	notifier *recordingNotifier
	audit    *recordingAudit
	cache    *countingCache
	log      *logrus.Logger
	checker  *CapacityChecker
	svc      *BookingService
}

func newFixture(t *testing.T, opts ...BookingServiceOption) *fixture {
	t.Helper()
	db := newMemDB()
	log := logrus.New()
	log.SetOutput(io.Discard)
	f := &fixture{
		t:        t,
		db:       db,
		shows:    memShows{db},
		sessions: memSessions{db},
		bookings: memBookings{db},
		orgs:     memOrgs{db},
		docs:     memDocs{db},
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
		cache:    &countingCache{},
		log:      log,
	}
	f.checker = NewCapacityChecker(f.sessions, clock.NewFixed(now))
	f.svc = f.service(clock.NewFixed(now), opts...)
	return f
}

// service builds a BookingService over the fixture stores with its own
// clock.
func (f *fixture) service(clk clock.Clock, opts ...BookingServiceOption) *BookingService {
	docs := NewDocumentService(f.sessions, f.orgs, f.bookings, f.docs, clk, "test-secret")
	deps := BookingDeps{
		Tx:            f.db,
		Sessions:      f.sessions,
		Bookings:      f.bookings,
		Organizations: f.orgs,
		Documents:     docs,
		Notifier:      f.notifier,
		Audit:         f.audit,
	}
	opts = append([]BookingServiceOption{WithLogger(f.log), WithCacheInvalidator(f.cache)}, opts...)
	return NewBookingService(deps, clk, opts...)
}

func (f *fixture) show(title string) model.Show {
	f.t.Helper()
	s := model.Show{Title: title}
	require.NoError(f.t, f.shows.Create(context.Background(), &s))
	return s
}

// session adds a published mixed session priced 50.00 per seat.
func (f *fixture) session(showID uint64, startsAt time.Time, capacity int, mutate func(*model.Session)) model.Session {
	f.t.Helper()
	s := model.Session{
		ShowID:            showID,
		StartsAt:          startsAt,
		Venue:             "Grande Salle",
		City:              "Lyon",
		TotalCapacity:     capacity,
		SessionType:       model.SessionTypeMixed,
		Status:            model.SessionPublished,
		PriceCents:        5000,
		TeacherPriceCents: 2500,
	}
	if mutate != nil {
		mutate(&s)
	}
	require.NoError(f.t, f.sessions.Create(context.Background(), &s))
	return s
}

// fill sets the booked counters of a session directly.
func (f *fixture) fill(id uint64, booked int) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s := f.db.sessions[id]
	s.BookedSeats, s.BookedB2C = booked, booked
	f.db.sessions[id] = s
}

func (f *fixture) org(kind, status string) model.Organization {
	f.t.Helper()
	o := model.Organization{Name: "Org " + kind, Kind: kind, ContactEmail: "org@example.com", City: "Lyon"}
	require.NoError(f.t, f.orgs.Create(context.Background(), &o))
	if status != model.VerificationPending {
		f.db.mu.Lock()
		o.VerificationStatus = status
		f.db.orgs[o.ID] = o
		f.db.mu.Unlock()
	}
	return o
}

func (f *fixture) booked(id uint64) model.Session {
	f.t.Helper()
	s, err := f.sessions.GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return s
}

func individual(sessionID uint64, students int) CreateBookingInput {
	return CreateBookingInput{
		SessionID:    sessionID,
		Students:     students,
		ContactName:  "Camille Martin",
		ContactEmail: "camille@example.com",
	}
}
