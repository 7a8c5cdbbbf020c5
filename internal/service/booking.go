package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/theater-booking/internal/audit"
	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/clock"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/pricing"
	"github.com/iliyamo/theater-booking/internal/queue"
	"github.com/iliyamo/theater-booking/internal/repository"
)

const defaultPaymentWindow = 72 * time.Hour

// DocumentIssuer renders and stores a document for a booking.
type DocumentIssuer interface {
	Issue(ctx context.Context, b model.Booking, kind string) (model.Document, error)
}

// BookingDeps groups the collaborators of a BookingService.
type BookingDeps struct {
	Tx            TxRunner
	Sessions      SessionStore
	Bookings      BookingStore
	Organizations OrganizationStore
	Documents     DocumentIssuer
	Notifier      Notifier   // nil disables notifications
	Audit         audit.Sink // nil logs entries
}

// BookingService owns the booking lifecycle.  Every status change is a
// compare-and-swap in the store; seat counters move in the same
// transaction as the status so they always match the non-terminal
// bookings of a session.
type BookingService struct {
	tx       TxRunner
	sessions SessionStore
	bookings BookingStore
	orgs     OrganizationStore
	docs     DocumentIssuer
	notifier Notifier
	audit    audit.Sink
	capacity *CapacityChecker
	clock    clock.Clock
	log      logrus.FieldLogger
	window   time.Duration
	pricing  pricing.Policy
	cache    CacheInvalidator
}

type BookingServiceOption func(*BookingService)

// WithPaymentWindow overrides how long a requester has to pay.
func WithPaymentWindow(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithPricing overrides the default pricing policy.
func WithPricing(p pricing.Policy) BookingServiceOption {
	return func(s *BookingService) { s.pricing = p }
}

func WithLogger(l logrus.FieldLogger) BookingServiceOption {
	return func(s *BookingService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCacheInvalidator registers the catalog cache to flush after seat
// counters move.
func WithCacheInvalidator(c CacheInvalidator) BookingServiceOption {
	return func(s *BookingService) { s.cache = c }
}

func NewBookingService(deps BookingDeps, clk clock.Clock, opts ...BookingServiceOption) *BookingService {
	s := &BookingService{
		tx:       deps.Tx,
		sessions: deps.Sessions,
		bookings: deps.Bookings,
		orgs:     deps.Organizations,
		docs:     deps.Documents,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		capacity: NewCapacityChecker(deps.Sessions, clk),
		clock:    clk,
		log:      logrus.StandardLogger(),
		window:   defaultPaymentWindow,
		pricing:  pricing.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.audit == nil {
		s.audit = audit.NewLogSink(s.log)
	}
	return s
}

// CreateBookingInput is the booking form.  Category may be left empty when
// the caller's identity already carries one.
type CreateBookingInput struct {
	SessionID    uint64
	Category     string
	Students     int
	Teachers     int
	Adults       int
	ContactName  string
	ContactEmail string
	ContactPhone string
}

// Create validates a booking request, prices it and reserves its seats.
// The reservation and the insert run in one transaction; when the
// reservation loses, the returned *CapacityError lists alternatives.
func (s *BookingService) Create(ctx context.Context, p auth.Principal, in CreateBookingInput) (model.Booking, error) {
	seats := pricing.Seats{Students: in.Students, Teachers: in.Teachers, Adults: in.Adults}
	if seats.Students < 0 || seats.Teachers < 0 || seats.Adults < 0 || seats.Total() <= 0 {
		return model.Booking{}, fmt.Errorf("%w: seat counts must be non-negative with a positive total", model.ErrInvalidInput)
	}
	name := strings.TrimSpace(in.ContactName)
	email := strings.TrimSpace(in.ContactEmail)
	if name == "" || email == "" {
		return model.Booking{}, fmt.Errorf("%w: contact name and email are required", model.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.Booking{}, fmt.Errorf("%w: contact email %q is not valid", model.ErrInvalidInput, email)
	}

	category, err := resolveCategory(p, in.Category)
	if err != nil {
		return model.Booking{}, err
	}
	pool, _ := model.PoolForCategory(category)
	orgID, err := s.gate(ctx, p, category)
	if err != nil {
		return model.Booking{}, err
	}

	sess, err := s.sessions.GetByID(ctx, in.SessionID)
	if err != nil {
		return model.Booking{}, err
	}
	if sess.Status != model.SessionPublished {
		return model.Booking{}, fmt.Errorf("%w: session not open for booking", model.ErrInvalidInput)
	}
	if !sess.Admits(pool) {
		return model.Booking{}, fmt.Errorf("%w: %s session does not accept %s bookings", model.ErrInvalidInput, sess.SessionType, category)
	}
	q, err := s.pricing.Compute(sess, seats)
	if err != nil {
		return model.Booking{}, err
	}
	// Quotes require a positive total.
	if q.TotalCents == 0 {
		return model.Booking{}, fmt.Errorf("%w: booking has no payable seats", model.ErrInvalidInput)
	}

	now := s.clock.Now()
	due := now.Add(s.window)
	b := model.Booking{
		SessionID:         sess.ID,
		RequesterID:       p.UserID,
		OrganizationID:    orgID,
		Category:          category,
		ContactName:       name,
		ContactEmail:      email,
		ContactPhone:      strings.TrimSpace(in.ContactPhone),
		Students:          seats.Students,
		Teachers:          seats.Teachers,
		Adults:            seats.Adults,
		Pool:              pool,
		StudentPriceCents: q.StudentPriceCents,
		TeacherPriceCents: q.TeacherPriceCents,
		AdultPriceCents:   q.AdultPriceCents,
		TotalCents:        q.TotalCents,
		Status:            model.StatusPending,
		PaymentDueAt:      &due,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.sessions.Reserve(ctx, sess.ID, pool, seats.Total()); err != nil {
			return err
		}
		return s.bookings.Create(ctx, &b)
	})
	if err != nil {
		if errors.Is(err, model.ErrCapacityExceeded) {
			return model.Booking{}, s.capacityError(ctx, sess.ID, pool, seats.Total(), err)
		}
		return model.Booking{}, err
	}
	s.invalidate(ctx)

	s.record(ctx, p, b, "", "")
	s.notify(ctx, p, queue.KindBookingCreated, b, nil)
	return b, nil
}

// capacityError re-reads the session so the caller sees the availability
// that made the reservation fail.
func (s *BookingService) capacityError(ctx context.Context, sessionID uint64, pool model.Pool, seats int, cause error) error {
	fresh, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return cause
	}
	res, err := s.capacity.result(ctx, fresh, pool, seats)
	if err != nil {
		return cause
	}
	res.CanBook = false
	return &CapacityError{Result: res}
}

// resolveCategory picks the requester category.  Partners always book as
// partners; other callers may not claim a category different from the one
// in their identity.
func resolveCategory(p auth.Principal, requested string) (string, error) {
	category := strings.TrimSpace(requested)
	if category != "" {
		if _, ok := model.PoolForCategory(category); !ok {
			return "", fmt.Errorf("%w: unknown category %q", model.ErrInvalidInput, category)
		}
	}
	switch {
	case p.Role == auth.RolePartner:
		if category != "" && category != model.CategoryPartner {
			return "", fmt.Errorf("%w: partners book in the partner category", model.ErrInvalidInput)
		}
		category = model.CategoryPartner
	case category == "":
		category = p.Category
	case p.Category != "" && !p.IsAdmin() && category != p.Category:
		return "", fmt.Errorf("%w: category %s does not match the caller", model.ErrForbidden, category)
	}
	if _, ok := model.PoolForCategory(category); !ok {
		return "", fmt.Errorf("%w: a requester category is required", model.ErrInvalidInput)
	}
	return category, nil
}

// gate checks that non-individual callers act for an approved organization
// of the matching kind and returns its id.
func (s *BookingService) gate(ctx context.Context, p auth.Principal, category string) (*uint64, error) {
	if category == model.CategoryIndividual {
		return nil, nil
	}
	if p.OrganizationID == nil {
		return nil, fmt.Errorf("%w: %s bookings require an organization", model.ErrOrganizationNotApproved, category)
	}
	org, err := s.orgs.GetByID(ctx, *p.OrganizationID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: organization %d is not registered", model.ErrOrganizationNotApproved, *p.OrganizationID)
		}
		return nil, err
	}
	if want := model.KindForCategory(category); org.Kind != want {
		return nil, fmt.Errorf("%w: organization kind %s cannot book as %s", model.ErrInvalidInput, org.Kind, category)
	}
	if org.VerificationStatus != model.VerificationApproved {
		return nil, fmt.Errorf("%w: organization %d is %s", model.ErrOrganizationNotApproved, org.ID, org.VerificationStatus)
	}
	id := org.ID
	return &id, nil
}

// Quote issues a quote document.  A pending booking moves to quoted and
// its payment deadline restarts from now; a quoted booking only gets a
// fresh document.
func (s *BookingService) Quote(ctx context.Context, p auth.Principal, id uint64) (model.Booking, model.Document, error) {
	b, err := s.load(ctx, p, id)
	if err != nil {
		return model.Booking{}, model.Document{}, err
	}
	switch b.Status {
	case model.StatusQuoted:
		doc, err := s.docs.Issue(ctx, b, model.DocumentQuote)
		if err != nil {
			return model.Booking{}, model.Document{}, err
		}
		s.notify(ctx, p, queue.KindBookingQuoted, b, &doc.ID)
		return b, doc, nil
	case model.StatusPending:
	default:
		return model.Booking{}, model.Document{}, fmt.Errorf("%w: cannot quote a %s booking", model.ErrInvalidTransition, b.Status)
	}

	now := s.clock.Now()
	due := now.Add(s.window)
	quoted := b
	quoted.Status = model.StatusQuoted
	quoted.QuotedAt = &now
	quoted.PaymentDueAt = &due

	var doc model.Document
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if doc, err = s.docs.Issue(ctx, quoted, model.DocumentQuote); err != nil {
			return err
		}
		return s.bookings.Transition(ctx, repository.Transition{
			ID: b.ID, From: model.StatusPending, To: model.StatusQuoted, At: now, PaymentDueAt: &due,
		})
	})
	if err != nil {
		return model.Booking{}, model.Document{}, err
	}
	s.record(ctx, p, quoted, model.StatusPending, "")
	s.notify(ctx, p, queue.KindBookingQuoted, quoted, &doc.ID)
	return quoted, doc, nil
}

// MarkPaymentSent records the requester's claim that payment is on its
// way.  Nothing is verified; staff confirm later.
func (s *BookingService) MarkPaymentSent(ctx context.Context, p auth.Principal, id uint64) (model.Booking, error) {
	b, err := s.load(ctx, p, id)
	if err != nil {
		return model.Booking{}, err
	}
	return s.advance(ctx, p, b, model.StatusPaymentSent)
}

// Confirm finalises a pending or payment_sent booking.  A ticket is issued
// right away; when rendering fails the confirmation still stands and the
// failure is audited.
func (s *BookingService) Confirm(ctx context.Context, p auth.Principal, id uint64) (model.Booking, error) {
	if err := requireAdmin(p); err != nil {
		return model.Booking{}, err
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	confirmed, err := s.advance(ctx, p, b, model.StatusConfirmed)
	if err != nil {
		return model.Booking{}, err
	}
	var docID *uint64
	if doc, err := s.docs.Issue(ctx, confirmed, model.DocumentTicket); err != nil {
		s.sideEffectFailed(ctx, p, confirmed.ID, "issue ticket", err)
	} else {
		docID = &doc.ID
	}
	s.notify(ctx, p, queue.KindBookingConfirmed, confirmed, docID)
	return confirmed, nil
}

// advance applies a forward transition that does not touch seat counters.
func (s *BookingService) advance(ctx context.Context, p auth.Principal, b model.Booking, to string) (model.Booking, error) {
	if !model.CanTransition(b.Status, to) {
		return model.Booking{}, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, b.Status, to)
	}
	now := s.clock.Now()
	if err := s.bookings.Transition(ctx, repository.Transition{ID: b.ID, From: b.Status, To: to, At: now}); err != nil {
		return model.Booking{}, err
	}
	updated, err := s.bookings.GetByID(ctx, b.ID)
	if err != nil {
		return model.Booking{}, err
	}
	s.record(ctx, p, updated, b.Status, "")
	return updated, nil
}

// Reject closes a booking on behalf of staff and releases its seats.
func (s *BookingService) Reject(ctx context.Context, p auth.Principal, id uint64, reason string) (model.Booking, error) {
	if err := requireAdmin(p); err != nil {
		return model.Booking{}, err
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "rejected by staff"
	}
	return s.close(ctx, p, b, model.StatusRejected, reason, s.clock.Now())
}

// Cancel closes a booking on behalf of its owner or staff and releases its
// seats.
func (s *BookingService) Cancel(ctx context.Context, p auth.Principal, id uint64, reason string) (model.Booking, error) {
	b, err := s.load(ctx, p, id)
	if err != nil {
		return model.Booking{}, err
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "cancelled by requester"
		if p.IsAdmin() {
			reason = "cancelled by staff"
		}
	}
	return s.close(ctx, p, b, model.StatusCancelled, reason, s.clock.Now())
}

// close moves b to a terminal status and gives its seats back in the same
// transaction.
func (s *BookingService) close(ctx context.Context, p auth.Principal, b model.Booking, to, reason string, now time.Time) (model.Booking, error) {
	if !model.CanTransition(b.Status, to) {
		return model.Booking{}, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, b.Status, to)
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.Transition(ctx, repository.Transition{ID: b.ID, From: b.Status, To: to, At: now, Reason: reason}); err != nil {
			return err
		}
		return s.sessions.Release(ctx, b.SessionID, b.Pool, b.Seats())
	})
	if err != nil {
		return model.Booking{}, err
	}
	s.invalidate(ctx)

	closed := b
	closed.Status = to
	closed.ClosedReason = reason
	closed.PaymentDueAt = nil
	s.record(ctx, p, closed, b.Status, reason)
	kind := queue.KindBookingCancelled
	if to == model.StatusRejected {
		kind = queue.KindBookingRejected
	}
	s.notify(ctx, p, kind, closed, nil)
	return closed, nil
}

// ExpiryReport counts the outcome of one ExpireOverdue sweep.
type ExpiryReport struct {
	Cancelled int
	Skipped   int // changed by someone else during the sweep
	Failed    int
}

// ExpireOverdue cancels up to limit pending or quoted bookings whose
// payment deadline is before now.  payment_sent bookings are left for
// staff to decide.
func (s *BookingService) ExpireOverdue(ctx context.Context, now time.Time, limit int) (ExpiryReport, error) {
	var rep ExpiryReport
	overdue, err := s.bookings.ListOverdue(ctx, now, limit)
	if err != nil {
		return rep, err
	}
	system := auth.Principal{}
	for _, b := range overdue {
		if b.Status != model.StatusPending && b.Status != model.StatusQuoted {
			rep.Skipped++
			continue
		}
		if _, err := s.close(ctx, system, b, model.StatusCancelled, model.ReasonPaymentTimeout, now); err != nil {
			if errors.Is(err, model.ErrInvalidTransition) {
				rep.Skipped++
				continue
			}
			rep.Failed++
			s.log.WithError(err).WithField("booking_id", b.ID).Error("expire booking failed")
			continue
		}
		rep.Cancelled++
	}
	return rep, nil
}

// IssueTicket renders a ticket for a confirmed booking.
func (s *BookingService) IssueTicket(ctx context.Context, p auth.Principal, id uint64) (model.Document, error) {
	b, err := s.load(ctx, p, id)
	if err != nil {
		return model.Document{}, err
	}
	return s.docs.Issue(ctx, b, model.DocumentTicket)
}

// Get returns a booking visible to p.
func (s *BookingService) Get(ctx context.Context, p auth.Principal, id uint64) (model.Booking, error) {
	return s.load(ctx, p, id)
}

// ListMine returns the bookings made by the caller, or by the caller's
// organization for partners.
func (s *BookingService) ListMine(ctx context.Context, p auth.Principal) ([]model.Booking, error) {
	if p.Role == auth.RolePartner {
		if p.OrganizationID == nil {
			return nil, fmt.Errorf("%w: partner without organization", model.ErrForbidden)
		}
		return s.bookings.List(ctx, repository.BookingFilter{OrganizationID: *p.OrganizationID})
	}
	if p.UserID == 0 {
		return nil, fmt.Errorf("%w: anonymous caller", model.ErrForbidden)
	}
	return s.bookings.List(ctx, repository.BookingFilter{RequesterID: p.UserID})
}

// ListBySession returns every booking of a session.  Staff only.
func (s *BookingService) ListBySession(ctx context.Context, p auth.Principal, sessionID uint64) ([]model.Booking, error) {
	return s.List(ctx, p, repository.BookingFilter{SessionID: sessionID})
}

// ListByStatus returns bookings in one status.  Staff only.
func (s *BookingService) ListByStatus(ctx context.Context, p auth.Principal, status string) ([]model.Booking, error) {
	return s.List(ctx, p, repository.BookingFilter{Status: status})
}

// List returns bookings matching f.  Staff only.
func (s *BookingService) List(ctx context.Context, p auth.Principal, f repository.BookingFilter) ([]model.Booking, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if f.Status != "" && !model.ValidStatus(f.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, f.Status)
	}
	return s.bookings.List(ctx, f)
}

// load fetches a booking and checks that p may act on it.
func (s *BookingService) load(ctx context.Context, p auth.Principal, id uint64) (model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if !p.Owns(b.RequesterID, b.OrganizationID) {
		return model.Booking{}, fmt.Errorf("%w: booking %d belongs to another requester", model.ErrForbidden, id)
	}
	return b, nil
}

func (s *BookingService) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

// record writes the audit entry for a transition into b.Status.
func (s *BookingService) record(ctx context.Context, p auth.Principal, b model.Booking, from, reason string) {
	e := audit.Entry{
		BookingID: b.ID,
		Action:    audit.ActionTransition,
		From:      from,
		To:        b.Status,
		Actor:     actor(p),
		Reason:    reason,
		At:        s.clock.Now(),
	}
	if err := s.audit.Write(ctx, e); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Error("audit write failed")
	}
}

// sideEffectFailed logs and audits a failure that does not fail the
// booking operation.
func (s *BookingService) sideEffectFailed(ctx context.Context, p auth.Principal, bookingID uint64, what string, err error) {
	s.log.WithError(err).WithFields(logrus.Fields{"booking_id": bookingID, "side_effect": what}).Warn("side effect failed")
	e := audit.Entry{
		BookingID: bookingID,
		Action:    audit.ActionSideEffectFailed,
		Actor:     actor(p),
		Reason:    fmt.Sprintf("%s: %v", what, err),
		At:        s.clock.Now(),
	}
	if werr := s.audit.Write(ctx, e); werr != nil {
		s.log.WithError(werr).WithField("booking_id", bookingID).Error("audit write failed")
	}
}

// notify publishes a notification event.  A failure is wrapped as an
// external service error, logged and audited; it never fails the caller.
func (s *BookingService) notify(ctx context.Context, p auth.Principal, kind string, b model.Booking, documentID *uint64) {
	ev := queue.NotificationEvent{
		Kind:         kind,
		BookingID:    b.ID,
		SessionID:    b.SessionID,
		ContactName:  b.ContactName,
		ContactEmail: b.ContactEmail,
		Category:     b.Category,
		Seats:        b.Seats(),
		TotalCents:   b.TotalCents,
		Status:       b.Status,
		Reason:       b.ClosedReason,
		PaymentDueAt: b.PaymentDueAt,
		DocumentID:   documentID,
		OccurredAt:   s.clock.Now(),
	}
	if sess, err := s.sessions.GetByID(ctx, b.SessionID); err == nil {
		ev.ShowTitle = sess.ShowTitle
		ev.StartsAt = sess.StartsAt
		ev.Venue = sess.Venue
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.sideEffectFailed(ctx, p, b.ID, "publish "+kind, fmt.Errorf("%w: %v", model.ErrExternalService, err))
	}
}
