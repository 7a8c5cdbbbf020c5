package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/clock"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/repository"
)

// ShowStore is the show persistence used by the catalog.
type ShowStore interface {
	Create(ctx context.Context, s *model.Show) error
	Update(ctx context.Context, s *model.Show) error
	GetByID(ctx context.Context, id uint64) (model.Show, error)
	List(ctx context.Context) ([]model.Show, error)
}

// SessionCatalogStore is the session persistence used by the catalog.
type SessionCatalogStore interface {
	Create(ctx context.Context, s *model.Session) error
	Update(ctx context.Context, s *model.Session) error
	SetStatus(ctx context.Context, id uint64, from, to string) error
	GetByID(ctx context.Context, id uint64) (model.Session, error)
	ListByShow(ctx context.Context, showID uint64, publishedOnly bool) ([]model.Session, error)
	ListStartedBefore(ctx context.Context, t time.Time) ([]model.Session, error)
	Search(ctx context.Context, q repository.SessionSearchQuery) ([]model.Session, int64, error)
}

// CatalogService is the read side of shows and sessions for everyone and
// the write side for staff.
type CatalogService struct {
	shows    ShowStore
	sessions SessionCatalogStore
	clock    clock.Clock
	cache    CacheInvalidator
}

func NewCatalogService(shows ShowStore, sessions SessionCatalogStore, clk clock.Clock, cache CacheInvalidator) *CatalogService {
	return &CatalogService{shows: shows, sessions: sessions, clock: clk, cache: cache}
}

type ShowInput struct {
	Title           string
	Company         string
	Description     string
	DurationMinutes uint32
	AgeMin          uint32
}

type SessionInput struct {
	ShowID            uint64
	StartsAt          time.Time
	Venue             string
	City              string
	TotalCapacity     int
	B2CCapacity       *int
	PartnerQuota      *int
	SchoolCapacity    *int
	SessionType       string
	PriceCents        uint32
	TeacherPriceCents uint32
}

func (s *CatalogService) ListShows(ctx context.Context) ([]model.Show, error) {
	return s.shows.List(ctx)
}

func (s *CatalogService) GetShow(ctx context.Context, id uint64) (model.Show, error) {
	return s.shows.GetByID(ctx, id)
}

// ListSessions returns the sessions of a show.  Staff see drafts and
// closed sessions too.
func (s *CatalogService) ListSessions(ctx context.Context, p auth.Principal, showID uint64) ([]model.Session, error) {
	if _, err := s.shows.GetByID(ctx, showID); err != nil {
		return nil, err
	}
	return s.sessions.ListByShow(ctx, showID, !p.IsAdmin())
}

// GetSession returns a session with its seat counters.  Drafts are hidden
// from everyone but staff.
func (s *CatalogService) GetSession(ctx context.Context, p auth.Principal, id uint64) (model.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if sess.Status == model.SessionDraft && !p.IsAdmin() {
		return model.Session{}, fmt.Errorf("%w: session %d", model.ErrNotFound, id)
	}
	return sess, nil
}

// SessionPage is one page of a session search.
type SessionPage struct {
	Items    []model.Session `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SearchSessions returns published sessions starting after From (never
// earlier than now), filtered by title, city, venue and free seats.
func (s *CatalogService) SearchSessions(ctx context.Context, q repository.SessionSearchQuery) (SessionPage, error) {
	q.Title = strings.TrimSpace(q.Title)
	q.City = strings.TrimSpace(q.City)
	q.Venue = strings.TrimSpace(q.Venue)
	if q.MinSeats < 0 {
		return SessionPage{}, fmt.Errorf("%w: seats must not be negative", model.ErrInvalidInput)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = defaultPageSize
	case q.PageSize > maxPageSize:
		q.PageSize = maxPageSize
	}
	if now := s.clock.Now(); q.From.Before(now) {
		q.From = now
	}
	if !q.To.IsZero() && !q.To.After(q.From) {
		return SessionPage{}, fmt.Errorf("%w: to must be after from", model.ErrInvalidInput)
	}

	items, total, err := s.sessions.Search(ctx, q)
	if err != nil {
		return SessionPage{}, err
	}
	if items == nil {
		items = []model.Session{}
	}
	return SessionPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

func (s *CatalogService) CreateShow(ctx context.Context, p auth.Principal, in ShowInput) (model.Show, error) {
	if err := requireAdmin(p); err != nil {
		return model.Show{}, err
	}
	sh, err := showFromInput(in)
	if err != nil {
		return model.Show{}, err
	}
	if err := s.shows.Create(ctx, &sh); err != nil {
		return model.Show{}, err
	}
	s.invalidate(ctx)
	return sh, nil
}

func (s *CatalogService) UpdateShow(ctx context.Context, p auth.Principal, id uint64, in ShowInput) (model.Show, error) {
	if err := requireAdmin(p); err != nil {
		return model.Show{}, err
	}
	if _, err := s.shows.GetByID(ctx, id); err != nil {
		return model.Show{}, err
	}
	sh, err := showFromInput(in)
	if err != nil {
		return model.Show{}, err
	}
	sh.ID = id
	if err := s.shows.Update(ctx, &sh); err != nil {
		return model.Show{}, err
	}
	s.invalidate(ctx)
	return sh, nil
}

func showFromInput(in ShowInput) (model.Show, error) {
	sh := model.Show{
		Title:           strings.TrimSpace(in.Title),
		Company:         strings.TrimSpace(in.Company),
		Description:     strings.TrimSpace(in.Description),
		DurationMinutes: in.DurationMinutes,
		AgeMin:          in.AgeMin,
	}
	if sh.Title == "" {
		return model.Show{}, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
	}
	return sh, nil
}

// CreateSession schedules a draft session of an existing show.
func (s *CatalogService) CreateSession(ctx context.Context, p auth.Principal, in SessionInput) (model.Session, error) {
	if err := requireAdmin(p); err != nil {
		return model.Session{}, err
	}
	sess, err := sessionFromInput(in)
	if err != nil {
		return model.Session{}, err
	}
	if _, err := s.shows.GetByID(ctx, in.ShowID); err != nil {
		return model.Session{}, err
	}
	if err := s.sessions.Create(ctx, &sess); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// UpdateSession rewrites a session.  The show cannot change and
// capacities cannot drop below the seats already booked.  A published
// session must stay bookable.
func (s *CatalogService) UpdateSession(ctx context.Context, p auth.Principal, id uint64, in SessionInput) (model.Session, error) {
	if err := requireAdmin(p); err != nil {
		return model.Session{}, err
	}
	current, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if current.Status == model.SessionClosed {
		return model.Session{}, fmt.Errorf("%w: session %d is closed", model.ErrInvalidTransition, id)
	}
	in.ShowID = current.ShowID
	sess, err := sessionFromInput(in)
	if err != nil {
		return model.Session{}, err
	}
	sess.ID = id
	sess.Status = current.Status
	if sess.Status == model.SessionPublished {
		if err := s.checkBookable(sess); err != nil {
			return model.Session{}, err
		}
	}
	if err := s.sessions.Update(ctx, &sess); err != nil {
		return model.Session{}, err
	}
	s.invalidate(ctx)
	return sess, nil
}

func sessionFromInput(in SessionInput) (model.Session, error) {
	sess := model.Session{
		ShowID:            in.ShowID,
		StartsAt:          in.StartsAt.UTC(),
		Venue:             strings.TrimSpace(in.Venue),
		City:              strings.TrimSpace(in.City),
		TotalCapacity:     in.TotalCapacity,
		B2CCapacity:       in.B2CCapacity,
		PartnerQuota:      in.PartnerQuota,
		SchoolCapacity:    in.SchoolCapacity,
		SessionType:       in.SessionType,
		PriceCents:        in.PriceCents,
		TeacherPriceCents: in.TeacherPriceCents,
	}
	if sess.SessionType == "" {
		sess.SessionType = model.SessionTypeMixed
	}
	switch {
	case in.StartsAt.IsZero():
		return model.Session{}, fmt.Errorf("%w: starts_at is required", model.ErrInvalidInput)
	case sess.TotalCapacity <= 0:
		return model.Session{}, fmt.Errorf("%w: total_capacity must be positive", model.ErrInvalidInput)
	}
	switch sess.SessionType {
	case model.SessionTypePublic, model.SessionTypeSchool, model.SessionTypeMixed:
	default:
		return model.Session{}, fmt.Errorf("%w: unknown session type %q", model.ErrInvalidInput, sess.SessionType)
	}
	for _, c := range []*int{sess.B2CCapacity, sess.PartnerQuota, sess.SchoolCapacity} {
		if c != nil && (*c < 0 || *c > sess.TotalCapacity) {
			return model.Session{}, fmt.Errorf("%w: pool capacity must be between 0 and total_capacity", model.ErrInvalidInput)
		}
	}
	return sess, nil
}

// PublishSession opens a draft session for booking.  It must start in the
// future and its pool capacities must fit in the total.
func (s *CatalogService) PublishSession(ctx context.Context, p auth.Principal, id uint64) (model.Session, error) {
	if err := requireAdmin(p); err != nil {
		return model.Session{}, err
	}
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if sess.Status != model.SessionDraft {
		return model.Session{}, fmt.Errorf("%w: session %d is %s", model.ErrInvalidTransition, id, sess.Status)
	}
	if err := s.checkBookable(sess); err != nil {
		return model.Session{}, err
	}
	if err := s.sessions.SetStatus(ctx, id, model.SessionDraft, model.SessionPublished); err != nil {
		return model.Session{}, err
	}
	s.invalidate(ctx)
	sess.Status = model.SessionPublished
	return sess, nil
}

// checkBookable holds for every published session: it starts in the
// future and its pool capacities fit in the total.
func (s *CatalogService) checkBookable(sess model.Session) error {
	if !sess.StartsAt.After(s.clock.Now()) {
		return fmt.Errorf("%w: session %d starts in the past", model.ErrInvalidInput, sess.ID)
	}
	sum := 0
	for _, c := range []*int{sess.B2CCapacity, sess.PartnerQuota, sess.SchoolCapacity} {
		if c != nil {
			sum += *c
		}
	}
	if sum > sess.TotalCapacity {
		return fmt.Errorf("%w: pool capacities (%d) exceed total capacity (%d)", model.ErrInvalidInput, sum, sess.TotalCapacity)
	}
	return nil
}

// CloseSession stops bookings on a session.  Existing bookings keep their
// seats.
func (s *CatalogService) CloseSession(ctx context.Context, p auth.Principal, id uint64) (model.Session, error) {
	if err := requireAdmin(p); err != nil {
		return model.Session{}, err
	}
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if sess.Status == model.SessionClosed {
		return model.Session{}, fmt.Errorf("%w: session %d is already closed", model.ErrInvalidTransition, id)
	}
	if err := s.sessions.SetStatus(ctx, id, sess.Status, model.SessionClosed); err != nil {
		return model.Session{}, err
	}
	s.invalidate(ctx)
	sess.Status = model.SessionClosed
	return sess, nil
}

// CloseStarted closes every published session that has already started
// and returns how many were closed.
func (s *CatalogService) CloseStarted(ctx context.Context) (int, error) {
	started, err := s.sessions.ListStartedBefore(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range started {
		if err := s.sessions.SetStatus(ctx, sess.ID, model.SessionPublished, model.SessionClosed); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.invalidate(ctx)
	}
	return n, nil
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}
