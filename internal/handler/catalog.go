package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/repository"
	"github.com/iliyamo/theater-booking/internal/service"
)

// CatalogAPI is the part of service.CatalogService the handlers use.
type CatalogAPI interface {
	ListShows(ctx context.Context) ([]model.Show, error)
	GetShow(ctx context.Context, id uint64) (model.Show, error)
	ListSessions(ctx context.Context, p auth.Principal, showID uint64) ([]model.Session, error)
	GetSession(ctx context.Context, p auth.Principal, id uint64) (model.Session, error)
	SearchSessions(ctx context.Context, q repository.SessionSearchQuery) (service.SessionPage, error)
	CreateShow(ctx context.Context, p auth.Principal, in service.ShowInput) (model.Show, error)
	UpdateShow(ctx context.Context, p auth.Principal, id uint64, in service.ShowInput) (model.Show, error)
	CreateSession(ctx context.Context, p auth.Principal, in service.SessionInput) (model.Session, error)
	UpdateSession(ctx context.Context, p auth.Principal, id uint64, in service.SessionInput) (model.Session, error)
	PublishSession(ctx context.Context, p auth.Principal, id uint64) (model.Session, error)
	CloseSession(ctx context.Context, p auth.Principal, id uint64) (model.Session, error)
}

// CapacityAPI answers availability questions.
type CapacityAPI interface {
	CheckCapacity(ctx context.Context, sessionID uint64, seats int) (service.CapacityResult, error)
	CheckPoolCapacity(ctx context.Context, sessionID uint64, pool model.Pool, seats int) (service.CapacityResult, error)
}

// CatalogHandler serves shows and sessions: public reads and staff writes.
type CatalogHandler struct {
	Catalog  CatalogAPI
	Capacity CapacityAPI
}

func NewCatalogHandler(catalog CatalogAPI, capacity CapacityAPI) *CatalogHandler {
	if catalog == nil || capacity == nil {
		panic("nil service passed to NewCatalogHandler")
	}
	return &CatalogHandler{Catalog: catalog, Capacity: capacity}
}

// sessionView adds derived availability to a session.
type sessionView struct {
	model.Session
	AvailableSeats int `json:"available_seats"`
}

func viewOf(s model.Session) sessionView {
	return sessionView{Session: s, AvailableSeats: s.Available()}
}

// ListShows handles GET /v1/shows.
func (h *CatalogHandler) ListShows(c echo.Context) error {
	shows, err := h.Catalog.ListShows(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, shows)
}

// GetShow handles GET /v1/shows/:id.
func (h *CatalogHandler) GetShow(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid show id")
	}
	show, err := h.Catalog.GetShow(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, show)
}

// ListSessions handles GET /v1/shows/:id/sessions.
func (h *CatalogHandler) ListSessions(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid show id")
	}
	sessions, err := h.Catalog.ListSessions(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, viewOf(s))
	}
	return c.JSON(http.StatusOK, out)
}

// GetSession handles GET /v1/sessions/:id.
func (h *CatalogHandler) GetSession(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid session id")
	}
	s, err := h.Catalog.GetSession(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(s))
}

// CheckCapacity handles GET /v1/sessions/:id/capacity?seats=N.  An
// optional pool (b2c, partner or school) checks that sub-allocation
// instead of the whole session.
func (h *CatalogHandler) CheckCapacity(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid session id")
	}
	seats, err := strconv.Atoi(c.QueryParam("seats"))
	if err != nil {
		return badRequest(c, "seats must be an integer")
	}
	var res service.CapacityResult
	if pool := c.QueryParam("pool"); pool != "" {
		res, err = h.Capacity.CheckPoolCapacity(c.Request().Context(), id, model.Pool(pool), seats)
	} else {
		res, err = h.Capacity.CheckCapacity(c.Request().Context(), id, seats)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// SearchSessions handles GET /v1/search/sessions.  Filters: title, city,
// venue, from and to (RFC 3339), seats (minimum free seats), page and
// page_size.
func (h *CatalogHandler) SearchSessions(c echo.Context) error {
	q := repository.SessionSearchQuery{
		Title: c.QueryParam("title"),
		City:  c.QueryParam("city"),
		Venue: c.QueryParam("venue"),
	}
	for name, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		if v := c.QueryParam(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return badRequest(c, "invalid "+name+" format")
			}
			*dst = t
		}
	}
	for name, dst := range map[string]*int{"seats": &q.MinSeats, "page": &q.Page, "page_size": &q.PageSize} {
		if v := c.QueryParam(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return badRequest(c, name+" must be an integer")
			}
			*dst = n
		}
	}
	page, err := h.Catalog.SearchSessions(c.Request().Context(), q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

type showRequest struct {
	Title           string `json:"title"`
	Company         string `json:"company"`
	Description     string `json:"description"`
	DurationMinutes uint32 `json:"duration_minutes"`
	AgeMin          uint32 `json:"age_min"`
}

func (r showRequest) input() service.ShowInput {
	return service.ShowInput{
		Title:           r.Title,
		Company:         r.Company,
		Description:     r.Description,
		DurationMinutes: r.DurationMinutes,
		AgeMin:          r.AgeMin,
	}
}

// CreateShow handles POST /v1/admin/shows.
func (h *CatalogHandler) CreateShow(c echo.Context) error {
	var body showRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	show, err := h.Catalog.CreateShow(c.Request().Context(), principal(c), body.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, show)
}

// UpdateShow handles PUT /v1/admin/shows/:id.
func (h *CatalogHandler) UpdateShow(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid show id")
	}
	var body showRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	show, err := h.Catalog.UpdateShow(c.Request().Context(), principal(c), id, body.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, show)
}

type sessionRequest struct {
	ShowID            uint64    `json:"show_id"`
	StartsAt          time.Time `json:"starts_at"` // RFC 3339
	Venue             string    `json:"venue"`
	City              string    `json:"city"`
	TotalCapacity     int       `json:"total_capacity"`
	B2CCapacity       *int      `json:"b2c_capacity"`
	PartnerQuota      *int      `json:"partner_quota"`
	SchoolCapacity    *int      `json:"school_capacity"`
	SessionType       string    `json:"session_type"`
	PriceCents        uint32    `json:"price_cents"`
	TeacherPriceCents uint32    `json:"teacher_price_cents"`
}

func (r sessionRequest) input() service.SessionInput {
	return service.SessionInput{
		ShowID:            r.ShowID,
		StartsAt:          r.StartsAt,
		Venue:             r.Venue,
		City:              r.City,
		TotalCapacity:     r.TotalCapacity,
		B2CCapacity:       r.B2CCapacity,
		PartnerQuota:      r.PartnerQuota,
		SchoolCapacity:    r.SchoolCapacity,
		SessionType:       r.SessionType,
		PriceCents:        r.PriceCents,
		TeacherPriceCents: r.TeacherPriceCents,
	}
}

// CreateSession handles POST /v1/admin/sessions.
func (h *CatalogHandler) CreateSession(c echo.Context) error {
	var body sessionRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	s, err := h.Catalog.CreateSession(c.Request().Context(), principal(c), body.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, viewOf(s))
}

// UpdateSession handles PUT /v1/admin/sessions/:id.
func (h *CatalogHandler) UpdateSession(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid session id")
	}
	var body sessionRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	s, err := h.Catalog.UpdateSession(c.Request().Context(), principal(c), id, body.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(s))
}

// PublishSession handles POST /v1/admin/sessions/:id/publish.
func (h *CatalogHandler) PublishSession(c echo.Context) error {
	return h.sessionAction(c, h.Catalog.PublishSession)
}

// CloseSession handles POST /v1/admin/sessions/:id/close.
func (h *CatalogHandler) CloseSession(c echo.Context) error {
	return h.sessionAction(c, h.Catalog.CloseSession)
}

func (h *CatalogHandler) sessionAction(c echo.Context, fn func(context.Context, auth.Principal, uint64) (model.Session, error)) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid session id")
	}
	s, err := fn(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(s))
}
