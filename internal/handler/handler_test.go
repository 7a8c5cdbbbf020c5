package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/repository"
	"github.com/iliyamo/theater-booking/internal/service"
)

// withPrincipal stands in for the auth middleware.
func withPrincipal(p auth.Principal) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth.Set(c, p)
			return next(c)
		}
	}
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: booking 9", model.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: seats", model.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{model.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded"},
		{fmt.Errorf("%w: confirmed -> pending", model.ErrInvalidTransition), http.StatusConflict, "invalid_transition"},
		{fmt.Errorf("%w: session 3 holds fewer than 2 seats", repository.ErrConflict), http.StatusConflict, "conflict"},
		{model.ErrRenderError, http.StatusUnprocessableEntity, "render_error"},
		{model.ErrOrganizationNotApproved, http.StatusForbidden, "organization_not_approved"},
		{model.ErrForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: mysql gone", model.ErrExternalService), http.StatusBadGateway, "external_service"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	e := echo.New()
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			require.NoError(t, respondError(c, tc.err))
			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tc.code, body["code"])
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["error"])
			}
		})
	}
}

func TestRespondCapacityError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	err := fmt.Errorf("create booking: %w", &service.CapacityError{Result: service.CapacityResult{
		AvailableSeats:      5,
		AlternativeSessions: []model.Session{{ID: 12, ShowTitle: "Cyrano"}},
	}})
	require.NoError(t, respondError(c, err))
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "capacity_exceeded", body["code"])
	assert.Equal(t, float64(5), body["available_seats"])
	alts := body["alternative_sessions"].([]any)
	require.Len(t, alts, 1)
	assert.Equal(t, float64(12), alts[0].(map[string]any)["id"])
}

type stubCatalog struct {
	CatalogAPI
	search func(repository.SessionSearchQuery) (service.SessionPage, error)
	get    func(auth.Principal, uint64) (model.Session, error)
}

func (s stubCatalog) SearchSessions(_ context.Context, q repository.SessionSearchQuery) (service.SessionPage, error) {
	return s.search(q)
}

func (s stubCatalog) GetSession(_ context.Context, p auth.Principal, id uint64) (model.Session, error) {
	return s.get(p, id)
}

type stubCapacity func(id uint64, pool model.Pool, seats int) (service.CapacityResult, error)

func (f stubCapacity) CheckCapacity(_ context.Context, id uint64, seats int) (service.CapacityResult, error) {
	return f(id, "", seats)
}

func (f stubCapacity) CheckPoolCapacity(_ context.Context, id uint64, pool model.Pool, seats int) (service.CapacityResult, error) {
	return f(id, pool, seats)
}

func TestCatalogHandler(t *testing.T) {
	var gotQuery repository.SessionSearchQuery
	catalog := stubCatalog{
		search: func(q repository.SessionSearchQuery) (service.SessionPage, error) {
			gotQuery = q
			return service.SessionPage{Items: []model.Session{}, Page: 1, PageSize: 20}, nil
		},
		get: func(p auth.Principal, id uint64) (model.Session, error) {
			if id != 4 {
				return model.Session{}, model.ErrNotFound
			}
			return model.Session{ID: 4, TotalCapacity: 30, BookedSeats: 25}, nil
		},
	}
	var gotPool model.Pool
	capacity := stubCapacity(func(id uint64, pool model.Pool, seats int) (service.CapacityResult, error) {
		gotPool = pool
		if seats <= 0 || (pool != "" && !pool.Valid()) {
			return service.CapacityResult{}, model.ErrInvalidInput
		}
		if pool == model.PoolSchool {
			return service.CapacityResult{CanBook: seats <= 2, AvailableSeats: 2, AlternativeSessions: []model.Session{}}, nil
		}
		return service.CapacityResult{CanBook: seats <= 5, AvailableSeats: 5, AlternativeSessions: []model.Session{}}, nil
	})
	h := NewCatalogHandler(catalog, capacity)
	e := echo.New()
	e.GET("/v1/sessions/:id", h.GetSession)
	e.GET("/v1/sessions/:id/capacity", h.CheckCapacity)
	e.GET("/v1/search/sessions", h.SearchSessions)

	rec := do(e, http.MethodGet, "/v1/sessions/4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), decode(t, rec)["available_seats"])
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/v1/sessions/5", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/sessions/abc", "").Code)

	rec = do(e, http.MethodGet, "/v1/sessions/4/capacity?seats=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"can_book":true,"available_seats":5,"alternative_sessions":[]}`, rec.Body.String())
	rec = do(e, http.MethodGet, "/v1/sessions/4/capacity?seats=10", "")
	assert.Equal(t, false, decode(t, rec)["can_book"])
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/sessions/4/capacity?seats=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/sessions/4/capacity?seats=0", "").Code)
	assert.Equal(t, model.Pool(""), gotPool)

	rec = do(e, http.MethodGet, "/v1/sessions/4/capacity?seats=3&pool=school", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.PoolSchool, gotPool)
	assert.JSONEq(t, `{"can_book":false,"available_seats":2,"alternative_sessions":[]}`, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/sessions/4/capacity?seats=1&pool=vip", "").Code)

	rec = do(e, http.MethodGet, "/v1/search/sessions?title=cyrano&city=Lyon&from=2026-05-01T00:00:00Z&seats=4&page=2&page_size=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cyrano", gotQuery.Title)
	assert.Equal(t, "Lyon", gotQuery.City)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), gotQuery.From)
	assert.Equal(t, 4, gotQuery.MinSeats)
	assert.Equal(t, 2, gotQuery.Page)
	assert.Equal(t, 10, gotQuery.PageSize)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/search/sessions?from=tomorrow", "").Code)
}

type stubBookings struct {
	BookingAPI
	created  *service.CreateBookingInput
	caller   auth.Principal
	reason   string
	filter   repository.BookingFilter
	quoteErr error
}

func (s *stubBookings) Create(_ context.Context, p auth.Principal, in service.CreateBookingInput) (model.Booking, error) {
	s.caller, s.created = p, &in
	if in.Students > 30 {
		return model.Booking{}, &service.CapacityError{Result: service.CapacityResult{AvailableSeats: 30}}
	}
	return model.Booking{ID: 1, SessionID: in.SessionID, Status: model.StatusPending, Students: in.Students}, nil
}

func (s *stubBookings) Quote(_ context.Context, p auth.Principal, id uint64) (model.Booking, model.Document, error) {
	if s.quoteErr != nil {
		return model.Booking{}, model.Document{}, s.quoteErr
	}
	return model.Booking{ID: id, Status: model.StatusQuoted}, model.Document{ID: 3, Kind: model.DocumentQuote}, nil
}

func (s *stubBookings) Cancel(_ context.Context, p auth.Principal, id uint64, reason string) (model.Booking, error) {
	s.reason = reason
	return model.Booking{ID: id, Status: model.StatusCancelled, ClosedReason: reason}, nil
}

func (s *stubBookings) List(_ context.Context, p auth.Principal, f repository.BookingFilter) ([]model.Booking, error) {
	s.filter = f
	return []model.Booking{}, nil
}

func TestBookingHandler(t *testing.T) {
	stub := &stubBookings{}
	h := NewBookingHandler(stub)
	caller := auth.Principal{UserID: 7, Role: auth.RoleRequester, Category: model.CategoryIndividual}
	e := echo.New()
	g := e.Group("/v1", withPrincipal(caller))
	g.POST("/bookings", h.Create)
	g.POST("/bookings/:id/quote", h.Quote)
	g.POST("/bookings/:id/cancel", h.Cancel)
	g.GET("/admin/bookings", h.List)

	rec := do(e, http.MethodPost, "/v1/bookings", `{"session_id":4,"students":3,"contact_name":"Camille","contact_email":"c@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", decode(t, rec)["status"])
	assert.Equal(t, caller, stub.caller)
	assert.Equal(t, 3, stub.created.Students)
	assert.Equal(t, "c@example.com", stub.created.ContactEmail)

	rec = do(e, http.MethodPost, "/v1/bookings", `{"session_id":4,"students":40}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, float64(30), decode(t, rec)["available_seats"])
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/v1/bookings", `{"students":3}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/v1/bookings", `{"session_id":"x"`).Code)

	rec = do(e, http.MethodPost, "/v1/bookings/9/quote", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "quoted", body["booking"].(map[string]any)["status"])
	assert.Equal(t, "quote", body["document"].(map[string]any)["kind"])

	stub.quoteErr = fmt.Errorf("%w: missing price", model.ErrRenderError)
	assert.Equal(t, http.StatusUnprocessableEntity, do(e, http.MethodPost, "/v1/bookings/9/quote", "").Code)

	rec = do(e, http.MethodPost, "/v1/bookings/9/cancel", `{"reason":"class trip moved"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "class trip moved", stub.reason)
	rec = do(e, http.MethodPost, "/v1/bookings/9/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", stub.reason)

	rec = do(e, http.MethodGet, "/v1/admin/bookings?status=quoted&session_id=4&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, repository.BookingFilter{Status: "quoted", SessionID: 4, Limit: 10}, stub.filter)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/admin/bookings?session_id=x", "").Code)
}

type stubDocuments struct {
	DocumentAPI
}

func (stubDocuments) Get(_ context.Context, p auth.Principal, id uint64) (model.Document, error) {
	if p.UserID != 7 {
		return model.Document{}, model.ErrForbidden
	}
	return model.Document{ID: id, Kind: model.DocumentTicket, Reference: "abc", SHA256: "deadbeef", Content: []byte("%PDF-1.3")}, nil
}

func (stubDocuments) Download(_ context.Context, token string) (model.Document, error) {
	if token != "good" {
		return model.Document{}, model.ErrForbidden
	}
	return model.Document{ID: 1, Kind: model.DocumentQuote, Reference: "xyz", Content: []byte("%PDF-1.3")}, nil
}

func TestDocumentHandler(t *testing.T) {
	h := NewDocumentHandler(stubDocuments{})
	e := echo.New()
	e.GET("/v1/documents/download", h.Download)
	e.GET("/v1/documents/:id", h.Get, withPrincipal(auth.Principal{UserID: 7, Role: auth.RoleRequester}))
	e.GET("/v1/other/:id", h.Get, withPrincipal(auth.Principal{UserID: 8, Role: auth.RoleRequester}))

	rec := do(e, http.MethodGet, "/v1/documents/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, `inline; filename="ticket-abc.pdf"`, rec.Header().Get(echo.HeaderContentDisposition))
	assert.Equal(t, "deadbeef", rec.Header().Get("X-Content-SHA256"))
	assert.Equal(t, "%PDF-1.3", rec.Body.String())
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/v1/other/2", "").Code)

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/v1/documents/download?token=good", "").Code)
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/v1/documents/download?token=bad", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/documents/download", "").Code)
}

type stubOrgs struct {
	OrganizationAPI
}

func (stubOrgs) Register(_ context.Context, in service.RegisterOrganizationInput) (model.Organization, error) {
	if in.Name == "" {
		return model.Organization{}, model.ErrInvalidInput
	}
	return model.Organization{ID: 5, Name: in.Name, Kind: in.Kind, VerificationStatus: model.VerificationPending}, nil
}

func (stubOrgs) IssuePartnerAPIKey(_ context.Context, p auth.Principal, id uint64) (string, error) {
	if !p.IsAdmin() {
		return "", model.ErrForbidden
	}
	return fmt.Sprintf("%d.secret", id), nil
}

func (stubOrgs) SetVerificationStatus(_ context.Context, p auth.Principal, id uint64, status string) (model.Organization, error) {
	if status == model.VerificationPending {
		return model.Organization{}, model.ErrInvalidTransition
	}
	return model.Organization{ID: id, VerificationStatus: status}, nil
}

func TestOrganizationHandler(t *testing.T) {
	h := NewOrganizationHandler(stubOrgs{})
	e := echo.New()
	e.POST("/v1/organizations", h.Register)
	admin := e.Group("/v1/admin", withPrincipal(auth.Principal{UserID: 1, Role: auth.RoleAdmin}))
	admin.POST("/organizations/:id/api-key", h.IssueAPIKey)
	admin.POST("/organizations/:id/verification", h.SetVerification)

	rec := do(e, http.MethodPost, "/v1/organizations", `{"name":"Lycée Ampère","kind":"public_school","contact_email":"a@b.fr","city":"Lyon"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["verification_status"])
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/v1/organizations", `{"kind":"association"}`).Code)

	rec = do(e, http.MethodPost, "/v1/admin/organizations/5/api-key", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "5.secret", decode(t, rec)["api_key"])

	rec = do(e, http.MethodPost, "/v1/admin/organizations/5/verification", `{"status":"approved"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decode(t, rec)["verification_status"])
	assert.Equal(t, http.StatusConflict, do(e, http.MethodPost, "/v1/admin/organizations/5/verification", `{"status":"pending"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/v1/admin/organizations/5/verification", `{}`).Code)
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	e := echo.New()
	e.GET("/ok", Health(pinger{}))
	e.GET("/down", Health(pinger{err: errors.New("connection refused")}))

	rec := do(e, http.MethodGet, "/ok", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/down", "").Code)
}
