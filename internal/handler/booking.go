package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/repository"
	"github.com/iliyamo/theater-booking/internal/service"
)

// BookingAPI is the part of service.BookingService the handlers use.
type BookingAPI interface {
	Create(ctx context.Context, p auth.Principal, in service.CreateBookingInput) (model.Booking, error)
	Quote(ctx context.Context, p auth.Principal, id uint64) (model.Booking, model.Document, error)
	MarkPaymentSent(ctx context.Context, p auth.Principal, id uint64) (model.Booking, error)
	Confirm(ctx context.Context, p auth.Principal, id uint64) (model.Booking, error)
	Reject(ctx context.Context, p auth.Principal, id uint64, reason string) (model.Booking, error)
	Cancel(ctx context.Context, p auth.Principal, id uint64, reason string) (model.Booking, error)
	IssueTicket(ctx context.Context, p auth.Principal, id uint64) (model.Document, error)
	Get(ctx context.Context, p auth.Principal, id uint64) (model.Booking, error)
	ListMine(ctx context.Context, p auth.Principal) ([]model.Booking, error)
	List(ctx context.Context, p auth.Principal, f repository.BookingFilter) ([]model.Booking, error)
}

// BookingHandler serves requesters, partners and staff.  Which bookings a
// caller may touch is decided by the service from the principal.
type BookingHandler struct {
	Bookings BookingAPI
}

func NewBookingHandler(bookings BookingAPI) *BookingHandler {
	if bookings == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: bookings}
}

type createBookingRequest struct {
	SessionID    uint64 `json:"session_id"`
	Category     string `json:"category"` // optional; defaults to the caller's category
	Students     int    `json:"students"`
	Teachers     int    `json:"teachers"`
	Adults       int    `json:"adults"`
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Create handles POST /v1/bookings and POST /v1/partner/bookings.
func (h *BookingHandler) Create(c echo.Context) error {
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.SessionID == 0 {
		return badRequest(c, "session_id is required")
	}
	b, err := h.Bookings.Create(c.Request().Context(), principal(c), service.CreateBookingInput{
		SessionID:    body.SessionID,
		Category:     body.Category,
		Students:     body.Students,
		Teachers:     body.Teachers,
		Adults:       body.Adults,
		ContactName:  body.ContactName,
		ContactEmail: body.ContactEmail,
		ContactPhone: body.ContactPhone,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// ListMine handles GET /v1/bookings.
func (h *BookingHandler) ListMine(c echo.Context) error {
	list, err := h.Bookings.ListMine(c.Request().Context(), principal(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	return h.bookingAction(c, h.Bookings.Get)
}

// Quote handles POST /v1/bookings/:id/quote.  It returns the booking and
// the metadata of the new quote document.
func (h *BookingHandler) Quote(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, doc, err := h.Bookings.Quote(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": b, "document": doc})
}

// MarkPaymentSent handles POST /v1/bookings/:id/payment-sent.
func (h *BookingHandler) MarkPaymentSent(c echo.Context) error {
	return h.bookingAction(c, h.Bookings.MarkPaymentSent)
}

// Confirm handles POST /v1/admin/bookings/:id/confirm.
func (h *BookingHandler) Confirm(c echo.Context) error {
	return h.bookingAction(c, h.Bookings.Confirm)
}

// Reject handles POST /v1/admin/bookings/:id/reject.
func (h *BookingHandler) Reject(c echo.Context) error {
	return h.closeAction(c, h.Bookings.Reject)
}

// Cancel handles POST /v1/bookings/:id/cancel and its admin twin.
func (h *BookingHandler) Cancel(c echo.Context) error {
	return h.closeAction(c, h.Bookings.Cancel)
}

// Ticket handles POST /v1/bookings/:id/ticket.
func (h *BookingHandler) Ticket(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	doc, err := h.Bookings.IssueTicket(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, doc)
}

// List handles GET /v1/admin/bookings?status=&session_id=&organization_id=&limit=.
func (h *BookingHandler) List(c echo.Context) error {
	f := repository.BookingFilter{Status: c.QueryParam("status")}
	for name, dst := range map[string]*uint64{
		"session_id":      &f.SessionID,
		"requester_id":    &f.RequesterID,
		"organization_id": &f.OrganizationID,
	} {
		if v := c.QueryParam(name); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return badRequest(c, "invalid "+name)
			}
			*dst = n
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "invalid limit")
		}
		f.Limit = n
	}
	list, err := h.Bookings.List(c.Request().Context(), principal(c), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *BookingHandler) bookingAction(c echo.Context, fn func(context.Context, auth.Principal, uint64) (model.Booking, error)) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := fn(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// closeAction reads an optional {"reason": ...} body.
func (h *BookingHandler) closeAction(c echo.Context, fn func(context.Context, auth.Principal, uint64, string) (model.Booking, error)) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	var body reasonRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	b, err := fn(c.Request().Context(), principal(c), id, body.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
