package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/service"
)

// DocumentAPI is the part of service.DocumentService the handlers use.
type DocumentAPI interface {
	Get(ctx context.Context, p auth.Principal, id uint64) (model.Document, error)
	ListForBooking(ctx context.Context, p auth.Principal, bookingID uint64) ([]model.Document, error)
	Link(ctx context.Context, p auth.Principal, id uint64) (service.DownloadLink, error)
	Download(ctx context.Context, token string) (model.Document, error)
}

// DocumentHandler serves generated quotes and tickets.
type DocumentHandler struct {
	Documents DocumentAPI
}

func NewDocumentHandler(docs DocumentAPI) *DocumentHandler {
	if docs == nil {
		panic("nil service passed to NewDocumentHandler")
	}
	return &DocumentHandler{Documents: docs}
}

// ListForBooking handles GET /v1/bookings/:id/documents.
func (h *DocumentHandler) ListForBooking(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	docs, err := h.Documents.ListForBooking(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, docs)
}

// Get handles GET /v1/documents/:id and streams the PDF.
func (h *DocumentHandler) Get(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid document id")
	}
	d, err := h.Documents.Get(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return sendPDF(c, d)
}

// Link handles POST /v1/documents/:id/link.
func (h *DocumentHandler) Link(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid document id")
	}
	link, err := h.Documents.Link(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, link)
}

// Download handles GET /v1/documents/download?token=.  The signed token is
// the only credential.
func (h *DocumentHandler) Download(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return badRequest(c, "token is required")
	}
	d, err := h.Documents.Download(c.Request().Context(), token)
	if err != nil {
		return respondError(c, err)
	}
	return sendPDF(c, d)
}

func sendPDF(c echo.Context, d model.Document) error {
	h := c.Response().Header()
	h.Set(echo.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s-%s.pdf"`, d.Kind, d.Reference))
	h.Set("X-Content-SHA256", d.SHA256)
	return c.Blob(http.StatusOK, "application/pdf", d.Content)
}
