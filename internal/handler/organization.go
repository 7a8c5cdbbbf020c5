package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/service"
)

// OrganizationAPI is the part of service.OrganizationService the handlers
// use.
type OrganizationAPI interface {
	Register(ctx context.Context, in service.RegisterOrganizationInput) (model.Organization, error)
	SetVerificationStatus(ctx context.Context, p auth.Principal, id uint64, status string) (model.Organization, error)
	IssuePartnerAPIKey(ctx context.Context, p auth.Principal, id uint64) (string, error)
	Get(ctx context.Context, p auth.Principal, id uint64) (model.Organization, error)
	List(ctx context.Context, p auth.Principal, status string) ([]model.Organization, error)
}

// OrganizationHandler serves registration and staff verification.
type OrganizationHandler struct {
	Orgs OrganizationAPI
}

func NewOrganizationHandler(orgs OrganizationAPI) *OrganizationHandler {
	if orgs == nil {
		panic("nil service passed to NewOrganizationHandler")
	}
	return &OrganizationHandler{Orgs: orgs}
}

// Register handles POST /v1/organizations.  New organizations start
// pending and cannot book until approved.
func (h *OrganizationHandler) Register(c echo.Context) error {
	var body struct {
		Name         string `json:"name"`
		Kind         string `json:"kind"`
		ContactEmail string `json:"contact_email"`
		City         string `json:"city"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	o, err := h.Orgs.Register(c.Request().Context(), service.RegisterOrganizationInput{
		Name:         body.Name,
		Kind:         body.Kind,
		ContactEmail: body.ContactEmail,
		City:         body.City,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, o)
}

// Get handles GET /v1/organizations/:id.
func (h *OrganizationHandler) Get(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid organization id")
	}
	o, err := h.Orgs.Get(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// List handles GET /v1/admin/organizations?status=.
func (h *OrganizationHandler) List(c echo.Context) error {
	list, err := h.Orgs.List(c.Request().Context(), principal(c), c.QueryParam("status"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// SetVerification handles POST /v1/admin/organizations/:id/verification.
func (h *OrganizationHandler) SetVerification(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid organization id")
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil || body.Status == "" {
		return badRequest(c, "status is required")
	}
	o, err := h.Orgs.SetVerificationStatus(c.Request().Context(), principal(c), id, body.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// IssueAPIKey handles POST /v1/admin/organizations/:id/api-key.  The key
// is returned once and never stored in clear.
func (h *OrganizationHandler) IssueAPIKey(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid organization id")
	}
	key, err := h.Orgs.IssuePartnerAPIKey(c.Request().Context(), principal(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"organization_id": id, "api_key": key})
}
