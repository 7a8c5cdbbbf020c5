package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/repository"
	"github.com/iliyamo/theater-booking/internal/service"
)

// respondError maps a domain error to its HTTP status and writes the
// standard error body.
func respondError(c echo.Context, err error) error {
	var capErr *service.CapacityError
	if errors.As(err, &capErr) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":                err.Error(),
			"code":                 "capacity_exceeded",
			"available_seats":      capErr.Result.AvailableSeats,
			"alternative_sessions": capErr.Result.AlternativeSessions,
		})
	}

	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, model.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, model.ErrCapacityExceeded):
		status, code = http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, model.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, repository.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, model.ErrRenderError):
		status, code = http.StatusUnprocessableEntity, "render_error"
	case errors.Is(err, model.ErrOrganizationNotApproved):
		status, code = http.StatusForbidden, "organization_not_approved"
	case errors.Is(err, model.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrExternalService):
		status, code = http.StatusBadGateway, "external_service"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		msg = "internal error"
	}
	return c.JSON(status, echo.Map{"error": msg, "code": code})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": "invalid_input"})
}

// pathID parses the :id path parameter.
func pathID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// principal returns the caller stored by the auth middleware.  Public
// routes get the zero principal.
func principal(c echo.Context) auth.Principal {
	p, _ := auth.From(c)
	return p
}
