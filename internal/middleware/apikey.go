package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
)

// APIKeyHeader carries a partner API key.
const APIKeyHeader = "X-API-Key"

// APIKeyAuthenticator resolves a raw partner key.
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, raw string) (auth.Principal, error)
}

// PartnerAPIKey authenticates partner systems by API key and stores the
// partner principal.
func PartnerAPIKey(a APIKeyAuthenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(APIKeyHeader)
			if raw == "" {
				return unauthorized(c, "missing api key")
			}
			p, err := a.AuthenticateAPIKey(c.Request().Context(), raw)
			if err != nil {
				if errors.Is(err, model.ErrForbidden) {
					return unauthorized(c, "invalid api key")
				}
				return c.JSON(http.StatusBadGateway, echo.Map{"error": "api key lookup failed", "code": "external_service"})
			}
			auth.Set(c, p)
			return next(c)
		}
	}
}
