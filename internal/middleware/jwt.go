package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
)

// JWTAuth verifies the HS256 bearer token issued by the identity provider
// and stores the caller as an auth.Principal.  Tokens carry sub (user id),
// role (ADMIN or REQUESTER) and, for organization members, org_id and
// category.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return unauthorized(c, "missing bearer token")
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := jwt.MapClaims{}
			tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !tok.Valid {
				return unauthorized(c, "invalid token")
			}

			p, err := principalFromClaims(claims)
			if err != nil {
				return unauthorized(c, err.Error())
			}
			auth.Set(c, p)
			return next(c)
		}
	}
}

func principalFromClaims(claims jwt.MapClaims) (auth.Principal, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return auth.Principal{}, fmt.Errorf("invalid claims: missing sub")
	}
	uid, err := strconv.ParseUint(sub, 10, 64)
	if err != nil || uid == 0 {
		return auth.Principal{}, fmt.Errorf("invalid claims: sub must be a user id")
	}
	p := auth.Principal{UserID: uid}

	role, _ := claims["role"].(string)
	switch strings.ToUpper(role) {
	case auth.RoleAdmin:
		p.Role = auth.RoleAdmin
	case auth.RoleRequester, "":
		p.Role = auth.RoleRequester
	default:
		return auth.Principal{}, fmt.Errorf("invalid claims: role %q", role)
	}

	if v, ok := claims["org_id"]; ok && v != nil {
		id, ok := uintClaim(v)
		if !ok {
			return auth.Principal{}, fmt.Errorf("invalid claims: org_id")
		}
		p.OrganizationID = &id
	}
	p.Category, _ = claims["category"].(string)
	if p.Category == "" && p.Role == auth.RoleRequester && p.OrganizationID == nil {
		p.Category = model.CategoryIndividual
	}
	return p, nil
}

// uintClaim accepts numeric claims both as JSON numbers and as strings.
func uintClaim(v interface{}) (uint64, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 || t != float64(uint64(t)) {
			return 0, false
		}
		return uint64(t), true
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg, "code": "unauthorized"})
}
