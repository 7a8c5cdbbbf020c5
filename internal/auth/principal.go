// Package auth holds the server-side identity of the caller.  A Principal
// is built only by middleware after verifying a bearer token or a partner
// API key; nothing in a request body, query string or client storage can
// change it.
package auth

import (
	"context"

	"github.com/labstack/echo/v4"
)

// Roles carried by a Principal.
const (
	RoleAdmin     = "ADMIN"
	RoleRequester = "REQUESTER"
	RolePartner   = "PARTNER"
)

// Principal is the verified caller of a request.
type Principal struct {
	UserID         uint64  // subject of the token; 0 for partner API keys
	Role           string  // one of the Role constants
	OrganizationID *uint64 // organization the caller acts for, if any
	Category       string  // requester category claimed by the identity provider
}

// IsAdmin reports whether the caller has staff rights.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Owns reports whether the caller may read a booking made by requesterID
// on behalf of orgID.
func (p Principal) Owns(requesterID uint64, orgID *uint64) bool {
	if p.IsAdmin() {
		return true
	}
	if p.Role == RolePartner {
		return orgID != nil && p.OrganizationID != nil && *orgID == *p.OrganizationID
	}
	return p.UserID != 0 && p.UserID == requesterID
}

const echoKey = "principal"

type ctxKey struct{}

// Set stores the principal on the echo context and on the request context
// so services reached through c.Request().Context() can read it too.
func Set(c echo.Context, p Principal) {
	c.Set(echoKey, p)
	c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
}

// From returns the principal stored by the auth middleware.
func From(c echo.Context) (Principal, bool) {
	p, ok := c.Get(echoKey).(Principal)
	return p, ok
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal carried by ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
