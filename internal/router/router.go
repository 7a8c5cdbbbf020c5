// Package router registers the HTTP routes of the booking API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/handler"
	"github.com/iliyamo/theater-booking/internal/middleware"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Catalog       *handler.CatalogHandler
	Bookings      *handler.BookingHandler
	Documents     *handler.DocumentHandler
	Organizations *handler.OrganizationHandler
	Health        echo.HandlerFunc
}

// Options carries the shared middleware.  Nil middleware is skipped.
type Options struct {
	JWTSecret string
	APIKeys   middleware.APIKeyAuthenticator
	Cache     echo.MiddlewareFunc // public catalog reads
	RateLimit echo.MiddlewareFunc // booking writes
}

// Register mounts every route group on e.
func Register(e *echo.Echo, h Handlers, opt Options) {
	RegisterPublic(e, h, opt)
	RegisterRequester(e, h, opt)
	RegisterPartner(e, h, opt)
	RegisterAdmin(e, h, opt)
}

// RegisterPublic registers routes that need no credentials: health,
// catalog browsing, capacity checks, organization sign-up and signed
// document links.
func RegisterPublic(e *echo.Echo, h Handlers, opt Options) {
	e.GET("/healthz", h.Health)

	cached := chain(opt.Cache)
	e.GET("/v1/shows", h.Catalog.ListShows, cached...)
	e.GET("/v1/shows/:id", h.Catalog.GetShow, cached...)
	e.GET("/v1/shows/:id/sessions", h.Catalog.ListSessions, cached...)
	e.GET("/v1/sessions/:id", h.Catalog.GetSession, cached...)
	e.GET("/v1/search/sessions", h.Catalog.SearchSessions, cached...)
	// Availability changes with every booking; never cached.
	e.GET("/v1/sessions/:id/capacity", h.Catalog.CheckCapacity)

	e.POST("/v1/organizations", h.Organizations.Register, chain(opt.RateLimit)...)
	e.GET("/v1/documents/download", h.Documents.Download)
}

// RegisterRequester registers the routes of signed-in requesters
// (individuals and organization members).  Staff may use them too.
func RegisterRequester(e *echo.Echo, h Handlers, opt Options) {
	authn := []echo.MiddlewareFunc{
		middleware.JWTAuth(opt.JWTSecret),
		middleware.RequireRole(auth.RoleRequester, auth.RoleAdmin),
	}

	g := e.Group("/v1/bookings", authn...)
	g.POST("", h.Bookings.Create, chain(opt.RateLimit)...)
	g.GET("", h.Bookings.ListMine)
	g.GET("/:id", h.Bookings.Get)
	g.POST("/:id/quote", h.Bookings.Quote)
	g.POST("/:id/payment-sent", h.Bookings.MarkPaymentSent)
	g.POST("/:id/cancel", h.Bookings.Cancel)
	g.POST("/:id/ticket", h.Bookings.Ticket)
	g.GET("/:id/documents", h.Documents.ListForBooking)

	e.GET("/v1/documents/:id", h.Documents.Get, authn...)
	e.POST("/v1/documents/:id/link", h.Documents.Link, authn...)
	e.GET("/v1/organizations/:id", h.Organizations.Get, authn...)
}

// RegisterPartner registers the API used by partner systems, authenticated
// by API key instead of a user token.
func RegisterPartner(e *echo.Echo, h Handlers, opt Options) {
	g := e.Group("/v1/partner",
		middleware.PartnerAPIKey(opt.APIKeys),
		middleware.RequireRole(auth.RolePartner),
	)
	g.POST("/bookings", h.Bookings.Create, chain(opt.RateLimit)...)
	g.GET("/bookings", h.Bookings.ListMine)
	g.GET("/bookings/:id", h.Bookings.Get)
	g.POST("/bookings/:id/cancel", h.Bookings.Cancel)
	g.GET("/bookings/:id/documents", h.Documents.ListForBooking)
	g.GET("/documents/:id", h.Documents.Get)
}

// RegisterAdmin registers staff routes.  All require a token with the
// ADMIN role.
func RegisterAdmin(e *echo.Echo, h Handlers, opt Options) {
	g := e.Group("/v1/admin",
		middleware.JWTAuth(opt.JWTSecret),
		middleware.RequireRole(auth.RoleAdmin),
	)

	// ---- Catalog ----
	g.POST("/shows", h.Catalog.CreateShow)
	g.PUT("/shows/:id", h.Catalog.UpdateShow)
	g.GET("/shows/:id/sessions", h.Catalog.ListSessions) // includes drafts
	g.POST("/sessions", h.Catalog.CreateSession)
	g.PUT("/sessions/:id", h.Catalog.UpdateSession)
	g.POST("/sessions/:id/publish", h.Catalog.PublishSession)
	g.POST("/sessions/:id/close", h.Catalog.CloseSession)

	// ---- Bookings ----
	g.GET("/bookings", h.Bookings.List)
	g.GET("/bookings/:id", h.Bookings.Get)
	g.POST("/bookings/:id/quote", h.Bookings.Quote)
	g.POST("/bookings/:id/confirm", h.Bookings.Confirm)
	g.POST("/bookings/:id/reject", h.Bookings.Reject)
	g.POST("/bookings/:id/cancel", h.Bookings.Cancel)
	g.POST("/bookings/:id/ticket", h.Bookings.Ticket)

	// ---- Organizations ----
	g.GET("/organizations", h.Organizations.List)
	g.GET("/organizations/:id", h.Organizations.Get)
	g.POST("/organizations/:id/verification", h.Organizations.SetVerification)
	g.POST("/organizations/:id/api-key", h.Organizations.IssueAPIKey)
}

func chain(mw ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mw))
	for _, m := range mw {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
