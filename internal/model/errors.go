package model

import "errors"

// Sentinel errors shared by services, repositories and handlers.  Callers
// wrap them with fmt.Errorf("%w: ...") to add context; handlers translate
// them into HTTP status codes with errors.Is.
var (
	// ErrNotFound reports an unknown session, show, booking, organization
	// or document id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput reports non-positive counts, missing required contact
	// fields or a session that is not open for booking.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCapacityExceeded reports that a booking would overflow a session or
	// one of its pools.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrInvalidTransition reports an illegal status change.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrRenderError reports a document generated from incomplete data.
	ErrRenderError = errors.New("render error")
	// ErrExternalService reports that the store, the broker or the mail
	// relay could not be reached.
	ErrExternalService = errors.New("external service error")
	// ErrOrganizationNotApproved reports a booking attempt by a member of an
	// organization that is not approved.
	ErrOrganizationNotApproved = errors.New("organization not approved")
	// ErrForbidden reports access to a resource owned by someone else.
	ErrForbidden = errors.New("forbidden")
)
