// Package service implements the booking core: capacity checks, the
// booking lifecycle, organization gating, document issuance and the
// session catalog.  Services depend on small store interfaces satisfied
// by the repository package; the caller identity is always an explicit
// auth.Principal built by middleware.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/queue"
	"github.com/iliyamo/theater-booking/internal/repository"
)

// TxRunner runs fn in a single database transaction carried by ctx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SessionStore is the session persistence used by the services.
type SessionStore interface {
	GetByID(ctx context.Context, id uint64) (model.Session, error)
	ListAlternatives(ctx context.Context, showID, excludeID uint64, seats int, after time.Time) ([]model.Session, error)
	Reserve(ctx context.Context, sessionID uint64, pool model.Pool, seats int) error
	Release(ctx context.Context, sessionID uint64, pool model.Pool, seats int) error
}

// BookingStore is the booking persistence used by the services.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id uint64) (model.Booking, error)
	List(ctx context.Context, f repository.BookingFilter) ([]model.Booking, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	Transition(ctx context.Context, t repository.Transition) error
}

// OrganizationStore is the organization persistence used by the services.
type OrganizationStore interface {
	Create(ctx context.Context, o *model.Organization) error
	GetByID(ctx context.Context, id uint64) (model.Organization, error)
	List(ctx context.Context, status string) ([]model.Organization, error)
	SetVerification(ctx context.Context, id uint64, from, to string) error
	SetAPIKeyHash(ctx context.Context, id uint64, hash string) error
}

// DocumentStore is the document persistence used by the services.
type DocumentStore interface {
	Create(ctx context.Context, d *model.Document) error
	GetByID(ctx context.Context, id uint64) (model.Document, error)
	ListByBooking(ctx context.Context, bookingID uint64) ([]model.Document, error)
}

// Notifier hands notification events to the broker.
type Notifier interface {
	Publish(ctx context.Context, ev queue.NotificationEvent) error
}

// CacheInvalidator drops cached catalog responses after seat counters or
// sessions change.  A nil invalidator is allowed.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// actor renders the principal for audit entries.
func actor(p auth.Principal) string {
	switch p.Role {
	case auth.RolePartner:
		if p.OrganizationID != nil {
			return fmt.Sprintf("partner:%d", *p.OrganizationID)
		}
		return "partner"
	case "":
		return "system"
	}
	return fmt.Sprintf("%s:%d", p.Role, p.UserID)
}

// requireAdmin returns ErrForbidden unless p is staff.
func requireAdmin(p auth.Principal) error {
	if !p.IsAdmin() {
		return fmt.Errorf("%w: administrator only", model.ErrForbidden)
	}
	return nil
}

// noopNotifier backs services built without a broker, such as the ops CLI.
type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, queue.NotificationEvent) error { return nil }
