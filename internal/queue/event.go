// Package queue defines the notification messages exchanged over RabbitMQ
// and the publisher and consumer that move them.
package queue

import "time"

// Notification kinds.  The consumer picks a template and recipient by kind.
const (
	KindBookingCreated   = "booking.created"   // admin alert
	KindBookingQuoted    = "booking.quoted"    // quote PDF to the requester
	KindBookingConfirmed = "booking.confirmed" // confirmation, ticket attached when present
	KindBookingCancelled = "booking.cancelled" // cancellation or payment timeout notice
	KindBookingRejected  = "booking.rejected"  // staff rejection notice
)

// NotificationEvent carries enough of a booking for the consumer to write
// an email without querying the bookings table.  Attachments are loaded
// from the documents table by DocumentID.
type NotificationEvent struct {
	Kind         string     `json:"kind"`
	BookingID    uint64     `json:"booking_id"`
	SessionID    uint64     `json:"session_id"`
	ShowTitle    string     `json:"show_title"`
	StartsAt     time.Time  `json:"starts_at"`
	Venue        string     `json:"venue"`
	ContactName  string     `json:"contact_name"`
	ContactEmail string     `json:"contact_email"`
	Category     string     `json:"category"`
	Seats        int        `json:"seats"`
	TotalCents   uint64     `json:"total_cents"`
	Status       string     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	PaymentDueAt *time.Time `json:"payment_due_at,omitempty"`
	DocumentID   *uint64    `json:"document_id,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}
