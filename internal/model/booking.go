package model

import "time"

// Booking status values.  confirmed, rejected and cancelled are terminal.
const (
	StatusPending     = "pending"
	StatusQuoted      = "quoted"
	StatusPaymentSent = "payment_sent"
	StatusConfirmed   = "confirmed"
	StatusRejected    = "rejected"
	StatusCancelled   = "cancelled"
)

// Requester categories accepted by the booking form.
const (
	CategoryPrivateSchoolTeacher = "private_school_teacher"
	CategoryPublicSchoolTeacher  = "public_school_teacher"
	CategoryAssociation          = "association"
	CategoryIndividual           = "individual"
	CategoryPartner              = "partner"
)

// Closed reasons stored on rejected or cancelled bookings.
const (
	ReasonPaymentTimeout = "payment_timeout"
)

// transitions lists the allowed moves out of each non-terminal status.
var transitions = map[string][]string{
	StatusPending:     {StatusQuoted, StatusConfirmed, StatusRejected, StatusCancelled},
	StatusQuoted:      {StatusPaymentSent, StatusRejected, StatusCancelled},
	StatusPaymentSent: {StatusConfirmed, StatusRejected, StatusCancelled},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition leaves status s.
func IsTerminal(s string) bool {
	switch s {
	case StatusConfirmed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known booking status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusQuoted, StatusPaymentSent, StatusConfirmed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// HoldsSeats reports whether a booking in status s counts against capacity.
func HoldsSeats(s string) bool {
	return s != StatusRejected && s != StatusCancelled
}

// PoolForCategory maps a requester category to the pool it books from.
// ok is false for unknown categories.
func PoolForCategory(category string) (Pool, bool) {
	switch category {
	case CategoryIndividual:
		return PoolB2C, true
	case CategoryPartner:
		return PoolPartner, true
	case CategoryPrivateSchoolTeacher, CategoryPublicSchoolTeacher, CategoryAssociation:
		return PoolSchool, true
	}
	return "", false
}

// Booking is a reservation request by a requester against one session.
// Unit prices are snapshotted at creation so later price edits on the
// session never change an issued quote.
type Booking struct {
	ID                uint64     `json:"id"`                        // bookings.id
	SessionID         uint64     `json:"session_id"`                // bookings.session_id
	RequesterID       uint64     `json:"requester_id"`              // bookings.requester_id
	OrganizationID    *uint64    `json:"organization_id,omitempty"` // bookings.organization_id (nullable)
	Category          string     `json:"category"`                  // bookings.category
	ContactName       string     `json:"contact_name"`              // bookings.contact_name
	ContactEmail      string     `json:"contact_email"`             // bookings.contact_email
	ContactPhone      string     `json:"contact_phone"`             // bookings.contact_phone
	Students          int        `json:"students"`                  // bookings.students
	Teachers          int        `json:"teachers"`                  // bookings.teachers
	Adults            int        `json:"adults"`                    // bookings.adults
	Pool              Pool       `json:"seat_pool"`                 // bookings.seat_pool
	StudentPriceCents uint32     `json:"student_price_cents"`       // bookings.student_price_cents
	TeacherPriceCents uint32     `json:"teacher_price_cents"`       // bookings.teacher_price_cents
	AdultPriceCents   uint32     `json:"adult_price_cents"`         // bookings.adult_price_cents
	TotalCents        uint64     `json:"total_cents"`               // bookings.total_cents
	Status            string     `json:"status"`                    // bookings.status
	PaymentDueAt      *time.Time `json:"payment_due_at,omitempty"`  // bookings.payment_due_at (nullable)
	QuotedAt          *time.Time `json:"quoted_at,omitempty"`       // bookings.quoted_at (nullable)
	PaymentSentAt     *time.Time `json:"payment_sent_at,omitempty"` // bookings.payment_sent_at (nullable)
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`    // bookings.confirmed_at (nullable)
	ClosedReason      string     `json:"closed_reason,omitempty"`   // bookings.closed_reason
	CreatedAt         time.Time  `json:"created_at"`                // bookings.created_at
	UpdatedAt         time.Time  `json:"updated_at"`                // bookings.updated_at
}

// Seats returns the number of seats the booking occupies.
func (b Booking) Seats() int {
	return b.Students + b.Teachers + b.Adults
}
