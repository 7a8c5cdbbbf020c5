package model

import "time"

// Session status values.  Only published sessions accept bookings.
const (
	SessionDraft     = "draft"
	SessionPublished = "published"
	SessionClosed    = "closed"
)

// Session types tag which audience may book a session.
const (
	SessionTypePublic = "public" // individuals and partners
	SessionTypeSchool = "school" // schools and associations
	SessionTypeMixed  = "mixed"  // everyone
)

// Pool names a sub-allocation of a session's seats.
type Pool string

const (
	PoolB2C     Pool = "b2c"
	PoolPartner Pool = "partner"
	PoolSchool  Pool = "school"
)

// Valid reports whether p is a known pool.
func (p Pool) Valid() bool {
	switch p {
	case PoolB2C, PoolPartner, PoolSchool:
		return true
	}
	return false
}

// Session is a single scheduled performance of a show.  Seat counters
// include every non-terminal booking (pending, quoted, payment_sent and
// confirmed) and are only moved by the conditional updates in the
// session repository, never by read-modify-write in Go.
//
// Pool capacities are optional: a nil capacity means the pool is only
// bounded by TotalCapacity.
type Session struct {
	ID                uint64    `json:"id"`                        // sessions.id
	ShowID            uint64    `json:"show_id"`                   // sessions.show_id
	ShowTitle         string    `json:"show_title"`                // shows.title (joined)
	StartsAt          time.Time `json:"starts_at"`                 // sessions.starts_at (UTC)
	Venue             string    `json:"venue"`                     // sessions.venue
	City              string    `json:"city"`                      // sessions.city
	TotalCapacity     int       `json:"total_capacity"`            // sessions.total_capacity
	B2CCapacity       *int      `json:"b2c_capacity,omitempty"`    // sessions.b2c_capacity (nullable)
	PartnerQuota      *int      `json:"partner_quota,omitempty"`   // sessions.partner_quota (nullable)
	SchoolCapacity    *int      `json:"school_capacity,omitempty"` // sessions.school_capacity (nullable)
	BookedSeats       int       `json:"booked_seats"`              // sessions.booked_seats
	BookedB2C         int       `json:"booked_b2c"`                // sessions.booked_b2c
	BookedPartner     int       `json:"booked_partner"`            // sessions.booked_partner
	BookedSchool      int       `json:"booked_school"`             // sessions.booked_school
	SessionType       string    `json:"session_type"`              // sessions.session_type
	Status            string    `json:"status"`                    // sessions.status
	PriceCents        uint32    `json:"price_cents"`               // sessions.price_cents
	TeacherPriceCents uint32    `json:"teacher_price_cents"`       // sessions.teacher_price_cents
	CreatedAt         time.Time `json:"created_at"`                // sessions.created_at
	UpdatedAt         time.Time `json:"updated_at"`                // sessions.updated_at
}

// Available returns the seats left in the session as a whole.
func (s Session) Available() int {
	if n := s.TotalCapacity - s.BookedSeats; n > 0 {
		return n
	}
	return 0
}

// PoolAvailable returns the seats left in pool p, bounded by the session
// total.  Pools without a configured capacity share the session total.
func (s Session) PoolAvailable(p Pool) int {
	total := s.Available()
	var limit *int
	var booked int
	switch p {
	case PoolB2C:
		limit, booked = s.B2CCapacity, s.BookedB2C
	case PoolPartner:
		limit, booked = s.PartnerQuota, s.BookedPartner
	case PoolSchool:
		limit, booked = s.SchoolCapacity, s.BookedSchool
	default:
		return 0
	}
	if limit == nil {
		return total
	}
	left := *limit - booked
	if left < 0 {
		left = 0
	}
	if left < total {
		return left
	}
	return total
}

// Admits reports whether the session type accepts bookings from pool p.
func (s Session) Admits(p Pool) bool {
	switch s.SessionType {
	case SessionTypePublic:
		return p == PoolB2C || p == PoolPartner
	case SessionTypeSchool:
		return p == PoolSchool
	case SessionTypeMixed:
		return p.Valid()
	}
	return false
}
