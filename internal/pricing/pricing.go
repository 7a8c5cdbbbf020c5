// Package pricing computes booking totals.  There is exactly one pricing
// function; every booking flow (form, partner API, admin) goes through it.
package pricing

import (
	"fmt"

	"github.com/iliyamo/theater-booking/internal/model"
)

// Policy holds the configurable pricing rules.
type Policy struct {
	// AccompanyingAdultPercent is the share of the base seat price charged
	// for an accompanying adult: 50 means half price, 0 means free.
	AccompanyingAdultPercent int
}

// DefaultPolicy charges accompanying adults half price.
func DefaultPolicy() Policy { return Policy{AccompanyingAdultPercent: 50} }

// Seats is the seat breakdown of a booking request.
type Seats struct {
	Students int
	Teachers int
	Adults   int
}

// Total returns the number of seats across categories.
func (s Seats) Total() int { return s.Students + s.Teachers + s.Adults }

// Quote is the result of pricing a request against a session.
type Quote struct {
	StudentPriceCents uint32
	TeacherPriceCents uint32
	AdultPriceCents   uint32
	TotalCents        uint64
}

// Compute prices a seat breakdown against a session's unit prices.
func (p Policy) Compute(s model.Session, seats Seats) (Quote, error) {
	if seats.Students < 0 || seats.Teachers < 0 || seats.Adults < 0 {
		return Quote{}, fmt.Errorf("%w: seat counts must not be negative", model.ErrInvalidInput)
	}
	if p.AccompanyingAdultPercent < 0 || p.AccompanyingAdultPercent > 100 {
		return Quote{}, fmt.Errorf("%w: accompanying adult percent %d out of range", model.ErrInvalidInput, p.AccompanyingAdultPercent)
	}
	adult := uint32(uint64(s.PriceCents) * uint64(p.AccompanyingAdultPercent) / 100)
	q := Quote{
		StudentPriceCents: s.PriceCents,
		TeacherPriceCents: s.TeacherPriceCents,
		AdultPriceCents:   adult,
	}
	q.TotalCents = uint64(seats.Students)*uint64(q.StudentPriceCents) +
		uint64(seats.Teachers)*uint64(q.TeacherPriceCents) +
		uint64(seats.Adults)*uint64(q.AdultPriceCents)
	return q, nil
}

// FormatCents renders an amount in cents as "1234.50".
func FormatCents(c uint64) string {
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}
