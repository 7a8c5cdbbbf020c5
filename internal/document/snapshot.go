// Package document renders quotes and tickets as PDF.  Rendering is a pure
// function of a Snapshot: it reads no clock, store or environment, so the
// same snapshot always produces the same bytes.
package document

import (
	"time"

	"github.com/iliyamo/theater-booking/internal/model"
)

// Line is one row of the line-item table.
type Line struct {
	Label       string
	Quantity    int
	UnitCents   uint32
	AmountCents uint64
}

// Party is the requester block printed under the header.
type Party struct {
	ContactName  string
	ContactEmail string
	ContactPhone string
	Organization string
	Category     string
}

// Snapshot is everything a document shows, frozen at generation time.
type Snapshot struct {
	Reference    string
	BookingID    uint64
	Status       string
	ShowTitle    string
	StartsAt     time.Time
	Venue        string
	City         string
	Party        Party
	Lines        []Line
	TotalCents   uint64
	PaymentDueAt *time.Time
}

// NewSnapshot builds a snapshot from a booking, its session and the
// booking organization (nil for individuals).
func NewSnapshot(reference string, b model.Booking, s model.Session, org *model.Organization) Snapshot {
	snap := Snapshot{
		Reference:    reference,
		BookingID:    b.ID,
		Status:       b.Status,
		ShowTitle:    s.ShowTitle,
		StartsAt:     s.StartsAt,
		Venue:        s.Venue,
		City:         s.City,
		TotalCents:   b.TotalCents,
		PaymentDueAt: b.PaymentDueAt,
		Party: Party{
			ContactName:  b.ContactName,
			ContactEmail: b.ContactEmail,
			ContactPhone: b.ContactPhone,
			Category:     b.Category,
		},
	}
	if org != nil {
		snap.Party.Organization = org.Name
	}
	add := func(label string, qty int, unit uint32) {
		if qty <= 0 {
			return
		}
		snap.Lines = append(snap.Lines, Line{
			Label:       label,
			Quantity:    qty,
			UnitCents:   unit,
			AmountCents: uint64(qty) * uint64(unit),
		})
	}
	add("Students", b.Students, b.StudentPriceCents)
	add("Teachers", b.Teachers, b.TeacherPriceCents)
	add("Accompanying adults", b.Adults, b.AdultPriceCents)
	return snap
}
