package model

import "time"

// Document kinds.
const (
	DocumentQuote  = "quote"
	DocumentTicket = "ticket"
)

// Document is a generated quote or ticket.  Rows are never updated;
// regenerating inserts a new row with a new reference.
type Document struct {
	ID          uint64    `json:"id"`           // documents.id
	BookingID   uint64    `json:"booking_id"`   // documents.booking_id
	Kind        string    `json:"kind"`         // documents.kind
	Reference   string    `json:"reference"`    // documents.reference (uuid)
	Content     []byte    `json:"-"`            // documents.content
	SHA256      string    `json:"sha256"`       // documents.sha256
	GeneratedAt time.Time `json:"generated_at"` // documents.generated_at
}
