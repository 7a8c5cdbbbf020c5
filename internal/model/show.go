package model

import "time"

// Show is a production that can be scheduled as one or more sessions.
//
// Fields:
//
//	ID              – primary key identifier.
//	Title           – title printed on quotes and tickets.
//	Company         – performing company (optional).
//	Description     – free text shown in the catalog (optional).
//	DurationMinutes – running time, 0 when unknown.
//	AgeMin          – minimum recommended age, 0 when unrestricted.
type Show struct {
	ID              uint64    `json:"id"`               // shows.id
	Title           string    `json:"title"`            // shows.title
	Company         string    `json:"company"`          // shows.company
	Description     string    `json:"description"`      // shows.description
	DurationMinutes uint32    `json:"duration_minutes"` // shows.duration_minutes
	AgeMin          uint32    `json:"age_min"`          // shows.age_min
	CreatedAt       time.Time `json:"created_at"`       // shows.created_at
	UpdatedAt       time.Time `json:"updated_at"`       // shows.updated_at
}
