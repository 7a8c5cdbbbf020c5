package repository

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/theater-booking/internal/model"
)

// SessionSearchQuery filters the public session search.  Empty fields
// are ignored; From defaults to the caller's now.
type SessionSearchQuery struct {
	Title    string
	City     string
	Venue    string
	From     time.Time
	To       time.Time
	MinSeats int
	Page     int
	PageSize int
}

// Search returns one page of published sessions matching q, soonest
// first, and the total number of matches.
func (r *SessionRepo) Search(ctx context.Context, q SessionSearchQuery) ([]model.Session, int64, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	where := []string{"s.status = ?", "s.starts_at > ?"}
	args := []any{model.SessionPublished, q.From}

	if !q.To.IsZero() {
		where = append(where, "s.starts_at < ?")
		args = append(args, q.To)
	}
	if q.Title != "" {
		where = append(where, "LOWER(sh.title) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Title)+"%")
	}
	if q.City != "" {
		where = append(where, "LOWER(s.city) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.City)+"%")
	}
	if q.Venue != "" {
		where = append(where, "LOWER(s.venue) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Venue)+"%")
	}
	if q.MinSeats > 0 {
		where = append(where, "s.total_capacity - s.booked_seats >= ?")
		args = append(args, q.MinSeats)
	}
	cond := " WHERE " + strings.Join(where, " AND ")

	var total int64
	if err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*)`+sessionFrom+cond, args...).Scan(&total); err != nil {
		return nil, 0, wrapDB("search sessions", err)
	}

	page := append(append([]any{}, args...), q.PageSize, (q.Page-1)*q.PageSize)
	items, err := r.list(ctx, "search sessions", cond+` ORDER BY s.starts_at ASC, s.id ASC LIMIT ? OFFSET ?`, page...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
