package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/theater-booking/internal/model"
)

// SessionRepo manages sessions and their seat counters.  Counters are only
// moved by Reserve and Release, each a single conditional UPDATE, so two
// concurrent bookings can never both pass the capacity check.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a SessionRepo bound to db.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// poolColumns maps a pool to its capacity and counter columns.  Column
// names are never taken from user input.
var poolColumns = map[model.Pool][2]string{
	model.PoolB2C:     {"b2c_capacity", "booked_b2c"},
	model.PoolPartner: {"partner_quota", "booked_partner"},
	model.PoolSchool:  {"school_capacity", "booked_school"},
}

const sessionColumns = `s.id, s.show_id, sh.title, s.starts_at, s.venue, s.city, s.total_capacity,
	s.b2c_capacity, s.partner_quota, s.school_capacity, s.booked_seats, s.booked_b2c,
	s.booked_partner, s.booked_school, s.session_type, s.status, s.price_cents,
	s.teacher_price_cents, s.created_at, s.updated_at`

const sessionFrom = ` FROM sessions s JOIN shows sh ON sh.id = s.show_id`

func scanSession(row scanner) (model.Session, error) {
	var s model.Session
	var b2c, partner, school sql.NullInt64
	err := row.Scan(
		&s.ID, &s.ShowID, &s.ShowTitle, &s.StartsAt, &s.Venue, &s.City, &s.TotalCapacity,
		&b2c, &partner, &school, &s.BookedSeats, &s.BookedB2C,
		&s.BookedPartner, &s.BookedSchool, &s.SessionType, &s.Status, &s.PriceCents,
		&s.TeacherPriceCents, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return model.Session{}, err
	}
	s.B2CCapacity = nullIntPtr(b2c)
	s.PartnerQuota = nullIntPtr(partner)
	s.SchoolCapacity = nullIntPtr(school)
	s.StartsAt = s.StartsAt.UTC()
	return s, nil
}

func (r *SessionRepo) list(ctx context.Context, op, where string, args ...any) ([]model.Session, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `SELECT `+sessionColumns+sessionFrom+` `+where, args...)
	if err != nil {
		return nil, wrapDB(op, err)
	}
	defer rows.Close()
	out := []model.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, wrapDB(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(op, err)
	}
	return out, nil
}

// Create inserts a draft session and reads back the stored row.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `INSERT INTO sessions (show_id, starts_at, venue, city, total_capacity, b2c_capacity,
	           partner_quota, school_capacity, session_type, price_cents, teacher_price_cents)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, s.ShowID, s.StartsAt.UTC(), s.Venue, s.City, s.TotalCapacity,
		s.B2CCapacity, s.PartnerQuota, s.SchoolCapacity, s.SessionType, s.PriceCents, s.TeacherPriceCents)
	if err != nil {
		return wrapDB("insert session", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDB("insert session", err)
	}
	stored, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*s = stored
	return nil
}

// Update rewrites the schedule, venue, capacities and prices of a session.
// Capacities may not drop below the seats already booked.
func (r *SessionRepo) Update(ctx context.Context, s *model.Session) error {
	const q = `UPDATE sessions SET starts_at = ?, venue = ?, city = ?, total_capacity = ?, b2c_capacity = ?,
	           partner_quota = ?, school_capacity = ?, session_type = ?, price_cents = ?, teacher_price_cents = ?
	           WHERE id = ? AND booked_seats <= ?
	             AND (? IS NULL OR booked_b2c <= ?)
	             AND (? IS NULL OR booked_partner <= ?)
	             AND (? IS NULL OR booked_school <= ?)`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, s.StartsAt.UTC(), s.Venue, s.City, s.TotalCapacity, s.B2CCapacity,
		s.PartnerQuota, s.SchoolCapacity, s.SessionType, s.PriceCents, s.TeacherPriceCents,
		s.ID, s.TotalCapacity,
		s.B2CCapacity, s.B2CCapacity,
		s.PartnerQuota, s.PartnerQuota,
		s.SchoolCapacity, s.SchoolCapacity)
	if err != nil {
		return wrapDB("update session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := r.GetByID(ctx, s.ID)
		if err != nil {
			return err
		}
		if current.BookedSeats > s.TotalCapacity || !fits(s.B2CCapacity, current.BookedB2C) ||
			!fits(s.PartnerQuota, current.BookedPartner) || !fits(s.SchoolCapacity, current.BookedSchool) {
			return fmt.Errorf("%w: capacity below seats already booked", model.ErrInvalidInput)
		}
	}
	stored, err := r.GetByID(ctx, s.ID)
	if err != nil {
		return err
	}
	*s = stored
	return nil
}

func fits(limit *int, booked int) bool { return limit == nil || booked <= *limit }

// SetStatus moves a session to status when it is currently in from.
func (r *SessionRepo) SetStatus(ctx context.Context, id uint64, from, to string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return wrapDB("update session status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: session %d is %s", model.ErrInvalidTransition, id, current.Status)
	}
	return nil
}

// GetByID returns the session with the given id, joined with its show title.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (model.Session, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE s.id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, fmt.Errorf("%w: session %d", model.ErrNotFound, id)
		}
		return model.Session{}, wrapDB("get session", err)
	}
	return s, nil
}

// ListByShow returns the sessions of a show ordered by start time.  When
// publishedOnly is set, drafts and closed sessions are left out.
func (r *SessionRepo) ListByShow(ctx context.Context, showID uint64, publishedOnly bool) ([]model.Session, error) {
	if publishedOnly {
		return r.list(ctx, "list sessions", `WHERE s.show_id = ? AND s.status = 'published' ORDER BY s.starts_at ASC, s.id ASC`, showID)
	}
	return r.list(ctx, "list sessions", `WHERE s.show_id = ? ORDER BY s.starts_at ASC, s.id ASC`, showID)
}

// ListAlternatives returns other published sessions of a show starting
// after `after` with at least seats seats left, earliest first.
func (r *SessionRepo) ListAlternatives(ctx context.Context, showID, excludeID uint64, seats int, after time.Time) ([]model.Session, error) {
	return r.list(ctx, "list alternative sessions",
		`WHERE s.show_id = ? AND s.id <> ? AND s.status = 'published' AND s.starts_at > ?
		   AND s.total_capacity - s.booked_seats >= ?
		 ORDER BY s.starts_at ASC, s.id ASC`,
		showID, excludeID, after.UTC(), seats)
}

// ListStartedBefore returns published sessions that started before t.
// The ops CLI closes them.
func (r *SessionRepo) ListStartedBefore(ctx context.Context, t time.Time) ([]model.Session, error) {
	return r.list(ctx, "list started sessions", `WHERE s.status = 'published' AND s.starts_at < ? ORDER BY s.starts_at ASC`, t.UTC())
}

// Reserve atomically adds seats to the session total and to pool.  The
// update only applies when the session is published and both the total
// and the pool stay within capacity; otherwise it returns
// model.ErrCapacityExceeded (or NotFound/InvalidInput when the session is
// missing or not open).
func (r *SessionRepo) Reserve(ctx context.Context, sessionID uint64, pool model.Pool, seats int) error {
	cols, ok := poolColumns[pool]
	if !ok || seats <= 0 {
		return fmt.Errorf("%w: reserve %d seats in pool %q", model.ErrInvalidInput, seats, pool)
	}
	q := fmt.Sprintf(`UPDATE sessions
	      SET booked_seats = booked_seats + ?, %[2]s = %[2]s + ?
	      WHERE id = ? AND status = 'published'
	        AND booked_seats + ? <= total_capacity
	        AND (%[1]s IS NULL OR %[2]s + ? <= %[1]s)`, cols[0], cols[1])
	res, err := conn(ctx, r.db).ExecContext(ctx, q, seats, seats, sessionID, seats, seats)
	if err != nil {
		return wrapDB("reserve seats", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	s, err := r.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != model.SessionPublished {
		return fmt.Errorf("%w: session %d is not open for booking", model.ErrInvalidInput, sessionID)
	}
	return fmt.Errorf("%w: session %d has %d seats left in pool %s", model.ErrCapacityExceeded, sessionID, s.PoolAvailable(pool), pool)
}

// Release gives seats back to the session total and to pool.
func (r *SessionRepo) Release(ctx context.Context, sessionID uint64, pool model.Pool, seats int) error {
	cols, ok := poolColumns[pool]
	if !ok || seats <= 0 {
		return fmt.Errorf("%w: release %d seats in pool %q", model.ErrInvalidInput, seats, pool)
	}
	q := fmt.Sprintf(`UPDATE sessions
	      SET booked_seats = booked_seats - ?, %[1]s = %[1]s - ?
	      WHERE id = ? AND booked_seats >= ? AND %[1]s >= ?`, cols[1])
	res, err := conn(ctx, r.db).ExecContext(ctx, q, seats, seats, sessionID, seats, seats)
	if err != nil {
		return wrapDB("release seats", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, sessionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: session %d holds fewer than %d seats in pool %s", ErrConflict, sessionID, seats, pool)
	}
	return nil
}
