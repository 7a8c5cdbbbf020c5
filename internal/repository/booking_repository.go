package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/theater-booking/internal/model"
)

// BookingRepo persists bookings.  Status changes go through Transition,
// a compare-and-swap on the current status; bookings are never deleted.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to db.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, session_id, requester_id, organization_id, category, contact_name, contact_email,
	contact_phone, students, teachers, adults, seat_pool, student_price_cents, teacher_price_cents,
	adult_price_cents, total_cents, status, payment_due_at, quoted_at, payment_sent_at, confirmed_at,
	closed_reason, created_at, updated_at`

func scanBooking(row scanner) (model.Booking, error) {
	var b model.Booking
	var org sql.NullInt64
	var due, quoted, paid, confirmed sql.NullTime
	var pool string
	err := row.Scan(
		&b.ID, &b.SessionID, &b.RequesterID, &org, &b.Category, &b.ContactName, &b.ContactEmail,
		&b.ContactPhone, &b.Students, &b.Teachers, &b.Adults, &pool, &b.StudentPriceCents, &b.TeacherPriceCents,
		&b.AdultPriceCents, &b.TotalCents, &b.Status, &due, &quoted, &paid, &confirmed,
		&b.ClosedReason, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.Pool = model.Pool(pool)
	b.OrganizationID = nullUint64Ptr(org)
	b.PaymentDueAt = nullTimePtr(due)
	b.QuotedAt = nullTimePtr(quoted)
	b.PaymentSentAt = nullTimePtr(paid)
	b.ConfirmedAt = nullTimePtr(confirmed)
	return b, nil
}

// Create inserts a booking and reads back the stored row, populating the
// generated id and timestamps on b.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	const q = `INSERT INTO bookings (session_id, requester_id, organization_id, category, contact_name,
	           contact_email, contact_phone, students, teachers, adults, seat_pool, student_price_cents,
	           teacher_price_cents, adult_price_cents, total_cents, status, payment_due_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var due any
	if b.PaymentDueAt != nil {
		due = b.PaymentDueAt.UTC()
	}
	res, err := conn(ctx, r.db).ExecContext(ctx, q, b.SessionID, b.RequesterID, b.OrganizationID, b.Category,
		b.ContactName, b.ContactEmail, b.ContactPhone, b.Students, b.Teachers, b.Adults, string(b.Pool),
		b.StudentPriceCents, b.TeacherPriceCents, b.AdultPriceCents, b.TotalCents, b.Status, due)
	if err != nil {
		return wrapDB("insert booking", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDB("insert booking", err)
	}
	stored, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*b = stored
	return nil
}

// GetByID returns a booking by id.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (model.Booking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Booking{}, fmt.Errorf("%w: booking %d", model.ErrNotFound, id)
		}
		return model.Booking{}, wrapDB("get booking", err)
	}
	return b, nil
}

// BookingFilter narrows List.  Zero values are ignored.
type BookingFilter struct {
	Status         string
	SessionID      uint64
	RequesterID    uint64
	OrganizationID uint64
	Limit          int
}

// List returns bookings matching f, newest first.
func (r *BookingRepo) List(ctx context.Context, f BookingFilter) ([]model.Booking, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.SessionID != 0 {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.RequesterID != 0 {
		where = append(where, "requester_id = ?")
		args = append(args, f.RequesterID)
	}
	if f.OrganizationID != 0 {
		where = append(where, "organization_id = ?")
		args = append(args, f.OrganizationID)
	}
	q := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.query(ctx, "list bookings", q, args...)
}

// ListOverdue returns pending or quoted bookings whose payment deadline is
// before now, oldest deadline first.
func (r *BookingRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
	      WHERE status IN ('pending', 'quoted') AND payment_due_at IS NOT NULL AND payment_due_at < ?
	      ORDER BY payment_due_at ASC, id ASC LIMIT ?`
	return r.query(ctx, "list overdue bookings", q, now.UTC(), limit)
}

// SumActiveSeats recomputes the seats held by non-terminal bookings of a
// session.  It should always equal sessions.booked_seats.
func (r *BookingRepo) SumActiveSeats(ctx context.Context, sessionID uint64) (int, error) {
	const q = `SELECT COALESCE(SUM(students + teachers + adults), 0) FROM bookings
	           WHERE session_id = ? AND status IN ('pending', 'quoted', 'payment_sent', 'confirmed')`
	var n int
	if err := conn(ctx, r.db).QueryRowContext(ctx, q, sessionID).Scan(&n); err != nil {
		return 0, wrapDB("sum booked seats", err)
	}
	return n, nil
}

func (r *BookingRepo) query(ctx context.Context, op, q string, args ...any) ([]model.Booking, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDB(op, err)
	}
	defer rows.Close()
	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrapDB(op, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(op, err)
	}
	return out, nil
}

// Transition describes one status change.
type Transition struct {
	ID           uint64
	From         string
	To           string
	At           time.Time
	Reason       string     // stored on rejected/cancelled bookings
	PaymentDueAt *time.Time // replaces the deadline when set
}

// timestampColumn returns the column stamped when entering status.
func timestampColumn(status string) string {
	switch status {
	case model.StatusQuoted:
		return "quoted_at"
	case model.StatusPaymentSent:
		return "payment_sent_at"
	case model.StatusConfirmed:
		return "confirmed_at"
	}
	return ""
}

// Transition moves a booking from t.From to t.To only if it is still in
// t.From.  When another writer got there first it returns
// model.ErrInvalidTransition and the caller should re-fetch.
func (r *BookingRepo) Transition(ctx context.Context, t Transition) error {
	if !model.CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, t.From, t.To)
	}
	set := []string{"status = ?"}
	args := []any{t.To}
	if col := timestampColumn(t.To); col != "" {
		set = append(set, col+" = ?")
		args = append(args, t.At.UTC())
	}
	if t.Reason != "" {
		set = append(set, "closed_reason = ?")
		args = append(args, t.Reason)
	}
	if t.PaymentDueAt != nil {
		set = append(set, "payment_due_at = ?")
		args = append(args, t.PaymentDueAt.UTC())
	}
	if model.IsTerminal(t.To) {
		set = append(set, "payment_due_at = NULL")
	}
	args = append(args, t.ID, t.From)
	q := `UPDATE bookings SET ` + strings.Join(set, ", ") + ` WHERE id = ? AND status = ?`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("update booking status", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	current, err := r.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: booking %d is %s, expected %s", model.ErrInvalidTransition, t.ID, current.Status, t.From)
}
