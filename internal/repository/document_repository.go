package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/theater-booking/internal/model"
)

// DocumentRepo stores generated PDFs.  Rows are append-only.
type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo { return &DocumentRepo{db: db} }

const documentMeta = `id, booking_id, kind, reference, sha256, generated_at`

func scanDocumentMeta(row scanner) (model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.BookingID, &d.Kind, &d.Reference, &d.SHA256, &d.GeneratedAt)
	d.GeneratedAt = d.GeneratedAt.UTC()
	return d, err
}

// Create inserts d and sets its id.
func (r *DocumentRepo) Create(ctx context.Context, d *model.Document) error {
	const q = `INSERT INTO documents (booking_id, kind, reference, content, sha256, generated_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, d.BookingID, d.Kind, d.Reference, d.Content, d.SHA256, d.GeneratedAt.UTC())
	if err != nil {
		return wrapDB("insert document", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDB("insert document", err)
	}
	d.ID = uint64(id)
	return nil
}

// GetByID returns a document including its content.
func (r *DocumentRepo) GetByID(ctx context.Context, id uint64) (model.Document, error) {
	var d model.Document
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+documentMeta+`, content FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.BookingID, &d.Kind, &d.Reference, &d.SHA256, &d.GeneratedAt, &d.Content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Document{}, fmt.Errorf("%w: document %d", model.ErrNotFound, id)
		}
		return model.Document{}, wrapDB("get document", err)
	}
	d.GeneratedAt = d.GeneratedAt.UTC()
	return d, nil
}

// ListByBooking returns document metadata for a booking, newest first.
// Content is not loaded.
func (r *DocumentRepo) ListByBooking(ctx context.Context, bookingID uint64) ([]model.Document, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+documentMeta+` FROM documents WHERE booking_id = ? ORDER BY generated_at DESC, id DESC`, bookingID)
	if err != nil {
		return nil, wrapDB("list documents", err)
	}
	defer rows.Close()
	out := []model.Document{}
	for rows.Next() {
		d, err := scanDocumentMeta(rows)
		if err != nil {
			return nil, wrapDB("list documents", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("list documents", err)
	}
	return out, nil
}
