package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/theater-booking/internal/model"
)

// ShowRepo manages persistence for shows.
type ShowRepo struct {
	db *sql.DB
}

// NewShowRepo constructs a ShowRepo with the given DB handle.
func NewShowRepo(db *sql.DB) *ShowRepo {
	return &ShowRepo{db: db}
}

const showColumns = `id, title, company, COALESCE(description, ''), duration_minutes, age_min, created_at, updated_at`

func scanShow(row scanner) (model.Show, error) {
	var s model.Show
	err := row.Scan(&s.ID, &s.Title, &s.Company, &s.Description, &s.DurationMinutes, &s.AgeMin, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Create inserts a new show and reads back the stored row.
func (r *ShowRepo) Create(ctx context.Context, s *model.Show) error {
	const q = `INSERT INTO shows (title, company, description, duration_minutes, age_min) VALUES (?, ?, ?, ?, ?)`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, s.Title, s.Company, s.Description, s.DurationMinutes, s.AgeMin)
	if err != nil {
		return wrapDB("insert show", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDB("insert show", err)
	}
	stored, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*s = stored
	return nil
}

// Update overwrites the descriptive fields of a show.
func (r *ShowRepo) Update(ctx context.Context, s *model.Show) error {
	const q = `UPDATE shows SET title = ?, company = ?, description = ?, duration_minutes = ?, age_min = ? WHERE id = ?`
	if _, err := conn(ctx, r.db).ExecContext(ctx, q, s.Title, s.Company, s.Description, s.DurationMinutes, s.AgeMin, s.ID); err != nil {
		return wrapDB("update show", err)
	}
	stored, err := r.GetByID(ctx, s.ID)
	if err != nil {
		return err
	}
	*s = stored
	return nil
}

// GetByID retrieves a show by its ID.
func (r *ShowRepo) GetByID(ctx context.Context, id uint64) (model.Show, error) {
	s, err := scanShow(conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+showColumns+` FROM shows WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Show{}, fmt.Errorf("%w: show %d", model.ErrNotFound, id)
		}
		return model.Show{}, wrapDB("get show", err)
	}
	return s, nil
}

// List returns all shows ordered by title.
func (r *ShowRepo) List(ctx context.Context) ([]model.Show, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `SELECT `+showColumns+` FROM shows ORDER BY title ASC, id ASC`)
	if err != nil {
		return nil, wrapDB("list shows", err)
	}
	defer rows.Close()
	out := []model.Show{}
	for rows.Next() {
		s, err := scanShow(rows)
		if err != nil {
			return nil, wrapDB("list shows", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("list shows", err)
	}
	return out, nil
}
