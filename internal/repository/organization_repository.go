package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/theater-booking/internal/model"
)

// OrganizationRepo manages organizations and their verification status.
type OrganizationRepo struct {
	db *sql.DB
}

func NewOrganizationRepo(db *sql.DB) *OrganizationRepo { return &OrganizationRepo{db: db} }

const orgColumns = `id, name, kind, contact_email, city, verification_status, api_key_hash, created_at, updated_at`

func scanOrganization(row scanner) (model.Organization, error) {
	var o model.Organization
	var hash sql.NullString
	if err := row.Scan(&o.ID, &o.Name, &o.Kind, &o.ContactEmail, &o.City, &o.VerificationStatus, &hash, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return model.Organization{}, err
	}
	if hash.Valid {
		o.APIKeyHash = &hash.String
	}
	return o, nil
}

// Create inserts a new organization in the pending state.
func (r *OrganizationRepo) Create(ctx context.Context, o *model.Organization) error {
	const q = `INSERT INTO organizations (name, kind, contact_email, city, verification_status) VALUES (?, ?, ?, ?, ?)`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, o.Name, o.Kind, o.ContactEmail, o.City, model.VerificationPending)
	if err != nil {
		return wrapDB("insert organization", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDB("insert organization", err)
	}
	stored, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*o = stored
	return nil
}

func (r *OrganizationRepo) GetByID(ctx context.Context, id uint64) (model.Organization, error) {
	o, err := scanOrganization(conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Organization{}, fmt.Errorf("%w: organization %d", model.ErrNotFound, id)
		}
		return model.Organization{}, wrapDB("get organization", err)
	}
	return o, nil
}

// List returns organizations, optionally filtered by verification status.
func (r *OrganizationRepo) List(ctx context.Context, status string) ([]model.Organization, error) {
	q := `SELECT ` + orgColumns + ` FROM organizations`
	var args []any
	if status != "" {
		q += ` WHERE verification_status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at ASC, id ASC`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDB("list organizations", err)
	}
	defer rows.Close()
	out := []model.Organization{}
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, wrapDB("list organizations", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("list organizations", err)
	}
	return out, nil
}

// SetVerification moves an organization from one verification status to
// another.  A concurrent change makes it return model.ErrInvalidTransition.
func (r *OrganizationRepo) SetVerification(ctx context.Context, id uint64, from, to string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE organizations SET verification_status = ? WHERE id = ? AND verification_status = ?`, to, id, from)
	if err != nil {
		return wrapDB("update organization status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: organization %d is %s", model.ErrInvalidTransition, id, current.VerificationStatus)
	}
	return nil
}

// SetAPIKeyHash stores the bcrypt hash of a partner API key, replacing
// any previous key.
func (r *OrganizationRepo) SetAPIKeyHash(ctx context.Context, id uint64, hash string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE organizations SET api_key_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return wrapDB("update api key", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
