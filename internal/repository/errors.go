// Package repository defines the MySQL data access layer.  Errors returned
// by the driver are wrapped in model.ErrExternalService so handlers can
// tell an unreachable store from a domain failure; sql.ErrNoRows becomes
// model.ErrNotFound.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/theater-booking/internal/model"
)

// ErrConflict is returned when a counter update cannot be applied because
// the stored state disagrees with the caller, such as releasing more seats
// than a session holds.  Handlers should translate this into HTTP 409.
var ErrConflict = errors.New("conflict")

// wrapDB annotates a driver error with the failing operation.
func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrNotFound, op)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrExternalService, op, err)
}
