package db

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/schemehealth/claims/internal/platform/apperr"
)

// MapNotFound turns pgx.ErrNoRows into an apperr not-found error for
// resource and leaves every other error untouched.
func MapNotFound(err error, resource string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	return err
}
