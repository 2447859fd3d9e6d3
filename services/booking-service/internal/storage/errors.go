package storage

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

// IsConflict reports an exclusion constraint violation.
func IsConflict(err error) bool {
	return pgCode(err) == "23P01"
}

func IsUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// validID rejects ids that are not uuids before they reach postgres, where
// they would fail with 22P02 instead of a clean not-found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(err error, kind, id string) error {
	if IsNotFound(err) {
		return &model.NotFoundError{Kind: kind, ID: id}
	}
	return err
}

func newID() string {
	return uuid.NewString()
}
