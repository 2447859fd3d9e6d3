package storage

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestPgErrorClassification(t *testing.T) {
	exclusion := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01"})
	unique := &pgconn.PgError{Code: "23505"}

	assert.True(t, IsConflict(exclusion))
	assert.False(t, IsConflict(unique))
	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(exclusion))
	assert.True(t, IsNotFound(fmt.Errorf("scan: %w", pgx.ErrNoRows)))
}

func TestNotFoundMapsNoRows(t *testing.T) {
	err := notFound(pgx.ErrNoRows, "appointment", "a-1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	other := fmt.Errorf("boom")
	assert.Same(t, other, notFound(other, "appointment", "a-1"))
}
