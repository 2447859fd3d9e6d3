package lifecycle

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

type Store interface {
	CustomerExists(ctx context.Context, tx pgx.Tx, businessID, customerID string) (bool, error)
	// InsertAppointment maps an exclusion violation to *model.ConflictError.
	InsertAppointment(ctx context.Context, tx pgx.Tx, a model.Appointment) (model.Appointment, error)
	// AppointmentForUpdate returns a *model.NotFoundError for unknown ids.
	AppointmentForUpdate(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error)
	Appointment(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error)
	// SaveStatus persists Status, CompletedAt, CompletedPrice and CancelledAt.
	// A nil CompletedPrice keeps the stored one.
	SaveStatus(ctx context.Context, tx pgx.Tx, a model.Appointment) (model.Appointment, error)
	MoveAppointment(ctx context.Context, tx pgx.Tx, businessID, appointmentID string, start, end time.Time) (model.Appointment, error)
	ListAppointments(ctx context.Context, tx pgx.Tx, f ListFilter) ([]model.Appointment, error)

	// LockIdempotencyKey claims a key for the transaction and returns the
	// appointment it already produced, if any.
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, businessID, key string) (appointmentID string, err error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, businessID, key, appointmentID string) error
}

type ListFilter struct {
	BusinessID  string
	AttendantID string
	CustomerID  string
	Status      model.AppointmentStatus
	From        time.Time
	To          time.Time
	Limit       int
}
