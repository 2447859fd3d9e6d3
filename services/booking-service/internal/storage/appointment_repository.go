package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

// AppointmentRepository stores appointments and booking idempotency keys. It
// serves both the lifecycle and the conflict guard.
type AppointmentRepository struct{}

func NewAppointmentRepository() *AppointmentRepository {
	return &AppointmentRepository{}
}

const appointmentColumns = `id::text, business_id::text, customer_id::text, service_id::text,
	COALESCE(attendant_id::text, ''), start_time, end_time, status, notes,
	completed_at, completed_price::text, cancelled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var price *string
	err := row.Scan(
		&a.ID,
		&a.BusinessID,
		&a.CustomerID,
		&a.ServiceID,
		&a.AttendantID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.Notes,
		&a.CompletedAt,
		&price,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if price != nil {
		a.CompletedPrice = model.ParsePrice(*price)
	}
	return a, err
}

func (r *AppointmentRepository) CustomerExists(ctx context.Context, tx pgx.Tx, businessID, customerID string) (bool, error) {
	if !validID(businessID) || !validID(customerID) {
		return false, nil
	}
	var ok bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1 AND business_id = $2)
	`, customerID, businessID).Scan(&ok)
	return ok, err
}

func (r *AppointmentRepository) InsertAppointment(ctx context.Context, tx pgx.Tx, a model.Appointment) (model.Appointment, error) {
	out, err := scanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, business_id, customer_id, service_id, attendant_id, start_time, end_time, status, notes)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, $9)
		RETURNING `+appointmentColumns,
		newID(), a.BusinessID, a.CustomerID, a.ServiceID, a.AttendantID, a.StartTime, a.EndTime, a.Status, a.Notes))
	if IsConflict(err) {
		return model.Appointment{}, &model.ConflictError{AttendantID: a.AttendantID, Start: a.StartTime, End: a.EndTime}
	}
	return out, err
}

func (r *AppointmentRepository) AppointmentForUpdate(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error) {
	return r.get(ctx, tx, businessID, appointmentID, "FOR UPDATE")
}

func (r *AppointmentRepository) Appointment(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error) {
	return r.get(ctx, tx, businessID, appointmentID, "")
}

func (r *AppointmentRepository) get(ctx context.Context, tx pgx.Tx, businessID, appointmentID, lock string) (model.Appointment, error) {
	if !validID(businessID) || !validID(appointmentID) {
		return model.Appointment{}, &model.NotFoundError{Kind: "appointment", ID: appointmentID}
	}
	a, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
		`+lock, appointmentID, businessID))
	if err != nil {
		return model.Appointment{}, notFound(err, "appointment", appointmentID)
	}
	return a, nil
}

func (r *AppointmentRepository) SaveStatus(ctx context.Context, tx pgx.Tx, a model.Appointment) (model.Appointment, error) {
	out, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			completed_at = $4,
			cancelled_at = $5,
			completed_price = COALESCE($6::numeric, completed_price),
			updated_at = now()
		WHERE id = $1 AND business_id = $2
		RETURNING `+appointmentColumns,
		a.ID, a.BusinessID, a.Status, a.CompletedAt, a.CancelledAt, priceArg(a.CompletedPrice)))
	if err != nil {
		return model.Appointment{}, notFound(err, "appointment", a.ID)
	}
	return out, nil
}

func (r *AppointmentRepository) MoveAppointment(ctx context.Context, tx pgx.Tx, businessID, appointmentID string, start, end time.Time) (model.Appointment, error) {
	out, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $3,
			end_time = $4,
			updated_at = now()
		WHERE id = $1 AND business_id = $2
		RETURNING `+appointmentColumns,
		appointmentID, businessID, start, end))
	switch {
	case IsConflict(err):
		return model.Appointment{}, &model.ConflictError{Start: start, End: end}
	case err != nil:
		return model.Appointment{}, notFound(err, "appointment", appointmentID)
	}
	return out, nil
}

func (r *AppointmentRepository) ListAppointments(ctx context.Context, tx pgx.Tx, f lifecycle.ListFilter) ([]model.Appointment, error) {
	if !validID(f.BusinessID) {
		return nil, nil
	}
	where, args, err := db.NewFilter().
		Where("business_id = ?", f.BusinessID).
		WhereIf(f.AttendantID != "", "attendant_id::text = ?", f.AttendantID).
		WhereIf(f.CustomerID != "", "customer_id::text = ?", f.CustomerID).
		WhereIf(f.Status != "", "status = ?", f.Status).
		WhereIf(!f.From.IsZero(), "start_time >= ?", f.From).
		WhereIf(!f.To.IsZero(), "start_time < ?", f.To).
		Build("ORDER BY start_time DESC LIMIT ?", f.Limit)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments`+where, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
}

// LockIdempotencyKey inserts the key row if missing and locks it, so a retry
// racing the first request waits for it and then sees its appointment.
func (r *AppointmentRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, businessID, key string) (string, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key); err != nil {
		return "", err
	}

	var appointmentID string
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, businessID, key).Scan(&appointmentID)
	return appointmentID, err
}

func (r *AppointmentRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, businessID, key, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			updated_at = now()
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, appointmentID)
	return err
}

func (r *AppointmentRepository) LockAttendant(ctx context.Context, tx pgx.Tx, businessID, attendantID string) error {
	return db.AdvisoryXactLock(ctx, tx, "attendant", businessID, attendantID)
}

func (r *AppointmentRepository) ActiveAppointments(ctx context.Context, tx pgx.Tx, businessID, attendantID string, window model.Interval, excludeID string) ([]model.Appointment, error) {
	if !validID(businessID) || !validID(attendantID) {
		return nil, nil
	}
	rows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND attendant_id = $2
			AND status <> 'cancelled'
			AND start_time < $4
			AND end_time > $3
			AND id::text <> $5
		ORDER BY start_time ASC
	`, businessID, attendantID, window.Start, window.End, excludeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
}

func priceArg(p *decimal.Decimal) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}
