package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/commission"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type CommissionRepository struct{}

func NewCommissionRepository() *CommissionRepository {
	return &CommissionRepository{}
}

func (r *CommissionRepository) ActiveRules(ctx context.Context, tx pgx.Tx, businessID string) ([]model.CommissionRule, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, business_id::text, COALESCE(service_id::text, ''), COALESCE(attendant_id::text, ''),
			percentage::text, is_active
		FROM commission_rules
		WHERE business_id = $1 AND is_active
		ORDER BY created_at, id
	`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CommissionRule, error) {
		var rule model.CommissionRule
		var pct string
		if err := row.Scan(&rule.ID, &rule.BusinessID, &rule.ServiceID, &rule.AttendantID, &pct, &rule.IsActive); err != nil {
			return model.CommissionRule{}, err
		}
		var err error
		rule.Percentage, err = decimal.NewFromString(pct)
		return rule, err
	})
}

const recordColumns = `id::text, business_id::text, attendant_id::text, appointment_id::text, service_id::text,
	service_price::text, amount::text, percentage::text, COALESCE(rule_id::text, ''), specificity, status,
	created_at, cancelled_at`

func scanRecord(row pgx.Row) (model.CommissionRecord, error) {
	var rec model.CommissionRecord
	var price, amount, pct string
	if err := row.Scan(
		&rec.ID,
		&rec.BusinessID,
		&rec.AttendantID,
		&rec.AppointmentID,
		&rec.ServiceID,
		&price,
		&amount,
		&pct,
		&rec.RuleID,
		&rec.Specificity,
		&rec.Status,
		&rec.CreatedAt,
		&rec.CancelledAt,
	); err != nil {
		return model.CommissionRecord{}, err
	}
	var err error
	if rec.ServicePrice, err = decimal.NewFromString(price); err != nil {
		return model.CommissionRecord{}, err
	}
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.CommissionRecord{}, err
	}
	if rec.Percentage, err = decimal.NewFromString(pct); err != nil {
		return model.CommissionRecord{}, err
	}
	return rec, nil
}

func (r *CommissionRepository) RecordByAppointment(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.CommissionRecord, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM commission_records
		WHERE business_id = $1 AND appointment_id = $2
		FOR UPDATE
	`, businessID, appointmentID))
	if err != nil {
		return model.CommissionRecord{}, notFound(err, "commission record", appointmentID)
	}
	return rec, nil
}

// InsertRecord relies on the unique appointment_id; a duplicate posting
// surfaces as a unique violation and aborts the transaction.
func (r *CommissionRepository) InsertRecord(ctx context.Context, tx pgx.Tx, rec model.CommissionRecord) (model.CommissionRecord, error) {
	return scanRecord(tx.QueryRow(ctx, `
		INSERT INTO commission_records
			(id, business_id, attendant_id, appointment_id, service_id, service_price, amount, percentage,
			 rule_id, specificity, status)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, NULLIF($9, '')::uuid, $10, $11)
		RETURNING `+recordColumns,
		newID(), rec.BusinessID, rec.AttendantID, rec.AppointmentID, rec.ServiceID,
		rec.ServicePrice.StringFixed(2), rec.Amount.StringFixed(2), rec.Percentage.String(),
		rec.RuleID, rec.Specificity, rec.Status))
}

// SetRecordStatus moves a pending record to paid or cancelled. Records in any
// other state are left alone and reported as a validation error.
func (r *CommissionRepository) SetRecordStatus(ctx context.Context, tx pgx.Tx, recordID string, status model.CommissionStatus, at time.Time) error {
	if !validID(recordID) {
		return &model.NotFoundError{Kind: "commission record", ID: recordID}
	}
	var column string
	switch status {
	case model.CommissionPaid:
		column = "paid_at"
	case model.CommissionCancelled:
		column = "cancelled_at"
	default:
		return model.Invalid("status", "commission records cannot move to %q", status)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE commission_records
		SET status = $2, `+column+` = $3
		WHERE id = $1 AND status = 'pending'
	`, recordID, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current model.CommissionStatus
	err = tx.QueryRow(ctx, `SELECT status FROM commission_records WHERE id = $1`, recordID).Scan(&current)
	if err != nil {
		return notFound(err, "commission record", recordID)
	}
	return model.Invalid("status", "commission %s is %s", recordID, current)
}

func (r *CommissionRepository) ListRecords(ctx context.Context, tx pgx.Tx, f commission.ReportFilter) ([]model.CommissionRecord, error) {
	if !validID(f.BusinessID) {
		return nil, nil
	}
	where, args, err := db.NewFilter().
		Where("business_id = ?", f.BusinessID).
		WhereIf(f.AttendantID != "", "attendant_id::text = ?", f.AttendantID).
		WhereIf(f.Status != "", "status = ?", f.Status).
		WhereIf(!f.From.IsZero(), "created_at >= ?", f.From).
		WhereIf(!f.To.IsZero(), "created_at < ?", f.To).
		Build("ORDER BY created_at, id LIMIT ?", f.Limit)
	if err != nil {
		return nil, fmt.Errorf("build commission report query: %w", err)
	}
	rows, err := tx.Query(ctx, `SELECT `+recordColumns+` FROM commission_records`+where, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CommissionRecord, error) {
		return scanRecord(row)
	})
}
