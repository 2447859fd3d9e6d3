package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/loyalty"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type LoyaltyRepository struct{}

func NewLoyaltyRepository() *LoyaltyRepository {
	return &LoyaltyRepository{}
}

func (r *LoyaltyRepository) Program(ctx context.Context, tx pgx.Tx, businessID string) (model.LoyaltyProgram, error) {
	var p model.LoyaltyProgram
	var rate string
	err := tx.QueryRow(ctx, `
		SELECT business_id::text, points_per_currency_unit::text, points_expiration_days, is_active
		FROM loyalty_programs
		WHERE business_id = $1
	`, businessID).Scan(&p.BusinessID, &rate, &p.PointsExpirationDays, &p.IsActive)
	if err != nil {
		return model.LoyaltyProgram{}, notFound(err, "loyalty program", businessID)
	}
	if p.PointsPerCurrencyUnit, err = decimal.NewFromString(rate); err != nil {
		return model.LoyaltyProgram{}, err
	}
	return p, nil
}

func (r *LoyaltyRepository) CustomerExists(ctx context.Context, tx pgx.Tx, businessID, customerID string) (bool, error) {
	if !validID(businessID) || !validID(customerID) {
		return false, nil
	}
	var ok bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1 AND business_id = $2)
	`, customerID, businessID).Scan(&ok)
	return ok, err
}

func (r *LoyaltyRepository) LockCustomer(ctx context.Context, tx pgx.Tx, businessID, customerID string) error {
	return db.AdvisoryXactLock(ctx, tx, "loyalty", businessID, customerID)
}

const entryColumns = `id::text, business_id::text, customer_id::text, COALESCE(appointment_id::text, ''),
	COALESCE(redemption_id::text, ''), COALESCE(source_entry_id::text, ''), points, type, expires_at,
	description, created_at`

func scanEntry(row pgx.Row) (model.LoyaltyPointsEntry, error) {
	var e model.LoyaltyPointsEntry
	err := row.Scan(
		&e.ID,
		&e.BusinessID,
		&e.CustomerID,
		&e.AppointmentID,
		&e.RedemptionID,
		&e.SourceEntryID,
		&e.Points,
		&e.Type,
		&e.ExpiresAt,
		&e.Description,
		&e.CreatedAt,
	)
	return e, err
}

func (r *LoyaltyRepository) Entries(ctx context.Context, tx pgx.Tx, businessID, customerID string) ([]model.LoyaltyPointsEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM loyalty_points_entries
		WHERE business_id = $1 AND customer_id = $2
		ORDER BY created_at, seq
	`, businessID, customerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.LoyaltyPointsEntry, error) {
		return scanEntry(row)
	})
}

func (r *LoyaltyRepository) EarnedEntry(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.LoyaltyPointsEntry, error) {
	e, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM loyalty_points_entries
		WHERE business_id = $1 AND appointment_id = $2 AND type = 'earned'
	`, businessID, appointmentID))
	if err != nil {
		return model.LoyaltyPointsEntry{}, notFound(err, "earned entry", appointmentID)
	}
	return e, nil
}

// stampArg lets the ledger's clock date entries; a zero time falls back to
// the database clock.
func stampArg(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *LoyaltyRepository) InsertEntry(ctx context.Context, tx pgx.Tx, e model.LoyaltyPointsEntry) (model.LoyaltyPointsEntry, error) {
	return scanEntry(tx.QueryRow(ctx, `
		INSERT INTO loyalty_points_entries
			(id, business_id, customer_id, appointment_id, redemption_id, source_entry_id, points, type, expires_at, description, created_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, NULLIF($5, '')::uuid, NULLIF($6, '')::uuid, $7, $8, $9, $10,
			COALESCE($11::timestamptz, clock_timestamp()))
		RETURNING `+entryColumns,
		newID(), e.BusinessID, e.CustomerID, e.AppointmentID, e.RedemptionID, e.SourceEntryID,
		e.Points, e.Type, e.ExpiresAt, e.Description, stampArg(e.CreatedAt)))
}

func (r *LoyaltyRepository) RewardForUpdate(ctx context.Context, tx pgx.Tx, businessID, rewardID string) (model.LoyaltyReward, error) {
	if !validID(rewardID) {
		return model.LoyaltyReward{}, &model.NotFoundError{Kind: "reward", ID: rewardID}
	}
	var rw model.LoyaltyReward
	err := tx.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, points_required, quantity_available, is_active
		FROM loyalty_rewards
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, rewardID, businessID).Scan(&rw.ID, &rw.BusinessID, &rw.Name, &rw.PointsRequired, &rw.QuantityAvailable, &rw.IsActive)
	if err != nil {
		return model.LoyaltyReward{}, notFound(err, "reward", rewardID)
	}
	return rw, nil
}

func (r *LoyaltyRepository) DecrementReward(ctx context.Context, tx pgx.Tx, rewardID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE loyalty_rewards
		SET quantity_available = quantity_available - 1
		WHERE id = $1 AND quantity_available > 0
	`, rewardID)
	return err
}

const redemptionColumns = `id::text, business_id::text, customer_id::text, reward_id::text, points_used, status, created_at, updated_at`

func scanRedemption(row pgx.Row) (model.Redemption, error) {
	var red model.Redemption
	err := row.Scan(&red.ID, &red.BusinessID, &red.CustomerID, &red.RewardID, &red.PointsUsed, &red.Status, &red.CreatedAt, &red.UpdatedAt)
	return red, err
}

func (r *LoyaltyRepository) InsertRedemption(ctx context.Context, tx pgx.Tx, red model.Redemption) (model.Redemption, error) {
	return scanRedemption(tx.QueryRow(ctx, `
		INSERT INTO loyalty_redemptions (id, business_id, customer_id, reward_id, points_used, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+redemptionColumns,
		newID(), red.BusinessID, red.CustomerID, red.RewardID, red.PointsUsed, red.Status))
}

func (r *LoyaltyRepository) RedemptionForUpdate(ctx context.Context, tx pgx.Tx, businessID, redemptionID string) (model.Redemption, error) {
	if !validID(businessID) || !validID(redemptionID) {
		return model.Redemption{}, &model.NotFoundError{Kind: "redemption", ID: redemptionID}
	}
	red, err := scanRedemption(tx.QueryRow(ctx, `
		SELECT `+redemptionColumns+`
		FROM loyalty_redemptions
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, redemptionID, businessID))
	if err != nil {
		return model.Redemption{}, notFound(err, "redemption", redemptionID)
	}
	return red, nil
}

func (r *LoyaltyRepository) SetRedemptionStatus(ctx context.Context, tx pgx.Tx, redemptionID string, status model.RedemptionStatus) (model.Redemption, error) {
	red, err := scanRedemption(tx.QueryRow(ctx, `
		UPDATE loyalty_redemptions
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+redemptionColumns,
		redemptionID, status))
	if err != nil {
		return model.Redemption{}, notFound(err, "redemption", redemptionID)
	}
	return red, nil
}

// CustomersWithLapsedPoints finds customers holding an earned batch past its
// expiry that was never offset by an expired entry.
func (r *LoyaltyRepository) CustomersWithLapsedPoints(ctx context.Context, tx pgx.Tx, now time.Time) ([]loyalty.CustomerRef, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT e.business_id::text, e.customer_id::text
		FROM loyalty_points_entries e
		WHERE e.type = 'earned'
			AND e.expires_at IS NOT NULL
			AND e.expires_at <= $1
			AND NOT EXISTS (
				SELECT 1 FROM loyalty_points_entries x
				WHERE x.source_entry_id = e.id AND x.type IN ('expired', 'reversed')
			)
	`, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (loyalty.CustomerRef, error) {
		var ref loyalty.CustomerRef
		err := row.Scan(&ref.BusinessID, &ref.CustomerID)
		return ref, err
	})
}
