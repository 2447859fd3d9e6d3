package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/goals"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type GoalRepository struct{}

func NewGoalRepository() *GoalRepository {
	return &GoalRepository{}
}

const goalColumns = `id::text, business_id::text, COALESCE(attendant_id::text, ''), type, target::text, current::text,
	start_date, end_date, status`

func scanGoal(row pgx.Row) (model.Goal, error) {
	var g model.Goal
	var target, current string
	if err := row.Scan(&g.ID, &g.BusinessID, &g.AttendantID, &g.Type, &target, &current, &g.StartDate, &g.EndDate, &g.Status); err != nil {
		return model.Goal{}, err
	}
	var err error
	if g.Target, err = decimal.NewFromString(target); err != nil {
		return model.Goal{}, err
	}
	if g.Current, err = decimal.NewFromString(current); err != nil {
		return model.Goal{}, err
	}
	return g, nil
}

func collectGoals(rows pgx.Rows, err error) ([]model.Goal, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Goal, error) {
		return scanGoal(row)
	})
}

func (r *GoalRepository) ActiveGoalsForUpdate(ctx context.Context, tx pgx.Tx, businessID string) ([]model.Goal, error) {
	if !validID(businessID) {
		return nil, nil
	}
	return collectGoals(tx.Query(ctx, `
		SELECT `+goalColumns+`
		FROM goals
		WHERE business_id = $1 AND status = 'active'
		ORDER BY id
		FOR UPDATE
	`, businessID))
}

func (r *GoalRepository) Goals(ctx context.Context, tx pgx.Tx, businessID string) ([]model.Goal, error) {
	if !validID(businessID) {
		return nil, nil
	}
	return collectGoals(tx.Query(ctx, `
		SELECT `+goalColumns+`
		FROM goals
		WHERE business_id = $1
		ORDER BY start_date, id
		FOR UPDATE
	`, businessID))
}

func (r *GoalRepository) SaveProgress(ctx context.Context, tx pgx.Tx, goalID string, current decimal.Decimal, status model.GoalStatus) error {
	_, err := tx.Exec(ctx, `
		UPDATE goals SET current = $2::numeric, status = $3 WHERE id = $1
	`, goalID, current.String(), status)
	return err
}

func (r *GoalRepository) FailOverdue(ctx context.Context, tx pgx.Tx, now time.Time) (int, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE goals g
		SET status = 'failed'
		FROM businesses b
		WHERE b.id = g.business_id
			AND g.status = 'active'
			AND g.current < g.target
			AND g.end_date < ($1::timestamptz AT TIME ZONE b.timezone)::date
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *GoalRepository) BusinessLocation(ctx context.Context, tx pgx.Tx, businessID string) (*time.Location, error) {
	if !validID(businessID) {
		return time.UTC, nil
	}
	var b model.Business
	err := tx.QueryRow(ctx, `SELECT timezone FROM businesses WHERE id = $1`, businessID).Scan(&b.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.UTC, nil
	}
	if err != nil {
		return nil, err
	}
	return b.Location(), nil
}

// History replays the ledgers as goal events. Completions come from
// appointments still completed, priced as they were at completion;
// commissions from records not cancelled. OccurredAt carries the wall clock
// of the business's timezone.
func (r *GoalRepository) History(ctx context.Context, tx pgx.Tx, businessID string, from, to time.Time) ([]goals.Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT $4::text, COALESCE(a.attendant_id::text, ''), a.customer_id::text,
			a.completed_at AT TIME ZONE b.timezone, a.completed_price::text
		FROM appointments a
		JOIN businesses b ON b.id = a.business_id
		WHERE a.business_id = $1
			AND a.status = 'completed'
			AND a.completed_price IS NOT NULL
			AND (a.completed_at AT TIME ZONE b.timezone)::date BETWEEN $2::date AND $3::date
		UNION ALL
		SELECT $5::text, c.attendant_id::text, '',
			c.created_at AT TIME ZONE b.timezone, c.amount::text
		FROM commission_records c
		JOIN businesses b ON b.id = c.business_id
		WHERE c.business_id = $1
			AND c.status <> 'cancelled'
			AND (c.created_at AT TIME ZONE b.timezone)::date BETWEEN $2::date AND $3::date
	`, businessID, from.Format("2006-01-02"), to.Format("2006-01-02"),
		string(goals.AppointmentCompleted), string(goals.CommissionPosted))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (goals.Event, error) {
		e := goals.Event{BusinessID: businessID}
		var kind, amount string
		if err := row.Scan(&kind, &e.AttendantID, &e.CustomerID, &e.OccurredAt, &amount); err != nil {
			return goals.Event{}, err
		}
		e.Kind = goals.EventKind(kind)
		var err error
		e.Amount, err = decimal.NewFromString(amount)
		return e, err
	})
}
