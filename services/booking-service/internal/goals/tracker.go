// Package goals maintains the progress cache of business and attendant goals.
// Progress is advanced incrementally from ledger events and can always be
// rebuilt from the ledgers.
package goals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	AppointmentCompleted EventKind = "appointment_completed"
	CommissionPosted     EventKind = "commission_posted"
)

// Event is a ledger fact that may advance goals. Amount is the service price
// for completions and the commission amount for postings. OccurredAt is
// compared by its calendar date in its own location.
type Event struct {
	Kind        EventKind
	BusinessID  string
	AttendantID string
	CustomerID  string
	OccurredAt  time.Time
	Amount      decimal.Decimal
}

type Store interface {
	// ActiveGoalsForUpdate locks and returns the active goals of a business.
	ActiveGoalsForUpdate(ctx context.Context, tx pgx.Tx, businessID string) ([]model.Goal, error)
	Goals(ctx context.Context, tx pgx.Tx, businessID string) ([]model.Goal, error)
	SaveProgress(ctx context.Context, tx pgx.Tx, goalID string, current decimal.Decimal, status model.GoalStatus) error
	// FailOverdue flips active goals that missed their target and ended
	// before now's date in their business's timezone, returning how many
	// changed.
	FailOverdue(ctx context.Context, tx pgx.Tx, now time.Time) (int, error)
	// BusinessLocation is the timezone goal windows of a business are dated in.
	BusinessLocation(ctx context.Context, tx pgx.Tx, businessID string) (*time.Location, error)
	// History lists completion and commission events of a business whose
	// date falls in [from, to].
	History(ctx context.Context, tx pgx.Tx, businessID string, from, to time.Time) ([]Event, error)
}

type Tracker struct {
	store  Store
	runner db.TxRunner
	logger *slog.Logger
}

func NewTracker(store Store, runner db.TxRunner, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, runner: runner, logger: logger}
}

var one = decimal.NewFromInt(1)

// Contribution is how much e advances g, and whether it applies at all.
func Contribution(g model.Goal, e Event) (decimal.Decimal, bool) {
	if g.BusinessID != e.BusinessID {
		return decimal.Zero, false
	}
	if g.AttendantID != "" && g.AttendantID != e.AttendantID {
		return decimal.Zero, false
	}
	if !withinWindow(g, e.OccurredAt) {
		return decimal.Zero, false
	}
	switch e.Kind {
	case AppointmentCompleted:
		switch g.Type {
		case model.GoalRevenue:
			return e.Amount, true
		case model.GoalAppointments, model.GoalCustomers:
			return one, true
		}
	case CommissionPosted:
		if g.Type == model.GoalCommission {
			return e.Amount, true
		}
	}
	return decimal.Zero, false
}

func withinWindow(g model.Goal, t time.Time) bool {
	d := dateOf(t)
	return !d.Before(dateOf(g.StartDate)) && !d.After(dateOf(g.EndDate))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Apply advances every matching active goal inside tx and completes those
// that reach their target.
func (t *Tracker) Apply(ctx context.Context, tx pgx.Tx, e Event) error {
	active, err := t.store.ActiveGoalsForUpdate(ctx, tx, e.BusinessID)
	if err != nil {
		return fmt.Errorf("load active goals: %w", err)
	}
	for _, g := range active {
		delta, ok := Contribution(g, e)
		if !ok {
			continue
		}
		current := g.Current.Add(delta)
		status := model.GoalActive
		if current.GreaterThanOrEqual(g.Target) {
			status = model.GoalCompleted
		}
		if err := t.store.SaveProgress(ctx, tx, g.ID, current, status); err != nil {
			return fmt.Errorf("save goal %s progress: %w", g.ID, err)
		}
		if status == model.GoalCompleted {
			t.logger.Info("goal completed", "goal_id", g.ID, "business_id", g.BusinessID, "type", g.Type)
		}
	}
	return nil
}

// ApplyEvent runs Apply in its own transaction.
func (t *Tracker) ApplyEvent(ctx context.Context, e Event) error {
	return t.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		return t.Apply(ctx, tx, e)
	})
}

// FailExpired marks goals whose window ended before now's business-local
// date without reaching the target.
func (t *Tracker) FailExpired(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := t.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		var err error
		n, err = t.store.FailOverdue(ctx, tx, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fail overdue goals: %w", err)
	}
	if n > 0 {
		t.logger.Info("goals failed", "count", n)
	}
	return n, nil
}

// Rebuild recomputes current and status of every goal of a business from
// ledger history, discarding the incremental cache.
func (t *Tracker) Rebuild(ctx context.Context, businessID string, now time.Time) ([]model.Goal, error) {
	var out []model.Goal
	err := t.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		var err error
		out, err = t.Resync(ctx, tx, businessID, now)
		return err
	})
	return out, err
}

// Resync is Rebuild inside the caller's transaction. Cancelling a completed
// appointment calls it after the ledgers are reversed so the cache drops the
// withdrawn contributions.
func (t *Tracker) Resync(ctx context.Context, tx pgx.Tx, businessID string, now time.Time) ([]model.Goal, error) {
	all, err := t.store.Goals(ctx, tx, businessID)
	if err != nil {
		return nil, fmt.Errorf("load goals: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	from, to := all[0].StartDate, all[0].EndDate
	for _, g := range all[1:] {
		if g.StartDate.Before(from) {
			from = g.StartDate
		}
		if g.EndDate.After(to) {
			to = g.EndDate
		}
	}
	history, err := t.store.History(ctx, tx, businessID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load ledger history: %w", err)
	}
	loc, err := t.store.BusinessLocation(ctx, tx, businessID)
	if err != nil {
		return nil, fmt.Errorf("load business timezone: %w", err)
	}

	today := dateOf(now.In(loc))
	out := make([]model.Goal, 0, len(all))
	for _, g := range all {
		g.Current = decimal.Zero
		for _, e := range history {
			if delta, ok := Contribution(g, e); ok {
				g.Current = g.Current.Add(delta)
			}
		}
		g.Status = statusFor(g, today)
		if err := t.store.SaveProgress(ctx, tx, g.ID, g.Current, g.Status); err != nil {
			return nil, fmt.Errorf("save goal %s progress: %w", g.ID, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func statusFor(g model.Goal, today time.Time) model.GoalStatus {
	switch {
	case g.Current.GreaterThanOrEqual(g.Target):
		return model.GoalCompleted
	case dateOf(g.EndDate).Before(today):
		return model.GoalFailed
	default:
		return model.GoalActive
	}
}

func (t *Tracker) List(ctx context.Context, businessID string) ([]model.Goal, error) {
	var out []model.Goal
	err := t.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		var err error
		out, err = t.store.Goals(ctx, tx, businessID)
		return err
	})
	return out, err
}
