// Package conflict admits or rejects a proposed appointment interval for an
// attendant against the bookings already on that attendant's calendar.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

// Store reads the attendant calendar. ActiveAppointments returns the
// non-cancelled appointments of the attendant that intersect window.
type Store interface {
	LockAttendant(ctx context.Context, tx pgx.Tx, businessID, attendantID string) error
	ActiveAppointments(ctx context.Context, tx pgx.Tx, businessID, attendantID string, window model.Interval, excludeID string) ([]model.Appointment, error)
}

type Proposal struct {
	BusinessID  string
	AttendantID string
	Start       time.Time
	End         time.Time
	// ExcludeAppointmentID is skipped when checking, so an appointment can be
	// moved without conflicting with itself.
	ExcludeAppointmentID string
}

func (p Proposal) Interval() model.Interval {
	return model.Interval{Start: p.Start, End: p.End}
}

type Guard struct {
	store  Store
	runner db.TxRunner
	logger *slog.Logger
}

func NewGuard(store Store, runner db.TxRunner, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, runner: runner, logger: logger}
}

// Overlaps is the half-open overlap predicate shared with availability.
func Overlaps(a, b model.Interval) bool {
	return a.Overlaps(b)
}

// Admit must run inside the transaction that will insert or move the
// appointment. It serializes on the attendant before reading, so two
// admissions for the same attendant cannot both pass the check.
func (g *Guard) Admit(ctx context.Context, tx pgx.Tx, p Proposal) error {
	iv := p.Interval()
	if !iv.Valid() {
		return model.Invalid("end_time", "must be after start_time")
	}
	if p.AttendantID == "" {
		g.logger.Debug("conflict check skipped for unassigned appointment", "business_id", p.BusinessID)
		return nil
	}

	if err := g.store.LockAttendant(ctx, tx, p.BusinessID, p.AttendantID); err != nil {
		return fmt.Errorf("lock attendant calendar: %w", err)
	}
	existing, err := g.store.ActiveAppointments(ctx, tx, p.BusinessID, p.AttendantID, iv, p.ExcludeAppointmentID)
	if err != nil {
		return fmt.Errorf("load attendant calendar: %w", err)
	}

	var clashes []string
	for _, a := range existing {
		if a.ID == p.ExcludeAppointmentID || a.Status == model.StatusCancelled {
			continue
		}
		if Overlaps(a.Interval(), iv) {
			clashes = append(clashes, a.ID)
		}
	}
	if len(clashes) > 0 {
		return &model.ConflictError{
			AttendantID:     p.AttendantID,
			Start:           p.Start,
			End:             p.End,
			ConflictingWith: clashes,
		}
	}
	return nil
}

// BusyIntervals implements availability.BusyReader.
func (g *Guard) BusyIntervals(ctx context.Context, businessID, attendantID string, window model.Interval) ([]model.Interval, error) {
	var out []model.Interval
	err := g.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		appts, err := g.store.ActiveAppointments(ctx, tx, businessID, attendantID, window, "")
		if err != nil {
			return err
		}
		out = make([]model.Interval, 0, len(appts))
		for _, a := range appts {
			if a.Status != model.StatusCancelled {
				out = append(out, a.Interval())
			}
		}
		return nil
	})
	return out, err
}
