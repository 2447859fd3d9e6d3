// Package lifecycle owns appointment state. Every mutation of an appointment
// goes through it, and completion posts the commission and loyalty ledgers in
// the same transaction as the status change.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/commission"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/goals"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/loyalty"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/outbox"
)

// GoalSink receives goal events inside the completion transaction and resyncs
// progress when a completed appointment is cancelled. It is nil
// when goal progress is driven by the Kafka consumer instead.
type GoalSink interface {
	Apply(ctx context.Context, tx pgx.Tx, e goals.Event) error
	Resync(ctx context.Context, tx pgx.Tx, businessID string, now time.Time) ([]model.Goal, error)
}

type Config struct {
	AllowCancelAfterCompletion bool
}

type Deps struct {
	Runner      db.TxRunner
	Store       Store
	Catalog     availability.CatalogReader
	Calendar    *availability.Resolver
	Guard       *conflict.Guard
	Commissions *commission.Engine
	Loyalty     *loyalty.Ledger
	Goals       GoalSink
	Events      outbox.Writer
	Logger      *slog.Logger
	Now         func() time.Time
}

type Lifecycle struct {
	Deps
	cfg Config
}

func New(deps Deps, cfg Config) *Lifecycle {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Lifecycle{Deps: deps, cfg: cfg}
}

type CreateRequest struct {
	BusinessID     string
	CustomerID     string
	ServiceID      string
	AttendantID    string
	Start          time.Time
	Notes          string
	IdempotencyKey string
}

// Create books an appointment. The end time is derived from the service
// duration. A retried request with the same idempotency key returns the
// appointment created the first time and replayed=true.
func (l *Lifecycle) Create(ctx context.Context, req CreateRequest) (appt model.Appointment, replayed bool, err error) {
	if req.BusinessID == "" {
		return model.Appointment{}, false, model.Invalid("business_id", "required")
	}
	if req.CustomerID == "" {
		return model.Appointment{}, false, model.Invalid("customer_id", "required")
	}
	if req.Start.IsZero() {
		return model.Appointment{}, false, model.Invalid("start_time", "required")
	}

	business, service, err := l.catalog(ctx, req.BusinessID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, false, err
	}
	if !service.IsActive {
		return model.Appointment{}, false, model.Invalid("service_id", "service %s is not active", service.ID)
	}
	if service.DurationMinutes <= 0 {
		return model.Appointment{}, false, model.Invalid("service_id", "service %s has no duration", service.ID)
	}
	iv := model.Interval{Start: req.Start, End: req.Start.Add(service.Duration())}

	fits, err := l.Calendar.Fits(ctx, business, iv)
	if err != nil {
		return model.Appointment{}, false, err
	}
	if !fits {
		return model.Appointment{}, false, model.Invalid("start_time", "requested time is outside business hours")
	}

	err = l.Runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		replayed = false
		if req.IdempotencyKey != "" {
			prior, err := l.Store.LockIdempotencyKey(ctx, tx, req.BusinessID, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if prior != "" {
				appt, err = l.Store.Appointment(ctx, tx, req.BusinessID, prior)
				if err != nil {
					return fmt.Errorf("load idempotent appointment: %w", err)
				}
				replayed = true
				return nil
			}
		}

		ok, err := l.Store.CustomerExists(ctx, tx, req.BusinessID, req.CustomerID)
		if err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		if !ok {
			return model.Invalid("customer_id", "unknown customer %s", req.CustomerID)
		}

		if err := l.Guard.Admit(ctx, tx, conflict.Proposal{
			BusinessID:  req.BusinessID,
			AttendantID: req.AttendantID,
			Start:       iv.Start,
			End:         iv.End,
		}); err != nil {
			return err
		}

		appt, err = l.Store.InsertAppointment(ctx, tx, model.Appointment{
			BusinessID:  req.BusinessID,
			CustomerID:  req.CustomerID,
			ServiceID:   service.ID,
			AttendantID: req.AttendantID,
			StartTime:   iv.Start,
			EndTime:     iv.End,
			Status:      model.StatusScheduled,
			Notes:       req.Notes,
		})
		if err != nil {
			return err
		}
		if err := l.emit(ctx, tx, outbox.AppointmentBooked, appt, nil); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := l.Store.FinalizeIdempotency(ctx, tx, req.BusinessID, req.IdempotencyKey, appt.ID); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	if !replayed {
		l.Logger.Info("appointment booked", "appointment_id", appt.ID, "business_id", appt.BusinessID,
			"attendant_id", appt.AttendantID, "start_time", appt.StartTime.UTC().Format(time.RFC3339))
	}
	return appt, replayed, nil
}

// Reschedule moves a scheduled or confirmed appointment to a new start time,
// keeping its duration from the service catalog.
func (l *Lifecycle) Reschedule(ctx context.Context, businessID, appointmentID string, start time.Time) (model.Appointment, error) {
	if start.IsZero() {
		return model.Appointment{}, model.Invalid("start_time", "required")
	}

	var out model.Appointment
	err := l.Runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		appt, err := l.Store.AppointmentForUpdate(ctx, tx, businessID, appointmentID)
		if err != nil {
			return err
		}
		if !Movable(appt.Status) {
			return &model.InvalidTransitionError{AppointmentID: appt.ID, From: appt.Status, To: appt.Status}
		}
		business, service, err := l.catalog(ctx, businessID, appt.ServiceID)
		if err != nil {
			return err
		}
		iv := model.Interval{Start: start, End: start.Add(service.Duration())}
		if iv.Start.Equal(appt.StartTime) && iv.End.Equal(appt.EndTime) {
			out = appt
			return nil
		}

		fits, err := l.Calendar.Fits(ctx, business, iv)
		if err != nil {
			return err
		}
		if !fits {
			return model.Invalid("start_time", "requested time is outside business hours")
		}
		if err := l.Guard.Admit(ctx, tx, conflict.Proposal{
			BusinessID:           businessID,
			AttendantID:          appt.AttendantID,
			Start:                iv.Start,
			End:                  iv.End,
			ExcludeAppointmentID: appt.ID,
		}); err != nil {
			return err
		}

		previous := appt.StartTime
		out, err = l.Store.MoveAppointment(ctx, tx, businessID, appt.ID, iv.Start, iv.End)
		if err != nil {
			return err
		}
		return l.emit(ctx, tx, outbox.AppointmentRescheduled, out, map[string]any{
			"previous_start_time": previous.UTC().Format(time.RFC3339),
		})
	})
	return out, err
}

// Transition moves an appointment to status to. Moving to the current status
// is a no-op that returns the stored appointment.
func (l *Lifecycle) Transition(ctx context.Context, businessID, appointmentID string, to model.AppointmentStatus) (model.Appointment, error) {
	if _, ok := model.ParseAppointmentStatus(string(to)); !ok {
		return model.Appointment{}, model.Invalid("status", "unknown status %q", to)
	}

	var out model.Appointment
	err := l.Runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		appt, err := l.Store.AppointmentForUpdate(ctx, tx, businessID, appointmentID)
		if err != nil {
			return err
		}
		from := appt.Status
		if from == to {
			out = appt
			return nil
		}

		now := l.Now().UTC()
		var extra map[string]any
		switch {
		case from == model.StatusCompleted && to == model.StatusCancelled:
			if !l.cfg.AllowCancelAfterCompletion {
				return &model.InvalidTransitionError{AppointmentID: appt.ID, From: from, To: to}
			}
			if extra, err = l.reverseLedgers(ctx, tx, appt); err != nil {
				return err
			}
			appt.CancelledAt = &now
		case !canMove(from, to):
			return &model.InvalidTransitionError{AppointmentID: appt.ID, From: from, To: to}
		case to == model.StatusCompleted:
			if extra, err = l.postLedgers(ctx, tx, &appt, now); err != nil {
				return err
			}
			appt.CompletedAt = &now
		case to == model.StatusCancelled:
			appt.CancelledAt = &now
		}

		appt.Status = to
		out, err = l.Store.SaveStatus(ctx, tx, appt)
		if err != nil {
			return fmt.Errorf("save appointment status: %w", err)
		}
		if from == model.StatusCompleted && l.Goals != nil {
			if _, err := l.Goals.Resync(ctx, tx, appt.BusinessID, now); err != nil {
				return fmt.Errorf("resync goal progress: %w", err)
			}
		}
		if extra == nil {
			extra = map[string]any{}
		}
		extra["previous_status"] = string(from)
		if err := l.emit(ctx, tx, outbox.AppointmentStatusChanged, out, extra); err != nil {
			return err
		}
		if to == model.StatusCompleted {
			return l.emit(ctx, tx, outbox.AppointmentCompleted, out, extra)
		}
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

// postLedgers runs the completion postings and freezes the price on appt.
// Any error aborts the caller's transaction, so neither ledger is written
// without the other.
func (l *Lifecycle) postLedgers(ctx context.Context, tx pgx.Tx, appt *model.Appointment, now time.Time) (map[string]any, error) {
	business, service, err := l.catalog(ctx, appt.BusinessID, appt.ServiceID)
	if err != nil {
		return nil, err
	}
	if service.Price == nil {
		return nil, &model.MissingPriceDataError{ServiceID: service.ID}
	}
	price := *service.Price
	appt.CompletedPrice = &price

	rec, posted, err := l.Commissions.Post(ctx, tx, business, *appt, service)
	if err != nil {
		return nil, err
	}
	entry, earned, err := l.Loyalty.Earn(ctx, tx, *appt, service)
	if err != nil {
		return nil, err
	}

	occurred := now.In(business.Location())
	extra := map[string]any{
		"customer_id": appt.CustomerID,
		"price":       service.Price.StringFixed(2),
		"occurred_at": occurred.Format(time.RFC3339),
	}
	if posted {
		extra["commission_id"] = rec.ID
		extra["commission_amount"] = rec.Amount.StringFixed(2)
	}
	if earned {
		extra["points_earned"] = entry.Points
	}

	if l.Goals != nil {
		if err := l.Goals.Apply(ctx, tx, goals.Event{
			Kind:        goals.AppointmentCompleted,
			BusinessID:  appt.BusinessID,
			AttendantID: appt.AttendantID,
			CustomerID:  appt.CustomerID,
			OccurredAt:  occurred,
			Amount:      *service.Price,
		}); err != nil {
			return nil, fmt.Errorf("apply goal progress: %w", err)
		}
		if posted {
			if err := l.Goals.Apply(ctx, tx, goals.Event{
				Kind:        goals.CommissionPosted,
				BusinessID:  appt.BusinessID,
				AttendantID: appt.AttendantID,
				OccurredAt:  occurred,
				Amount:      rec.Amount,
			}); err != nil {
				return nil, fmt.Errorf("apply goal progress: %w", err)
			}
		}
	}
	return extra, nil
}

func (l *Lifecycle) reverseLedgers(ctx context.Context, tx pgx.Tx, appt model.Appointment) (map[string]any, error) {
	rec, reversed, err := l.Commissions.Reverse(ctx, tx, appt.BusinessID, appt.ID)
	if err != nil {
		return nil, err
	}
	entry, offset, err := l.Loyalty.ReverseEarn(ctx, tx, appt.BusinessID, appt.ID)
	if err != nil {
		return nil, err
	}
	extra := map[string]any{}
	if reversed {
		extra["commission_id"] = rec.ID
	}
	if offset {
		extra["points_reversed"] = -entry.Points
	}
	l.Logger.Warn("completed appointment cancelled; ledgers reversed",
		"appointment_id", appt.ID, "commission_reversed", reversed, "points_reversed", offset)
	return extra, nil
}

func (l *Lifecycle) Get(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	var out model.Appointment
	err := l.Runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		var err error
		out, err = l.Store.Appointment(ctx, tx, businessID, appointmentID)
		return err
	})
	return out, err
}

func (l *Lifecycle) List(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	if f.BusinessID == "" {
		return nil, model.Invalid("business_id", "required")
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var out []model.Appointment
	err := l.Runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		var err error
		out, err = l.Store.ListAppointments(ctx, tx, f)
		return err
	})
	return out, err
}

func (l *Lifecycle) catalog(ctx context.Context, businessID, serviceID string) (model.Business, model.Service, error) {
	business, err := l.Catalog.Business(ctx, businessID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Business{}, model.Service{}, model.Invalid("business_id", "unknown business %s", businessID)
		}
		return model.Business{}, model.Service{}, fmt.Errorf("load business: %w", err)
	}
	service, err := l.Catalog.Service(ctx, businessID, serviceID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Business{}, model.Service{}, model.Invalid("service_id", "unknown service %s", serviceID)
		}
		return model.Business{}, model.Service{}, fmt.Errorf("load service: %w", err)
	}
	if service.BusinessID != "" && service.BusinessID != businessID {
		return model.Business{}, model.Service{}, model.Invalid("service_id", "service %s belongs to another business", serviceID)
	}
	return business, service, nil
}

func (l *Lifecycle) emit(ctx context.Context, tx pgx.Tx, eventType string, a model.Appointment, extra map[string]any) error {
	payload := map[string]any{
		"appointment_id": a.ID,
		"business_id":    a.BusinessID,
		"customer_id":    a.CustomerID,
		"service_id":     a.ServiceID,
		"attendant_id":   a.AttendantID,
		"start_time":     a.StartTime.UTC().Format(time.RFC3339),
		"end_time":       a.EndTime.UTC().Format(time.RFC3339),
		"status":         string(a.Status),
	}
	if a.CompletedAt != nil {
		payload["completed_at"] = a.CompletedAt.UTC().Format(time.RFC3339)
	}
	if a.CancelledAt != nil {
		payload["cancelled_at"] = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	for k, v := range extra {
		payload[k] = v
	}
	return outbox.Emit(ctx, l.Events, tx, "appointment", a.ID, eventType, a.BusinessID, payload)
}
