// Package commission resolves commission percentages and posts one immutable
// commission record per completed appointment.
package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/outbox"
	"github.com/shopspring/decimal"
)

type Store interface {
	ActiveRules(ctx context.Context, tx pgx.Tx, businessID string) ([]model.CommissionRule, error)
	// RecordByAppointment returns a *model.NotFoundError when no record exists.
	RecordByAppointment(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.CommissionRecord, error)
	InsertRecord(ctx context.Context, tx pgx.Tx, rec model.CommissionRecord) (model.CommissionRecord, error)
	SetRecordStatus(ctx context.Context, tx pgx.Tx, recordID string, status model.CommissionStatus, at time.Time) error
	ListRecords(ctx context.Context, tx pgx.Tx, f ReportFilter) ([]model.CommissionRecord, error)
}

type ReportFilter struct {
	BusinessID  string
	AttendantID string
	Status      model.CommissionStatus
	// From and To bound created_at as [From, To); zero values are open.
	From  time.Time
	To    time.Time
	Limit int
}

type Engine struct {
	store  Store
	runner db.TxRunner
	events outbox.Writer
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(store Store, runner db.TxRunner, events outbox.Writer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, runner: runner, events: events, logger: logger, now: time.Now}
}

type postedPayload struct {
	CommissionID  string `json:"commission_id"`
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	AttendantID   string `json:"attendant_id"`
	ServiceID     string `json:"service_id"`
	Amount        string `json:"amount"`
	Percentage    string `json:"percentage"`
	Specificity   string `json:"specificity"`
	// PostedAt carries the business's UTC offset so consumers date it locally.
	PostedAt string `json:"posted_at"`
}

// Post records the commission for a completed appointment inside tx. Posting
// twice for the same appointment returns the existing record and created=false.
// Appointments without an attendant accrue nothing.
func (e *Engine) Post(ctx context.Context, tx pgx.Tx, business model.Business, appt model.Appointment, service model.Service) (rec model.CommissionRecord, created bool, err error) {
	if appt.AttendantID == "" {
		return model.CommissionRecord{}, false, nil
	}
	if service.Price == nil {
		return model.CommissionRecord{}, false, &model.MissingPriceDataError{ServiceID: service.ID}
	}

	existing, err := e.store.RecordByAppointment(ctx, tx, appt.BusinessID, appt.ID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, model.ErrNotFound):
		return model.CommissionRecord{}, false, fmt.Errorf("load commission record: %w", err)
	}

	rules, err := e.store.ActiveRules(ctx, tx, appt.BusinessID)
	if err != nil {
		return model.CommissionRecord{}, false, fmt.Errorf("load commission rules: %w", err)
	}
	res := Resolve(rules, appt.ServiceID, appt.AttendantID, business.DefaultCommissionPercentage)

	rec, err = e.store.InsertRecord(ctx, tx, model.CommissionRecord{
		BusinessID:    appt.BusinessID,
		AttendantID:   appt.AttendantID,
		AppointmentID: appt.ID,
		ServiceID:     appt.ServiceID,
		ServicePrice:  *service.Price,
		Amount:        Amount(*service.Price, res.Percentage),
		Percentage:    res.Percentage,
		RuleID:        res.RuleID,
		Specificity:   res.Specificity.String(),
		Status:        model.CommissionPending,
	})
	if err != nil {
		return model.CommissionRecord{}, false, fmt.Errorf("insert commission record: %w", err)
	}

	posted := rec.CreatedAt
	if posted.IsZero() {
		posted = e.now()
	}
	err = outbox.Emit(ctx, e.events, tx, "commission", rec.ID, outbox.CommissionPosted, rec.BusinessID, postedPayload{
		CommissionID:  rec.ID,
		AppointmentID: rec.AppointmentID,
		BusinessID:    rec.BusinessID,
		AttendantID:   rec.AttendantID,
		ServiceID:     rec.ServiceID,
		Amount:        rec.Amount.StringFixed(2),
		Percentage:    rec.Percentage.String(),
		Specificity:   rec.Specificity,
		PostedAt:      posted.In(business.Location()).Format(time.RFC3339),
	})
	if err != nil {
		return model.CommissionRecord{}, false, err
	}
	e.logger.Info("commission posted",
		"appointment_id", rec.AppointmentID, "attendant_id", rec.AttendantID,
		"amount", rec.Amount.StringFixed(2), "specificity", rec.Specificity)
	return rec, true, nil
}

// Reverse cancels the pending record of an appointment inside tx. A missing or
// already cancelled record is a no-op; a paid record cannot be reversed.
func (e *Engine) Reverse(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.CommissionRecord, bool, error) {
	rec, err := e.store.RecordByAppointment(ctx, tx, businessID, appointmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.CommissionRecord{}, false, nil
		}
		return model.CommissionRecord{}, false, fmt.Errorf("load commission record: %w", err)
	}
	switch rec.Status {
	case model.CommissionCancelled:
		return rec, false, nil
	case model.CommissionPaid:
		return rec, false, model.Invalid("commission", "commission %s is already paid", rec.ID)
	}

	at := e.now().UTC()
	if err := e.store.SetRecordStatus(ctx, tx, rec.ID, model.CommissionCancelled, at); err != nil {
		return model.CommissionRecord{}, false, fmt.Errorf("cancel commission record: %w", err)
	}
	rec.Status = model.CommissionCancelled
	rec.CancelledAt = &at

	err = outbox.Emit(ctx, e.events, tx, "commission", rec.ID, outbox.CommissionReversed, rec.BusinessID, map[string]string{
		"commission_id":  rec.ID,
		"appointment_id": rec.AppointmentID,
		"attendant_id":   rec.AttendantID,
		"amount":         rec.Amount.StringFixed(2),
		"cancelled_at":   at.Format(time.RFC3339),
	})
	if err != nil {
		return model.CommissionRecord{}, false, err
	}
	return rec, true, nil
}

type Report struct {
	Records []model.CommissionRecord
	// Total sums non-cancelled amounts.
	Total decimal.Decimal
}

func (e *Engine) Report(ctx context.Context, f ReportFilter) (Report, error) {
	if f.BusinessID == "" {
		return Report{}, model.Invalid("business_id", "required")
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return Report{}, model.Invalid("end_date", "must be after start_date")
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 500
	}

	var out Report
	err := e.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		recs, err := e.store.ListRecords(ctx, tx, f)
		if err != nil {
			return err
		}
		out.Records = recs
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("list commission records: %w", err)
	}
	out.Total = decimal.Zero
	for _, r := range out.Records {
		if r.Status != model.CommissionCancelled {
			out.Total = out.Total.Add(r.Amount)
		}
	}
	return out, nil
}

// MarkPaid is the hook for the external payment reconciliation. Only pending
// records move to paid.
func (e *Engine) MarkPaid(ctx context.Context, recordID string) error {
	return e.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		return e.store.SetRecordStatus(ctx, tx, recordID, model.CommissionPaid, e.now().UTC())
	})
}
