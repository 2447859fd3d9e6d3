package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/goals"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// ErrMalformed marks messages that can never be applied. They are logged and
// their offsets committed so they do not block the partition.
var ErrMalformed = errors.New("malformed event")

// GoalTopics are the topics that move goals. Status changes matter only when
// a completed appointment is cancelled.
var GoalTopics = []string{outbox.AppointmentCompleted, outbox.CommissionPosted, outbox.AppointmentStatusChanged}

// GoalApplier is satisfied by *goals.Tracker.
type GoalApplier interface {
	Apply(ctx context.Context, tx pgx.Tx, e goals.Event) error
	Resync(ctx context.Context, tx pgx.Tx, businessID string, now time.Time) ([]model.Goal, error)
}

type completedPayload struct {
	BusinessID  string `json:"business_id"`
	AttendantID string `json:"attendant_id"`
	CustomerID  string `json:"customer_id"`
	Price       string `json:"price"`
	OccurredAt  string `json:"occurred_at"`
}

type statusPayload struct {
	BusinessID     string `json:"business_id"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
}

type postedPayload struct {
	BusinessID  string `json:"business_id"`
	AttendantID string `json:"attendant_id"`
	Amount      string `json:"amount"`
	PostedAt    string `json:"posted_at"`
}

// GoalHandler decodes completion and commission events into goal events and
// resyncs a business whose completed appointment was cancelled. Unknown
// topics are acknowledged and ignored.
func GoalHandler(tracker GoalApplier) Handler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		if msg.Topic == outbox.AppointmentStatusChanged {
			businessID, ok, err := DecodeWithdrawal(msg)
			if err != nil || !ok {
				return err
			}
			_, err = tracker.Resync(ctx, tx, businessID, time.Now())
			return err
		}
		e, ok, err := DecodeGoalEvent(msg)
		if err != nil || !ok {
			return err
		}
		return tracker.Apply(ctx, tx, e)
	}
}

func DecodeGoalEvent(msg kafka.Message) (goals.Event, bool, error) {
	switch msg.Topic {
	case outbox.AppointmentCompleted:
		var p completedPayload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			return goals.Event{}, false, fmt.Errorf("%w: decode %s: %v", ErrMalformed, msg.Topic, err)
		}
		return buildEvent(goals.AppointmentCompleted, p.BusinessID, p.AttendantID, p.CustomerID, p.OccurredAt, p.Price)
	case outbox.CommissionPosted:
		var p postedPayload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			return goals.Event{}, false, fmt.Errorf("%w: decode %s: %v", ErrMalformed, msg.Topic, err)
		}
		return buildEvent(goals.CommissionPosted, p.BusinessID, p.AttendantID, "", p.PostedAt, p.Amount)
	}
	return goals.Event{}, false, nil
}

// DecodeWithdrawal reports the business of a completed appointment that was
// cancelled, whose ledger contributions are gone.
func DecodeWithdrawal(msg kafka.Message) (string, bool, error) {
	var p statusPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return "", false, fmt.Errorf("%w: decode %s: %v", ErrMalformed, msg.Topic, err)
	}
	if p.PreviousStatus != string(model.StatusCompleted) || p.Status != string(model.StatusCancelled) {
		return "", false, nil
	}
	if p.BusinessID == "" {
		return "", false, fmt.Errorf("%w: %s: missing business_id", ErrMalformed, msg.Topic)
	}
	return p.BusinessID, true, nil
}

// buildEvent keeps the offset carried in the timestamp; goal windows compare
// the business-local date.
func buildEvent(kind goals.EventKind, businessID, attendantID, customerID, at, amount string) (goals.Event, bool, error) {
	occurred, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return goals.Event{}, false, fmt.Errorf("%w: %s: bad timestamp %q: %v", ErrMalformed, kind, at, err)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return goals.Event{}, false, fmt.Errorf("%w: %s: bad amount %q: %v", ErrMalformed, kind, amount, err)
	}
	return goals.Event{
		Kind:        kind,
		BusinessID:  businessID,
		AttendantID: attendantID,
		CustomerID:  customerID,
		OccurredAt:  occurred,
		Amount:      amt,
	}, true, nil
}
