package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Topic names. The Kafka topic equals the event type.
const (
	AppointmentBooked        = "booking.appointment.booked.v1"
	AppointmentRescheduled   = "booking.appointment.rescheduled.v1"
	AppointmentStatusChanged = "booking.appointment.status_changed.v1"
	AppointmentCompleted     = "booking.appointment.completed.v1"
	CommissionPosted         = "ledger.commission.posted.v1"
	CommissionReversed       = "ledger.commission.reversed.v1"
	LoyaltyEarned            = "ledger.loyalty.earned.v1"
	LoyaltyRedeemed          = "ledger.loyalty.redeemed.v1"
	LoyaltyExpired           = "ledger.loyalty.expired.v1"
	LoyaltyReversed          = "ledger.loyalty.reversed.v1"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	BusinessID    string
	Payload       []byte
}

// Writer persists events inside the caller's transaction.
type Writer interface {
	Insert(ctx context.Context, tx pgx.Tx, evt Event) error
}

// NewEvent marshals payload as JSON into an event envelope.
func NewEvent(aggregateType, aggregateID, eventType, businessID string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		BusinessID:    businessID,
		Payload:       body,
	}, nil
}

// Emit builds and writes an event in one step.
func Emit(ctx context.Context, w Writer, tx pgx.Tx, aggregateType, aggregateID, eventType, businessID string, payload any) error {
	evt, err := NewEvent(aggregateType, aggregateID, eventType, businessID, payload)
	if err != nil {
		return err
	}
	if err := w.Insert(ctx, tx, evt); err != nil {
		return fmt.Errorf("write %s event: %w", eventType, err)
	}
	return nil
}
