package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionRule applies a percentage to appointments of a service, an
// attendant, or both. Empty ServiceID/AttendantID mean "any".
type CommissionRule struct {
	ID          string
	BusinessID  string
	ServiceID   string
	AttendantID string
	Percentage  decimal.Decimal
	IsActive    bool
}

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionPaid      CommissionStatus = "paid"
	CommissionCancelled CommissionStatus = "cancelled"
)

type CommissionRecord struct {
	ID            string
	BusinessID    string
	AttendantID   string
	AppointmentID string
	ServiceID     string
	ServicePrice  decimal.Decimal
	Amount        decimal.Decimal
	Percentage    decimal.Decimal
	RuleID        string
	Specificity   string
	Status        CommissionStatus
	CreatedAt     time.Time
	CancelledAt   *time.Time
}
