package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type GoalType string

const (
	GoalRevenue      GoalType = "revenue"
	GoalAppointments GoalType = "appointments"
	GoalCustomers    GoalType = "customers"
	GoalCommission   GoalType = "commission"
)

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
)

// Goal tracks progress of a business (AttendantID empty) or one attendant.
// Current is a cache rebuilt from the ledgers on demand.
type Goal struct {
	ID          string
	BusinessID  string
	AttendantID string
	Type        GoalType
	Target      decimal.Decimal
	Current     decimal.Decimal
	StartDate   time.Time
	EndDate     time.Time
	Status      GoalStatus
}
