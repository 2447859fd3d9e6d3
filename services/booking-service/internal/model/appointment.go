package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func ParseAppointmentStatus(s string) (AppointmentStatus, bool) {
	switch st := AppointmentStatus(s); st {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

// Appointment reserves [StartTime, EndTime) of an attendant for a customer.
// AttendantID is empty for unassigned bookings. CompletedPrice freezes the
// service price at completion so revenue replays ignore later catalog edits.
type Appointment struct {
	ID             string
	BusinessID     string
	CustomerID     string
	ServiceID      string
	AttendantID    string
	StartTime      time.Time
	EndTime        time.Time
	Status         AppointmentStatus
	Notes          string
	CompletedAt    *time.Time
	CompletedPrice *decimal.Decimal
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals share any instant.
// Back-to-back intervals (a.End == b.Start) do not overlap.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func (a Interval) Valid() bool {
	return !a.Start.IsZero() && a.End.After(a.Start)
}
