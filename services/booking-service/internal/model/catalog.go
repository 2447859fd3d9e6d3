package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Business carries the settings this core reads from the business collaborator.
type Business struct {
	ID                          string
	Timezone                    string
	DefaultCommissionPercentage decimal.Decimal
	// SlotStepMinutes overrides the slot granularity; 0 means "service duration".
	SlotStepMinutes int
}

func (b Business) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Service is a catalog entry. Price is nil when the business never set one.
type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	Price           *decimal.Decimal
	IsActive        bool
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// MinuteRange is a [Start, End) range in minutes after local midnight.
type MinuteRange struct {
	Start int
	End   int
}

type OperatingHours struct {
	Weekday     time.Weekday
	IsOpen      bool
	OpenMinute  int
	CloseMinute int
	Breaks      []MinuteRange
}

// SpecialDay replaces the weekday rule for one calendar date.
type SpecialDay struct {
	Date        string // YYYY-MM-DD in business local time
	IsClosed    bool
	OpenMinute  int
	CloseMinute int
	Breaks      []MinuteRange
}

// ParsePrice parses a catalog price; nil means the price is missing.
func ParsePrice(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
