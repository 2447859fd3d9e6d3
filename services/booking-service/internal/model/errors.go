package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrConflict is returned when a proposed interval overlaps a booking of the same attendant.
	ErrConflict = errors.New("booking conflict")

	// ErrValidation is returned for unknown or foreign customers, services, rewards and bad input.
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for status moves the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInsufficientPoints is returned when the available balance cannot cover a debit.
	ErrInsufficientPoints = errors.New("insufficient loyalty points")

	// ErrMissingPriceData aborts a completion whose service has no price.
	ErrMissingPriceData = errors.New("missing service price data")
)

type ConflictError struct {
	AttendantID     string
	Start           time.Time
	End             time.Time
	ConflictingWith []string
}

func (e *ConflictError) Error() string {
	if len(e.ConflictingWith) == 0 {
		return fmt.Sprintf("attendant %s is already booked between %s and %s",
			e.AttendantID, e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("attendant %s is already booked between %s and %s (appointments: %s)",
		e.AttendantID, e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339),
		strings.Join(e.ConflictingWith, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type InvalidTransitionError struct {
	AppointmentID string
	From          AppointmentStatus
	To            AppointmentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("appointment %s cannot move from %s to %s", e.AppointmentID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type InsufficientPointsError struct {
	CustomerID string
	Available  int64
	Required   int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("customer %s has %d points available, %d required", e.CustomerID, e.Available, e.Required)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

type MissingPriceDataError struct {
	ServiceID string
}

func (e *MissingPriceDataError) Error() string {
	return fmt.Sprintf("service %s has no price", e.ServiceID)
}

func (e *MissingPriceDataError) Unwrap() error { return ErrMissingPriceData }

// IsClientError reports business-rule rejections, as opposed to system failures.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInsufficientPoints)
}

// HTTPStatus maps the taxonomy onto response codes. Missing price data is an
// operator-facing configuration problem and surfaces as 422.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInsufficientPoints):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrMissingPriceData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
