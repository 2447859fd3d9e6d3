package lifecycle

import "github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"

// allowed lists the forward moves. Same-status moves are handled as no-ops
// before this table is consulted; completed → cancelled is gated separately.
var allowed = map[model.AppointmentStatus][]model.AppointmentStatus{
	model.StatusScheduled: {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCompleted, model.StatusCancelled},
}

func canMove(from, to model.AppointmentStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Movable reports whether the appointment may still be rescheduled.
func Movable(s model.AppointmentStatus) bool {
	return s == model.StatusScheduled || s == model.StatusConfirmed
}
