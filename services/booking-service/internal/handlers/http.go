package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/md-rashed-zaman/apptledger/libs/httpx"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/commission"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/loyalty"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

type Appointments interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (model.Appointment, bool, error)
	Reschedule(ctx context.Context, businessID, appointmentID string, start time.Time) (model.Appointment, error)
	Transition(ctx context.Context, businessID, appointmentID string, to model.AppointmentStatus) (model.Appointment, error)
	Get(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)
	List(ctx context.Context, f lifecycle.ListFilter) ([]model.Appointment, error)
}

type Slots interface {
	Slots(ctx context.Context, q availability.Query) ([]availability.Slot, error)
}

type Commissions interface {
	Report(ctx context.Context, f commission.ReportFilter) (commission.Report, error)
}

type Loyalty interface {
	Redeem(ctx context.Context, businessID, customerID, rewardID string) (model.Redemption, error)
	UpdateRedemptionStatus(ctx context.Context, businessID, redemptionID string, to model.RedemptionStatus) (model.Redemption, error)
	Statement(ctx context.Context, businessID, customerID string) (loyalty.Statement, error)
	GrantBonus(ctx context.Context, businessID, customerID string, points int64, description string) (model.LoyaltyPointsEntry, error)
}

type Goals interface {
	List(ctx context.Context, businessID string) ([]model.Goal, error)
	Rebuild(ctx context.Context, businessID string, now time.Time) ([]model.Goal, error)
}

type Deps struct {
	Appointments Appointments
	Slots        Slots
	Commissions  Commissions
	Loyalty      Loyalty
	Goals        Goals
	Logger       *slog.Logger
	Now          func() time.Time
}

type Handler struct {
	Deps
}

// NewRouter mounts the booking API. corsOrigins empty disables CORS headers.
func NewRouter(deps Deps, corsOrigins []string) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &Handler{Deps: deps}

	r := chi.NewRouter()
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Idempotency-Key", httpx.RequestIDHeader, httpx.BusinessIDHeader},
			ExposedHeaders:   []string{httpx.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/public/slots", h.Slots)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.CreateAppointment)
			r.Get("/", h.ListAppointments)
			r.Get("/{id}", h.GetAppointment)
			r.Post("/{id}/status", h.UpdateAppointmentStatus)
			r.Post("/{id}/reschedule", h.RescheduleAppointment)
		})

		r.Get("/commissions", h.CommissionReport)

		r.Route("/loyalty", func(r chi.Router) {
			r.Post("/redemptions", h.RedeemReward)
			r.Post("/redemptions/{id}/status", h.UpdateRedemptionStatus)
			r.Get("/customers/{customer_id}/balance", h.LoyaltyBalance)
			r.Post("/customers/{customer_id}/bonus", h.GrantBonus)
		})

		r.Get("/goals", h.ListGoals)
		r.Post("/goals/rebuild", h.RebuildGoals)
	})
	return r
}

// businessID resolves the tenant: the gateway header wins over the query
// parameter, which wins over fallback (usually a body field).
func businessID(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get(httpx.BusinessIDHeader)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("business_id")); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type errorResponse struct {
	Error           string   `json:"error"`
	Message         string   `json:"message"`
	Field           string   `json:"field,omitempty"`
	ConflictingWith []string `json:"conflicting_with,omitempty"`
	Available       *int64   `json:"available,omitempty"`
	Required        *int64   `json:"required,omitempty"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrValidation):
		return "validation_failed"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, model.ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, model.ErrMissingPriceData):
		return "missing_price_data"
	}
	return "internal"
}

// writeError maps domain errors to status codes. System failures are logged
// and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := model.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "err", err, "path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()))
		writeJSON(w, status, errorResponse{Error: "internal", Message: "internal error"})
		return
	}

	resp := errorResponse{Error: errorCode(err), Message: err.Error()}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	var ce *model.ConflictError
	if errors.As(err, &ce) {
		resp.ConflictingWith = ce.ConflictingWith
	}
	var ip *model.InsufficientPointsError
	if errors.As(err, &ip) {
		resp.Available = &ip.Available
		resp.Required = &ip.Required
	}
	writeJSON(w, status, resp)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
