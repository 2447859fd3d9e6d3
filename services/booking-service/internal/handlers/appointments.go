package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	CustomerID    string `json:"customer_id"`
	ServiceID     string `json:"service_id"`
	AttendantID   string `json:"attendant_id,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
	Price         string `json:"completed_price,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID: a.ID,
		BusinessID:    a.BusinessID,
		CustomerID:    a.CustomerID,
		ServiceID:     a.ServiceID,
		AttendantID:   a.AttendantID,
		StartTime:     a.StartTime.UTC().Format(time.RFC3339),
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
		Status:        string(a.Status),
		Notes:         a.Notes,
		CompletedAt:   formatTime(a.CompletedAt),
		CancelledAt:   formatTime(a.CancelledAt),
	}
	if a.CompletedPrice != nil {
		resp.Price = a.CompletedPrice.StringFixed(2)
	}
	if !a.CreatedAt.IsZero() {
		resp.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := availability.Query{
		BusinessID:  businessID(r, ""),
		ServiceID:   strings.TrimSpace(q.Get("service_id")),
		AttendantID: strings.TrimSpace(q.Get("attendant_id")),
		Date:        strings.TrimSpace(q.Get("date")),
	}
	if query.BusinessID == "" || query.ServiceID == "" || query.Date == "" {
		http.Error(w, "business_id, service_id, and date are required", http.StatusBadRequest)
		return
	}

	slots, err := h.Deps.Slots.Slots(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotItem{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createAppointmentRequest struct {
	BusinessID  string `json:"business_id"`
	CustomerID  string `json:"customer_id"`
	ServiceID   string `json:"service_id"`
	AttendantID string `json:"attendant_id"`
	StartTime   string `json:"start_time"`
	Notes       string `json:"notes"`
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	appt, replayed, err := h.Appointments.Create(r.Context(), lifecycle.CreateRequest{
		BusinessID:     businessID(r, req.BusinessID),
		CustomerID:     strings.TrimSpace(req.CustomerID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		AttendantID:    strings.TrimSpace(req.AttendantID),
		Start:          start,
		Notes:          strings.TrimSpace(req.Notes),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	writeJSON(w, status, toAppointmentResponse(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := lifecycle.ListFilter{
		BusinessID:  businessID(r, ""),
		AttendantID: strings.TrimSpace(q.Get("attendant_id")),
		CustomerID:  strings.TrimSpace(q.Get("customer_id")),
	}
	if f.BusinessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		status, ok := model.ParseAppointmentStatus(s)
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		f.Status = status
	}
	var err error
	if f.From, err = parseOptionalTime(q.Get("from")); err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	if f.To, err = parseOptionalTime(q.Get("to")); err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	appts, err := h.Appointments.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		resp = append(resp, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r, "")
	if biz == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	appt, err := h.Appointments.Get(r.Context(), biz, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type statusRequest struct {
	BusinessID string `json:"business_id"`
	Status     string `json:"status"`
}

func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	biz := businessID(r, req.BusinessID)
	if biz == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	appt, err := h.Appointments.Transition(r.Context(), biz, chi.URLParam(r, "id"),
		model.AppointmentStatus(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type rescheduleRequest struct {
	BusinessID string `json:"business_id"`
	StartTime  string `json:"start_time"`
}

func (h *Handler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	biz := businessID(r, req.BusinessID)
	if biz == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	appt, err := h.Appointments.Reschedule(r.Context(), biz, chi.URLParam(r, "id"), start)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func parseOptionalTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
