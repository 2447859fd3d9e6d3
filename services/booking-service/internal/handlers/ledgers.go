package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/commission"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

type commissionRecordResponse struct {
	ID            string `json:"id"`
	AttendantID   string `json:"attendant_id"`
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	ServicePrice  string `json:"service_price"`
	Percentage    string `json:"commission_percentage"`
	Amount        string `json:"commission_amount"`
	RuleID        string `json:"rule_id,omitempty"`
	Specificity   string `json:"specificity"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

type commissionReportResponse struct {
	Records []commissionRecordResponse `json:"records"`
	Total   string                     `json:"total"`
}

func (h *Handler) CommissionReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := commission.ReportFilter{
		BusinessID:  businessID(r, ""),
		AttendantID: strings.TrimSpace(q.Get("attendant_id")),
		Status:      model.CommissionStatus(strings.TrimSpace(q.Get("status"))),
	}
	if f.BusinessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	switch f.Status {
	case "", model.CommissionPending, model.CommissionPaid, model.CommissionCancelled:
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	if v := strings.TrimSpace(q.Get("start_date")); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			http.Error(w, "invalid start_date", http.StatusBadRequest)
			return
		}
		f.From = d
	}
	// end_date is inclusive.
	if v := strings.TrimSpace(q.Get("end_date")); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			http.Error(w, "invalid end_date", http.StatusBadRequest)
			return
		}
		f.To = d.AddDate(0, 0, 1)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	report, err := h.Commissions.Report(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := commissionReportResponse{
		Records: make([]commissionRecordResponse, 0, len(report.Records)),
		Total:   report.Total.StringFixed(2),
	}
	for _, rec := range report.Records {
		resp.Records = append(resp.Records, commissionRecordResponse{
			ID:            rec.ID,
			AttendantID:   rec.AttendantID,
			AppointmentID: rec.AppointmentID,
			ServiceID:     rec.ServiceID,
			ServicePrice:  rec.ServicePrice.StringFixed(2),
			Percentage:    rec.Percentage.String(),
			Amount:        rec.Amount.StringFixed(2),
			RuleID:        rec.RuleID,
			Specificity:   rec.Specificity,
			Status:        string(rec.Status),
			CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339),
			CancelledAt:   formatTime(rec.CancelledAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type redeemRequest struct {
	BusinessID string `json:"business_id"`
	CustomerID string `json:"customer_id"`
	RewardID   string `json:"reward_id"`
}

type redemptionResponse struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	RewardID   string `json:"reward_id"`
	PointsUsed int64  `json:"points_used"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func toRedemptionResponse(red model.Redemption) redemptionResponse {
	resp := redemptionResponse{
		ID:         red.ID,
		CustomerID: red.CustomerID,
		RewardID:   red.RewardID,
		PointsUsed: red.PointsUsed,
		Status:     string(red.Status),
	}
	if !red.CreatedAt.IsZero() {
		resp.CreatedAt = red.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	biz := businessID(r, req.BusinessID)
	if biz == "" || strings.TrimSpace(req.CustomerID) == "" || strings.TrimSpace(req.RewardID) == "" {
		http.Error(w, "business_id, customer_id, and reward_id are required", http.StatusBadRequest)
		return
	}
	red, err := h.Loyalty.Redeem(r.Context(), biz, strings.TrimSpace(req.CustomerID), strings.TrimSpace(req.RewardID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionResponse(red))
}

func (h *Handler) UpdateRedemptionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	biz := businessID(r, req.BusinessID)
	if biz == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	to := model.RedemptionStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	red, err := h.Loyalty.UpdateRedemptionStatus(r.Context(), biz, chi.URLParam(r, "id"), to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionResponse(red))
}

type pointsEntryResponse struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Points        int64  `json:"points"`
	AppointmentID string `json:"appointment_id,omitempty"`
	RedemptionID  string `json:"redemption_id,omitempty"`
	Description   string `json:"description,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toPointsEntryResponse(e model.LoyaltyPointsEntry) pointsEntryResponse {
	return pointsEntryResponse{
		ID:            e.ID,
		Type:          string(e.Type),
		Points:        e.Points,
		AppointmentID: e.AppointmentID,
		RedemptionID:  e.RedemptionID,
		Description:   e.Description,
		ExpiresAt:     formatTime(e.ExpiresAt),
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type balanceResponse struct {
	CustomerID string                `json:"customer_id"`
	Available  int64                 `json:"available_points"`
	Entries    []pointsEntryResponse `json:"entries"`
}

func (h *Handler) LoyaltyBalance(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r, "")
	if biz == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	st, err := h.Loyalty.Statement(r.Context(), biz, chi.URLParam(r, "customer_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := balanceResponse{
		CustomerID: st.CustomerID,
		Available:  st.Available,
		Entries:    make([]pointsEntryResponse, 0, len(st.Entries)),
	}
	for _, e := range st.Entries {
		resp.Entries = append(resp.Entries, toPointsEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

type bonusRequest struct {
	BusinessID  string `json:"business_id"`
	Points      int64  `json:"points"`
	Description string `json:"description"`
}

func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	var req bonusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	biz := businessID(r, req.BusinessID)
	if biz == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	entry, err := h.Loyalty.GrantBonus(r.Context(), biz, chi.URLParam(r, "customer_id"), req.Points, strings.TrimSpace(req.Description))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPointsEntryResponse(entry))
}

type goalResponse struct {
	ID          string `json:"id"`
	AttendantID string `json:"attendant_id,omitempty"`
	Type        string `json:"goal_type"`
	Target      string `json:"target_value"`
	Current     string `json:"current_value"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Status      string `json:"status"`
}

func writeGoals(w http.ResponseWriter, goals []model.Goal) {
	resp := make([]goalResponse, 0, len(goals))
	for _, g := range goals {
		resp = append(resp, goalResponse{
			ID:          g.ID,
			AttendantID: g.AttendantID,
			Type:        string(g.Type),
			Target:      g.Target.String(),
			Current:     g.Current.String(),
			StartDate:   g.StartDate.Format(time.DateOnly),
			EndDate:     g.EndDate.Format(time.DateOnly),
			Status:      string(g.Status),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r, "")
	if biz == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	goals, err := h.Goals.List(r.Context(), biz)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeGoals(w, goals)
}

func (h *Handler) RebuildGoals(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r, "")
	if biz == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	goals, err := h.Goals.Rebuild(r.Context(), biz, h.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeGoals(w, goals)
}
