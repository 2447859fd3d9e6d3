package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptledger/libs/httpx"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/commission"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/loyalty"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeAppointments struct {
	createReq  lifecycle.CreateRequest
	createErr  error
	replayed   bool
	listFilter lifecycle.ListFilter
	transition model.AppointmentStatus
	getErr     error
}

func (f *fakeAppointments) appt(id string) model.Appointment {
	return model.Appointment{
		ID: id, BusinessID: "biz", CustomerID: "cust", ServiceID: "cut", AttendantID: "A",
		StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusScheduled,
	}
}

func (f *fakeAppointments) Create(_ context.Context, req lifecycle.CreateRequest) (model.Appointment, bool, error) {
	f.createReq = req
	if f.createErr != nil {
		return model.Appointment{}, false, f.createErr
	}
	return f.appt("appt-1"), f.replayed, nil
}

func (f *fakeAppointments) Reschedule(_ context.Context, _, id string, s time.Time) (model.Appointment, error) {
	a := f.appt(id)
	a.StartTime, a.EndTime = s, s.Add(time.Hour)
	return a, nil
}

func (f *fakeAppointments) Transition(_ context.Context, _, id string, to model.AppointmentStatus) (model.Appointment, error) {
	f.transition = to
	if to == model.StatusCompleted {
		return model.Appointment{}, &model.InvalidTransitionError{AppointmentID: id, From: model.StatusScheduled, To: to}
	}
	a := f.appt(id)
	a.Status = to
	return a, nil
}

func (f *fakeAppointments) Get(_ context.Context, _, id string) (model.Appointment, error) {
	if f.getErr != nil {
		return model.Appointment{}, f.getErr
	}
	return f.appt(id), nil
}

func (f *fakeAppointments) List(_ context.Context, filter lifecycle.ListFilter) ([]model.Appointment, error) {
	f.listFilter = filter
	return []model.Appointment{f.appt("appt-1"), f.appt("appt-2")}, nil
}

type fakeSlots struct{ q availability.Query }

func (f *fakeSlots) Slots(_ context.Context, q availability.Query) ([]availability.Slot, error) {
	f.q = q
	return []availability.Slot{{Start: start, End: start.Add(time.Hour)}}, nil
}

type fakeCommissions struct{ f commission.ReportFilter }

func (c *fakeCommissions) Report(_ context.Context, f commission.ReportFilter) (commission.Report, error) {
	c.f = f
	return commission.Report{
		Records: []model.CommissionRecord{{
			ID: "rec-1", AttendantID: "A", AppointmentID: "appt-1", ServiceID: "cut",
			ServicePrice: decimal.RequireFromString("100"), Percentage: decimal.RequireFromString("40"),
			Amount: decimal.RequireFromString("40"), Specificity: "service_attendant",
			Status: model.CommissionPending, CreatedAt: start,
		}},
		Total: decimal.RequireFromString("40"),
	}, nil
}

type fakeLoyalty struct{}

func (fakeLoyalty) Redeem(_ context.Context, _, customerID, _ string) (model.Redemption, error) {
	return model.Redemption{}, &model.InsufficientPointsError{CustomerID: customerID, Available: 30, Required: 50}
}

func (fakeLoyalty) UpdateRedemptionStatus(_ context.Context, _, id string, to model.RedemptionStatus) (model.Redemption, error) {
	return model.Redemption{ID: id, Status: to, PointsUsed: 50}, nil
}

func (fakeLoyalty) Statement(_ context.Context, _, customerID string) (loyalty.Statement, error) {
	return loyalty.Statement{
		CustomerID: customerID,
		Available:  100,
		Entries: []model.LoyaltyPointsEntry{{
			ID: "e-1", CustomerID: customerID, Points: 100, Type: model.EntryEarned, AppointmentID: "appt-1", CreatedAt: start,
		}},
	}, nil
}

func (fakeLoyalty) GrantBonus(_ context.Context, _, customerID string, points int64, description string) (model.LoyaltyPointsEntry, error) {
	if points <= 0 {
		return model.LoyaltyPointsEntry{}, model.Invalid("points", "must be positive")
	}
	return model.LoyaltyPointsEntry{ID: "e-2", CustomerID: customerID, Points: points, Type: model.EntryBonus, Description: description, CreatedAt: start}, nil
}

type fakeGoals struct{ rebuiltAt time.Time }

func (g *fakeGoals) List(context.Context, string) ([]model.Goal, error) {
	return nil, errors.New("connection reset by peer")
}

func (g *fakeGoals) Rebuild(_ context.Context, _ string, now time.Time) ([]model.Goal, error) {
	g.rebuiltAt = now
	return []model.Goal{{
		ID: "g-1", Type: model.GoalRevenue, Target: decimal.NewFromInt(100), Current: decimal.NewFromInt(100),
		StartDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
		Status: model.GoalCompleted,
	}}, nil
}

type fixture struct {
	appts   *fakeAppointments
	slots   *fakeSlots
	comm    *fakeCommissions
	goals   *fakeGoals
	handler http.Handler
}

func newFixture() *fixture {
	f := &fixture{appts: &fakeAppointments{}, slots: &fakeSlots{}, comm: &fakeCommissions{}, goals: &fakeGoals{}}
	f.handler = NewRouter(Deps{
		Appointments: f.appts,
		Slots:        f.slots,
		Commissions:  f.comm,
		Loyalty:      fakeLoyalty{},
		Goals:        f.goals,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:          func() time.Time { return start },
	}, nil)
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rw := httptest.NewRecorder()
	f.handler.ServeHTTP(rw, req)
	return rw
}

func decode(t *testing.T, rw *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &out))
	return out
}

func TestSlotsRequiresQuery(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodGet, "/api/v1/public/slots?business_id=biz", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	rw = f.do(t, http.MethodGet, "/api/v1/public/slots?business_id=biz&service_id=cut&attendant_id=A&date=2026-05-04", nil, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, availability.Query{BusinessID: "biz", ServiceID: "cut", AttendantID: "A", Date: "2026-05-04"}, f.slots.q)
	assert.JSONEq(t, `[{"start_time":"2026-05-04T10:00:00Z","end_time":"2026-05-04T11:00:00Z"}]`, rw.Body.String())
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodPost, "/api/v1/appointments", map[string]string{
		"business_id": "biz", "customer_id": "cust", "service_id": "cut", "attendant_id": "A",
		"start_time": "2026-05-04T12:00:00+02:00",
	}, map[string]string{"Idempotency-Key": "k-1"})

	require.Equal(t, http.StatusCreated, rw.Code)
	assert.Equal(t, "k-1", f.appts.createReq.IdempotencyKey)
	assert.True(t, start.Equal(f.appts.createReq.Start))
	body := decode(t, rw)
	assert.Equal(t, "appt-1", body["appointment_id"])
	assert.Equal(t, "scheduled", body["status"])
}

func TestCreateAppointmentReplayReturnsOK(t *testing.T) {
	f := newFixture()
	f.appts.replayed = true
	rw := f.do(t, http.MethodPost, "/api/v1/appointments", map[string]string{
		"customer_id": "cust", "service_id": "cut", "start_time": "2026-05-04T10:00:00Z",
	}, map[string]string{httpx.BusinessIDHeader: "biz", "Idempotency-Key": "k-1"})
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "true", rw.Header().Get("Idempotent-Replayed"))
}

func TestCreateAppointmentErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "conflict",
			err:    &model.ConflictError{AttendantID: "A", Start: start, End: start.Add(time.Hour), ConflictingWith: []string{"appt-9"}},
			status: http.StatusConflict,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "conflict", body["error"])
				assert.Equal(t, []any{"appt-9"}, body["conflicting_with"])
			},
		},
		{
			name:   "validation",
			err:    model.Invalid("customer_id", "unknown customer"),
			status: http.StatusUnprocessableEntity,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "validation_failed", body["error"])
				assert.Equal(t, "customer_id", body["field"])
			},
		},
		{
			name:   "system failure hides detail",
			err:    errors.New("dial tcp 10.0.0.1:5432: refused"),
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "internal", body["error"])
				assert.NotContains(t, body["message"], "10.0.0.1")
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.appts.createErr = tc.err
			rw := f.do(t, http.MethodPost, "/api/v1/appointments?business_id=biz", map[string]string{
				"customer_id": "cust", "service_id": "cut", "attendant_id": "A", "start_time": "2026-05-04T10:00:00Z",
			}, nil)
			require.Equal(t, tc.status, rw.Code)
			tc.check(t, decode(t, rw))
		})
	}
}

func TestCreateAppointmentRejectsBadInput(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodPost, "/api/v1/appointments?business_id=biz", map[string]string{"start_time": "tomorrow"}, nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewBufferString("{"))
	rw = httptest.NewRecorder()
	f.handler.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestBusinessHeaderWinsOverQuery(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodGet, "/api/v1/appointments?business_id=other&status=confirmed&limit=5&attendant_id=A",
		nil, map[string]string{httpx.BusinessIDHeader: "biz"})
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "biz", f.appts.listFilter.BusinessID)
	assert.Equal(t, model.StatusConfirmed, f.appts.listFilter.Status)
	assert.Equal(t, 5, f.appts.listFilter.Limit)
	assert.Equal(t, "A", f.appts.listFilter.AttendantID)
}

func TestListAppointmentsRejectsUnknownStatus(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodGet, "/api/v1/appointments?business_id=biz&status=noshow", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestGetAppointmentNotFound(t *testing.T) {
	f := newFixture()
	f.appts.getErr = &model.NotFoundError{Kind: "appointment", ID: "nope"}
	rw := f.do(t, http.MethodGet, "/api/v1/appointments/nope?business_id=biz", nil, nil)
	require.Equal(t, http.StatusNotFound, rw.Code)
	assert.Equal(t, "not_found", decode(t, rw)["error"])
}

func TestUpdateAppointmentStatus(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodPost, "/api/v1/appointments/appt-1/status?business_id=biz", map[string]string{"status": "Confirmed"}, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, model.StatusConfirmed, f.appts.transition)
	assert.Equal(t, "confirmed", decode(t, rw)["status"])

	rw = f.do(t, http.MethodPost, "/api/v1/appointments/appt-1/status?business_id=biz", map[string]string{"status": "completed"}, nil)
	require.Equal(t, http.StatusConflict, rw.Code)
	assert.Equal(t, "invalid_transition", decode(t, rw)["error"])
}

func TestRescheduleAppointment(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodPost, "/api/v1/appointments/appt-1/reschedule?business_id=biz", map[string]string{"start_time": "2026-05-04T14:00:00Z"}, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	body := decode(t, rw)
	assert.Equal(t, "2026-05-04T14:00:00Z", body["start_time"])
	assert.Equal(t, "2026-05-04T15:00:00Z", body["end_time"])
}

func TestCommissionReportEndDateInclusive(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodGet, "/api/v1/commissions?business_id=biz&start_date=2026-05-01&end_date=2026-05-31&status=pending", nil, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), f.comm.f.From)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), f.comm.f.To)
	assert.Equal(t, model.CommissionPending, f.comm.f.Status)

	body := decode(t, rw)
	assert.Equal(t, "40.00", body["total"])
	records := body["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "40.00", records[0].(map[string]any)["commission_amount"])

	rw = f.do(t, http.MethodGet, "/api/v1/commissions?business_id=biz&status=owed", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestRedeemInsufficientPoints(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodPost, "/api/v1/loyalty/redemptions", map[string]string{
		"business_id": "biz", "customer_id": "cust", "reward_id": "spa",
	}, nil)
	require.Equal(t, http.StatusConflict, rw.Code)
	body := decode(t, rw)
	assert.Equal(t, "insufficient_points", body["error"])
	assert.EqualValues(t, 30, body["available"])
	assert.EqualValues(t, 50, body["required"])
}

func TestLoyaltyBalanceAndBonus(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodGet, "/api/v1/loyalty/customers/cust/balance?business_id=biz", nil, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	body := decode(t, rw)
	assert.EqualValues(t, 100, body["available_points"])
	assert.Len(t, body["entries"], 1)

	rw = f.do(t, http.MethodPost, "/api/v1/loyalty/customers/cust/bonus?business_id=biz", map[string]any{"points": 25, "description": "birthday"}, nil)
	require.Equal(t, http.StatusCreated, rw.Code)
	assert.Equal(t, "bonus", decode(t, rw)["type"])

	rw = f.do(t, http.MethodPost, "/api/v1/loyalty/customers/cust/bonus?business_id=biz", map[string]any{"points": 0}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rw.Code)
}

func TestRedemptionStatus(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodPost, "/api/v1/loyalty/redemptions/red-1/status?business_id=biz", map[string]string{"status": "approved"}, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "approved", decode(t, rw)["status"])
}

func TestGoals(t *testing.T) {
	f := newFixture()
	rw := f.do(t, http.MethodPost, "/api/v1/goals/rebuild?business_id=biz", nil, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.True(t, start.Equal(f.goals.rebuiltAt))
	assert.JSONEq(t, `[{"id":"g-1","goal_type":"revenue","target_value":"100","current_value":"100",
		"start_date":"2026-05-01","end_date":"2026-05-31","status":"completed"}]`, rw.Body.String())

	rw = f.do(t, http.MethodGet, "/api/v1/goals?business_id=biz", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rw.Code)
	assert.NotContains(t, rw.Body.String(), "connection reset")
}
