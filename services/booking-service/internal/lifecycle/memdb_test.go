package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/commission"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/goals"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/loyalty"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/outbox"
	"github.com/shopspring/decimal"
)

// memDB is a single-writer in-memory database. InTx serializes transactions
// and restores the previous state when fn fails.
type memDB struct {
	mu sync.Mutex

	business  model.Business
	services  map[string]model.Service
	hours     []model.OperatingHours
	customers map[string]bool
	rules     []model.CommissionRule
	program   *model.LoyaltyProgram

	state   dbState
	seq     int
	clock   time.Time
	failOn  string
	txCount int
}

type dbState struct {
	appts       []model.Appointment
	records     []model.CommissionRecord
	entries     []model.LoyaltyPointsEntry
	goals       []model.Goal
	idem        map[string]string
	events      []outbox.Event
	redemptions []model.Redemption
}

func (s dbState) clone() dbState {
	idem := make(map[string]string, len(s.idem))
	for k, v := range s.idem {
		idem[k] = v
	}
	return dbState{
		appts:       slices.Clone(s.appts),
		records:     slices.Clone(s.records),
		entries:     slices.Clone(s.entries),
		goals:       slices.Clone(s.goals),
		idem:        idem,
		events:      slices.Clone(s.events),
		redemptions: slices.Clone(s.redemptions),
	}
}

var (
	_ db.TxRunner      = (*memDB)(nil)
	_ Store            = (*memDB)(nil)
	_ commission.Store = (*memDB)(nil)
	_ loyalty.Store    = (*memDB)(nil)
	_ goals.Store      = (*memDB)(nil)
	_ outbox.Writer    = (*memDB)(nil)
)

var errInjected = errors.New("injected failure")

func (m *memDB) InTx(_ context.Context, _ pgx.TxOptions, fn db.TxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	snapshot := m.state.clone()
	seq := m.seq
	if err := fn(nil); err != nil {
		m.state = snapshot
		m.seq = seq
		return err
	}
	return nil
}

func (m *memDB) next(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memDB) fail(op string) error {
	if m.failOn == op {
		return errInjected
	}
	return nil
}

// catalog

func (m *memDB) Business(_ context.Context, id string) (model.Business, error) {
	if id != m.business.ID {
		return model.Business{}, &model.NotFoundError{Kind: "business", ID: id}
	}
	return m.business, nil
}

func (m *memDB) Service(_ context.Context, _, id string) (model.Service, error) {
	s, ok := m.services[id]
	if !ok {
		return model.Service{}, &model.NotFoundError{Kind: "service", ID: id}
	}
	return s, nil
}

func (m *memDB) OperatingCalendar(context.Context, string, string, string) ([]model.OperatingHours, []model.SpecialDay, error) {
	return m.hours, nil, nil
}

// appointments

func (m *memDB) CustomerExists(_ context.Context, _ pgx.Tx, businessID, customerID string) (bool, error) {
	return m.customers[businessID+"|"+customerID], nil
}

func (m *memDB) InsertAppointment(_ context.Context, _ pgx.Tx, a model.Appointment) (model.Appointment, error) {
	if err := m.fail("InsertAppointment"); err != nil {
		return model.Appointment{}, err
	}
	a.ID = m.next("appt")
	a.CreatedAt = m.clock
	a.UpdatedAt = m.clock
	m.state.appts = append(m.state.appts, a)
	return a, nil
}

func (m *memDB) find(businessID, id string) (int, error) {
	for i, a := range m.state.appts {
		if a.ID == id && a.BusinessID == businessID {
			return i, nil
		}
	}
	return -1, &model.NotFoundError{Kind: "appointment", ID: id}
}

func (m *memDB) AppointmentForUpdate(ctx context.Context, tx pgx.Tx, businessID, id string) (model.Appointment, error) {
	return m.Appointment(ctx, tx, businessID, id)
}

func (m *memDB) Appointment(_ context.Context, _ pgx.Tx, businessID, id string) (model.Appointment, error) {
	i, err := m.find(businessID, id)
	if err != nil {
		return model.Appointment{}, err
	}
	return m.state.appts[i], nil
}

func (m *memDB) SaveStatus(_ context.Context, _ pgx.Tx, a model.Appointment) (model.Appointment, error) {
	if err := m.fail("SaveStatus"); err != nil {
		return model.Appointment{}, err
	}
	i, err := m.find(a.BusinessID, a.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	a.UpdatedAt = m.clock
	m.state.appts[i] = a
	return a, nil
}

func (m *memDB) MoveAppointment(_ context.Context, _ pgx.Tx, businessID, id string, start, end time.Time) (model.Appointment, error) {
	i, err := m.find(businessID, id)
	if err != nil {
		return model.Appointment{}, err
	}
	m.state.appts[i].StartTime = start
	m.state.appts[i].EndTime = end
	return m.state.appts[i], nil
}

func (m *memDB) ListAppointments(_ context.Context, _ pgx.Tx, f ListFilter) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range m.state.appts {
		if a.BusinessID != f.BusinessID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memDB) LockIdempotencyKey(_ context.Context, _ pgx.Tx, businessID, key string) (string, error) {
	k := businessID + "|" + key
	if _, ok := m.state.idem[k]; !ok {
		m.state.idem[k] = ""
	}
	return m.state.idem[k], nil
}

func (m *memDB) FinalizeIdempotency(_ context.Context, _ pgx.Tx, businessID, key, appointmentID string) error {
	m.state.idem[businessID+"|"+key] = appointmentID
	return nil
}

// conflict

func (m *memDB) LockAttendant(context.Context, pgx.Tx, string, string) error { return nil }

func (m *memDB) ActiveAppointments(_ context.Context, _ pgx.Tx, businessID, attendantID string, window model.Interval, excludeID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range m.state.appts {
		if a.BusinessID == businessID && a.AttendantID == attendantID && a.ID != excludeID &&
			a.Status != model.StatusCancelled && a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	return out, nil
}

// commission

func (m *memDB) ActiveRules(context.Context, pgx.Tx, string) ([]model.CommissionRule, error) {
	return m.rules, nil
}

func (m *memDB) RecordByAppointment(_ context.Context, _ pgx.Tx, businessID, appointmentID string) (model.CommissionRecord, error) {
	for _, r := range m.state.records {
		if r.BusinessID == businessID && r.AppointmentID == appointmentID {
			return r, nil
		}
	}
	return model.CommissionRecord{}, &model.NotFoundError{Kind: "commission record", ID: appointmentID}
}

func (m *memDB) InsertRecord(_ context.Context, _ pgx.Tx, rec model.CommissionRecord) (model.CommissionRecord, error) {
	if err := m.fail("InsertRecord"); err != nil {
		return model.CommissionRecord{}, err
	}
	rec.ID = m.next("comm")
	rec.CreatedAt = m.clock
	m.state.records = append(m.state.records, rec)
	return rec, nil
}

func (m *memDB) SetRecordStatus(_ context.Context, _ pgx.Tx, id string, status model.CommissionStatus, at time.Time) error {
	for i := range m.state.records {
		if m.state.records[i].ID == id {
			m.state.records[i].Status = status
			if status == model.CommissionCancelled {
				m.state.records[i].CancelledAt = &at
			}
			return nil
		}
	}
	return &model.NotFoundError{Kind: "commission record", ID: id}
}

func (m *memDB) ListRecords(context.Context, pgx.Tx, commission.ReportFilter) ([]model.CommissionRecord, error) {
	return slices.Clone(m.state.records), nil
}

// loyalty

func (m *memDB) Program(_ context.Context, _ pgx.Tx, businessID string) (model.LoyaltyProgram, error) {
	if m.program == nil {
		return model.LoyaltyProgram{}, &model.NotFoundError{Kind: "loyalty program", ID: businessID}
	}
	return *m.program, nil
}

func (m *memDB) LockCustomer(context.Context, pgx.Tx, string, string) error { return nil }

func (m *memDB) Entries(_ context.Context, _ pgx.Tx, businessID, customerID string) ([]model.LoyaltyPointsEntry, error) {
	var out []model.LoyaltyPointsEntry
	for _, e := range m.state.entries {
		if e.BusinessID == businessID && e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memDB) EarnedEntry(_ context.Context, _ pgx.Tx, businessID, appointmentID string) (model.LoyaltyPointsEntry, error) {
	for _, e := range m.state.entries {
		if e.BusinessID == businessID && e.AppointmentID == appointmentID && e.Type == model.EntryEarned {
			return e, nil
		}
	}
	return model.LoyaltyPointsEntry{}, &model.NotFoundError{Kind: "earned entry", ID: appointmentID}
}

func (m *memDB) InsertEntry(_ context.Context, _ pgx.Tx, e model.LoyaltyPointsEntry) (model.LoyaltyPointsEntry, error) {
	if err := m.fail("InsertEntry"); err != nil {
		return model.LoyaltyPointsEntry{}, err
	}
	e.ID = m.next("entry")
	m.clock = m.clock.Add(time.Millisecond)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.clock
	}
	m.state.entries = append(m.state.entries, e)
	return e, nil
}

func (m *memDB) RewardForUpdate(_ context.Context, _ pgx.Tx, _, rewardID string) (model.LoyaltyReward, error) {
	if rewardID != "spa" {
		return model.LoyaltyReward{}, &model.NotFoundError{Kind: "reward", ID: rewardID}
	}
	return model.LoyaltyReward{ID: "spa", BusinessID: m.business.ID, Name: "Spa", PointsRequired: 50, IsActive: true}, nil
}

func (m *memDB) DecrementReward(context.Context, pgx.Tx, string) error { return nil }

func (m *memDB) InsertRedemption(_ context.Context, _ pgx.Tx, r model.Redemption) (model.Redemption, error) {
	r.ID = m.next("red")
	m.state.redemptions = append(m.state.redemptions, r)
	return r, nil
}

func (m *memDB) RedemptionForUpdate(_ context.Context, _ pgx.Tx, _, id string) (model.Redemption, error) {
	return model.Redemption{}, &model.NotFoundError{Kind: "redemption", ID: id}
}

func (m *memDB) SetRedemptionStatus(_ context.Context, _ pgx.Tx, id string, _ model.RedemptionStatus) (model.Redemption, error) {
	return model.Redemption{}, &model.NotFoundError{Kind: "redemption", ID: id}
}

func (m *memDB) CustomersWithLapsedPoints(context.Context, pgx.Tx, time.Time) ([]loyalty.CustomerRef, error) {
	return nil, nil
}

// goals

func (m *memDB) ActiveGoalsForUpdate(_ context.Context, _ pgx.Tx, businessID string) ([]model.Goal, error) {
	var out []model.Goal
	for _, g := range m.state.goals {
		if g.BusinessID == businessID && g.Status == model.GoalActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memDB) Goals(_ context.Context, _ pgx.Tx, businessID string) ([]model.Goal, error) {
	var out []model.Goal
	for _, g := range m.state.goals {
		if g.BusinessID == businessID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memDB) SaveProgress(_ context.Context, _ pgx.Tx, id string, current decimal.Decimal, status model.GoalStatus) error {
	for i := range m.state.goals {
		if m.state.goals[i].ID == id {
			m.state.goals[i].Current = current
			m.state.goals[i].Status = status
		}
	}
	return nil
}

func (m *memDB) FailOverdue(context.Context, pgx.Tx, time.Time) (int, error) { return 0, nil }

func (m *memDB) BusinessLocation(context.Context, pgx.Tx, string) (*time.Location, error) {
	return m.business.Location(), nil
}

// History mirrors the SQL replay: completions priced at completion time and
// commission records not cancelled, dated in the business timezone.
func (m *memDB) History(_ context.Context, _ pgx.Tx, businessID string, from, to time.Time) ([]goals.Event, error) {
	loc := m.business.Location()
	inRange := func(t time.Time) bool {
		y, mo, d := t.In(loc).Date()
		day := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
		return !day.Before(from) && !day.After(to)
	}
	var out []goals.Event
	for _, a := range m.state.appts {
		if a.BusinessID != businessID || a.Status != model.StatusCompleted || a.CompletedPrice == nil || a.CompletedAt == nil {
			continue
		}
		if inRange(*a.CompletedAt) {
			out = append(out, goals.Event{Kind: goals.AppointmentCompleted, BusinessID: businessID, AttendantID: a.AttendantID,
				CustomerID: a.CustomerID, OccurredAt: a.CompletedAt.In(loc), Amount: *a.CompletedPrice})
		}
	}
	for _, r := range m.state.records {
		if r.BusinessID != businessID || r.Status == model.CommissionCancelled {
			continue
		}
		if inRange(r.CreatedAt) {
			out = append(out, goals.Event{Kind: goals.CommissionPosted, BusinessID: businessID, AttendantID: r.AttendantID,
				OccurredAt: r.CreatedAt.In(loc), Amount: r.Amount})
		}
	}
	return out, nil
}

// outbox

func (m *memDB) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	m.state.events = append(m.state.events, evt)
	return nil
}

// helpers for assertions; call outside transactions.

func (m *memDB) recordsFor(appointmentID string) []model.CommissionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CommissionRecord
	for _, r := range m.state.records {
		if r.AppointmentID == appointmentID {
			out = append(out, r)
		}
	}
	return out
}

func (m *memDB) entriesFor(appointmentID string) []model.LoyaltyPointsEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LoyaltyPointsEntry
	for _, e := range m.state.entries {
		if e.AppointmentID == appointmentID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memDB) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.state.events {
		out = append(out, e.EventType)
	}
	return out
}

func (m *memDB) goal(id string) model.Goal {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.state.goals {
		if g.ID == id {
			return g
		}
	}
	return model.Goal{}
}
