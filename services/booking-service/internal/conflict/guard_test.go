package conflict

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	runner *testkit.Runner
	mu     sync.Mutex
	appts  []model.Appointment
}

func (s *memStore) LockAttendant(_ context.Context, tx pgx.Tx, businessID, attendantID string) error {
	s.runner.Lock(tx, businessID+"|"+attendantID)
	return nil
}

func (s *memStore) ActiveAppointments(_ context.Context, _ pgx.Tx, businessID, attendantID string, window model.Interval, excludeID string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.BusinessID != businessID || a.AttendantID != attendantID || a.ID == excludeID {
			continue
		}
		if a.Status != model.StatusCancelled && a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) add(a model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts = append(s.appts, a)
}

var base = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func newGuard() (*Guard, *memStore, *testkit.Runner) {
	runner := testkit.NewRunner()
	store := &memStore{runner: runner}
	store.add(model.Appointment{
		ID: "existing", BusinessID: "biz", AttendantID: "A",
		StartTime: at(10, 0), EndTime: at(11, 0), Status: model.StatusScheduled,
	})
	return NewGuard(store, runner, nil), store, runner
}

func TestAdmit_OverlapIsRejected(t *testing.T) {
	g, _, _ := newGuard()

	err := g.Admit(context.Background(), nil, Proposal{BusinessID: "biz", AttendantID: "A", Start: at(10, 30), End: at(11, 30)})
	require.ErrorIs(t, err, model.ErrConflict)

	var ce *model.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"existing"}, ce.ConflictingWith)
	assert.Equal(t, "A", ce.AttendantID)
}

func TestAdmit_BackToBackIsAdmitted(t *testing.T) {
	g, _, _ := newGuard()

	err := g.Admit(context.Background(), nil, Proposal{BusinessID: "biz", AttendantID: "A", Start: at(11, 0), End: at(12, 0)})
	assert.NoError(t, err)
	err = g.Admit(context.Background(), nil, Proposal{BusinessID: "biz", AttendantID: "A", Start: at(9, 0), End: at(10, 0)})
	assert.NoError(t, err)
}

func TestAdmit_OtherAttendantAndCancelledDoNotBlock(t *testing.T) {
	g, store, _ := newGuard()
	store.add(model.Appointment{
		ID: "gone", BusinessID: "biz", AttendantID: "B",
		StartTime: at(14, 0), EndTime: at(15, 0), Status: model.StatusCancelled,
	})

	assert.NoError(t, g.Admit(context.Background(), nil, Proposal{BusinessID: "biz", AttendantID: "B", Start: at(10, 0), End: at(11, 0)}))
	assert.NoError(t, g.Admit(context.Background(), nil, Proposal{BusinessID: "biz", AttendantID: "B", Start: at(14, 0), End: at(15, 0)}))
	assert.NoError(t, g.Admit(context.Background(), nil, Proposal{BusinessID: "other", AttendantID: "A", Start: at(10, 0), End: at(11, 0)}))
}

func TestAdmit_ExcludesTheAppointmentBeingMoved(t *testing.T) {
	g, _, _ := newGuard()

	err := g.Admit(context.Background(), nil, Proposal{
		BusinessID: "biz", AttendantID: "A", Start: at(10, 15), End: at(11, 15),
		ExcludeAppointmentID: "existing",
	})
	assert.NoError(t, err)
}

func TestAdmit_UnassignedBypassesCheck(t *testing.T) {
	g, _, _ := newGuard()
	assert.NoError(t, g.Admit(context.Background(), nil, Proposal{BusinessID: "biz", Start: at(10, 0), End: at(11, 0)}))
}

func TestAdmit_RejectsEmptyInterval(t *testing.T) {
	g, _, _ := newGuard()
	err := g.Admit(context.Background(), nil, Proposal{BusinessID: "biz", AttendantID: "A", Start: at(13, 0), End: at(13, 0)})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAdmit_ConcurrentRequestsForSameSlotAdmitOne(t *testing.T) {
	g, store, runner := newGuard()
	const attempts = 16

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- runner.InTx(context.Background(), pgx.TxOptions{}, func(tx pgx.Tx) error {
				p := Proposal{BusinessID: "biz", AttendantID: "A", Start: at(15, 0), End: at(16, 0)}
				if err := g.Admit(context.Background(), tx, p); err != nil {
					return err
				}
				store.add(model.Appointment{
					ID: uuid.NewString(), BusinessID: p.BusinessID, AttendantID: p.AttendantID,
					StartTime: p.Start, EndTime: p.End, Status: model.StatusScheduled,
				})
				return nil
			})
		}()
	}
	wg.Wait()
	close(results)

	var admitted, conflicts int
	for err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, model.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, attempts-1, conflicts)
}

func TestBusyIntervalsFeedsAvailability(t *testing.T) {
	g, _, _ := newGuard()
	var _ availability.BusyReader = g

	busy, err := g.BusyIntervals(context.Background(), "biz", "A", model.Interval{Start: at(9, 0), End: at(17, 0)})
	require.NoError(t, err)
	require.Len(t, busy, 1)

	slots := availability.AvailableSlots(at(9, 0), at(13, 0), time.Hour, time.Hour, busy, base)
	assert.Equal(t, []time.Time{at(9, 0), at(11, 0), at(12, 0)}, slots)
}
