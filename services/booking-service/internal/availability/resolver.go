package availability

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

// CatalogReader is the read-only view of the business collaborator.
type CatalogReader interface {
	Business(ctx context.Context, businessID string) (model.Business, error)
	Service(ctx context.Context, businessID, serviceID string) (model.Service, error)
	OperatingCalendar(ctx context.Context, businessID string, fromDate, toDate string) ([]model.OperatingHours, []model.SpecialDay, error)
}

// BusyReader lists the non-cancelled bookings of an attendant that touch window.
type BusyReader interface {
	BusyIntervals(ctx context.Context, businessID, attendantID string, window Interval) ([]Interval, error)
}

type Resolver struct {
	catalog CatalogReader
	busy    BusyReader
	now     func() time.Time
}

func NewResolver(catalog CatalogReader, busy BusyReader, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{catalog: catalog, busy: busy, now: now}
}

type Query struct {
	BusinessID  string
	ServiceID   string
	AttendantID string
	Date        string // YYYY-MM-DD in business local time
}

type Slot struct {
	Start time.Time
	End   time.Time
}

// Slots returns the bookable slots for the query: calendar candidates at the
// business granularity with the attendant's existing bookings filtered out.
func (r *Resolver) Slots(ctx context.Context, q Query) ([]Slot, error) {
	business, service, err := r.load(ctx, q.BusinessID, q.ServiceID)
	if err != nil {
		return nil, err
	}
	loc := business.Location()
	day, err := time.ParseInLocation(DateLayout, q.Date, loc)
	if err != nil {
		return nil, model.Invalid("date", "must be YYYY-MM-DD")
	}

	cal, err := r.calendar(ctx, business, day, day)
	if err != nil {
		return nil, err
	}
	windows := cal.Windows(day)
	if len(windows) == 0 {
		return []Slot{}, nil
	}

	duration := service.Duration()
	var busy []Interval
	if q.AttendantID != "" {
		span := Interval{Start: windows[0].Start, End: windows[len(windows)-1].End}
		busy, err = r.busy.BusyIntervals(ctx, q.BusinessID, q.AttendantID, span)
		if err != nil {
			return nil, fmt.Errorf("load busy intervals: %w", err)
		}
	}

	starts := Available(Candidates(windows, duration, Granularity(business, service)), duration, busy, r.now())
	return slices.Collect(toSlots(starts, duration)), nil
}

// Fits reports whether the interval lies inside the business's open hours.
func (r *Resolver) Fits(ctx context.Context, business model.Business, iv Interval) (bool, error) {
	loc := business.Location()
	start := iv.Start.In(loc)
	cal, err := r.calendar(ctx, business, start, start)
	if err != nil {
		return false, err
	}
	return cal.Contains(iv), nil
}

func (r *Resolver) load(ctx context.Context, businessID, serviceID string) (model.Business, model.Service, error) {
	business, err := r.catalog.Business(ctx, businessID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Business{}, model.Service{}, model.Invalid("business_id", "unknown business %s", businessID)
		}
		return model.Business{}, model.Service{}, fmt.Errorf("load business: %w", err)
	}
	service, err := r.catalog.Service(ctx, businessID, serviceID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Business{}, model.Service{}, model.Invalid("service_id", "unknown service %s", serviceID)
		}
		return model.Business{}, model.Service{}, fmt.Errorf("load service: %w", err)
	}
	if !service.IsActive {
		return model.Business{}, model.Service{}, model.Invalid("service_id", "service %s is not active", serviceID)
	}
	if service.DurationMinutes <= 0 {
		return model.Business{}, model.Service{}, model.Invalid("service_id", "service %s has no duration", serviceID)
	}
	return business, service, nil
}

func (r *Resolver) calendar(ctx context.Context, business model.Business, from, to time.Time) (Calendar, error) {
	hours, special, err := r.catalog.OperatingCalendar(ctx, business.ID, from.Format(DateLayout), to.Format(DateLayout))
	if err != nil {
		return Calendar{}, fmt.Errorf("load operating calendar: %w", err)
	}
	return NewCalendar(business.Location(), hours, special), nil
}

func toSlots(starts iter.Seq[time.Time], duration time.Duration) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		for s := range starts {
			if !yield(Slot{Start: s, End: s.Add(duration)}) {
				return
			}
		}
	}
}
