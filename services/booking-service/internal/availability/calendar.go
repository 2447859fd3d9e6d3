package availability

import (
	"slices"
	"time"

	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

const DateLayout = "2006-01-02"

// Calendar is a business's weekly operating hours plus dated overrides, in
// the business's own location.
type Calendar struct {
	Location *time.Location
	Weekly   map[time.Weekday]model.OperatingHours
	Special  map[string]model.SpecialDay
}

func NewCalendar(loc *time.Location, hours []model.OperatingHours, special []model.SpecialDay) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := Calendar{
		Location: loc,
		Weekly:   make(map[time.Weekday]model.OperatingHours, len(hours)),
		Special:  make(map[string]model.SpecialDay, len(special)),
	}
	for _, h := range hours {
		c.Weekly[h.Weekday] = h
	}
	for _, s := range special {
		c.Special[s.Date] = s
	}
	return c
}

// Windows returns the open intervals of the given calendar day. A special day
// replaces the weekday rule entirely; breaks split the open range.
func (c Calendar) Windows(day time.Time) []Interval {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.Date()
	key := time.Date(y, m, d, 0, 0, 0, 0, loc).Format(DateLayout)

	var open model.MinuteRange
	var breaks []model.MinuteRange
	if sd, ok := c.Special[key]; ok {
		if sd.IsClosed {
			return nil
		}
		open = model.MinuteRange{Start: sd.OpenMinute, End: sd.CloseMinute}
		breaks = sd.Breaks
	} else {
		wh, ok := c.Weekly[time.Date(y, m, d, 12, 0, 0, 0, loc).Weekday()]
		if !ok || !wh.IsOpen {
			return nil
		}
		open = model.MinuteRange{Start: wh.OpenMinute, End: wh.CloseMinute}
		breaks = wh.Breaks
	}

	var out []Interval
	for _, r := range subtractBreaks(open, breaks) {
		out = append(out, Interval{
			Start: time.Date(y, m, d, 0, r.Start, 0, 0, loc),
			End:   time.Date(y, m, d, 0, r.End, 0, 0, loc),
		})
	}
	return out
}

// Contains reports whether iv fits entirely inside one open window of the
// local day iv starts on.
func (c Calendar) Contains(iv Interval) bool {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, w := range c.Windows(iv.Start.In(loc)) {
		if !iv.Start.Before(w.Start) && !iv.End.After(w.End) {
			return true
		}
	}
	return false
}

func subtractBreaks(open model.MinuteRange, breaks []model.MinuteRange) []model.MinuteRange {
	if open.Start < 0 {
		open.Start = 0
	}
	if open.End > 24*60 {
		open.End = 24 * 60
	}
	if open.End <= open.Start {
		return nil
	}

	sorted := slices.Clone(breaks)
	slices.SortFunc(sorted, func(a, b model.MinuteRange) int { return a.Start - b.Start })

	var out []model.MinuteRange
	cursor := open.Start
	for _, b := range sorted {
		if b.End <= b.Start || b.End <= cursor {
			continue
		}
		if b.Start >= open.End {
			break
		}
		if b.Start > cursor {
			out = append(out, model.MinuteRange{Start: cursor, End: b.Start})
		}
		cursor = max(cursor, b.End)
	}
	if cursor < open.End {
		out = append(out, model.MinuteRange{Start: cursor, End: open.End})
	}
	return out
}

// Granularity is the business slot step when configured, otherwise the
// service duration.
func Granularity(b model.Business, s model.Service) time.Duration {
	if b.SlotStepMinutes > 0 {
		return time.Duration(b.SlotStepMinutes) * time.Minute
	}
	return s.Duration()
}
