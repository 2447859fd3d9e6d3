package availability

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekdayCalendar(loc *time.Location, special ...model.SpecialDay) Calendar {
	var hours []model.OperatingHours
	for wd := time.Monday; wd <= time.Friday; wd++ {
		hours = append(hours, model.OperatingHours{
			Weekday:     wd,
			IsOpen:      true,
			OpenMinute:  9 * 60,
			CloseMinute: 17 * 60,
			Breaks:      []model.MinuteRange{{Start: 12 * 60, End: 13 * 60}},
		})
	}
	hours = append(hours, model.OperatingHours{Weekday: time.Sunday, IsOpen: false})
	return NewCalendar(loc, hours, special)
}

func TestCalendarWindows_SplitsAroundBreak(t *testing.T) {
	cal := weekdayCalendar(time.UTC)
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC) // Monday

	windows := cal.Windows(day)
	require.Len(t, windows, 2)
	assert.Equal(t, day.Add(9*time.Hour), windows[0].Start)
	assert.Equal(t, day.Add(12*time.Hour), windows[0].End)
	assert.Equal(t, day.Add(13*time.Hour), windows[1].Start)
	assert.Equal(t, day.Add(17*time.Hour), windows[1].End)
}

func TestCalendarWindows_ClosedWeekdayAndMissingRule(t *testing.T) {
	cal := weekdayCalendar(time.UTC)
	assert.Empty(t, cal.Windows(time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)), "sunday is closed")
	assert.Empty(t, cal.Windows(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)), "saturday has no rule")
}

func TestCalendarWindows_SpecialDayOverridesEntirely(t *testing.T) {
	cal := weekdayCalendar(time.UTC,
		model.SpecialDay{Date: "2026-05-04", IsClosed: true},
		model.SpecialDay{Date: "2026-05-05", OpenMinute: 10 * 60, CloseMinute: 14 * 60},
		model.SpecialDay{Date: "2026-05-02", OpenMinute: 9 * 60, CloseMinute: 11 * 60},
	)

	assert.Empty(t, cal.Windows(time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)))

	// Custom hours replace the weekday break as well.
	tue := cal.Windows(time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC))
	require.Len(t, tue, 1)
	assert.Equal(t, 10, tue[0].Start.Hour())
	assert.Equal(t, 14, tue[0].End.Hour())

	// A special day can open an otherwise closed weekday.
	sat := cal.Windows(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC))
	require.Len(t, sat, 1)
}

func TestCalendarWindows_UsesBusinessLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	cal := weekdayCalendar(loc)
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, loc)

	windows := cal.Windows(day)
	require.NotEmpty(t, windows)
	assert.Equal(t, time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC), windows[0].Start.UTC())
}

func TestCalendarContains(t *testing.T) {
	cal := weekdayCalendar(time.UTC)
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	assert.True(t, cal.Contains(Interval{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}))
	assert.False(t, cal.Contains(Interval{Start: day.Add(11*time.Hour + 30*time.Minute), End: day.Add(12*time.Hour + 30*time.Minute)}), "spans the break")
	assert.False(t, cal.Contains(Interval{Start: day.Add(16*time.Hour + 30*time.Minute), End: day.Add(17*time.Hour + 30*time.Minute)}), "runs past close")
}

func TestSubtractBreaks_OverlappingAndOutOfRange(t *testing.T) {
	got := subtractBreaks(model.MinuteRange{Start: 540, End: 1020}, []model.MinuteRange{
		{Start: 700, End: 760},
		{Start: 600, End: 720},
		{Start: 1100, End: 1200},
		{Start: 300, End: 500},
	})
	assert.Equal(t, []model.MinuteRange{{Start: 540, End: 600}, {Start: 760, End: 1020}}, got)
}

func TestGranularity(t *testing.T) {
	svc := model.Service{DurationMinutes: 45}
	assert.Equal(t, 45*time.Minute, Granularity(model.Business{}, svc))
	assert.Equal(t, 15*time.Minute, Granularity(model.Business{SlotStepMinutes: 15}, svc))
}
