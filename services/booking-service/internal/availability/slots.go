package availability

import (
	"iter"
	"slices"
	"time"

	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

type Interval = model.Interval

// Candidates yields slot start times inside each window, stepping by step and
// stopping once a slot of length duration would run past the window end.
// The sequence is lazy and can be ranged over any number of times.
func Candidates(windows []Interval, duration, step time.Duration) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if duration <= 0 || step <= 0 {
			return
		}
		for _, w := range windows {
			if !w.Valid() {
				continue
			}
			for t := w.Start; !t.Add(duration).After(w.End); t = t.Add(step) {
				if !yield(t) {
					return
				}
			}
		}
	}
}

// Available filters candidates down to starts at or after now whose
// [start, start+duration) does not overlap any busy interval.
func Available(candidates iter.Seq[time.Time], duration time.Duration, busy []Interval, now time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for t := range candidates {
			if t.Before(now) {
				continue
			}
			if overlapsAny(Interval{Start: t, End: t.Add(duration)}, busy) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	windows := []Interval{{Start: windowStart, End: windowEnd}}
	return slices.Collect(Available(Candidates(windows, duration, step), duration, busy, now))
}

func overlapsAny(slot Interval, busy []Interval) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}
