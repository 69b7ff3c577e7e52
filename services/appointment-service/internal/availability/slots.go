package availability

import (
	"fmt"
	"time"
)

// Clinic-wide defaults: consultations run on a 30-minute raster between
// 08:00 and 18:00 unless the doctor's directory entry narrows the window.
const (
	DefaultDayStartHour = 8
	DefaultDayEndHour   = 18
	SlotStep            = 30 * time.Minute
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Slots returns slot start times within [windowStart, windowEnd) where a
// consultation of length duration would not overlap any busy interval and
// that are not in the past relative to now.
//
// All times are expected to be in the same location (timezone).
func Slots(windowStart, windowEnd time.Time, duration time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(SlotStep) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// FallbackLabels is the static slot list served when neither the booked
// intervals nor the doctor's working hours can be resolved. Deliberately
// non-empty so the booking form stays usable; callers must surface the
// degraded flag so placeholder data is distinguishable from real data.
func FallbackLabels() []string {
	return []string{"09:00", "09:30", "10:00", "10:30", "14:00", "14:30"}
}

// Label formats a slot start as the portal's wall-clock label.
func Label(t time.Time) string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Labels formats slot starts in order.
func Labels(slots []time.Time) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, Label(s))
	}
	return out
}

// ParseLabel resolves "HH:MM" against a calendar day in day's location.
func ParseLabel(day time.Time, label string) (time.Time, error) {
	var h, m int
	if _, err := fmt.Sscanf(label, "%d:%d", &h, &m); err != nil {
		return time.Time{}, fmt.Errorf("invalid time label %q", label)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("invalid time label %q", label)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}

// DayWindow resolves a working window ("08:00", "18:00") onto a calendar day.
// Empty labels fall back to the clinic defaults.
func DayWindow(day time.Time, startLabel, endLabel string) (time.Time, time.Time, error) {
	if startLabel == "" {
		startLabel = fmt.Sprintf("%02d:00", DefaultDayStartHour)
	}
	if endLabel == "" {
		endLabel = fmt.Sprintf("%02d:00", DefaultDayEndHour)
	}
	start, err := ParseLabel(day, startLabel)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseLabel(day, endLabel)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
