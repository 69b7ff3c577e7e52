package availability

import (
	"testing"
	"time"
)

func TestSlots_SkipsBusyIntervals(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(11 * time.Hour)

	busy := []Interval{
		{Start: day.Add(9*time.Hour + 30*time.Minute), End: day.Add(10 * time.Hour)},
	}

	slots := Slots(windowStart, windowEnd, 30*time.Minute, busy, day)
	want := []time.Time{
		day.Add(9 * time.Hour),
		day.Add(10 * time.Hour),
		day.Add(10*time.Hour + 30*time.Minute),
	}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i := range want {
		if !slots[i].Equal(want[i]) {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i], slots[i])
		}
	}
}

func TestSlots_SkipsPast(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10*time.Hour + 30*time.Minute)

	now := day.Add(9*time.Hour + 40*time.Minute)
	slots := Slots(windowStart, windowEnd, 30*time.Minute, nil, now)
	// 09:00 and 09:30 are in the past (start < now); 10:00 remains.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(10 * time.Hour)) {
		t.Fatalf("expected slot 10:00, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestSlots_BoundaryTouchDoesNotOverlap(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	busy := []Interval{
		{Start: day.Add(9*time.Hour + 30*time.Minute), End: day.Add(10 * time.Hour)},
	}
	// A 30-minute slot at 09:00 ends exactly where the busy interval begins.
	slots := Slots(day.Add(9*time.Hour), day.Add(9*time.Hour+30*time.Minute), 30*time.Minute, busy, day)
	if len(slots) != 1 || !slots[0].Equal(day.Add(9*time.Hour)) {
		t.Fatalf("expected exactly the 09:00 slot, got %v", slots)
	}
}

func TestFallbackLabels_NonEmpty(t *testing.T) {
	labels := FallbackLabels()
	if len(labels) != 6 {
		t.Fatalf("expected 6 fallback slots, got %d", len(labels))
	}
}

func TestParseLabel(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	got, err := ParseLabel(day, "14:30")
	if err != nil {
		t.Fatalf("ParseLabel failed: %v", err)
	}
	if got.Hour() != 14 || got.Minute() != 30 {
		t.Fatalf("expected 14:30, got %s", got)
	}
	if _, err := ParseLabel(day, "25:00"); err == nil {
		t.Fatal("expected error for out-of-range hour")
	}
	if Label(got) != "14:30" {
		t.Fatalf("round-trip label mismatch: %s", Label(got))
	}
}
