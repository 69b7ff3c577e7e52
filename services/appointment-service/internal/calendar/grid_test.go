package calendar

import (
	"testing"
	"time"

	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
)

func mustCell(t *testing.T, g Grid, dayIdx int, label string) Cell {
	t.Helper()
	for _, c := range g.Days[dayIdx].Cells {
		if c.Label == label {
			return c
		}
	}
	t.Fatalf("no cell %q on day %d", label, dayIdx)
	return Cell{}
}

func TestWeekStart(t *testing.T) {
	// 2026-03-04 is a Wednesday; the week starts Monday 2026-03-02.
	wed := time.Date(2026, 3, 4, 15, 12, 0, 0, time.UTC)
	got := WeekStart(wed)
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// A Sunday belongs to the week that started the previous Monday.
	sun := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	if got := WeekStart(sun); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestTimeLabels(t *testing.T) {
	labels := TimeLabels()
	if len(labels) != 20 {
		t.Fatalf("expected 20 half-hour labels between 08:00 and 18:00, got %d", len(labels))
	}
	if labels[0] != "08:00" || labels[len(labels)-1] != "17:30" {
		t.Fatalf("unexpected label range: %s .. %s", labels[0], labels[len(labels)-1])
	}
}

func TestBuildWeekGrid_Clickability(t *testing.T) {
	// Fixed "now": Wednesday 2026-03-04 10:00 UTC.
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	selected := now

	appts := []model.Appointment{
		{
			ID:          "appt-1",
			ScheduledAt: time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC),
			Status:      model.StatusScheduled,
		},
		{
			ID:          "appt-cancelled",
			ScheduledAt: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
			Status:      model.StatusCancelled,
		},
	}

	g := BuildWeekGrid(selected, appts, now)

	// Wednesday is index 2 (Mon=0).
	booked := mustCell(t, g, 2, "14:30")
	if booked.State != CellBooked || booked.Clickable {
		t.Fatalf("expected booked non-clickable cell, got %+v", booked)
	}
	if booked.AppointmentID != "appt-1" {
		t.Fatalf("expected appt-1 in cell, got %q", booked.AppointmentID)
	}

	// 10:00 today is not strictly in the future.
	atNow := mustCell(t, g, 2, "10:00")
	if atNow.State != CellPast || atNow.Clickable {
		t.Fatalf("cell at now must be past/non-clickable, got %+v", atNow)
	}

	past := mustCell(t, g, 2, "08:00")
	if past.State != CellPast || past.Clickable {
		t.Fatalf("expected past non-clickable cell, got %+v", past)
	}

	future := mustCell(t, g, 2, "10:30")
	if future.State != CellEmpty || !future.Clickable {
		t.Fatalf("expected clickable empty cell, got %+v", future)
	}

	// Cancelled appointments do not block their slot: Thursday 09:00 is free.
	freed := mustCell(t, g, 3, "09:00")
	if freed.State != CellEmpty || !freed.Clickable {
		t.Fatalf("cancelled appointment should not occupy cell, got %+v", freed)
	}

	// Monday of the same week is entirely in the past.
	monday := mustCell(t, g, 0, "17:30")
	if monday.State != CellPast || monday.Clickable {
		t.Fatalf("expected past Monday cell, got %+v", monday)
	}
}
