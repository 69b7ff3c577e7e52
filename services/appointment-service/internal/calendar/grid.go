package calendar

import (
	"time"

	"github.com/telecare-platform/telecare/services/appointment-service/internal/availability"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
)

// CellState classifies one (day, time) cell of the week grid.
type CellState string

const (
	CellEmpty  CellState = "empty"
	CellBooked CellState = "booked"
	CellPast   CellState = "past"
)

type Cell struct {
	Start         time.Time
	Label         string
	State         CellState
	AppointmentID string
	// Clickable iff the cell is unoccupied AND strictly in the future.
	// Clicking opens the booking form pre-filled with the cell's start time.
	Clickable bool
}

type Day struct {
	Date  time.Time
	Cells []Cell
}

type Grid struct {
	// WeekStart is the Monday of the week containing the selected date.
	WeekStart time.Time
	Labels    []string
	Days      [7]Day
}

// TimeLabels returns the fixed 30-minute raster between 08:00 and 18:00
// (inclusive start, exclusive end): 08:00, 08:30, ..., 17:30.
func TimeLabels() []string {
	day := time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC)
	start := day.Add(availability.DefaultDayStartHour * time.Hour)
	end := day.Add(availability.DefaultDayEndHour * time.Hour)
	var labels []string
	for t := start; t.Before(end); t = t.Add(availability.SlotStep) {
		labels = append(labels, availability.Label(t))
	}
	return labels
}

// WeekStart returns the Monday of the week containing d, at midnight in d's
// location.
func WeekStart(d time.Time) time.Time {
	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
	offset := (int(midnight.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return midnight.AddDate(0, 0, -offset)
}

// BuildWeekGrid lays the given appointments onto the week containing
// selected. An appointment occupies the cell whose calendar day and
// wall-clock label both match its start time; cancelled appointments do not
// block cells.
func BuildWeekGrid(selected time.Time, appts []model.Appointment, now time.Time) Grid {
	weekStart := WeekStart(selected)
	labels := TimeLabels()

	occupied := map[string]string{} // "2006-01-02 15:04" -> appointment id
	for _, appt := range appts {
		if appt.Status == model.StatusCancelled {
			continue
		}
		local := appt.ScheduledAt.In(selected.Location())
		occupied[local.Format("2006-01-02")+" "+availability.Label(local)] = appt.ID
	}

	grid := Grid{WeekStart: weekStart, Labels: labels}
	for d := 0; d < 7; d++ {
		date := weekStart.AddDate(0, 0, d)
		day := Day{Date: date, Cells: make([]Cell, 0, len(labels))}
		for _, label := range labels {
			start, err := availability.ParseLabel(date, label)
			if err != nil {
				continue
			}
			cell := Cell{Start: start, Label: label}
			if id, ok := occupied[date.Format("2006-01-02")+" "+label]; ok {
				cell.State = CellBooked
				cell.AppointmentID = id
			} else if !start.After(now) {
				cell.State = CellPast
			} else {
				cell.State = CellEmpty
				cell.Clickable = true
			}
			day.Cells = append(day.Cells, cell)
		}
		grid.Days[d] = day
	}
	return grid
}
